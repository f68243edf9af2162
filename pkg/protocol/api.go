// Package protocol defines the API request/response types.
package protocol

import (
	"time"

	"github.com/fruitsalade/fruitsalade/workspace/pkg/models"
)

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// ContextListResponse is returned by GET /api/v1/groups
type ContextListResponse struct {
	Groups []models.Context `json:"groups"`
}

// ContextRequest is the body for POST /api/v1/groups and POST /api/v1/groups/join.
type ContextRequest struct {
	Name   string      `json:"name"`
	Secret string      `json:"secret"`
	Role   models.Role `json:"role"`
}

// FileEntry is one file or folder as the backend reports it.
type FileEntry struct {
	ContentID string    `json:"content_id"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	ModTime   time.Time `json:"mtime"`
	IsFile    bool      `json:"is_file"`
	SharedBy  string    `json:"shared_by,omitempty"`
}

// Record converts the wire entry into the display record.
func (e FileEntry) Record() models.FileRecord {
	return models.FileRecord{
		ContentID: e.ContentID,
		Name:      e.Name,
		SizeLabel: models.SizeLabel(e.Size),
		DateLabel: models.DateLabel(e.ModTime),
		IsFile:    e.IsFile,
		SharedBy:  e.SharedBy,
	}
}

// FileListResponse is returned by GET /api/v1/groups/{id}/files?view=
type FileListResponse struct {
	Files []FileEntry `json:"files"`
}

// UploadResponse is returned by POST /api/v1/groups/{id}/files and /folders.
type UploadResponse struct {
	ContentID string `json:"content_id"`
	Size      int64  `json:"size"`
}

// RenameRequest is the body for PATCH /api/v1/files/{contentId}.
type RenameRequest struct {
	Name string `json:"name"`
}

// RenameResponse is returned by PATCH /api/v1/files/{contentId}.
type RenameResponse struct {
	ContentID string `json:"content_id"`
	Name      string `json:"name"`
}

// DeleteResponse is returned by DELETE /api/v1/files/{contentId}.
type DeleteResponse struct {
	OK bool `json:"ok"`
}

// BulkRequest is the body for POST /api/v1/files/delete and /api/v1/files/download.
type BulkRequest struct {
	ContentIDs []string `json:"content_ids"`
}

// BulkFailure describes one target that could not be processed.
type BulkFailure struct {
	ContentID string `json:"content_id"`
	Error     string `json:"error"`
}

// BulkDeleteResponse is returned by POST /api/v1/files/delete.
// The three buckets are disjoint.
type BulkDeleteResponse struct {
	Successful []string      `json:"successful"`
	Failed     []BulkFailure `json:"failed"`
	NotOwned   []string      `json:"not_owned"`
}

// ShareRequest is the body for POST /api/v1/files/{contentId}/share.
type ShareRequest struct {
	Emails []string `json:"emails"`
}

// ShareResponse is returned by POST /api/v1/files/{contentId}/share.
type ShareResponse struct {
	SharedWith       []string `json:"shared_with"`
	UnresolvedEmails []string `json:"unresolved_emails"`
}
