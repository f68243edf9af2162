// Package models contains the value types shared by the workspace controller
// and its remote collaborators.
package models

import (
	"time"

	"github.com/dustin/go-humanize"
)

// View selects which slice of a context's files is listed.
type View string

const (
	ViewMine   View = "mine"
	ViewShared View = "shared"
)

// Valid reports whether v is a known view.
func (v View) Valid() bool {
	return v == ViewMine || v == ViewShared
}

// DateLabelLayout is the layout used for FileRecord.DateLabel.
const DateLabelLayout = "Jan 2, 2006"

// FileRecord represents one file or folder in a context.
// ContentID is assigned by the backend and survives renames.
type FileRecord struct {
	ContentID string `json:"content_id"`
	Name      string `json:"name"`
	SizeLabel string `json:"size_label"`
	DateLabel string `json:"date_label"`
	IsFile    bool   `json:"is_file"`
	SharedBy  string `json:"shared_by,omitempty"`
}

// Shared reports whether the record was obtained through the "shared with me" view.
func (r FileRecord) Shared() bool {
	return r.SharedBy != ""
}

// SizeLabel formats a byte count the way records display it.
func SizeLabel(size int64) string {
	if size < 0 {
		size = 0
	}
	return humanize.Bytes(uint64(size))
}

// DateLabel formats a timestamp the way records display it.
func DateLabel(t time.Time) string {
	return t.Format(DateLabelLayout)
}

// IndexOf returns the position of contentID in list, or -1.
func IndexOf(list []FileRecord, contentID string) int {
	for i := range list {
		if list[i].ContentID == contentID {
			return i
		}
	}
	return -1
}
