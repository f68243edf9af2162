package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/fruitsalade/fruitsalade/workspace/pkg/models"
	"github.com/fruitsalade/fruitsalade/workspace/pkg/protocol"
)

// List fetches the files of one context as seen through view.
func (c *Client) List(ctx context.Context, contextID string, view models.View) ([]models.FileRecord, error) {
	query := url.Values{"view": {string(view)}}
	resp, err := c.read(ctx, http.MethodGet, "/api/v1/groups/"+escape(contextID)+"/files", query, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var list protocol.FileListResponse
	if err := decode(resp, &list); err != nil {
		return nil, err
	}
	records := make([]models.FileRecord, 0, len(list.Files))
	for _, f := range list.Files {
		records = append(records, f.Record())
	}
	return records, nil
}

// Upload stores one file in a context.
func (c *Client) Upload(ctx context.Context, contextID, name string, body io.Reader, size int64) (*protocol.UploadResponse, error) {
	return c.upload(ctx, "/api/v1/groups/"+escape(contextID)+"/files", name, "application/octet-stream", body, size)
}

// UploadFolder stores a packaged folder archive in a context.
func (c *Client) UploadFolder(ctx context.Context, contextID, name string, archive io.Reader, size int64) (*protocol.UploadResponse, error) {
	return c.upload(ctx, "/api/v1/groups/"+escape(contextID)+"/folders", name, "application/zip", archive, size)
}

func (c *Client) upload(ctx context.Context, path, name, contentType string, body io.Reader, size int64) (*protocol.UploadResponse, error) {
	resp, err := c.mutate(ctx, http.MethodPost, path, url.Values{"name": {name}}, contentType, body, size)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", name, err)
	}
	defer resp.Body.Close()

	result := &protocol.UploadResponse{}
	if err := decode(resp, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Rename changes the name of one record.
func (c *Client) Rename(ctx context.Context, contentID, name string) (*protocol.RenameResponse, error) {
	result := &protocol.RenameResponse{}
	err := c.mutateJSON(ctx, http.MethodPatch, "/api/v1/files/"+escape(contentID), protocol.RenameRequest{Name: name}, result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes one record.
func (c *Client) Delete(ctx context.Context, contentID string) error {
	var result protocol.DeleteResponse
	if err := c.mutateJSON(ctx, http.MethodDelete, "/api/v1/files/"+escape(contentID), nil, &result); err != nil {
		return err
	}
	if !result.OK {
		return fmt.Errorf("delete %s: backend did not confirm", contentID)
	}
	return nil
}

// DeleteMultiple removes several records; the outcome is reported per id.
func (c *Client) DeleteMultiple(ctx context.Context, contentIDs []string) (*protocol.BulkDeleteResponse, error) {
	result := &protocol.BulkDeleteResponse{}
	err := c.mutateJSON(ctx, http.MethodPost, "/api/v1/files/delete", protocol.BulkRequest{ContentIDs: contentIDs}, result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Download streams one record's content. The caller closes the reader.
func (c *Client) Download(ctx context.Context, contentID string) (io.ReadCloser, error) {
	resp, err := c.read(ctx, http.MethodGet, "/api/v1/files/"+escape(contentID)+"/content", nil, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// DownloadMultiple streams an archive of several records.
func (c *Client) DownloadMultiple(ctx context.Context, contentIDs []string) (io.ReadCloser, error) {
	body, err := jsonBody(protocol.BulkRequest{ContentIDs: contentIDs})
	if err != nil {
		return nil, err
	}
	resp, err := c.read(ctx, http.MethodPost, "/api/v1/files/download", nil, body)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Share grants access to one record to the given addresses.
func (c *Client) Share(ctx context.Context, contentID string, emails []string) (*protocol.ShareResponse, error) {
	result := &protocol.ShareResponse{}
	err := c.mutateJSON(ctx, http.MethodPost, "/api/v1/files/"+escape(contentID)+"/share", protocol.ShareRequest{Emails: emails}, result)
	if err != nil {
		return nil, err
	}
	return result, nil
}
