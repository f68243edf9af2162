package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/fruitsalade/fruitsalade/workspace/internal/logging"
	"github.com/fruitsalade/fruitsalade/workspace/pkg/models"
	"github.com/fruitsalade/fruitsalade/workspace/pkg/protocol"
)

// shareDoc lists who a file has been shared with.
type shareDoc struct {
	Owner      string   `json:"owner"`
	SharedWith []string `json:"shared_with"`
}

func (m fileMeta) entry(sharedBy string) protocol.FileEntry {
	return protocol.FileEntry{
		ContentID: m.contentID,
		Name:      m.name,
		Size:      m.size,
		ModTime:   m.modified,
		IsFile:    m.isFile,
		SharedBy:  sharedBy,
	}
}

// List returns the principal's own files or the files shared with them.
func (s *Store) List(ctx context.Context, contextID string, view models.View) ([]models.FileRecord, error) {
	if _, err := s.member(ctx, contextID); err != nil {
		return nil, err
	}

	var entries []protocol.FileEntry
	switch view {
	case models.ViewShared:
		objects, err := s.keys(ctx, sharesPrefix(contextID))
		if err != nil {
			return nil, err
		}
		for _, obj := range objects {
			key := aws.ToString(obj.Key)
			doc := &shareDoc{}
			if err := s.getJSON(ctx, key, doc); err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return nil, err
			}
			if !contains(doc.SharedWith, s.principal) {
				continue
			}
			id := strings.TrimSuffix(strings.TrimPrefix(key, sharesPrefix(contextID)), ".json")
			m, err := s.head(ctx, contextID, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			entries = append(entries, m.entry(doc.Owner))
		}
	default:
		objects, err := s.keys(ctx, filesPrefix(contextID))
		if err != nil {
			return nil, err
		}
		for _, obj := range objects {
			id := strings.TrimPrefix(aws.ToString(obj.Key), filesPrefix(contextID))
			m, err := s.head(ctx, contextID, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if m.owner != s.principal {
				continue
			}
			entries = append(entries, m.entry(""))
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ModTime.Before(entries[j].ModTime)
	})
	records := make([]models.FileRecord, 0, len(entries))
	for _, e := range entries {
		s.remember(e.ContentID, contextID)
		records = append(records, e.Record())
	}
	return records, nil
}

// Upload stores one file owned by the principal.
func (s *Store) Upload(ctx context.Context, contextID, name string, body io.Reader, size int64) (*protocol.UploadResponse, error) {
	return s.put(ctx, contextID, name, "application/octet-stream", true, body, size)
}

// UploadFolder stores a folder archive owned by the principal.
func (s *Store) UploadFolder(ctx context.Context, contextID, name string, archive io.Reader, size int64) (*protocol.UploadResponse, error) {
	return s.put(ctx, contextID, name, "application/zip", false, archive, size)
}

func (s *Store) put(ctx context.Context, contextID, name, contentType string, isFile bool, body io.Reader, size int64) (*protocol.UploadResponse, error) {
	if _, err := s.member(ctx, contextID); err != nil {
		return nil, err
	}
	id := uuid.New().String()
	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(fileKey(contextID, id)),
		Body:        body,
		ContentType: aws.String(contentType),
		Metadata:    encodeMeta(name, s.principal, isFile),
	}
	if size > 0 {
		in.ContentLength = aws.Int64(size)
	}
	start := time.Now()
	_, err := s.api.PutObject(ctx, in)
	observe("put_object", start, err)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", name, err)
	}
	s.remember(id, contextID)
	logging.Debug("S3 upload",
		zap.String("context", contextID),
		zap.String("content", id),
		zap.Int64("size", size),
	)
	return &protocol.UploadResponse{ContentID: id, Size: size}, nil
}

// Rename rewrites the name metadata of a file the principal owns.
func (s *Store) Rename(ctx context.Context, contentID, name string) (*protocol.RenameResponse, error) {
	m, err := s.owned(ctx, contentID)
	if err != nil {
		return nil, err
	}
	key := fileKey(m.contextID, m.contentID)
	start := time.Now()
	_, err = s.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(key),
		CopySource:        aws.String(s.bucket + "/" + key),
		Metadata:          encodeMeta(name, m.owner, m.isFile),
		MetadataDirective: types.MetadataDirectiveReplace,
	})
	observe("copy_object", start, err)
	if err != nil {
		return nil, fmt.Errorf("rename %s: %w", contentID, err)
	}
	return &protocol.RenameResponse{ContentID: contentID, Name: name}, nil
}

// Delete removes a file the principal owns together with its share list.
func (s *Store) Delete(ctx context.Context, contentID string) error {
	m, err := s.owned(ctx, contentID)
	if err != nil {
		return err
	}
	for _, key := range []string{fileKey(m.contextID, contentID), shareKey(m.contextID, contentID)} {
		start := time.Now()
		_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		observe("delete_object", start, err)
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("delete %s: %w", contentID, err)
		}
	}
	s.forget(contentID)
	return nil
}

// DeleteMultiple removes every owned id in one batch. Ids that are missing
// or owned by someone else are reported as not owned.
func (s *Store) DeleteMultiple(ctx context.Context, contentIDs []string) (*protocol.BulkDeleteResponse, error) {
	result := &protocol.BulkDeleteResponse{}
	var objects []types.ObjectIdentifier
	fileKeys := make(map[string]string)
	for _, id := range contentIDs {
		m, err := s.locate(ctx, id)
		switch {
		case errors.Is(err, ErrNotFound):
			result.NotOwned = append(result.NotOwned, id)
			continue
		case err != nil:
			result.Failed = append(result.Failed, protocol.BulkFailure{ContentID: id, Error: err.Error()})
			continue
		case m.owner != s.principal:
			result.NotOwned = append(result.NotOwned, id)
			continue
		}
		key := fileKey(m.contextID, id)
		fileKeys[key] = id
		objects = append(objects,
			types.ObjectIdentifier{Key: aws.String(key)},
			types.ObjectIdentifier{Key: aws.String(shareKey(m.contextID, id))},
		)
	}
	if len(objects) == 0 {
		return result, nil
	}

	start := time.Now()
	out, err := s.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(false)},
	})
	observe("delete_objects", start, err)
	if err != nil {
		return nil, fmt.Errorf("delete %d objects: %w", len(fileKeys), err)
	}
	for _, d := range out.Deleted {
		if id, ok := fileKeys[aws.ToString(d.Key)]; ok {
			result.Successful = append(result.Successful, id)
			s.forget(id)
		}
	}
	for _, e := range out.Errors {
		if id, ok := fileKeys[aws.ToString(e.Key)]; ok {
			result.Failed = append(result.Failed, protocol.BulkFailure{ContentID: id, Error: aws.ToString(e.Message)})
		}
	}
	return result, nil
}

// Download streams the content of one file.
func (s *Store) Download(ctx context.Context, contentID string) (io.ReadCloser, error) {
	m, err := s.locate(ctx, contentID)
	if err != nil {
		return nil, err
	}
	return s.open(ctx, m)
}

// DownloadMultiple streams a zip archive holding every requested file.
// Entries are written in request order.
func (s *Store) DownloadMultiple(ctx context.Context, contentIDs []string) (io.ReadCloser, error) {
	metas := make([]fileMeta, 0, len(contentIDs))
	for _, id := range contentIDs {
		m, err := s.locate(ctx, id)
		if err != nil {
			return nil, err
		}
		metas = append(metas, m)
	}

	pr, pw := io.Pipe()
	go func() {
		zw := zip.NewWriter(pw)
		for _, m := range metas {
			if err := s.copyInto(ctx, zw, m); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		pw.CloseWithError(zw.Close())
	}()
	return pr, nil
}

func (s *Store) copyInto(ctx context.Context, zw *zip.Writer, m fileMeta) error {
	body, err := s.open(ctx, m)
	if err != nil {
		return err
	}
	defer body.Close()
	name := m.name
	if !m.isFile {
		name += ".zip"
	}
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: m.modified,
	})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, body)
	return err
}

// Share grants read access on an owned file to members of its context.
// Addresses that are not members come back as unresolved.
func (s *Store) Share(ctx context.Context, contentID string, emails []string) (*protocol.ShareResponse, error) {
	m, err := s.owned(ctx, contentID)
	if err != nil {
		return nil, err
	}
	ctxManifest, err := s.member(ctx, m.contextID)
	if err != nil {
		return nil, err
	}

	doc := &shareDoc{}
	if err := s.getJSON(ctx, shareKey(m.contextID, contentID), doc); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	doc.Owner = s.principal

	result := &protocol.ShareResponse{SharedWith: []string{}, UnresolvedEmails: []string{}}
	for _, raw := range emails {
		addr, err := mail.ParseAddress(raw)
		if err != nil {
			result.UnresolvedEmails = append(result.UnresolvedEmails, raw)
			continue
		}
		email := strings.ToLower(addr.Address)
		if _, ok := ctxManifest.Members[email]; !ok || email == s.principal {
			result.UnresolvedEmails = append(result.UnresolvedEmails, raw)
			continue
		}
		result.SharedWith = append(result.SharedWith, email)
		if !contains(doc.SharedWith, email) {
			doc.SharedWith = append(doc.SharedWith, email)
		}
	}
	if len(result.SharedWith) > 0 {
		if err := s.putJSON(ctx, shareKey(m.contextID, contentID), doc); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
