package workspace

import (
	"context"
	"fmt"
	"io"
	"net/mail"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fruitsalade/fruitsalade/workspace/internal/events"
	"github.com/fruitsalade/fruitsalade/workspace/internal/logging"
	"github.com/fruitsalade/fruitsalade/workspace/internal/metrics"
	"github.com/fruitsalade/fruitsalade/workspace/pkg/models"
)

// ticket is what an operation carries from begin to finish.
type ticket struct {
	op        PendingOperation
	epoch     uint64
	contextID string
	view      models.View
}

// reconcileFunc derives the new canonical list from the current one. It runs
// under the controller lock and may reject the change with an error.
type reconcileFunc func(files []models.FileRecord) ([]models.FileRecord, *Error)

// begin claims targets for a new operation. It fails without side effects
// when no context is active or a target is already claimed.
func (c *Controller) begin(kind OpKind, targets []string) (ticket, *Error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Context == nil {
		return ticket{}, newError(KindNoContext, kind, "No workspace selected", nil)
	}
	if id, busy := c.state.busy(targets); busy {
		name := id
		if r, ok := c.state.record(id); ok {
			name = r.Name
		}
		return ticket{}, newError(KindTargetBusy, kind, fmt.Sprintf("%s is busy with another operation", name), nil)
	}

	c.nextOp++
	t := ticket{
		op: PendingOperation{
			ID:      c.nextOp,
			Kind:    kind,
			Targets: append([]string(nil), targets...),
			Status:  StatusRunning,
		},
		epoch:     c.state.Epoch,
		contextID: c.state.Context.ID,
		view:      c.state.View,
	}
	c.dispatch(opStarted{op: t.op})
	return t, nil
}

// finish clears the pending operation and, when the operation's scope is
// still current, applies reconcile. opErr is the outcome of the remote call;
// a rejection from reconcile takes its place when opErr is nil.
func (c *Controller) finish(t ticket, reconcile reconcileFunc, opErr *Error) error {
	c.mu.Lock()
	done := opFinished{op: t.op, epoch: t.epoch}
	current := t.epoch == c.state.Epoch
	if current && reconcile != nil {
		files, rejected := reconcile(append([]models.FileRecord(nil), c.state.Files...))
		if rejected != nil {
			if opErr == nil {
				opErr = rejected
			}
		} else {
			done.files, done.replace = files, true
		}
	}
	c.dispatch(done)
	c.mu.Unlock()

	done.op.Status = StatusSucceeded
	if opErr != nil {
		done.op.Status = StatusFailed
		done.op.Err = opErr
	}
	metrics.RecordMutation(string(t.op.Kind), opErr == nil)
	if !current {
		logging.Debug("operation resolved after scope change",
			zap.String("op", string(t.op.Kind)),
			zap.Uint64("op_id", t.op.ID),
			zap.String("context_id", t.contextID),
		)
	}
	c.notifier.Publish(events.Event{
		Type:      events.EventOperation,
		ContextID: t.contextID,
		Operation: string(done.op.Kind),
		Targets:   done.op.Targets,
		Status:    string(done.op.Status),
	})
	if done.replace {
		c.publishList()
	}
	return c.report(opErr)
}

// Upload uploads one file and appends it to the list.
func (c *Controller) Upload(ctx context.Context, name string, body io.Reader, size int64) (models.FileRecord, error) {
	return c.upload(ctx, OpUpload, name, body, size, true)
}

// UploadFolder packs dir into one archive and uploads it as a folder record.
func (c *Controller) UploadFolder(ctx context.Context, dir string) (models.FileRecord, error) {
	if c.packer == nil {
		return models.FileRecord{}, c.report(newError(KindInvalidInput, OpUploadFolder, "Folder uploads are not available", nil))
	}
	blob, err := c.packer.Pack(ctx, dir)
	if err != nil {
		return models.FileRecord{}, c.report(newError(KindInvalidInput, OpUploadFolder, "Could not package folder "+filepath.Base(dir), err))
	}
	defer blob.Body.Close()
	return c.upload(ctx, OpUploadFolder, blob.Name, blob.Body, blob.Size, false)
}

func (c *Controller) upload(ctx context.Context, kind OpKind, name string, body io.Reader, size int64, isFile bool) (models.FileRecord, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.FileRecord{}, c.report(newError(KindInvalidInput, kind, "File name is required", nil))
	}
	t, berr := c.begin(kind, nil)
	if berr != nil {
		return models.FileRecord{}, c.report(berr)
	}

	upload := c.store.Upload
	if !isFile {
		upload = c.store.UploadFolder
	}
	resp, err := upload(ctx, t.contextID, name, body, size)
	if err != nil {
		return models.FileRecord{}, c.finish(t, nil, remoteError(kind, "Failed to upload "+name, err))
	}
	metrics.RecordUpload(resp.Size)

	record := models.FileRecord{
		ContentID: resp.ContentID,
		Name:      name,
		SizeLabel: models.SizeLabel(resp.Size),
		DateLabel: models.DateLabel(c.now()),
		IsFile:    isFile,
	}
	err = c.finish(t, func(files []models.FileRecord) ([]models.FileRecord, *Error) {
		if Admit(record, files) == RejectedDuplicate {
			metrics.RecordDuplicateUpload()
			return nil, newError(KindDuplicateContent, kind, name+" already exists in this workspace", nil)
		}
		return append(files, record), nil
	}, nil)
	return record, err
}

// Rename renames one record. Only its name changes.
func (c *Controller) Rename(ctx context.Context, contentID, newName string) (models.FileRecord, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return models.FileRecord{}, c.report(newError(KindInvalidInput, OpRename, "New name is required", nil))
	}
	if _, err := c.lookup(OpRename, contentID); err != nil {
		return models.FileRecord{}, c.report(err)
	}
	t, berr := c.begin(OpRename, []string{contentID})
	if berr != nil {
		return models.FileRecord{}, c.report(berr)
	}

	resp, err := c.store.Rename(ctx, contentID, newName)
	if err != nil {
		return models.FileRecord{}, c.finish(t, nil, remoteError(OpRename, "Failed to rename to "+newName, err))
	}
	name := resp.Name
	if name == "" {
		name = newName
	}

	var renamed models.FileRecord
	err = c.finish(t, func(files []models.FileRecord) ([]models.FileRecord, *Error) {
		i := models.IndexOf(files, contentID)
		if i < 0 {
			return nil, newError(KindInvalidInput, OpRename, "File is no longer listed", nil)
		}
		files[i].Name = name
		renamed = files[i]
		return files, nil
	}, nil)
	return renamed, err
}

// Delete deletes one record.
func (c *Controller) Delete(ctx context.Context, contentID string) error {
	record, lerr := c.lookup(OpDelete, contentID)
	if lerr != nil {
		return c.report(lerr)
	}
	t, berr := c.begin(OpDelete, []string{contentID})
	if berr != nil {
		return c.report(berr)
	}

	if err := c.store.Delete(ctx, contentID); err != nil {
		return c.finish(t, nil, remoteError(OpDelete, "Failed to delete "+record.Name, err))
	}
	return c.finish(t, func(files []models.FileRecord) ([]models.FileRecord, *Error) {
		return removeRecords(files, map[string]struct{}{contentID: {}}), nil
	}, nil)
}

// BulkDeleteSummary reports the outcome buckets of a bulk delete.
type BulkDeleteSummary struct {
	Successful  int
	Failed      int
	NotOwned    int
	FailedIDs   []string
	NotOwnedIDs []string
}

// DeleteSelected bulk-deletes the selected records.
func (c *Controller) DeleteSelected(ctx context.Context) (BulkDeleteSummary, error) {
	return c.DeleteMany(ctx, c.Snapshot().Selected)
}

// DeleteMany deletes several records in one request. The request is not
// atomic: exactly the records reported successful are removed, the rest stay
// listed and are reported in a single partial-failure error.
func (c *Controller) DeleteMany(ctx context.Context, contentIDs []string) (BulkDeleteSummary, error) {
	ids := uniqueIDs(contentIDs)
	if len(ids) == 0 {
		return BulkDeleteSummary{}, c.report(newError(KindInvalidInput, OpBulkDelete, "Nothing selected", nil))
	}
	t, berr := c.begin(OpBulkDelete, ids)
	if berr != nil {
		return BulkDeleteSummary{}, c.report(berr)
	}

	resp, err := c.store.DeleteMultiple(ctx, ids)
	if err != nil {
		return BulkDeleteSummary{}, c.finish(t, nil, remoteError(OpBulkDelete, fmt.Sprintf("Failed to delete %d files", len(ids)), err))
	}

	summary := BulkDeleteSummary{
		Successful:  len(resp.Successful),
		Failed:      len(resp.Failed),
		NotOwned:    len(resp.NotOwned),
		NotOwnedIDs: append([]string(nil), resp.NotOwned...),
	}
	for _, f := range resp.Failed {
		summary.FailedIDs = append(summary.FailedIDs, f.ContentID)
	}
	metrics.RecordBulkDelete(summary.Successful, summary.Failed, summary.NotOwned)

	var outcome *Error
	if n := summary.Failed + summary.NotOwned; n > 0 {
		outcome = newError(KindPartialBulkFailure, OpBulkDelete,
			fmt.Sprintf("%d of %d files could not be deleted", n, len(ids)), nil)
		logging.Info("bulk delete partially failed",
			zap.Int("successful", summary.Successful),
			zap.Strings("failed", summary.FailedIDs),
			zap.Strings("not_owned", summary.NotOwnedIDs),
		)
	}

	removed := make(map[string]struct{}, len(resp.Successful))
	for _, id := range resp.Successful {
		removed[id] = struct{}{}
	}
	err = c.finish(t, func(files []models.FileRecord) ([]models.FileRecord, *Error) {
		return removeRecords(files, removed), nil
	}, outcome)
	return summary, err
}

// Download writes one record's content to w.
func (c *Controller) Download(ctx context.Context, contentID string, w io.Writer) (int64, error) {
	record, lerr := c.lookup(OpDownload, contentID)
	if lerr != nil {
		return 0, c.report(lerr)
	}
	return c.transfer(ctx, OpDownload, []string{contentID}, w, "Failed to download "+record.Name, func() (io.ReadCloser, error) {
		return c.store.Download(ctx, contentID)
	})
}

// DownloadSelected writes an archive of the selected records to w.
func (c *Controller) DownloadSelected(ctx context.Context, w io.Writer) (int64, error) {
	return c.DownloadMany(ctx, c.Snapshot().Selected, w)
}

// DownloadMany writes an archive of several records to w.
func (c *Controller) DownloadMany(ctx context.Context, contentIDs []string, w io.Writer) (int64, error) {
	ids := uniqueIDs(contentIDs)
	if len(ids) == 0 {
		return 0, c.report(newError(KindInvalidInput, OpBulkDownload, "Nothing selected", nil))
	}
	return c.transfer(ctx, OpBulkDownload, ids, w, fmt.Sprintf("Failed to download %d files", len(ids)), func() (io.ReadCloser, error) {
		return c.store.DownloadMultiple(ctx, ids)
	})
}

// transfer runs a read-only operation; the list is never touched.
func (c *Controller) transfer(ctx context.Context, kind OpKind, ids []string, w io.Writer, failure string, open func() (io.ReadCloser, error)) (int64, error) {
	t, berr := c.begin(kind, ids)
	if berr != nil {
		return 0, c.report(berr)
	}
	rc, err := open()
	if err != nil {
		return 0, c.finish(t, nil, remoteError(kind, failure, err))
	}
	defer rc.Close()

	n, err := io.Copy(w, rc)
	metrics.RecordDownload(n)
	if err != nil {
		return n, c.finish(t, nil, remoteError(kind, failure, err))
	}
	return n, c.finish(t, nil, nil)
}

// ShareOutcome is the result of a share request. Done is false while some
// addresses are unresolved, so the caller can correct them and resubmit.
type ShareOutcome struct {
	SharedWith []string
	Unresolved []string
	Done       bool
}

// Share shares one record owned by the principal with emails. Records seen
// through the "shared" view are refused before any remote call.
func (c *Controller) Share(ctx context.Context, contentID string, emails []string) (ShareOutcome, error) {
	record, lerr := c.lookup(OpShare, contentID)
	if lerr != nil {
		return ShareOutcome{}, c.report(lerr)
	}
	c.mu.Lock()
	view := c.state.View
	c.mu.Unlock()
	if view != models.ViewMine || record.Shared() {
		return ShareOutcome{}, c.report(newError(KindLocalAuthorizationDenied, OpShare,
			"Only files you own can be shared", nil))
	}

	addrs, bad := normalizeEmails(emails)
	if len(bad) > 0 {
		return ShareOutcome{Unresolved: bad}, c.report(newError(KindInvalidInput, OpShare,
			"Invalid email address: "+strings.Join(bad, ", "), nil))
	}
	if len(addrs) == 0 {
		return ShareOutcome{}, c.report(newError(KindInvalidInput, OpShare, "At least one email is required", nil))
	}

	t, berr := c.begin(OpShare, []string{contentID})
	if berr != nil {
		return ShareOutcome{}, c.report(berr)
	}
	resp, err := c.store.Share(ctx, contentID, addrs)
	if err != nil {
		return ShareOutcome{}, c.finish(t, nil, remoteError(OpShare, "Failed to share "+record.Name, err))
	}
	outcome := ShareOutcome{
		SharedWith: resp.SharedWith,
		Unresolved: resp.UnresolvedEmails,
		Done:       len(resp.UnresolvedEmails) == 0,
	}
	if err := c.finish(t, nil, nil); err != nil {
		return outcome, err
	}
	if !outcome.Done {
		c.notice(OpShare, "Could not find users for: "+strings.Join(outcome.Unresolved, ", "))
	} else {
		c.notice(OpShare, fmt.Sprintf("Shared %s with %d people", record.Name, len(outcome.SharedWith)))
	}
	return outcome, nil
}

// lookup returns the listed record for contentID.
func (c *Controller) lookup(op OpKind, contentID string) (models.FileRecord, *Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Context == nil {
		return models.FileRecord{}, newError(KindNoContext, op, "No workspace selected", nil)
	}
	r, ok := c.state.record(contentID)
	if !ok {
		return models.FileRecord{}, newError(KindInvalidInput, op, "File not found", nil)
	}
	return r, nil
}

func removeRecords(files []models.FileRecord, ids map[string]struct{}) []models.FileRecord {
	out := make([]models.FileRecord, 0, len(files))
	for _, f := range files {
		if _, gone := ids[f.ContentID]; !gone {
			out = append(out, f)
		}
	}
	return out
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// normalizeEmails trims, lower-cases and de-duplicates addresses and returns
// the ones that do not parse separately.
func normalizeEmails(emails []string) (valid, invalid []string) {
	seen := make(map[string]struct{})
	for _, e := range emails {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		addr, err := mail.ParseAddress(e)
		if err != nil {
			invalid = append(invalid, e)
			continue
		}
		a := strings.ToLower(addr.Address)
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		valid = append(valid, a)
	}
	return valid, invalid
}
