package workspace

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/fruitsalade/fruitsalade/workspace/internal/events"
	"github.com/fruitsalade/fruitsalade/workspace/pkg/models"
)

func TestFilteredSelection_HiddenSelectionSurvives(t *testing.T) {
	h := newHarness(t)
	h.c.Toggle("Q1", true)
	h.c.Toggle("Q3", true)
	h.c.SetQuery("png")

	snap := h.c.Snapshot()
	if !equalStrings(ids(snap.Filtered), []string{"Q3"}) {
		t.Errorf("filtered = %v, want [Q3]", ids(snap.Filtered))
	}
	if len(snap.SelectedPositions) != 1 || snap.SelectedPositions[0] != 0 {
		t.Errorf("visible selected positions = %v, want [0]", snap.SelectedPositions)
	}
	if !equalStrings(snap.Selected, []string{"Q1", "Q3"}) {
		t.Errorf("selection = %v, want Q1 kept while hidden", snap.Selected)
	}

	h.c.ToggleAll(false)
	if got := h.c.Snapshot().Selected; !equalStrings(got, []string{"Q1"}) {
		t.Errorf("after unchecking all visible = %v, want [Q1]", got)
	}
	checkInvariants(t, h.c.Snapshot())
}

func TestDeleteSelected_PartialFailure(t *testing.T) {
	h := newHarness(t)
	h.store.mu.Lock()
	delete(h.store.owned, "Q2")
	h.store.mu.Unlock()
	h.c.ToggleAll(true)

	summary, err := h.c.DeleteSelected(context.Background())
	if !IsKind(err, KindPartialBulkFailure) {
		t.Fatalf("err = %v, want partial bulk failure", err)
	}
	if summary.Successful != 2 || summary.NotOwned != 1 || summary.Failed != 0 {
		t.Errorf("summary = %+v, want 2/1/0", summary)
	}
	if !equalStrings(summary.NotOwnedIDs, []string{"Q2"}) {
		t.Errorf("not owned = %v", summary.NotOwnedIDs)
	}

	snap := h.c.Snapshot()
	if !equalStrings(ids(snap.Files), []string{"Q2"}) {
		t.Errorf("files = %v, want [Q2]", ids(snap.Files))
	}
	if !equalStrings(snap.Selected, []string{"Q2"}) {
		t.Errorf("selection = %v, want [Q2]", snap.Selected)
	}
	if snap.Notice != "1 of 3 files could not be deleted" {
		t.Errorf("notice = %q", snap.Notice)
	}
	if len(snap.Pending) != 0 {
		t.Errorf("pending = %+v", snap.Pending)
	}
	checkInvariants(t, snap)
}

func TestDeleteMany_FailedBucketKept(t *testing.T) {
	h := newHarness(t)
	h.store.mu.Lock()
	h.store.failing["Q3"] = "locked"
	h.store.mu.Unlock()

	summary, err := h.c.DeleteMany(context.Background(), []string{"Q1", "Q3", "Q1", ""})
	if !IsKind(err, KindPartialBulkFailure) {
		t.Fatalf("err = %v", err)
	}
	if summary.Successful != 1 || summary.Failed != 1 || !equalStrings(summary.FailedIDs, []string{"Q3"}) {
		t.Errorf("summary = %+v", summary)
	}
	if got := ids(h.c.Snapshot().Files); !equalStrings(got, []string{"Q2", "Q3"}) {
		t.Errorf("files = %v", got)
	}
}

func TestDeleteMany_Idempotent(t *testing.T) {
	h := newHarness(t)
	if _, err := h.c.DeleteMany(context.Background(), []string{"Q1"}); err != nil {
		t.Fatalf("first delete: %v", err)
	}

	summary, err := h.c.DeleteMany(context.Background(), []string{"Q1"})
	if !IsKind(err, KindPartialBulkFailure) {
		t.Fatalf("second delete err = %v", err)
	}
	if summary.Successful != 0 || summary.NotOwned+summary.Failed != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if got := ids(h.c.Snapshot().Files); !equalStrings(got, []string{"Q2", "Q3"}) {
		t.Errorf("files = %v, Q1 must stay gone", got)
	}
}

func TestDeleteMany_NothingSelected(t *testing.T) {
	h := newHarness(t)
	if _, err := h.c.DeleteSelected(context.Background()); !IsKind(err, KindInvalidInput) {
		t.Errorf("err = %v, want invalid input", err)
	}
	if h.store.count("delete_multiple") != 0 {
		t.Error("empty bulk delete reached the store")
	}
}

func TestDeleteMany_TransportFailureLeavesList(t *testing.T) {
	h := newHarness(t)
	h.c.ToggleAll(true)
	h.store.mu.Lock()
	h.store.deleteErr = errBackend
	h.store.mu.Unlock()

	if _, err := h.c.DeleteSelected(context.Background()); !IsKind(err, KindTransientNetwork) {
		t.Fatalf("err = %v", err)
	}
	snap := h.c.Snapshot()
	if len(snap.Files) != 3 || len(snap.Selected) != 3 {
		t.Errorf("files=%d selected=%d", len(snap.Files), len(snap.Selected))
	}
}

func TestUpload_AppendsRecord(t *testing.T) {
	h := newHarness(t)
	got, err := h.c.Upload(context.Background(), " photo.jpg ", strings.NewReader("jpegdata"), 8)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	want := models.FileRecord{
		ContentID: "U1",
		Name:      "photo.jpg",
		SizeLabel: "8 B",
		DateLabel: "Mar 5, 2024",
		IsFile:    true,
	}
	if got != want {
		t.Errorf("record = %+v, want %+v", got, want)
	}
	files := h.c.Snapshot().Files
	if len(files) != 4 || files[3] != want {
		t.Errorf("files = %+v", files)
	}

	ops := h.log.ofType(events.EventOperation)
	if len(ops) != 1 || ops[0].Operation != "upload" || ops[0].Status != "succeeded" {
		t.Errorf("operation events = %+v", ops)
	}
}

func TestUpload_DuplicateNotAppended(t *testing.T) {
	h := newHarness(t)
	h.store.uploadID = "Q2"

	_, err := h.c.Upload(context.Background(), "notes-again.txt", strings.NewReader("x"), 1)
	if !IsKind(err, KindDuplicateContent) {
		t.Fatalf("err = %v, want duplicate content", err)
	}
	snap := h.c.Snapshot()
	if len(snap.Files) != 3 || snap.Files[1].Name != "notes.txt" {
		t.Errorf("files = %+v", snap.Files)
	}
	if !strings.Contains(snap.Notice, "already exists") {
		t.Errorf("notice = %q", snap.Notice)
	}
	if h.store.count("upload") != 1 {
		t.Error("upload was not sent to the store")
	}
}

func TestUpload_Validation(t *testing.T) {
	h := newHarness(t)
	if _, err := h.c.Upload(context.Background(), "  ", strings.NewReader(""), 0); !IsKind(err, KindInvalidInput) {
		t.Errorf("blank name err = %v", err)
	}

	empty, err := New(Deps{Store: newFakeStore(), Directory: &fakeDirectory{}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := empty.Upload(context.Background(), "a.txt", strings.NewReader("a"), 1); !IsKind(err, KindNoContext) {
		t.Errorf("no context err = %v", err)
	}
}

func TestUploadFolder(t *testing.T) {
	h := newHarness(t)
	got, err := h.c.UploadFolder(context.Background(), "/home/alice/holiday")
	if err != nil {
		t.Fatalf("UploadFolder: %v", err)
	}
	if got.Name != "holiday" || got.IsFile {
		t.Errorf("record = %+v", got)
	}
	if h.store.count("upload_folder") != 1 || h.store.count("upload") != 0 {
		t.Error("folder was not sent through UploadFolder")
	}
	if _, err := h.c.UploadFolder(context.Background(), ""); !IsKind(err, KindInvalidInput) {
		t.Errorf("packer failure err = %v", err)
	}
}

func TestRename_OnlyNameChanges(t *testing.T) {
	h := newHarness(t)
	h.c.Toggle("Q2", true)
	before := h.c.Snapshot().Files

	got, err := h.c.Rename(context.Background(), "Q2", "notes2.txt")
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	snap := h.c.Snapshot()
	if got.Name != "notes2.txt" || got.ContentID != "Q2" {
		t.Errorf("renamed = %+v", got)
	}
	if models.IndexOf(snap.Files, "Q2") != 1 {
		t.Error("Q2 moved")
	}
	want := before[1]
	want.Name = "notes2.txt"
	if snap.Files[1] != want || snap.Files[0] != before[0] || snap.Files[2] != before[2] {
		t.Errorf("files = %+v", snap.Files)
	}
	if !equalStrings(snap.Selected, []string{"Q2"}) {
		t.Errorf("selection = %v", snap.Selected)
	}
}

func TestRename_FailureLeavesList(t *testing.T) {
	h := newHarness(t)
	h.store.renameErr = errBackend
	if _, err := h.c.Rename(context.Background(), "Q2", "x.txt"); !IsKind(err, KindTransientNetwork) {
		t.Fatalf("err = %v", err)
	}
	if h.c.Snapshot().Files[1].Name != "notes.txt" {
		t.Error("failed rename changed the record")
	}
	if _, err := h.c.Rename(context.Background(), "nope", "x.txt"); !IsKind(err, KindInvalidInput) {
		t.Errorf("unknown id err = %v", err)
	}
	if _, err := h.c.Rename(context.Background(), "Q2", ""); !IsKind(err, KindInvalidInput) {
		t.Errorf("empty name err = %v", err)
	}
}

func TestDelete_PrunesSelection(t *testing.T) {
	h := newHarness(t)
	h.c.Toggle("Q1", true)
	h.c.Toggle("Q2", true)

	if err := h.c.Delete(context.Background(), "Q1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	snap := h.c.Snapshot()
	if !equalStrings(ids(snap.Files), []string{"Q2", "Q3"}) || !equalStrings(snap.Selected, []string{"Q2"}) {
		t.Errorf("files=%v selected=%v", ids(snap.Files), snap.Selected)
	}

	h.store.deleteErr = errBackend
	if err := h.c.Delete(context.Background(), "Q2"); !IsKind(err, KindTransientNetwork) {
		t.Errorf("err = %v", err)
	}
	if len(h.c.Snapshot().Files) != 2 {
		t.Error("failed delete removed the record")
	}
}

func TestTargetBusy(t *testing.T) {
	h := newHarness(t)
	gate, entered, release := blockOn("rename", "Q2")
	h.store.setGate(gate)

	done := make(chan error, 1)
	go func() {
		_, err := h.c.Rename(context.Background(), "Q2", "notes2.txt")
		done <- err
	}()
	<-entered

	if err := h.c.Delete(context.Background(), "Q2"); !IsKind(err, KindTargetBusy) {
		t.Errorf("delete of busy target err = %v", err)
	}
	if _, err := h.c.DeleteMany(context.Background(), []string{"Q1", "Q2"}); !IsKind(err, KindTargetBusy) {
		t.Errorf("bulk delete touching busy target err = %v", err)
	}
	if err := h.c.Delete(context.Background(), "Q1"); err != nil {
		t.Errorf("delete of another target: %v", err)
	}
	if pending := h.c.Snapshot().Pending; len(pending) != 1 || pending[0].Kind != OpRename {
		t.Errorf("pending = %+v", pending)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Rename: %v", err)
	}
	snap := h.c.Snapshot()
	if len(snap.Pending) != 0 || !equalStrings(ids(snap.Files), []string{"Q2", "Q3"}) || snap.Files[0].Name != "notes2.txt" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestTargetBusyAcrossViewRoundTrip(t *testing.T) {
	h := newHarness(t)
	gate, entered, release := blockOn("rename", "Q2")
	h.store.setGate(gate)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := h.c.Rename(ctx, "Q2", "notes2.txt")
		done <- err
	}()
	<-entered

	if err := h.c.SetView(ctx, models.ViewShared); err != nil {
		t.Fatalf("SetView(shared): %v", err)
	}
	if err := h.c.SetView(ctx, models.ViewMine); err != nil {
		t.Fatalf("SetView(mine): %v", err)
	}
	if err := h.c.Delete(ctx, "Q2"); !IsKind(err, KindTargetBusy) {
		t.Errorf("delete while rename in flight err = %v", err)
	}
	if n := h.store.count("delete"); n != 0 {
		t.Errorf("delete reached the store %d times", n)
	}
	if pending := h.c.Snapshot().Pending; len(pending) != 0 {
		t.Errorf("operation from the old scope is listed as pending: %+v", pending)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if err := h.c.Delete(ctx, "Q2"); err != nil {
		t.Errorf("delete after rename finished: %v", err)
	}
}

func TestTargetBusyAcrossContextRoundTrip(t *testing.T) {
	h := newHarness(t)
	gate, entered, release := blockOn("delete", "Q1")
	h.store.setGate(gate)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- h.c.Delete(ctx, "Q1") }()
	<-entered

	if _, err := h.c.SelectContext(ctx, "B"); err != nil {
		t.Fatalf("SelectContext(B): %v", err)
	}
	if _, err := h.c.SelectContext(ctx, "A"); err != nil {
		t.Fatalf("SelectContext(A): %v", err)
	}
	if _, err := h.c.Rename(ctx, "Q1", "report2.pdf"); !IsKind(err, KindTargetBusy) {
		t.Errorf("rename while delete in flight err = %v", err)
	}
	if n := h.store.count("rename"); n != 0 {
		t.Errorf("rename reached the store %d times", n)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := h.c.Rename(ctx, "Q1", "report2.pdf"); err != nil {
		t.Errorf("rename after delete finished: %v", err)
	}
}

func TestMutationAfterContextSwitchIsDiscarded(t *testing.T) {
	h := newHarness(t)
	gate, entered, release := blockOn("upload", "late.txt")
	h.store.setGate(gate)

	done := make(chan error, 1)
	go func() {
		_, err := h.c.Upload(context.Background(), "late.txt", strings.NewReader("late"), 4)
		done <- err
	}()
	<-entered

	if _, err := h.c.SelectContext(context.Background(), "B"); err != nil {
		t.Fatal(err)
	}
	close(release)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Upload: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("upload never returned")
	}

	snap := h.c.Snapshot()
	if !equalStrings(ids(snap.Files), []string{"B1"}) || len(snap.Pending) != 0 {
		t.Errorf("files=%v pending=%+v", ids(snap.Files), snap.Pending)
	}
}

func TestDownload(t *testing.T) {
	h := newHarness(t)
	var buf bytes.Buffer
	n, err := h.c.Download(context.Background(), "Q1", &buf)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if buf.String() != "content of report.pdf" || n != int64(buf.Len()) {
		t.Errorf("got %d bytes %q", n, buf.String())
	}
	snap := h.c.Snapshot()
	if snap.Downloading || len(snap.Files) != 3 {
		t.Errorf("downloading=%v files=%d", snap.Downloading, len(snap.Files))
	}

	if _, err := h.c.Download(context.Background(), "missing", &buf); !IsKind(err, KindInvalidInput) {
		t.Errorf("unknown id err = %v", err)
	}
}

func TestDownloadSelected(t *testing.T) {
	h := newHarness(t)
	h.c.Toggle("Q1", true)
	h.c.Toggle("Q3", true)

	var buf bytes.Buffer
	if _, err := h.c.DownloadSelected(context.Background(), &buf); err != nil {
		t.Fatalf("DownloadSelected: %v", err)
	}
	if buf.String() != "content of report.pdf\ncontent of img.png" {
		t.Errorf("archive = %q", buf.String())
	}
	if got := h.c.Snapshot().Selected; len(got) != 2 {
		t.Errorf("download changed the selection: %v", got)
	}

	h.c.ClearSelection()
	if _, err := h.c.DownloadSelected(context.Background(), &buf); !IsKind(err, KindInvalidInput) {
		t.Errorf("empty selection err = %v", err)
	}
}

func TestShare(t *testing.T) {
	h := newHarness(t)
	out, err := h.c.Share(context.Background(), "Q1", []string{" Bob@Example.com", "bob@example.com", "", "dana@example.com"})
	if err != nil {
		t.Fatalf("Share: %v", err)
	}
	if !out.Done || !equalStrings(out.SharedWith, []string{"bob@example.com", "dana@example.com"}) {
		t.Errorf("outcome = %+v", out)
	}
}

func TestShare_UnresolvedKeepsInputOpen(t *testing.T) {
	h := newHarness(t)
	h.store.unknown["ghost@example.com"] = true

	out, err := h.c.Share(context.Background(), "Q1", []string{"bob@example.com", "ghost@example.com"})
	if err != nil {
		t.Fatalf("Share: %v", err)
	}
	if out.Done || !equalStrings(out.Unresolved, []string{"ghost@example.com"}) {
		t.Errorf("outcome = %+v", out)
	}
	if !strings.Contains(h.c.Snapshot().Notice, "ghost@example.com") {
		t.Errorf("notice = %q", h.c.Snapshot().Notice)
	}
}

func TestShare_DeniedLocally(t *testing.T) {
	h := newHarness(t)
	if err := h.c.SetView(context.Background(), models.ViewShared); err != nil {
		t.Fatal(err)
	}
	_, err := h.c.Share(context.Background(), "S1", []string{"bob@example.com"})
	if !IsKind(err, KindLocalAuthorizationDenied) {
		t.Fatalf("err = %v, want local authorization denied", err)
	}
	if h.store.count("share") != 0 {
		t.Error("denied share reached the store")
	}
	if len(h.c.Snapshot().Pending) != 0 {
		t.Error("denied share left a pending operation")
	}
}

func TestShare_InvalidEmails(t *testing.T) {
	h := newHarness(t)
	if _, err := h.c.Share(context.Background(), "Q1", []string{"not an email"}); !IsKind(err, KindInvalidInput) {
		t.Errorf("malformed address err = %v", err)
	}
	if _, err := h.c.Share(context.Background(), "Q1", []string{" ", ""}); !IsKind(err, KindInvalidInput) {
		t.Errorf("no addresses err = %v", err)
	}
	if h.store.count("share") != 0 {
		t.Error("invalid share reached the store")
	}
}

func TestNotices(t *testing.T) {
	h := newHarness(t)
	h.store.deleteErr = errBackend
	_ = h.c.Delete(context.Background(), "Q1")

	notices := h.log.ofType(events.EventNotice)
	if len(notices) != 1 || notices[0].Kind != "transient_network_failure" || notices[0].Message != "Failed to delete report.pdf" {
		t.Errorf("notices = %+v", notices)
	}
	h.c.ClearNotice()
	if h.c.Snapshot().Notice != "" {
		t.Error("notice not cleared")
	}
}
