package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fruitsalade/fruitsalade/workspace/internal/events"
	"github.com/fruitsalade/fruitsalade/workspace/pkg/models"
	"github.com/fruitsalade/fruitsalade/workspace/pkg/protocol"
)

var errBackend = errors.New("backend unavailable")

// fakeStore is an in-memory RemoteStore. gate, when set, runs at the start
// of every call and may block it.
type fakeStore struct {
	mu      sync.Mutex
	files   map[string][]models.FileRecord
	owned   map[string]bool
	failing map[string]string
	content map[string]string
	unknown map[string]bool
	calls   map[string]int
	seq     int

	gate      func(method, arg string)
	listErr   error
	uploadID  string
	renameErr error
	deleteErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		files:   make(map[string][]models.FileRecord),
		owned:   make(map[string]bool),
		failing: make(map[string]string),
		content: make(map[string]string),
		unknown: make(map[string]bool),
		calls:   make(map[string]int),
	}
}

func listKey(contextID string, view models.View) string {
	return contextID + "/" + string(view)
}

func (f *fakeStore) put(contextID string, view models.View, recs ...models.FileRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[listKey(contextID, view)] = append(f.files[listKey(contextID, view)], recs...)
	for _, r := range recs {
		if !r.Shared() {
			f.owned[r.ContentID] = true
		}
		f.content[r.ContentID] = "content of " + r.Name
	}
}

func (f *fakeStore) setGate(gate func(method, arg string)) {
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()
}

func (f *fakeStore) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeStore) enter(method, arg string) {
	f.mu.Lock()
	f.calls[method]++
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		gate(method, arg)
	}
}

func (f *fakeStore) List(ctx context.Context, contextID string, view models.View) ([]models.FileRecord, error) {
	f.mu.Lock()
	files := append([]models.FileRecord(nil), f.files[listKey(contextID, view)]...)
	err := f.listErr
	f.mu.Unlock()

	f.enter("list", contextID)
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (f *fakeStore) Upload(ctx context.Context, contextID, name string, body io.Reader, size int64) (*protocol.UploadResponse, error) {
	return f.upload("upload", contextID, name, body)
}

func (f *fakeStore) UploadFolder(ctx context.Context, contextID, name string, archive io.Reader, size int64) (*protocol.UploadResponse, error) {
	return f.upload("upload_folder", contextID, name, archive)
}

func (f *fakeStore) upload(method, contextID, name string, body io.Reader) (*protocol.UploadResponse, error) {
	f.enter(method, name)
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := f.uploadID
	if id == "" {
		id = fmt.Sprintf("U%d", f.seq)
	}
	f.owned[id] = true
	f.content[id] = string(data)
	return &protocol.UploadResponse{ContentID: id, Size: int64(len(data))}, nil
}

func (f *fakeStore) Rename(ctx context.Context, contentID, name string) (*protocol.RenameResponse, error) {
	f.enter("rename", contentID)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.renameErr != nil {
		return nil, f.renameErr
	}
	return &protocol.RenameResponse{ContentID: contentID, Name: name}, nil
}

func (f *fakeStore) Delete(ctx context.Context, contentID string) error {
	f.enter("delete", contentID)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.owned, contentID)
	return nil
}

func (f *fakeStore) DeleteMultiple(ctx context.Context, contentIDs []string) (*protocol.BulkDeleteResponse, error) {
	f.enter("delete_multiple", strings.Join(contentIDs, ","))
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}

	resp := &protocol.BulkDeleteResponse{}
	for _, id := range contentIDs {
		switch {
		case f.failing[id] != "":
			resp.Failed = append(resp.Failed, protocol.BulkFailure{ContentID: id, Error: f.failing[id]})
		case f.owned[id]:
			delete(f.owned, id)
			resp.Successful = append(resp.Successful, id)
		default:
			resp.NotOwned = append(resp.NotOwned, id)
		}
	}
	return resp, nil
}

func (f *fakeStore) Download(ctx context.Context, contentID string) (io.ReadCloser, error) {
	f.enter("download", contentID)
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.content[contentID]
	if !ok {
		return nil, errBackend
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

func (f *fakeStore) DownloadMultiple(ctx context.Context, contentIDs []string) (io.ReadCloser, error) {
	f.enter("download_multiple", strings.Join(contentIDs, ","))
	f.mu.Lock()
	defer f.mu.Unlock()
	var parts []string
	for _, id := range contentIDs {
		parts = append(parts, f.content[id])
	}
	return io.NopCloser(strings.NewReader(strings.Join(parts, "\n"))), nil
}

func (f *fakeStore) Share(ctx context.Context, contentID string, emails []string) (*protocol.ShareResponse, error) {
	f.enter("share", contentID)
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := &protocol.ShareResponse{}
	for _, e := range emails {
		if f.unknown[e] {
			resp.UnresolvedEmails = append(resp.UnresolvedEmails, e)
		} else {
			resp.SharedWith = append(resp.SharedWith, e)
		}
	}
	return resp, nil
}

type fakeDirectory struct {
	mu       sync.Mutex
	contexts []models.Context
	err      error
}

func (d *fakeDirectory) ListContexts(ctx context.Context) ([]models.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return append([]models.Context(nil), d.contexts...), nil
}

func (d *fakeDirectory) CreateContext(ctx context.Context, name, secret string, role models.Role) (*models.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	created := models.Context{ID: "ctx-" + name, Name: name, Role: models.RoleAdmin}
	d.contexts = append(d.contexts, created)
	return &created, nil
}

func (d *fakeDirectory) JoinContext(ctx context.Context, name, secret string, role models.Role) (*models.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if secret != "open sesame" {
		return nil, errors.New("wrong secret")
	}
	joined := models.Context{ID: "ctx-" + name, Name: name, Role: role}
	d.contexts = append(d.contexts, joined)
	return &joined, nil
}

func (d *fakeDirectory) LeaveContext(ctx context.Context, contextID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.contexts[:0]
	for _, c := range d.contexts {
		if c.ID != contextID {
			kept = append(kept, c)
		}
	}
	d.contexts = kept
	return nil
}

type fakeSession struct {
	principal string
	last      string
}

func (s fakeSession) Principal() string   { return s.principal }
func (s fakeSession) LastContext() string { return s.last }

type fakePacker struct{}

func (fakePacker) Pack(ctx context.Context, dir string) (*Blob, error) {
	if dir == "" {
		return nil, errors.New("no folder")
	}
	data := "archive of " + dir
	return &Blob{
		Name: filepath.Base(dir),
		Size: int64(len(data)),
		Body: io.NopCloser(strings.NewReader(data)),
	}, nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) Publish(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) ofType(typ string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

var fixedNow = time.Date(2024, time.March, 5, 10, 0, 0, 0, time.UTC)

func rec(id, name string) models.FileRecord {
	return models.FileRecord{ContentID: id, Name: name, SizeLabel: "1 kB", DateLabel: "Mar 1, 2024", IsFile: true}
}

// scenario is the three-record context used throughout the tests.
func scenarioFiles() []models.FileRecord {
	return []models.FileRecord{
		rec("Q1", "report.pdf"),
		rec("Q2", "notes.txt"),
		rec("Q3", "img.png"),
	}
}

type harness struct {
	c     *Controller
	store *fakeStore
	dir   *fakeDirectory
	log   *eventRecorder
}

// newHarness returns a controller whose active context is "A" with the
// scenario files loaded. Context "B" holds a single record.
func newHarness(t *testing.T) *harness {
	t.Helper()
	store := newFakeStore()
	store.put("A", models.ViewMine, scenarioFiles()...)
	store.put("A", models.ViewShared, models.FileRecord{ContentID: "S1", Name: "budget.xlsx", IsFile: true, SharedBy: "carol@example.com"})
	store.put("B", models.ViewMine, rec("B1", "plan.md"))

	dir := &fakeDirectory{contexts: []models.Context{
		{ID: "A", Name: "Alpha", Role: models.RoleAdmin},
		{ID: "B", Name: "Beta", Role: models.RoleEditor},
	}}
	log := &eventRecorder{}
	c, err := New(Deps{
		Store:     store,
		Directory: dir,
		Session:   fakeSession{principal: "alice@example.com"},
		Packer:    fakePacker{},
		Notifier:  log,
		Now:       func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.RefreshContexts(context.Background(), ""); err != nil {
		t.Fatalf("RefreshContexts: %v", err)
	}
	return &harness{c: c, store: store, dir: dir, log: log}
}

func ids(list []models.FileRecord) []string {
	out := make([]string, 0, len(list))
	for _, r := range list {
		out = append(out, r.ContentID)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// checkInvariants asserts the selection and filter invariants on snap.
func checkInvariants(t *testing.T, snap Snapshot) {
	t.Helper()
	listed := make(map[string]bool, len(snap.Files))
	for _, r := range snap.Files {
		listed[r.ContentID] = true
	}
	for _, id := range snap.Selected {
		if !listed[id] {
			t.Errorf("selected id %s is not listed", id)
		}
	}
	if !isSubsequence(snap.Filtered, snap.Files) {
		t.Errorf("filtered %v is not a subsequence of %v", ids(snap.Filtered), ids(snap.Files))
	}
}

func isSubsequence(sub, list []models.FileRecord) bool {
	j := 0
	for _, r := range list {
		if j < len(sub) && sub[j] == r {
			j++
		}
	}
	return j == len(sub)
}

// blockOn returns a gate that blocks calls to method with arg until release
// is closed, signalling entered once the call is parked.
func blockOn(method, arg string) (gate func(string, string), entered chan struct{}, release chan struct{}) {
	entered = make(chan struct{})
	release = make(chan struct{})
	var once sync.Once
	gate = func(m, a string) {
		if m != method || a != arg {
			return
		}
		once.Do(func() { close(entered) })
		<-release
	}
	return gate, entered, release
}
