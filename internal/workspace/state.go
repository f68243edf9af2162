package workspace

import (
	"sort"

	"github.com/fruitsalade/fruitsalade/workspace/pkg/models"
)

// OpKind names a mutation or transfer.
type OpKind string

const (
	OpLoad         OpKind = "load"
	OpContexts     OpKind = "contexts"
	OpUpload       OpKind = "upload"
	OpUploadFolder OpKind = "upload_folder"
	OpRename       OpKind = "rename"
	OpDelete       OpKind = "delete"
	OpBulkDelete   OpKind = "bulk_delete"
	OpDownload     OpKind = "download"
	OpBulkDownload OpKind = "bulk_download"
	OpShare        OpKind = "share"
)

// OpStatus is the lifecycle of a PendingOperation.
type OpStatus string

const (
	StatusRunning   OpStatus = "running"
	StatusSucceeded OpStatus = "succeeded"
	StatusFailed    OpStatus = "failed"
)

// PendingOperation is the bookkeeping record of one in-flight mutation.
type PendingOperation struct {
	ID      uint64
	Kind    OpKind
	Targets []string
	Status  OpStatus
	Err     error
}

// State is the controller's composite state. Files, Selection and Query are
// only ever changed together through reduce.
type State struct {
	Context  *models.Context
	Contexts []models.Context
	View     models.View
	Query    string

	Files     []models.FileRecord
	Selection Selection
	Pending   map[uint64]PendingOperation
	// Detached holds the targets of operations still in flight from an
	// earlier scope. They stay claimed until the operation finishes.
	Detached map[uint64][]string

	Loading     bool
	Downloading int

	// Generation tags list requests; only the newest may be applied.
	Generation uint64
	// Epoch changes whenever the (context, view) scope changes. Mutation
	// results from an older epoch are bookkeeping only.
	Epoch uint64

	Notice string
}

func initialState() State {
	return State{
		View:     models.ViewMine,
		Pending:  make(map[uint64]PendingOperation),
		Detached: make(map[uint64][]string),
	}
}

func (s State) clone() State {
	c := s
	if s.Context != nil {
		ctx := *s.Context
		c.Context = &ctx
	}
	c.Contexts = append([]models.Context(nil), s.Contexts...)
	c.Files = append([]models.FileRecord(nil), s.Files...)
	c.Selection = s.Selection.Clone()
	c.Pending = make(map[uint64]PendingOperation, len(s.Pending))
	for id, op := range s.Pending {
		c.Pending[id] = op
	}
	c.Detached = make(map[uint64][]string, len(s.Detached))
	for id, targets := range s.Detached {
		c.Detached[id] = targets
	}
	return c
}

func (s State) contextID() string {
	if s.Context == nil {
		return ""
	}
	return s.Context.ID
}

// busy returns the first target already claimed by a running operation,
// whichever scope it was started in.
func (s State) busy(targets []string) (string, bool) {
	for _, op := range s.Pending {
		if t, ok := overlap(op.Targets, targets); ok {
			return t, true
		}
	}
	for _, claimed := range s.Detached {
		if t, ok := overlap(claimed, targets); ok {
			return t, true
		}
	}
	return "", false
}

func overlap(claimed, targets []string) (string, bool) {
	for _, c := range claimed {
		for _, t := range targets {
			if t == c {
				return t, true
			}
		}
	}
	return "", false
}

func (s State) record(contentID string) (models.FileRecord, bool) {
	if i := models.IndexOf(s.Files, contentID); i >= 0 {
		return s.Files[i], true
	}
	return models.FileRecord{}, false
}

// action is one state transition.
type action interface {
	apply(s *State)
}

// reduce is the single transition function. It works on a copy and prunes
// the selection against the resulting list before returning, so no caller
// ever observes a selection that refers to a missing record.
func reduce(old State, a action) State {
	s := old.clone()
	a.apply(&s)
	s.Selection.Prune(s.Files)
	return s
}

// resetScope drops everything tied to the previous (context, view).
func (s *State) resetScope() {
	s.Epoch++
	s.Generation++
	s.Files = nil
	s.Query = ""
	s.Selection.Clear()
	for id, op := range s.Pending {
		if len(op.Targets) > 0 {
			s.Detached[id] = op.Targets
		}
	}
	s.Pending = make(map[uint64]PendingOperation)
	s.Loading = false
}

type contextsLoaded struct {
	contexts []models.Context
	active   *models.Context
}

func (a contextsLoaded) apply(s *State) {
	s.Contexts = a.contexts
	if a.active == nil {
		if s.Context != nil {
			s.resetScope()
		}
		s.Context = nil
		return
	}
	if s.Context == nil || s.Context.ID != a.active.ID {
		s.resetScope()
	}
	active := *a.active
	s.Context = &active
}

type contextsFailed struct{}

func (contextsFailed) apply(s *State) {
	s.Contexts = nil
	s.Context = nil
	s.resetScope()
}

type viewChanged struct {
	view models.View
}

func (a viewChanged) apply(s *State) {
	if s.View == a.view {
		return
	}
	s.View = a.view
	s.resetScope()
}

type loadStarted struct {
	generation uint64
}

func (a loadStarted) apply(s *State) {
	s.Generation = a.generation
	s.Files = nil
	s.Loading = true
}

type loadFinished struct {
	generation uint64
	files      []models.FileRecord
}

func (a loadFinished) apply(s *State) {
	if a.generation != s.Generation {
		return
	}
	s.Files = a.files
	s.Loading = false
}

type queryChanged struct {
	query string
}

func (a queryChanged) apply(s *State) {
	s.Query = a.query
}

type selectionToggled struct {
	contentID string
	checked   bool
}

func (a selectionToggled) apply(s *State) {
	if _, ok := s.record(a.contentID); !ok && a.checked {
		return
	}
	s.Selection.Toggle(a.contentID, a.checked)
}

type selectionToggledAll struct {
	checked bool
}

func (a selectionToggledAll) apply(s *State) {
	s.Selection.ToggleAll(Project(s.Files, s.Query), a.checked)
}

type selectionCleared struct{}

func (selectionCleared) apply(s *State) {
	s.Selection.Clear()
}

type opStarted struct {
	op PendingOperation
}

func (a opStarted) apply(s *State) {
	s.Pending[a.op.ID] = a.op
	if a.op.Kind == OpDownload || a.op.Kind == OpBulkDownload {
		s.Downloading++
	}
}

// opFinished clears the pending entry. When replace is set, files becomes
// the list, but only while the operation's epoch is still current.
type opFinished struct {
	op      PendingOperation
	epoch   uint64
	files   []models.FileRecord
	replace bool
}

func (a opFinished) apply(s *State) {
	delete(s.Pending, a.op.ID)
	delete(s.Detached, a.op.ID)
	if (a.op.Kind == OpDownload || a.op.Kind == OpBulkDownload) && s.Downloading > 0 {
		s.Downloading--
	}
	if a.replace && a.epoch == s.Epoch {
		s.Files = a.files
	}
}

type noticeSet struct {
	message string
}

func (a noticeSet) apply(s *State) {
	s.Notice = a.message
}

// Snapshot is an immutable view of State plus the derived projections.
type Snapshot struct {
	Context  *models.Context
	Contexts []models.Context
	View     models.View
	Query    string

	Files    []models.FileRecord
	Filtered []models.FileRecord

	Selected          []string
	SelectedPositions []int

	Pending     []PendingOperation
	Loading     bool
	Downloading bool
	Generation  uint64
	Notice      string
}

func (s State) snapshot() Snapshot {
	c := s.clone()
	filtered := Project(c.Files, c.Query)
	pending := make([]PendingOperation, 0, len(c.Pending))
	for _, op := range c.Pending {
		pending = append(pending, op)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })

	return Snapshot{
		Context:           c.Context,
		Contexts:          c.Contexts,
		View:              c.View,
		Query:             c.Query,
		Files:             c.Files,
		Filtered:          filtered,
		Selected:          c.Selection.IDs(),
		SelectedPositions: c.Selection.Displayed(filtered),
		Pending:           pending,
		Loading:           c.Loading,
		Downloading:       c.Downloading > 0,
		Generation:        c.Generation,
		Notice:            c.Notice,
	}
}
