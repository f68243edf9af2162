// Package workspace keeps a local mirror of one context's files in step with
// the remote store while the user filters, selects and mutates them.
//
// All state lives in a single composite State guarded by Controller.mu and
// changed only through reduce. Remote calls never run under the lock: each
// operation takes what it needs, releases the lock, calls the collaborator
// and then applies the result as one transition.
package workspace

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/fruitsalade/workspace/internal/events"
	"github.com/fruitsalade/fruitsalade/workspace/internal/logging"
	"github.com/fruitsalade/fruitsalade/workspace/internal/metrics"
)

// Deps holds the controller's collaborators.
type Deps struct {
	Store     RemoteStore
	Directory ContextDirectory
	Session   Session  // optional
	Packer    Packer   // required for UploadFolder only
	Notifier  Notifier // optional
	Now       func() time.Time
}

// Controller is the workspace controller. It is safe for concurrent use;
// operations on different content ids may run in parallel.
type Controller struct {
	store     RemoteStore
	directory ContextDirectory
	session   Session
	packer    Packer
	notifier  Notifier
	now       func() time.Time

	mu     sync.Mutex
	state  State
	nextOp uint64
}

// New creates a controller with no active context.
func New(deps Deps) (*Controller, error) {
	if deps.Store == nil {
		return nil, errors.New("workspace: remote store is required")
	}
	if deps.Directory == nil {
		return nil, errors.New("workspace: context directory is required")
	}
	c := &Controller{
		store:     deps.Store,
		directory: deps.Directory,
		session:   deps.Session,
		packer:    deps.Packer,
		notifier:  deps.Notifier,
		now:       deps.Now,
		state:     initialState(),
	}
	if c.session == nil {
		c.session = anonymousSession{}
	}
	if c.notifier == nil {
		c.notifier = nopNotifier{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// Snapshot returns a copy of the current state with the filtered view and
// the selected display positions computed fresh.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.snapshot()
}

// dispatch applies one transition. Callers must hold c.mu.
func (c *Controller) dispatch(a action) {
	c.state = reduce(c.state, a)
	metrics.SetState(len(c.state.Files), c.state.Selection.Len())
}

func (c *Controller) update(a action) {
	c.mu.Lock()
	c.dispatch(a)
	c.mu.Unlock()
}

// SetQuery changes the search string of the filtered view.
func (c *Controller) SetQuery(query string) {
	c.update(queryChanged{query: query})
}

// Toggle selects or deselects one record. Ids not in the list are ignored.
func (c *Controller) Toggle(contentID string, checked bool) {
	c.update(selectionToggled{contentID: contentID, checked: checked})
}

// ToggleAll selects or deselects every record of the current filtered view.
func (c *Controller) ToggleAll(checked bool) {
	c.update(selectionToggledAll{checked: checked})
}

// ClearSelection deselects everything.
func (c *Controller) ClearSelection() {
	c.update(selectionCleared{})
}

// ClearNotice dismisses the current user-visible message.
func (c *Controller) ClearNotice() {
	c.update(noticeSet{})
}

// report turns err into the single user-visible notice and returns it.
// Stale results are never reported.
func (c *Controller) report(err *Error) error {
	if err == nil {
		return nil
	}
	if err.Kind == KindStaleResult {
		return err
	}

	c.mu.Lock()
	c.dispatch(noticeSet{message: err.Message})
	contextID := c.state.contextID()
	c.mu.Unlock()

	logging.Warn("workspace operation failed",
		zap.String("op", string(err.Op)),
		zap.String("kind", err.Kind.String()),
		zap.String("context_id", contextID),
		zap.Error(err.Err),
	)
	c.notifier.Publish(events.Event{
		Type:      events.EventNotice,
		ContextID: contextID,
		Operation: string(err.Op),
		Kind:      err.Kind.String(),
		Message:   err.Message,
	})
	return err
}

// notice publishes an informational message that is not an error.
func (c *Controller) notice(op OpKind, message string) {
	c.mu.Lock()
	c.dispatch(noticeSet{message: message})
	contextID := c.state.contextID()
	c.mu.Unlock()

	c.notifier.Publish(events.Event{
		Type:      events.EventNotice,
		ContextID: contextID,
		Operation: string(op),
		Message:   message,
	})
}

func (c *Controller) publishList() {
	c.mu.Lock()
	contextID, files := c.state.contextID(), len(c.state.Files)
	c.mu.Unlock()
	c.notifier.Publish(events.Event{Type: events.EventListChanged, ContextID: contextID, Files: files})
}
