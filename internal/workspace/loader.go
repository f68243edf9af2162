package workspace

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/fruitsalade/workspace/internal/events"
	"github.com/fruitsalade/fruitsalade/workspace/internal/logging"
	"github.com/fruitsalade/fruitsalade/workspace/internal/metrics"
	"github.com/fruitsalade/fruitsalade/workspace/pkg/models"
)

// RefreshContexts fetches the principal's contexts and resolves the active
// one. hint wins when present in the list (e.g. a context just created or
// joined); otherwise the current context, then the session's last context,
// then the first one is used. When the active context changes, query,
// selection and pending operations are dropped and its files are loaded.
//
// If the directory call fails, no context is active and the list is empty.
func (c *Controller) RefreshContexts(ctx context.Context, hint string) (*models.Context, error) {
	contexts, err := c.directory.ListContexts(ctx)
	if err != nil {
		c.mu.Lock()
		hadContext := c.state.Context != nil
		c.dispatch(contextsFailed{})
		c.mu.Unlock()
		if hadContext {
			c.notifier.Publish(events.Event{Type: events.EventContextChanged})
			c.publishList()
		}
		return nil, c.report(remoteError(OpContexts, "Could not load your workspaces", err))
	}

	last := c.session.LastContext()

	c.mu.Lock()
	previous := c.state.contextID()
	active := Resolve(contexts, hint, previous, last)
	c.dispatch(contextsLoaded{contexts: contexts, active: active})
	current := c.state.contextID()
	c.mu.Unlock()

	if current == previous {
		return active, nil
	}

	metrics.RecordContextSwitch()
	logging.Info("active context changed",
		zap.String("from", previous),
		zap.String("to", current),
		zap.String("principal", c.session.Principal()),
	)
	c.notifier.Publish(events.Event{Type: events.EventContextChanged, ContextID: current})

	if active == nil {
		c.publishList()
		return nil, nil
	}
	return active, ignoreStale(c.Reload(ctx))
}

// ignoreStale hides a superseded load from callers that only asked for a
// context or view change; the newer load reports its own outcome.
func ignoreStale(err error) error {
	if IsKind(err, KindStaleResult) {
		return nil
	}
	return err
}

// SelectContext makes id the active context (explicit navigation).
func (c *Controller) SelectContext(ctx context.Context, id string) (*models.Context, error) {
	active, err := c.RefreshContexts(ctx, id)
	if err != nil {
		return active, err
	}
	if active == nil || active.ID != id {
		return active, c.report(newError(KindInvalidInput, OpContexts, "Workspace not found", nil))
	}
	return active, nil
}

// SetView switches between "mine" and "shared" and reloads.
func (c *Controller) SetView(ctx context.Context, view models.View) error {
	if !view.Valid() {
		return c.report(newError(KindInvalidInput, OpLoad, "Unknown view "+string(view), nil))
	}
	c.mu.Lock()
	changed := c.state.View != view
	c.dispatch(viewChanged{view: view})
	hasContext := c.state.Context != nil
	c.mu.Unlock()

	if !changed || !hasContext {
		return nil
	}
	return ignoreStale(c.Reload(ctx))
}

// Reload issues one list request for the active (context, view). The list
// is cleared and marked loading immediately. The response is applied only if
// no newer request was issued in the meantime; otherwise it is discarded and
// a KindStaleResult error is returned without any notice.
func (c *Controller) Reload(ctx context.Context) error {
	c.mu.Lock()
	if c.state.Context == nil {
		c.mu.Unlock()
		return c.report(newError(KindNoContext, OpLoad, "No workspace selected", nil))
	}
	generation := c.state.Generation + 1
	c.dispatch(loadStarted{generation: generation})
	contextID, view := c.state.Context.ID, c.state.View
	c.mu.Unlock()
	c.publishList()

	ctx = logging.WithFields(ctx,
		zap.String("context_id", contextID),
		zap.String("view", string(view)),
		zap.Uint64("generation", generation),
	)
	log := logging.WithContext(ctx)

	start := time.Now()
	files, err := c.store.List(ctx, contextID, view)
	elapsed := time.Since(start)

	c.mu.Lock()
	if c.state.Generation != generation {
		current := c.state.Generation
		c.mu.Unlock()
		metrics.RecordLoad("stale", elapsed)
		log.Debug("discarding stale file list", zap.Uint64("current_generation", current))
		return newError(KindStaleResult, OpLoad, "File list superseded by a newer request", err)
	}
	if err != nil {
		c.dispatch(loadFinished{generation: generation})
		c.mu.Unlock()
		metrics.RecordLoad("failed", elapsed)
		c.publishList()
		return c.report(remoteError(OpLoad, "Could not load files", err))
	}
	files = uniqueRecords(files, log)
	c.dispatch(loadFinished{generation: generation, files: files})
	c.mu.Unlock()

	metrics.RecordLoad("applied", elapsed)
	log.Debug("file list applied", zap.Int("files", len(files)), zap.Duration("duration", elapsed))
	c.publishList()
	return nil
}

// uniqueRecords keeps the first record for each content id.
func uniqueRecords(files []models.FileRecord, log *zap.Logger) []models.FileRecord {
	seen := make(map[string]struct{}, len(files))
	out := make([]models.FileRecord, 0, len(files))
	for _, f := range files {
		if _, dup := seen[f.ContentID]; dup {
			log.Warn("backend listed a content id twice", zap.String("content_id", f.ContentID))
			continue
		}
		seen[f.ContentID] = struct{}{}
		out = append(out, f)
	}
	return out
}

// CreateContext creates a context and makes it active.
func (c *Controller) CreateContext(ctx context.Context, name, secret string, role models.Role) (*models.Context, error) {
	return c.enterContext(ctx, name, secret, role, c.directory.CreateContext, "Could not create workspace")
}

// JoinContext joins an existing context and makes it active.
func (c *Controller) JoinContext(ctx context.Context, name, secret string, role models.Role) (*models.Context, error) {
	return c.enterContext(ctx, name, secret, role, c.directory.JoinContext, "Could not join workspace")
}

type enterFunc func(ctx context.Context, name, secret string, role models.Role) (*models.Context, error)

func (c *Controller) enterContext(ctx context.Context, name, secret string, role models.Role, enter enterFunc, failure string) (*models.Context, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, c.report(newError(KindInvalidInput, OpContexts, "Workspace name is required", nil))
	}
	created, err := enter(ctx, name, secret, role)
	if err != nil {
		return nil, c.report(remoteError(OpContexts, failure, err))
	}
	return c.RefreshContexts(ctx, created.ID)
}

// LeaveContext leaves a context and re-resolves the active one.
func (c *Controller) LeaveContext(ctx context.Context, contextID string) (*models.Context, error) {
	if err := c.directory.LeaveContext(ctx, contextID); err != nil {
		return nil, c.report(remoteError(OpContexts, "Could not leave workspace", err))
	}
	return c.RefreshContexts(ctx, "")
}
