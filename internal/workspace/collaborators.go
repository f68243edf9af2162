package workspace

import (
	"context"
	"io"

	"github.com/fruitsalade/fruitsalade/workspace/internal/events"
	"github.com/fruitsalade/fruitsalade/workspace/pkg/models"
	"github.com/fruitsalade/fruitsalade/workspace/pkg/protocol"
)

// RemoteStore is the authoritative backend holding each context's files.
// Every method is a suspension point; none is retried by the controller.
type RemoteStore interface {
	List(ctx context.Context, contextID string, view models.View) ([]models.FileRecord, error)
	Upload(ctx context.Context, contextID, name string, body io.Reader, size int64) (*protocol.UploadResponse, error)
	UploadFolder(ctx context.Context, contextID, name string, archive io.Reader, size int64) (*protocol.UploadResponse, error)
	Rename(ctx context.Context, contentID, name string) (*protocol.RenameResponse, error)
	Delete(ctx context.Context, contentID string) error
	DeleteMultiple(ctx context.Context, contentIDs []string) (*protocol.BulkDeleteResponse, error)
	Download(ctx context.Context, contentID string) (io.ReadCloser, error)
	DownloadMultiple(ctx context.Context, contentIDs []string) (io.ReadCloser, error)
	Share(ctx context.Context, contentID string, emails []string) (*protocol.ShareResponse, error)
}

// ContextDirectory lists and manages the contexts a principal belongs to.
type ContextDirectory interface {
	ListContexts(ctx context.Context) ([]models.Context, error)
	CreateContext(ctx context.Context, name, secret string, role models.Role) (*models.Context, error)
	JoinContext(ctx context.Context, name, secret string, role models.Role) (*models.Context, error)
	LeaveContext(ctx context.Context, contextID string) error
}

// Session supplies the active principal and the last context it used.
// The controller only reads it.
type Session interface {
	Principal() string
	LastContext() string
}

// Blob is one named binary payload produced by a Packer.
type Blob struct {
	Name string
	Size int64
	Body io.ReadCloser
}

// Packer packages a local folder into a single blob for UploadFolder.
type Packer interface {
	Pack(ctx context.Context, dir string) (*Blob, error)
}

// Notifier receives every state notification.
type Notifier interface {
	Publish(events.Event)
}

type nopNotifier struct{}

func (nopNotifier) Publish(events.Event) {}

type anonymousSession struct{}

func (anonymousSession) Principal() string   { return "" }
func (anonymousSession) LastContext() string { return "" }
