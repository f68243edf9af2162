// Workspace CLI
//
// Drives the workspace controller against the HTTP backend or an S3 bucket:
//
//	workspace contexts                  List workspaces
//	workspace use <id>                  Switch the default workspace
//	workspace ls [--filter q] [--tree]  List files of the active workspace
//	workspace upload <file>...          Upload files
//	workspace upload-folder <dir>       Upload a folder archive
//	workspace rename <id> <name>        Rename a file
//	workspace rm <id>...                Delete one or several files
//	workspace get <id>... [-o path]     Download files
//	workspace share <id> <email>...     Share a file you own
//	workspace create|join <name>        Create or join a workspace
//	workspace leave [id]                Leave a workspace
//
// Configuration comes from the environment (see internal/config).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fruitsalade/fruitsalade/workspace/internal/archive"
	"github.com/fruitsalade/fruitsalade/workspace/internal/config"
	"github.com/fruitsalade/fruitsalade/workspace/internal/events"
	"github.com/fruitsalade/fruitsalade/workspace/internal/logging"
	"github.com/fruitsalade/fruitsalade/workspace/internal/metrics"
	"github.com/fruitsalade/fruitsalade/workspace/internal/session"
	"github.com/fruitsalade/fruitsalade/workspace/internal/storage/s3"
	"github.com/fruitsalade/fruitsalade/workspace/internal/workspace"
	"github.com/fruitsalade/fruitsalade/workspace/pkg/client"
	"github.com/fruitsalade/fruitsalade/workspace/pkg/models"
	"github.com/fruitsalade/fruitsalade/workspace/pkg/retry"
)

var (
	_ workspace.RemoteStore      = (*client.Client)(nil)
	_ workspace.ContextDirectory = (*client.Client)(nil)
	_ workspace.RemoteStore      = (*s3.Store)(nil)
	_ workspace.ContextDirectory = (*s3.Store)(nil)
	_ workspace.Session          = (*session.Session)(nil)
	_ workspace.Packer           = (*archive.Packer)(nil)
)

// app is the wiring shared by every sub-command.
type app struct {
	cfg        *config.Config
	ctrl       *workspace.Controller
	session    *session.Session
	state      *session.Store
	events     *events.Broadcaster
	follow     chan events.Event
	metricsSrv *http.Server

	contextFlag string
	viewFlag    string
}

func main() {
	a := &app{}
	root := a.rootCommand()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	cancel()
	a.close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "workspace",
		Short:         "Manage files in shared workspaces",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&a.contextFlag, "context", "c", "", "Workspace id (defaults to the last one used)")
	root.PersistentFlags().StringVar(&a.viewFlag, "view", string(models.ViewMine), "File view: mine or shared")

	root.AddCommand(
		a.contextsCommand(),
		a.useCommand(),
		a.lsCommand(),
		a.uploadCommand(),
		a.uploadFolderCommand(),
		a.renameCommand(),
		a.rmCommand(),
		a.getCommand(),
		a.shareCommand(),
		a.createCommand(),
		a.joinCommand(),
		a.leaveCommand(),
	)
	return root
}

// open loads configuration and builds the controller and its collaborators.
func (a *app) open(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg

	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	if cfg.MetricsAddr != "" {
		a.metricsSrv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	identity, err := a.identity(ctx)
	if err != nil {
		return err
	}

	a.state, err = session.Open(cfg.StateDBPath)
	if err != nil {
		logging.Warn("local state unavailable, last workspace will not be remembered",
			zap.String("path", cfg.StateDBPath), zap.Error(err))
		a.state = nil
	}
	a.session = session.New(identity, a.state)

	store, directory, err := a.backend(ctx, identity)
	if err != nil {
		return err
	}

	a.events = events.NewBroadcaster()
	a.follow = a.events.Subscribe()
	go logEvents(a.follow)
	a.ctrl, err = workspace.New(workspace.Deps{
		Store:     store,
		Directory: directory,
		Session:   a.session,
		Packer:    &archive.Packer{},
		Notifier:  a.events,
	})
	return err
}

// identity derives the principal from the configured token.
func (a *app) identity(ctx context.Context) (*session.Identity, error) {
	cfg := a.cfg
	if cfg.Token == "" {
		return &session.Identity{Principal: cfg.S3Principal}, nil
	}

	verifier, err := session.NewOIDCVerifier(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID)
	if err != nil {
		return nil, err
	}
	var id *session.Identity
	if verifier != nil {
		id, err = verifier.Verify(ctx, cfg.Token)
	} else {
		id, err = session.ParseToken(cfg.Token, time.Now())
	}
	if errors.Is(err, session.ErrExpired) {
		return nil, errors.New("token has expired; set a fresh WORKSPACE_TOKEN")
	}
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return id, nil
}

func (a *app) backend(ctx context.Context, identity *session.Identity) (workspace.RemoteStore, workspace.ContextDirectory, error) {
	cfg := a.cfg
	switch cfg.StoreBackend {
	case config.BackendS3:
		principal := identity.Principal
		if principal == "" {
			return nil, nil, errors.New("the s3 backend needs WORKSPACE_TOKEN or S3_PRINCIPAL")
		}
		store, err := s3.New(ctx, s3.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		}, principal)
		if err != nil {
			return nil, nil, err
		}
		logging.Info("using S3 backend", zap.String("bucket", cfg.S3Bucket), zap.String("principal", principal))
		return store, store, nil
	default:
		rc := retry.DefaultConfig()
		rc.MaxAttempts = cfg.ReadRetries + 1
		c := client.New(client.Config{
			BaseURL:     cfg.ServerURL,
			Timeout:     cfg.RequestTimeout,
			RetryConfig: rc,
			AuthToken:   cfg.Token,
		})
		logging.Debug("using HTTP backend", zap.String("server", cfg.ServerURL))
		return c, c, nil
	}
}

// activate resolves the workspace the command works on and loads its files.
func (a *app) activate(ctx context.Context) (*models.Context, error) {
	view := models.View(a.viewFlag)
	if err := a.ctrl.SetView(ctx, view); err != nil {
		return nil, err
	}

	var (
		active *models.Context
		err    error
	)
	if a.contextFlag != "" {
		active, err = a.ctrl.SelectContext(ctx, a.contextFlag)
	} else {
		active, err = a.ctrl.RefreshContexts(ctx, "")
	}
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, errors.New("you are not a member of any workspace; use create or join")
	}
	if err := a.session.Remember(ctx, active.ID); err != nil {
		logging.Warn("could not remember workspace", zap.String("context", active.ID), zap.Error(err))
	}
	return active, nil
}

// logEvents writes every controller notification to the debug log.
func logEvents(ch <-chan events.Event) {
	for ev := range ch {
		logging.Debug("workspace event",
			zap.String("type", ev.Type),
			zap.String("context", ev.ContextID),
			zap.String("operation", ev.Operation),
			zap.String("status", ev.Status),
			zap.Strings("targets", ev.Targets),
			zap.String("message", ev.Message),
		)
	}
}

func (a *app) close() {
	if a.follow != nil {
		a.events.Unsubscribe(a.follow)
	}
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.metricsSrv.Shutdown(ctx)
		cancel()
	}
	if a.state != nil {
		_ = a.state.Close()
	}
	_ = logging.Sync()
}
