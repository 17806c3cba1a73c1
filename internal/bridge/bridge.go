package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vobby/vobby/internal/bridge/config"
	"github.com/vobby/vobby/internal/bridge/workspace"
	"github.com/vobby/vobby/internal/controlplane"
	"github.com/vobby/vobby/internal/coordinator"
	"github.com/vobby/vobby/internal/netbeans"
	"github.com/vobby/vobby/internal/remote"
	"github.com/vobby/vobby/internal/utils"
)

const shutdownTimeout = 10 * time.Second

// Bridge wires the editor adapter, the server adapter and the control plane
// around one coordinator.
type Bridge struct {
	config    *config.Config
	workspace *workspace.Workspace
	coord     *coordinator.Coordinator
	remote    *remote.Client
	local     *netbeans.Server
	cps       *controlplane.Server
}

// New builds every component from a validated config.
func New(cfg *config.Config) (*Bridge, error) {
	ws, err := workspace.New(cfg.RuntimeDir, cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	coord := coordinator.New(coordinator.Options{
		User:       cfg.User,
		AutoOpen:   cfg.AutoOpen,
		ExploreAll: cfg.ExploreAll,
	})

	rc, err := remote.NewClient(remote.Options{
		ServerURL: cfg.ServerURL,
		User:      cfg.User,
		Encodings: cfg.Encodings,
	}, coord)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote client: %w", err)
	}

	nb, err := netbeans.NewServer(netbeans.Options{
		Addr:     cfg.NetBeans.Addr,
		Password: cfg.NetBeans.Password,
		Root:     cfg.Root,
		Encoding: cfg.NetBeans.Encoding,
	}, coord)
	if err != nil {
		return nil, fmt.Errorf("failed to create netbeans server: %w", err)
	}

	coord.SetAdapters(nb, rc)

	cps, err := controlplane.New(&controlplane.Config{
		Addr:      cfg.ControlPlane.Addr,
		AuthToken: cfg.ControlPlane.Token,
		RateLimit: cfg.ControlPlane.RateLimit,
	}, coord)
	if err != nil {
		return nil, err
	}

	return &Bridge{
		config:    cfg,
		workspace: ws,
		coord:     coord,
		remote:    rc,
		local:     nb,
		cps:       cps,
	}, nil
}

// Start runs until ctx is cancelled or a component fails.
func (b *Bridge) Start(ctx context.Context) error {
	slog.Info("bridge start",
		"user", b.config.User,
		"server", b.config.ServerURL,
		"root", b.config.Root,
		"token", utils.MaskSecret(b.config.ControlPlane.Token),
	)

	if err := b.workspace.Setup(); err != nil {
		return fmt.Errorf("failed to setup workspace: %w", err)
	}
	defer func() {
		if err := b.workspace.Unlock(); err != nil {
			slog.Warn("workspace unlock", "error", err)
		}
	}()

	if err := b.local.Listen(); err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return b.coord.Run(egCtx)
	})

	eg.Go(func() error {
		if err := b.local.Run(egCtx); err != nil {
			return fmt.Errorf("netbeans: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		return b.remote.Run(egCtx)
	})

	eg.Go(func() error {
		if err := b.cps.Start(egCtx); err != nil {
			return fmt.Errorf("failed to start control plane: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("stopping bridge")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return b.Stop(shutdownCtx)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("bridge failure", "error", err)
		return err
	}

	slog.Info("bridge stopped")
	return nil
}

func (b *Bridge) Stop(ctx context.Context) error {
	b.remote.Close()
	if err := b.cps.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop control plane: %w", err)
	}
	return nil
}
