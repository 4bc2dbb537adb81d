package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/meetrelay/internal/config"
	"github.com/vovakirdan/meetrelay/internal/core"
	transporthttp "github.com/vovakirdan/meetrelay/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	relay           *core.Relay
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	relay := core.NewRelay(logger)

	server, err := transporthttp.NewServer(relay, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init http server: %w", err)
	}

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		relay:           relay,
		log:             logger,
	}, nil
}

// Relay returns the signaling relay served by the app.
func (a *App) Relay() *core.Relay { return a.relay }

// Run starts the HTTP server and blocks until context cancellation or fatal error.
// Open meeting sockets are tied to ctx and close when it is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.server.BaseContext = func(net.Listener) context.Context { return ctx }

	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	if a.server.BaseContext == nil {
		a.server.BaseContext = func(net.Listener) context.Context { return ctx }
	}

	serverErr := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", ln.Addr().String()).Msg("meeting relay listening")
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return err
		}

		stats := a.relay.Stats()
		a.log.Info().
			Int("rooms", stats.Rooms).
			Int("sessions", stats.Sessions).
			Int64("relayed", stats.Relayed).
			Msg("relay stopped")
		return <-serverErr
	}
}
