// ABOUTME: Composes the store, auth services, and servers into one gateway
// ABOUTME: Manages listener setup, session cleanup, and graceful shutdown

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"

	"github.com/bakhmaro/gurulo-gateway/internal/audit"
	"github.com/bakhmaro/gurulo-gateway/internal/ceremony"
	"github.com/bakhmaro/gurulo-gateway/internal/config"
	"github.com/bakhmaro/gurulo-gateway/internal/device"
	"github.com/bakhmaro/gurulo-gateway/internal/guard"
	"github.com/bakhmaro/gurulo-gateway/internal/identity"
	"github.com/bakhmaro/gurulo-gateway/internal/ratelimit"
	"github.com/bakhmaro/gurulo-gateway/internal/store"
	"github.com/bakhmaro/gurulo-gateway/internal/token"
	"github.com/bakhmaro/gurulo-gateway/internal/webadmin"
)

// sessionCleanupInterval controls how often expired sessions are purged.
const sessionCleanupInterval = time.Hour

// Gateway wires the authentication services together and runs the HTTP
// and gRPC servers.
type Gateway struct {
	config     *config.Config
	logger     *slog.Logger
	store      *store.SQLiteStore
	resolver   *identity.Resolver
	recorder   *audit.Recorder
	tokens     *token.Service
	devices    *device.Registry
	ceremonies *ceremony.Orchestrator
	guard      *guard.Guard

	httpServer *http.Server
	grpcServer *grpc.Server
}

// New builds a gateway from configuration. The returned gateway owns the
// store and both servers; call Run to serve and Shutdown to release.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sqlStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	resolver := identity.NewResolver(identity.Config{
		Email:       cfg.SuperAdmin.Email,
		DisplayName: cfg.SuperAdmin.DisplayName,
		Aliases:     cfg.SuperAdmin.Aliases,
	})

	recorder := audit.NewRecorder("gurulo-gateway", storeAuditHook(sqlStore))

	tokens := token.NewService(token.Config{
		Secret:     []byte(cfg.Auth.JWTSecret),
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		AccessTTL:  cfg.Auth.AccessTTL,
		RefreshTTL: cfg.Auth.RefreshTTL,
	})

	registry := device.NewRegistry(sqlStore, cfg.Device.FingerprintSalt)

	ceremonyLimiter := ratelimit.New(cfg.RateLimit.Attempts, cfg.RateLimit.Window)
	orchestrator, err := ceremony.New(ceremony.Config{
		BaseURL:       cfg.Server.BaseURL,
		RPDisplayName: cfg.WebAuthn.RPDisplayName,
	}, sqlStore, sqlStore, registry, resolver, ceremonyLimiter, recorder)
	if err != nil {
		_ = sqlStore.Close()
		return nil, fmt.Errorf("creating ceremony orchestrator: %w", err)
	}

	g := guard.New("gurulo-gateway", recorder)

	gw := &Gateway{
		config:     cfg,
		logger:     logger.With("component", "gateway"),
		store:      sqlStore,
		resolver:   resolver,
		recorder:   recorder,
		tokens:     tokens,
		devices:    registry,
		ceremonies: orchestrator,
		guard:      g,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)

	passwordLimiter := ratelimit.New(cfg.RateLimit.Attempts, cfg.RateLimit.Window)
	handler := webadmin.New(sqlStore, orchestrator, registry, tokens, g, passwordLimiter)
	handler.RegisterRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	gw.grpcServer = newGRPCServer(g, tokens, sqlStore, logger)

	return gw, nil
}

// storeAuditHook persists audit events in the audit_log table. The
// recorder has already redacted the personal id.
func storeAuditHook(s *store.SQLiteStore) audit.Hook {
	return func(ctx context.Context, event audit.Event) error {
		roles, err := json.Marshal(event.Roles)
		if err != nil {
			return fmt.Errorf("encoding roles: %w", err)
		}
		riskFlags, err := json.Marshal(event.RiskFlags)
		if err != nil {
			return fmt.Errorf("encoding risk flags: %w", err)
		}
		return s.AppendAuditRecord(ctx, &store.AuditRecord{
			ID:            event.ID,
			Action:        event.Action,
			Allowed:       event.Allowed,
			Destructive:   event.Destructive,
			Reason:        event.Reason,
			Service:       event.Service,
			Route:         event.Route,
			Method:        event.Method,
			Confirmation:  event.ConfirmationProvided,
			CorrelationID: event.CorrelationID,
			PersonalID:    event.PersonalID,
			Roles:         string(roles),
			RiskFlags:     string(riskFlags),
			Timestamp:     event.Timestamp,
		})
	}
}

// setupListeners creates TCP listeners for gRPC and HTTP.
func (g *Gateway) setupListeners() (grpcLn, httpLn net.Listener, err error) {
	grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		_ = grpcLn.Close()
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	return grpcLn, httpLn, nil
}

// startServers starts both servers in goroutines, returning an error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	go func() {
		g.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
		if err := g.grpcServer.Serve(grpcLn); err != nil {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// sessionCleanupLoop purges expired sessions until the context is canceled.
func (g *Gateway) sessionCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(sessionCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.store.DeleteExpiredSessions(ctx); err != nil {
				g.logger.Error("failed to delete expired sessions", "error", err)
			}
		}
	}
}

// Run starts the servers and blocks until ctx is canceled or a server
// fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupListeners()
	if err != nil {
		return err
	}

	go g.sessionCleanupLoop(ctx)

	errCh := g.startServers(grpcListener, httpListener)

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown uses a fresh context since the run context is already
// canceled by the time shutdown starts.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops both servers and closes the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var errs []error

	if g.httpServer != nil {
		if err := g.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
		}
	}

	if g.grpcServer != nil {
		done := make(chan struct{})
		go func() {
			g.grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			g.grpcServer.Stop()
		}
	}

	if g.store != nil {
		if err := g.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing store: %w", err))
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}
	g.logger.Info("gateway stopped")
	return nil
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "degraded", "reason": "database unreachable"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}
