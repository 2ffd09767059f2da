package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"portfolioproxy/internal/config"
	"portfolioproxy/internal/dropbox"
	"portfolioproxy/internal/gallery"
	"portfolioproxy/internal/handlers"
	"portfolioproxy/internal/limiter"
	"portfolioproxy/internal/logging"
	"portfolioproxy/internal/metrics"
	"portfolioproxy/internal/scheduler"
	"portfolioproxy/internal/storage"
	"portfolioproxy/internal/thumbs"
)

const prewarmJob = "prewarm"

type Server struct {
	config       *config.Config
	store        *storage.ThumbStore
	runner       *scheduler.Runner
	portfolio    *gallery.Portfolio
	thumbs       *thumbs.Proxy
	httpServer   *http.Server
	apiHandler   *handlers.APIHandler
	thumbHandler *handlers.ThumbHandler
}

// New wires the Dropbox client, caches and handlers. tokens may be nil, in
// which case a refreshing token source is built from the configured credentials.
func New(cfg *config.Config, tokens oauth2.TokenSource) (*Server, error) {
	store, err := storage.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create thumbnail store: %w", err)
	}

	runner := scheduler.New(context.Background())
	if tokens == nil {
		tokens = dropbox.NewTokenSource(runner.Context(), cfg.ClientID, cfg.ClientSecret, cfg.RefreshToken, cfg.TokenURL)
	}
	client := dropbox.New(dropbox.Config{
		APIURL:     cfg.APIURL,
		ContentURL: cfg.ContentURL,
		Timeout:    cfg.RemoteTimeout,
	}, tokens)

	rpc := limiter.New("rpc", cfg.RPCConcurrency)
	content := limiter.New("content", cfg.ContentConcurrency)

	portfolio := gallery.New(client, rpc, content, runner, gallery.Options{
		RootFolder: cfg.RootFolder,
		APIPrefix:  cfg.APIPrefix,
	})

	var transcoder thumbs.Transcoder
	if cfg.Transcode {
		transcoder = thumbs.NewImageTranscoder()
	}
	proxy := thumbs.NewProxy(client, content, store, transcoder)

	mux := http.NewServeMux()
	server := &Server{
		config:       cfg,
		store:        store,
		runner:       runner,
		portfolio:    portfolio,
		thumbs:       proxy,
		apiHandler:   handlers.NewAPIHandler(portfolio),
		thumbHandler: handlers.NewThumbHandler(proxy),
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}

	server.setupRoutes(mux)
	server.httpServer.Handler = logging.Middleware(metrics.Middleware(server.corsMiddleware(mux)))

	return server, nil
}

func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	s.apiHandler.Register(mux, s.config.APIPrefix)
	s.thumbHandler.Register(mux, s.config.APIPrefix)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"healthy"}`)
}

// corsMiddleware allows the configured origin to call the API from a browser
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := s.config.CORSOrigin
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		header := w.Header()
		header.Set("Access-Control-Allow-Origin", origin)
		if origin != "*" {
			header.Add("Vary", "Origin")
		}
		header.Set("Access-Control-Expose-Headers", "ETag, X-Card-Cache, X-Request-ID")

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			header.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
			header.Set("Access-Control-Allow-Headers", "Content-Type, If-None-Match")
			header.Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// schedulePrewarm renders the home-page thumbnails shortly after start and then periodically
func (s *Server) schedulePrewarm() {
	s.runner.Every(prewarmJob, s.config.PrewarmDelay, s.config.PrewarmInterval, func(ctx context.Context) {
		if err := s.portfolio.Prewarm(ctx, s.thumbs, s.config.PrewarmTop); err != nil {
			logging.Warn("Prewarm failed", zap.Error(err))
		}
	})
}

func (s *Server) Start() error {
	logging.Info("Starting portfolio proxy",
		zap.Int("port", s.config.Port),
		zap.String("root_folder", s.config.RootFolder),
		zap.String("api_prefix", s.config.APIPrefix),
		zap.Bool("transcode", s.config.Transcode),
		zap.Int("rpc_concurrency", s.config.RPCConcurrency),
		zap.Int("content_concurrency", s.config.ContentConcurrency),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.schedulePrewarm()
	logging.Info("Server started", zap.String("addr", s.httpServer.Addr))

	return s.waitForShutdown(errCh)
}

// waitForShutdown waits for shutdown signals and gracefully shuts down the server
func (s *Server) waitForShutdown(errCh <-chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		s.close()
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		logging.Info("Shutting down server", zap.String("signal", sig.String()))
	}

	if err := s.Stop(); err != nil {
		logging.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	logging.Info("Server shutdown complete")
	return nil
}

// Stop drains in-flight requests, cancels background jobs and releases the caches
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	if cerr := s.close(); err == nil {
		err = cerr
	}
	return err
}

func (s *Server) close() error {
	s.runner.Stop()
	s.portfolio.Close()
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("failed to close thumbnail store: %w", err)
	}
	return nil
}
