package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"boards-wiql/internal/config"
)

const (
	Realm           = "boards"
	shutdownTimeout = 10 * time.Second
)

// NewRouter mounts the API. Basic auth guards /v1 when credentials are set;
// /healthz stays open.
func NewRouter(h *Handlers, auth config.Auth, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if h.Log == nil {
		h.Log = log
	}
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(accessLog(log))
	r.Use(recoverer(log))

	r.Get("/healthz", h.Health)
	r.Route("/v1", func(r chi.Router) {
		if auth.Username != "" || auth.Password != "" {
			r.Use(middleware.BasicAuth(Realm, map[string]string{auth.Username: auth.Password}))
		}
		r.Post("/wiql", h.Query)
		r.Post("/workitems", h.CreateWorkItem)
	})
	return r
}

func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Serve accepts on ln until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, srv *http.Server, ln net.Listener, log *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	log.Info("listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
