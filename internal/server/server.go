package server

import (
	"context"
	"net/http"
	"time"

	"github.com/hnrobert/securedash/internal/config"
	"github.com/hnrobert/securedash/internal/credstore"
)

type Server struct {
	h    http.Handler
	http *http.Server
}

// New checks that the credential store loads before anything is served; a
// missing or malformed store is returned as credstore.ErrConfigNotFound or
// credstore.ErrConfigParse.
func New(cfg config.Config, store *credstore.Store) (*Server, error) {
	if _, err := store.Load(); err != nil {
		return nil, err
	}
	app, err := newApp(cfg, store)
	if err != nil {
		return nil, err
	}
	h := app.routes()
	hs := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &Server{h: h, http: hs}, nil
}

func (s *Server) Handler() http.Handler {
	return s.h
}

// ListenAndServe returns http.ErrServerClosed once Shutdown has been
// called, including when Shutdown ran first.
func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
