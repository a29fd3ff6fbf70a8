// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package server exposes named queries over HTTP and a JSON-RPC 2.0
// WebSocket endpoint. Both are thin callers of the query pipeline.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"sqlgate/cli/internal/adapter"
	"sqlgate/cli/internal/logging"

	"github.com/gorilla/websocket"
	"github.com/pterm/pterm"
)

// Executor runs a named query.
type Executor interface {
	ExecuteNamedQuery(ctx context.Context, name string, params adapter.Params) ([]adapter.Row, error)
}

// Options configures a Server.
type Options struct {
	// APIPrefix is the path under which query names are routed, e.g. "/api".
	APIPrefix string
	// StaticDir, when set, is served at "/".
	StaticDir string
	// CORSOrigins lists allowed origins; "*" allows any.
	CORSOrigins []string
	// Auth, when non-nil, guards the API and WebSocket routes.
	Auth   *Authenticator
	Logger *pterm.Logger
}

// Server is the HTTP front end.
type Server struct {
	exec     Executor
	opts     Options
	logger   *pterm.Logger
	handler  http.Handler
	upgrader websocket.Upgrader

	closing   chan struct{}
	closeOnce sync.Once
	conns     sync.WaitGroup
}

// New builds the routes.
func New(exec Executor, opts Options) *Server {
	opts.APIPrefix = strings.TrimRight(opts.APIPrefix, "/")
	s := &Server{
		exec:    exec,
		opts:    opts,
		logger:  logging.OrDiscard(opts.Logger),
		closing: make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /ws", s.authenticate(http.HandlerFunc(s.handleWS), true))
	api := s.authenticate(http.HandlerFunc(s.handleQuery), false)
	mux.Handle("GET "+opts.APIPrefix+"/{name...}", api)
	mux.Handle("POST "+opts.APIPrefix+"/{name...}", api)
	if opts.StaticDir != "" && opts.APIPrefix != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(opts.StaticDir)))
	}

	s.handler = s.logRequests(s.cors(mux))
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Serve listens on addr until ctx is done, then shuts down gracefully and
// closes open WebSocket sessions.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.ServeListener(ctx, lis)
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("http server listening", s.logger.Args("addr", lis.Addr().String(), "api_prefix", s.opts.APIPrefix))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(lis) }()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	s.Close()
	err := srv.Shutdown(shutdownCtx)
	s.conns.Wait()
	s.logger.Info("http server stopped")
	return err
}

// Close signals open WebSocket sessions to end.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
}

func (s *Server) allowedOrigin(origin string) (string, bool) {
	for _, o := range s.opts.CORSOrigins {
		if o == "*" {
			return "*", true
		}
		if strings.EqualFold(o, origin) {
			return origin, true
		}
	}
	return "", false
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if allow, ok := s.allowedOrigin(origin); ok {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", allow)
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				if allow != "*" {
					h.Add("Vary", "Origin")
				}
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// checkOrigin accepts same-origin and configured cross-origin upgrades.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if _, ok := s.allowedOrigin(origin); ok {
		return true
	}
	return strings.EqualFold(strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://"), r.Host)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request", s.logger.Args(
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(start).Round(time.Microsecond).String(),
		))
	})
}
