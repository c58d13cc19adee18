// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package gateway serves chain data from a Session over HTTP/JSON
package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/blinklabs-io/nodeclient/ledger"
	"github.com/blinklabs-io/nodeclient/protocol/blockfetch"
	"github.com/blinklabs-io/nodeclient/protocol/common"
	"github.com/blinklabs-io/nodeclient/protocol/localstatequery"
)

const (
	DefaultListenAddress  = ":8080"
	DefaultRequestTimeout = 30 * time.Second

	shutdownTimeout = 5 * time.Second
)

// Backend is the chain access behind the gateway. *nodeclient.Session implements it
type Backend interface {
	GetTip(ctx context.Context) (common.Tip, error)
	FetchBlock(ctx context.Context, point common.Point) (blockfetch.Block, error)
	Acquire(ctx context.Context, point *common.Point) error
	Release() error
	CurrentEra(ctx context.Context) (uint, error)
	GetUtxoByAddress(
		ctx context.Context,
		addrs []ledger.Address,
	) (*localstatequery.UtxoResult, error)
}

// SubmitFunc relays signed transactions and returns the IDs the peer acknowledged
type SubmitFunc func(ctx context.Context, entries []ledger.MempoolEntry) ([]ledger.TxId, error)

// Config is used to configure a Server
type Config struct {
	ListenAddress string
	Backend       Backend
	// Transaction relay for POST /tx. The endpoint is disabled when nil
	Submit SubmitFunc
	// Source for /metrics. The endpoint is disabled when nil
	Gatherer       prometheus.Gatherer
	Logger         *zap.Logger
	RequestTimeout time.Duration
}

// Server is the HTTP gateway
type Server struct {
	config Config
	router *mux.Router
	// Acquire, query and release must not interleave between requests
	queryMutex sync.Mutex
}

// New returns a new Server
func New(cfg Config) (*Server, error) {
	if cfg.Backend == nil {
		return nil, errors.New("a backend must be provided")
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &Server{
		config: cfg,
		router: mux.NewRouter(),
	}
	s.registerRoutes()
	return s, nil
}

// Handler returns the HTTP handler for the gateway
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.Use(s.logRequests)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/tip", s.handleTip).Methods(http.MethodGet)
	s.router.HandleFunc(
		"/blocks/{slot:[0-9]+}/{hash:[0-9a-fA-F]{64}}",
		s.handleBlock,
	).Methods(http.MethodGet)
	s.router.HandleFunc("/era", s.handleEra).Methods(http.MethodGet)
	s.router.HandleFunc(
		"/addresses/{address}/utxos",
		s.handleUtxos,
	).Methods(http.MethodGet)
	if s.config.Submit != nil {
		s.router.HandleFunc("/tx", s.handleSubmitTx).Methods(http.MethodPost)
	}
	if s.config.Gatherer != nil {
		s.router.Handle(
			"/metrics",
			promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}),
		).Methods(http.MethodGet)
	}
}

// ListenAndServe serves requests until the context is done
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve serves requests on the listener until the context is done
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	s.config.Logger.Info(
		"gateway listening",
		zap.String("address", listener.Addr().String()),
	)
	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(listener)
	}()
	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errChan; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.config.Logger.Debug(
			"request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
