/*
Copyright 2017 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package health serves the /health and /metrics endpoints, grounded in the
// teacher's main.go serveMetrics function.
package health

import (
	"context"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Checker reports whether the process is healthy. cmd/sherpa-dns passes
// Controller.Healthy, which reflects only the outcome of the last controller
// tick; the Source's event subscription is not checked.
type Checker func() bool

// Server serves /health and /metrics over plain HTTP.
type Server struct {
	httpServer *http.Server
}

// New builds a Server listening on addr. ctx is used as the BaseContext for
// accepted connections, so request contexts are cancelled along with the
// root context; draining in-flight requests is done by Shutdown.
func New(ctx context.Context, addr string, healthy Checker) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		if !healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("unhealthy"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	return &Server{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: mux,
			BaseContext: func(net.Listener) context.Context {
				return ctx
			},
		},
	}
}

// ListenAndServe blocks until the server stops; it returns nil on a graceful
// Shutdown and any other error from http.Server.ListenAndServe otherwise.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server, waiting for in-flight requests to
// complete or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
