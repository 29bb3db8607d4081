// MIT License
//
// Copyright (c) 2024 petra.io
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package api exposes the admin surface of the cache as a host-mountable
// http.Handler. The core library opens no sockets; a host embeds this
// handler wherever it serves HTTP, or the petra daemon listens with it.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/petraio/petra/pkg/config"
	"github.com/petraio/petra/pkg/petra"
	"github.com/petraio/petra/pkg/utils/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service is the cache surface the API administrates.
type Service interface {
	// Purge removes the cached entry for url.
	Purge(ctx context.Context, url string)

	// Stats reports the on-disk cache tree.
	Stats() petra.Stats

	// Recent returns the recorded recent operations.
	Recent() []petra.Operation

	// Sweep runs one stale sweep, returning the number of files removed.
	Sweep() int
}

// API is the root API structure.
type API struct {
	config config.API
	router *mux.Router
	filter *IPFilter

	service Service
}

// New creates a new API around the given cache service.
func New(cfg config.API, svc Service) (*API, error) {
	filter, err := NewIPFilter(cfg.ACL)
	if err != nil {
		return nil, err
	}

	api := &API{
		config:  cfg,
		router:  mux.NewRouter(),
		filter:  filter,
		service: svc,
	}
	api.createRoutes()

	if cfg.Debug {
		DebugHandler{}.Append(api.router)
	}

	return api, nil
}

// ServeHTTP serves the API requests.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// RegisterRoute registers a new handler at the given path.
func (a *API) RegisterRoute(method string, path string, handler http.HandlerFunc) {
	a.router.HandleFunc(path, handler).Methods(method)
}

func (a *API) createRoutes() {
	prefix := a.config.GetPrefix()

	a.RegisterRoute(http.MethodGet, prefix+"/version", a.filter.Wrap(version.Handler))
	a.RegisterRoute(http.MethodGet, prefix+"/cache/stats", a.filter.Wrap(a.statsHandler))
	a.RegisterRoute(http.MethodGet, prefix+"/cache/recent", a.filter.Wrap(a.recentHandler))
	a.RegisterRoute(http.MethodDelete, prefix+"/cache/purge", a.filter.Wrap(a.purgeHandler))
	a.RegisterRoute(http.MethodPost, prefix+"/cache/sweep", a.filter.Wrap(a.sweepHandler))

	a.router.Path("/metrics").Handler(promhttp.Handler())
}

// statsHandler renders the cache tree stats in JSON format.
func (a *API) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.service.Stats())
}

// recentHandler renders the recent operations in JSON format.
func (a *API) recentHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.service.Recent())
}

// purgeHandler removes the cache entry for the URL given in the 'url'
// query parameter.
func (a *API) purgeHandler(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)
		return
	}
	a.service.Purge(r.Context(), url)
	w.WriteHeader(http.StatusOK)
}

// sweepHandler runs one stale sweep immediately.
func (a *API) sweepHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]int{"removed": a.service.Sweep()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
