// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/featurebasedb/objectdb"
	"github.com/featurebasedb/objectdb/errors"
	"github.com/featurebasedb/objectdb/logger"
	"github.com/featurebasedb/objectdb/tracing"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the status, schema, dump and metrics endpoints.
type Handler struct {
	store  *objectdb.Store
	logger logger.Logger
	router http.Handler
}

// NewHandler returns a Handler for store.
func NewHandler(store *objectdb.Store, log logger.Logger) *Handler {
	h := &Handler{store: store, logger: log}
	h.router = newRouter(h)
	return h
}

func newRouter(h *Handler) http.Handler {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/status", h.handleGetStatus).Methods("GET").Name("GetStatus")
	router.HandleFunc("/schema", h.handleGetSchema).Methods("GET").Name("GetSchema")
	router.HandleFunc("/schema/{base}", h.handleGetBase).Methods("GET").Name("GetBase")
	router.HandleFunc("/dump", h.handleGetDump).Methods("GET").Name("GetDump")
	router.Use(tracing.Middleware, h.logRequests)
	return router
}

// ServeHTTP handles an HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t := time.Now()
		next.ServeHTTP(w, r)
		name := "unknown"
		if route := mux.CurrentRoute(r); route != nil && route.GetName() != "" {
			name = route.GetName()
		}
		h.logger.Debugf("%s %s (%s) took %s", r.Method, r.URL.Path, name, time.Since(t))
	})
}

// writeError maps a coded error onto an HTTP status.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.CodeOf(err) {
	case objectdb.ErrBadLogin:
		status = http.StatusUnauthorized
	case objectdb.ErrPermissionDenied:
		status = http.StatusForbidden
	case objectdb.ErrUnknownBase, objectdb.ErrNotFound:
		status = http.StatusNotFound
	case objectdb.ErrInterrupted, objectdb.ErrSchemaEdit:
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.logger.Errorf("request failed: %v", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(errors.MarshalJSON(err))
}

func (h *Handler) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Errorf("writing response: %v", err)
	}
}

func (h *Handler) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.store.Status())
}

func (h *Handler) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	bases := h.store.Bases()
	defs := make([]*objectdb.BaseDef, 0, len(bases))
	for _, b := range bases {
		defs = append(defs, b.Def())
	}
	h.writeJSON(w, defs)
}

func (h *Handler) handleGetBase(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["base"]
	b := h.store.BaseByName(name)
	if b == nil {
		h.writeError(w, errors.New(objectdb.ErrUnknownBase, "object base '"+name+"' does not exist"))
		return
	}
	h.writeJSON(w, b.Def())
}

// handleGetDump streams every object as JSON lines. The caller logs in with
// basic auth and must be supergash.
func (h *Handler) handleGetDump(w http.ResponseWriter, r *http.Request) {
	name, password, ok := r.BasicAuth()
	if !ok {
		w.Header().Set("WWW-Authenticate", `Basic realm="objectdb"`)
		h.writeError(w, errors.New(objectdb.ErrBadLogin, "credentials required"))
		return
	}
	sess, err := h.store.Login(r.Context(), name, password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer sess.Close()
	if !sess.IsSupergash() {
		h.writeError(w, errors.New(objectdb.ErrPermissionDenied, "only supergash may dump the store"))
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	if err := sess.Dump(r.Context(), w); err != nil {
		// Headers are gone; all we can do is log.
		h.logger.Errorf("dump for %s: %v", sess.Identity(), err)
	}
}
