// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package opentracing_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/featurebasedb/objectdb/logger"
	"github.com/featurebasedb/objectdb/tracing"
	fbopentracing "github.com/featurebasedb/objectdb/tracing/opentracing"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracer_ChildSpans(t *testing.T) {
	mock := mocktracer.New()
	tr := fbopentracing.NewTracer(mock, logger.NopLogger)

	parent, ctx := tr.StartSpanFromContext(context.Background(), "Commit")
	child, _ := tr.StartSpanFromContext(ctx, "LockManager.Establish")
	child.Finish()
	parent.Finish()

	spans := mock.FinishedSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "LockManager.Establish", spans[0].OperationName)
	assert.Equal(t, spans[1].SpanContext.SpanID, spans[0].ParentID)
}

func TestMiddleware(t *testing.T) {
	mock := mocktracer.New()
	restore := fbopentracing.Install(mock, logger.NopLogger)
	defer restore()

	h := tracing.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		span, _ := tracing.StartSpanFromContext(r.Context(), "Session.Dump")
		span.Finish()
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	spans := mock.FinishedSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "Session.Dump", spans[0].OperationName)
	server := spans[1]
	assert.Equal(t, "HTTP GET /status", server.OperationName)
	assert.Equal(t, server.SpanContext.SpanID, spans[0].ParentID)
	assert.Equal(t, "GET", server.Tag("http.method"))
	assert.Equal(t, "/status", server.Tag("http.url"))
	assert.Equal(t, "objectdb", server.Tag("component"))
}

func TestTracer_Propagation(t *testing.T) {
	mock := mocktracer.New()
	tr := fbopentracing.NewTracer(mock, logger.NopLogger)

	// Client side: the span in the request context goes out in headers.
	parent, ctx := tr.StartSpanFromContext(context.Background(), "DumpCommand.Run")
	req := httptest.NewRequest("GET", "/dump", nil).WithContext(ctx)
	tr.InjectHTTPHeaders(req)
	parent.Finish()

	// Server side: the request span joins the same trace.
	span, _ := tr.ExtractHTTPHeaders(req)
	span.Finish()

	spans := mock.FinishedSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, spans[0].SpanContext.TraceID, spans[1].SpanContext.TraceID)
	assert.Equal(t, spans[0].SpanContext.SpanID, spans[1].ParentID)

	// No span, no headers.
	bare := httptest.NewRequest("GET", "/dump", nil)
	tr.InjectHTTPHeaders(bare)
	assert.Empty(t, bare.Header)
}

func TestInstall(t *testing.T) {
	prev := tracing.GlobalTracer
	restore := fbopentracing.Install(mocktracer.New(), logger.NopLogger)
	assert.NotSame(t, prev, tracing.GlobalTracer)
	restore()
	assert.Equal(t, prev, tracing.GlobalTracer)
}
