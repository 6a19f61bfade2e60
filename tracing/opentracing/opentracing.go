// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package opentracing plugs an OpenTracing tracer into the tracing facade
// used by the lock manager, sessions and the HTTP handler.
package opentracing

import (
	"context"
	"net/http"

	"github.com/featurebasedb/objectdb/logger"
	"github.com/featurebasedb/objectdb/tracing"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
)

const component = "objectdb"

var _ tracing.Tracer = (*Tracer)(nil)

// Tracer implements tracing.Tracer on an opentracing.Tracer.
type Tracer struct {
	tracer opentracing.Tracer
	logger logger.Logger
}

// NewTracer returns a new instance of Tracer.
func NewTracer(tracer opentracing.Tracer, logger logger.Logger) *Tracer {
	return &Tracer{tracer: tracer, logger: logger}
}

// Install makes tracer the global tracer. The returned function puts the
// previous one back.
func Install(tracer opentracing.Tracer, logger logger.Logger) (restore func()) {
	prev := tracing.GlobalTracer
	tracing.GlobalTracer = NewTracer(tracer, logger)
	return func() { tracing.GlobalTracer = prev }
}

// StartSpanFromContext starts a span, as a child of the span in ctx if there
// is one.
func (t *Tracer) StartSpanFromContext(ctx context.Context, operationName string) (tracing.Span, context.Context) {
	opts := []opentracing.StartSpanOption{opentracing.Tag{Key: string(ext.Component), Value: component}}
	if parent := opentracing.SpanFromContext(ctx); parent != nil {
		opts = append(opts, opentracing.ChildOf(parent.Context()))
	}
	span := t.tracer.StartSpan(operationName, opts...)
	return span, opentracing.ContextWithSpan(ctx, span)
}

// InjectHTTPHeaders copies the span in r's context into its headers.
func (t *Tracer) InjectHTTPHeaders(r *http.Request) {
	span := opentracing.SpanFromContext(r.Context())
	if span == nil {
		return
	}
	err := t.tracer.Inject(span.Context(), opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(r.Header))
	if err != nil {
		t.logger.Errorf("injecting span into %s %s: %v", r.Method, r.URL.Path, err)
	}
}

// ExtractHTTPHeaders starts a server span for r, continuing the caller's
// trace when the headers carry one.
func (t *Tracer) ExtractHTTPHeaders(r *http.Request) (tracing.Span, context.Context) {
	remote, err := t.tracer.Extract(opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(r.Header))
	if err != nil && err != opentracing.ErrSpanContextNotFound {
		t.logger.Debugf("ignoring malformed trace headers: %v", err)
	}

	span := t.tracer.StartSpan("HTTP "+r.Method+" "+r.URL.Path, ext.RPCServerOption(remote))
	ext.Component.Set(span, component)
	ext.HTTPMethod.Set(span, r.Method)
	ext.HTTPUrl.Set(span, r.URL.Path)
	return span, opentracing.ContextWithSpan(r.Context(), span)
}
