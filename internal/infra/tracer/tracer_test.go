package tracer

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"discord-rpc/internal/infra/config"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer shutdown(context.Background())

	if _, ok := otel.GetTracerProvider().(noop.TracerProvider); !ok {
		t.Errorf("expected noop provider, got %T", otel.GetTracerProvider())
	}
}

func TestSetupEmptyExporterIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: true}, nil)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer shutdown(context.Background())

	if _, ok := otel.GetTracerProvider().(noop.TracerProvider); !ok {
		t.Errorf("expected noop provider for empty exporter, got %T", otel.GetTracerProvider())
	}
}

func TestSetupStdoutWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "stdout"}, &buf)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	_, span := StartSpan(context.Background(), SpanRequest, StringAttr("cmd", "SET_ACTIVITY"))
	End(span, nil)
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if !strings.Contains(buf.String(), SpanRequest) {
		t.Errorf("span not exported: %s", buf.String())
	}
	otel.SetTracerProvider(noop.NewTracerProvider())
}

func TestSetupUnsupportedExporter(t *testing.T) {
	_, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "zipkin"}, nil)
	if err == nil {
		t.Error("expected error for unsupported exporter")
	}
}

func TestEndRecordsStatus(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	defer otel.SetTracerProvider(noop.NewTracerProvider())

	_, ok := StartSpan(context.Background(), SpanConnect)
	End(ok, nil)
	_, failed := StartSpan(context.Background(), SpanOAuthRefresh, IntAttr("attempt", 1))
	End(failed, errors.New("invalid_grant"))

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Ok {
		t.Errorf("span 0 status = %v", spans[0].Status())
	}
	if spans[1].Status().Code != codes.Error || spans[1].Status().Description != "invalid_grant" {
		t.Errorf("span 1 status = %v", spans[1].Status())
	}
	if len(spans[1].Events()) == 0 {
		t.Error("error event not recorded")
	}
}
