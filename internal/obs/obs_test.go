package obs

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestPGXTracerSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	tracer := PGXTracer{Tracer: tp.Tracer("test")}

	ctx := tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{
		SQL:  "update vouchers\n   set used = used + 1 where code = $1",
		Args: []any{"SAVE10"},
	})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("UPDATE 1")})

	ctx = tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: errors.New("conn reset")})

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	require.Equal(t, "db UPDATE", spans[0].Name)
	require.Contains(t, spans[0].Attributes, attribute.String("db.statement", "update vouchers set used = used + 1 where code = $1"))
	require.Contains(t, spans[0].Attributes, attribute.Int64("db.rows_affected", 1))

	require.Equal(t, "db SELECT", spans[1].Name)
	require.Equal(t, codes.Error, spans[1].Status.Code)
}

func TestClipSQL(t *testing.T) {
	long := "SELECT " + strings.Repeat("x", 400)
	require.Len(t, clipSQL(long), maxStatementLen+3)
	require.Equal(t, "QUERY", sqlVerb("  "))
}

func TestParseBucketsCSV(t *testing.T) {
	require.Equal(t, []float64{5, 10, 50}, ParseBucketsCSV("50, 10,bad,-1,5,10"))
	require.Empty(t, ParseBucketsCSV(""))
}

func TestInitTracerExporters(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), TracingConfig{ServiceName: "toko-pricing", Exporter: "none"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, err = InitTracer(context.Background(), TracingConfig{Exporter: "zipkin"})
	require.ErrorContains(t, err, "unsupported tracing exporter")
}
