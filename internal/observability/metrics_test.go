package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestInitMetrics_ServesPrometheusFormat(t *testing.T) {
	handler, shutdown, err := InitMetrics(context.Background(), "draftplane-test")
	if err != nil {
		t.Fatalf("InitMetrics failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = shutdown(ctx)
	}()

	instruments, err := NewInstruments(otel.Meter("draftplane-test"))
	if err != nil {
		t.Fatalf("NewInstruments failed: %v", err)
	}
	instruments.RecordCallback(context.Background(), OutcomeApplied)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "draftplane_callbacks") {
		t.Errorf("expected draftplane_callbacks in output, got:\n%s", body)
	}
	if !strings.Contains(body, `outcome="applied"`) {
		t.Errorf("expected outcome label in output, got:\n%s", body)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Errorf("expected go runtime collector in output")
	}
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect failed: %v", err)
	}
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumOf(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected int64 sum, got %T", data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestInstruments_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	instruments, err := NewInstruments(provider.Meter("draftplane-test"))
	if err != nil {
		t.Fatalf("NewInstruments failed: %v", err)
	}

	ctx := context.Background()
	instruments.RecordTransition(ctx, "CREATED", "UPLOADING")
	instruments.RecordTransition(ctx, "UPLOADING", "UPLOADED")
	instruments.RecordCallback(ctx, OutcomeReplayed)
	instruments.RecordDispatch(ctx, "run", OutcomeFailed)

	got := collect(t, reader)
	if n := sumOf(t, got["draftplane.job.transitions"]); n != 2 {
		t.Errorf("expected 2 transitions, got %d", n)
	}
	if n := sumOf(t, got["draftplane.callbacks"]); n != 1 {
		t.Errorf("expected 1 callback, got %d", n)
	}
	if n := sumOf(t, got["draftplane.dispatches"]); n != 1 {
		t.Errorf("expected 1 dispatch, got %d", n)
	}
}

func TestInstruments_NilIsNoop(t *testing.T) {
	var instruments *Instruments
	instruments.RecordTransition(context.Background(), "CREATED", "UPLOADING")
	instruments.RecordCallback(context.Background(), OutcomeApplied)
	instruments.RecordDispatch(context.Background(), "retry", OutcomeApplied)
}

func TestRegisterActiveJobsGauge(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	err := RegisterActiveJobsGauge(provider.Meter("draftplane-test"), func(context.Context) (int64, error) {
		return 7, nil
	})
	if err != nil {
		t.Fatalf("RegisterActiveJobsGauge failed: %v", err)
	}

	gauge, ok := collect(t, reader)["draftplane.jobs.active"].(metricdata.Gauge[int64])
	if !ok || len(gauge.DataPoints) != 1 || gauge.DataPoints[0].Value != 7 {
		t.Errorf("expected gauge value 7, got %+v", gauge)
	}
}

func TestRegisterActiveJobsGauge_CountError(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	err := RegisterActiveJobsGauge(provider.Meter("draftplane-test"), func(context.Context) (int64, error) {
		return 0, errors.New("store unavailable")
	})
	if err != nil {
		t.Fatalf("RegisterActiveJobsGauge failed: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err == nil {
		t.Error("expected collect to surface the callback error")
	}
}
