package telemetry_test

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/arkade-os/moneypot/internal/telemetry"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/noop"
)

type recordingLogger struct {
	otellog.Logger
	lock    sync.Mutex
	records []otellog.Record
}

func (l *recordingLogger) Emit(_ context.Context, record otellog.Record) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.records = append(l.records, record)
}

func TestLogHook(t *testing.T) {
	recorder := &recordingLogger{Logger: noop.NewLoggerProvider().Logger("test")}

	logger := log.New()
	logger.SetOutput(io.Discard)
	logger.AddHook(telemetry.NewLogHook(recorder))

	logger.WithField("pot_id", 7).WithError(fmt.Errorf("boom")).Warn("attempt failed")

	require.Len(t, recorder.records, 1)
	record := recorder.records[0]
	require.Equal(t, "attempt failed", record.Body().AsString())
	require.Equal(t, otellog.SeverityWarn, record.Severity())
	require.Equal(t, "warning", record.SeverityText())

	attrs := map[string]string{}
	record.WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value.AsString()
		return true
	})
	require.Equal(t, "7", attrs["pot_id"])
	require.Equal(t, "boom", attrs["error"])
}

func TestInitOtelSDKRequiresEndpoint(t *testing.T) {
	_, err := telemetry.InitOtelSDK(t.Context(), "", 0)
	require.Error(t, err)
}
