package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-scanner/nexus/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  config.LoggerConfig
		wantErr bool
	}{
		{
			name:    "valid json config",
			config:  config.LoggerConfig{Level: "debug", Format: "json"},
			wantErr: false,
		},
		{
			name:    "valid console config",
			config:  config.LoggerConfig{Level: "info", Format: "console"},
			wantErr: false,
		},
		{
			name:    "invalid level",
			config:  config.LoggerConfig{Level: "invalid", Format: "json"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, log)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, log)
			}
		})
	}
}

func TestLoggerMethods(t *testing.T) {
	log, err := New(config.LoggerConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)

	log.Info("test info message")
	log.Infow("test structured info", "key", "value", "number", 42)
	log.Debugw("test structured debug", "key", "value")
	log.Warnw("test structured warn", "key", "value")
}

func TestDerivedLoggers(t *testing.T) {
	log, err := New(config.LoggerConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)

	assert.NotNil(t, log.WithComponent("crawler"))
	assert.NotNil(t, log.WithScanID("scan-12345"))
	assert.NotNil(t, log.WithTarget("example.com"))
	assert.NotNil(t, log.WithFields("key", "value"))

	log.WithComponent("crawler").WithScanID("scan-12345").Info("chained fields")
}

func TestWithContext(t *testing.T) {
	log, err := New(config.LoggerConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)

	// No active span: the same logger comes back.
	assert.Same(t, log, log.WithContext(context.Background()))
}

func TestLogHelpers(t *testing.T) {
	log, err := New(config.LoggerConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	ctx := context.Background()

	log.LogDuration(ctx, "test.operation", time.Now().Add(-time.Millisecond))
	log.LogError(ctx, errors.New("boom"), "test.operation", "key", "value")
	log.LogError(ctx, nil, "test.operation")
	log.LogPanic(ctx, "recovered value", "test.operation")
}

func TestStartSpan(t *testing.T) {
	log, err := New(config.LoggerConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)

	ctx, span := log.StartSpan(context.Background(), "test.span")
	assert.NotNil(t, ctx)
	assert.NotNil(t, span)
	span.End()
}

func TestNop(t *testing.T) {
	log := Nop()
	log.Infow("discarded", "key", "value")
	assert.NoError(t, log.Sync())
}

func TestLoggerConcurrency(t *testing.T) {
	log, err := New(config.LoggerConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)

	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func(id int) {
			log.Infow("concurrent log", "goroutine", id)
			done <- true
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}
