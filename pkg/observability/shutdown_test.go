package observability

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShutdownManager_RunsFuncs(t *testing.T) {
	sm := NewShutdownManager(NewLogger("error", "text", &bytes.Buffer{}), nil, time.Second)

	var calls atomic.Int32
	sm.RegisterShutdownFunc(func(context.Context) error { calls.Add(1); return nil })
	sm.RegisterShutdownFunc(func(context.Context) error { calls.Add(1); return nil })

	assert.NoError(t, sm.Shutdown())
	assert.Equal(t, int32(2), calls.Load())
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(NewLogger("error", "text", &bytes.Buffer{}), nil, time.Second)
	sm.RegisterShutdownFunc(func(context.Context) error { return errors.New("close failed") })

	err := sm.Shutdown()
	assert.ErrorContains(t, err, "close failed")
}

func TestShutdownManager_Timeout(t *testing.T) {
	sm := NewShutdownManager(NewLogger("error", "text", &bytes.Buffer{}), nil, 20*time.Millisecond)
	release := make(chan struct{})
	defer close(release)
	sm.RegisterShutdownFunc(func(context.Context) error { <-release; return nil })

	assert.ErrorContains(t, sm.Shutdown(), "timeout")
}

func TestShutdownManager_WaitForContext(t *testing.T) {
	sm := NewShutdownManager(nil, nil, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, sm.WaitForShutdown(ctx))
}
