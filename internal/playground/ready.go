package playground

import (
	"context"
	"fmt"
	"time"

	"github.com/livetemplate/labkit"
)

// DefaultReadyTimeout bounds how long initialization waits for the engine.
const DefaultReadyTimeout = 10 * time.Second

// WaitReady blocks until engine is ready, the timeout elapses, or ctx is
// done. An engine that implements StartFailer fails the wait as soon as its
// startup fails. Every failure is a *labkit.InitializationError.
func WaitReady(ctx context.Context, engine Engine, timeout time.Duration) error {
	if engine == nil {
		return &labkit.InitializationError{Reason: "no execution environment configured"}
	}

	ready := engine.Ready()
	select {
	case <-ready:
		return nil
	default:
	}

	var failed <-chan struct{}
	var failer StartFailer
	if f, ok := engine.(StartFailer); ok {
		failer = f
		failed = f.Failed()
	}

	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ready:
		return nil
	case <-failed:
		return &labkit.InitializationError{Reason: "execution environment failed to start", Err: failer.Err()}
	case <-timer.C:
		return &labkit.InitializationError{
			Reason: fmt.Sprintf("execution environment did not become ready within %s", timeout),
		}
	case <-ctx.Done():
		return &labkit.InitializationError{Reason: "waiting for execution environment", Err: ctx.Err()}
	}
}
