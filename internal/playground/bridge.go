package playground

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/livetemplate/labkit"
	"github.com/livetemplate/labkit/internal/results"
	"go.uber.org/zap"
)

// ErrInstanceReplaced is returned when an operation raced with
// re-initialization. The operation never touches the new instance.
var ErrInstanceReplaced = errors.New("playground: instance was replaced during the operation")

// Bridge is the single point of contact with the execution environment for
// one session. It holds at most one Instance.
type Bridge struct {
	engine       Engine
	readyTimeout time.Duration
	logger       *zap.Logger

	mu   sync.Mutex
	inst Instance
	gen  uint64
}

// NewBridge creates a bridge over engine. A zero readyTimeout uses
// DefaultReadyTimeout; a nil logger disables logging.
func NewBridge(engine Engine, readyTimeout time.Duration, logger *zap.Logger) *Bridge {
	if readyTimeout <= 0 {
		readyTimeout = DefaultReadyTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		engine:       engine,
		readyTimeout: readyTimeout,
		logger:       logger.Named("bridge"),
	}
}

// Initialize discards any existing instance and creates a new one bound to
// container, loaded with the lab's code and tests.
func (b *Bridge) Initialize(ctx context.Context, container string, lab labkit.Lab) error {
	b.discard()

	if err := WaitReady(ctx, b.engine, b.readyTimeout); err != nil {
		return err
	}

	inst, err := b.engine.Create(ctx, container, ConfigForLab(lab))
	if err != nil {
		var initErr *labkit.InitializationError
		if errors.As(err, &initErr) {
			return err
		}
		return &labkit.InitializationError{Reason: "creating playground", Err: err}
	}

	b.mu.Lock()
	old := b.inst
	b.inst = inst
	b.gen++
	b.mu.Unlock()

	// Another Initialize may have installed an instance while this one was
	// creating; the later install wins.
	if old != nil {
		b.closeInstance(old)
	}

	b.logger.Debug("playground initialized",
		zap.String("container", container),
		zap.String("lab", lab.Name))
	return nil
}

// Initialized reports whether an instance is live.
func (b *Bridge) Initialized() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inst != nil
}

func (b *Bridge) discard() {
	b.mu.Lock()
	old := b.inst
	b.inst = nil
	b.gen++
	b.mu.Unlock()

	if old != nil {
		b.closeInstance(old)
	}
}

func (b *Bridge) closeInstance(inst Instance) {
	if err := inst.Close(); err != nil {
		b.logger.Warn("closing playground instance", zap.Error(err))
	}
}

func (b *Bridge) current(op string) (Instance, uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inst == nil {
		return nil, 0, &labkit.NotInitializedError{Op: op}
	}
	return b.inst, b.gen, nil
}

// checkStale maps errors from an instance that has since been replaced.
func (b *Bridge) checkStale(gen uint64, err error) error {
	b.mu.Lock()
	stale := b.gen != gen
	b.mu.Unlock()

	if stale {
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInstanceReplaced, err)
		}
		return ErrInstanceReplaced
	}
	return err
}

// GetCode returns the current editor contents.
func (b *Bridge) GetCode(ctx context.Context) (Code, error) {
	inst, gen, err := b.current("getCode")
	if err != nil {
		return Code{}, err
	}
	code, err := inst.GetCode(ctx)
	if err = b.checkStale(gen, err); err != nil {
		return Code{}, err
	}
	return code, nil
}

// Run executes the current code.
func (b *Bridge) Run(ctx context.Context) error {
	inst, gen, err := b.current("run")
	if err != nil {
		return err
	}
	return b.checkStale(gen, inst.Run(ctx))
}

// RunTests runs the current code and then the lab's test script against
// it. Outcomes are returned in the order the runner reports them.
func (b *Bridge) RunTests(ctx context.Context) ([]results.Outcome, error) {
	inst, gen, err := b.current("runTests")
	if err != nil {
		return nil, err
	}

	if err := b.checkStale(gen, inst.Run(ctx)); err != nil {
		return nil, err
	}

	outcomes, err := inst.RunTests(ctx)
	if err = b.checkStale(gen, err); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// ResetCode restores the lab's starter markup, style and script on the live
// instance. The tests editor is left alone.
func (b *Bridge) ResetCode(ctx context.Context, lab labkit.Lab) error {
	inst, gen, err := b.current("resetCode")
	if err != nil {
		return err
	}
	return b.checkStale(gen, inst.SetConfig(ctx, StarterConfig(lab)))
}

// SetCode replaces the learner editors' content.
func (b *Bridge) SetCode(ctx context.Context, code Code) error {
	inst, gen, err := b.current("setCode")
	if err != nil {
		return err
	}
	return b.checkStale(gen, inst.SetConfig(ctx, CodeConfig(code)))
}

// ShareURL returns a link to the current code. When preferShort is set and
// the short link fails, it falls back once to a long link.
func (b *Bridge) ShareURL(ctx context.Context, preferShort bool) (string, error) {
	inst, gen, err := b.current("getShareUrl")
	if err != nil {
		return "", err
	}

	link, err := inst.ShareURL(ctx, preferShort)
	if err != nil && preferShort {
		if stale := b.checkStale(gen, nil); stale != nil {
			return "", stale
		}
		b.logger.Debug("short share link failed, falling back to long link", zap.Error(err))
		link, err = inst.ShareURL(ctx, false)
	}
	if err = b.checkStale(gen, err); err != nil {
		return "", err
	}
	return link, nil
}

// Watch subscribes to an event on the current instance. Subscriptions do
// not carry over to a re-initialized instance.
func (b *Bridge) Watch(event string, fn func(Event)) (func(), error) {
	inst, _, err := b.current("watch")
	if err != nil {
		return nil, err
	}
	return inst.Watch(event, fn), nil
}

// Close discards the current instance.
func (b *Bridge) Close() error {
	b.discard()
	return nil
}
