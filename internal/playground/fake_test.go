package playground

import (
	"context"
	"errors"
	"sync"

	"github.com/livetemplate/labkit/internal/results"
)

// fakeEngine is an in-memory Engine for bridge tests.
type fakeEngine struct {
	ready     chan struct{}
	createErr error

	mu        sync.Mutex
	instances []*fakeInstance
	// beforeCreate, when set, runs inside Create before the instance exists.
	beforeCreate func()
}

func newFakeEngine(ready bool) *fakeEngine {
	e := &fakeEngine{ready: make(chan struct{})}
	if ready {
		close(e.ready)
	}
	return e
}

func (e *fakeEngine) Ready() <-chan struct{} { return e.ready }

// brokenEngine never becomes ready; its startup has already failed.
type brokenEngine struct {
	*fakeEngine
	failed chan struct{}
	err    error
}

func newBrokenEngine(err error) *brokenEngine {
	e := &brokenEngine{fakeEngine: newFakeEngine(false), failed: make(chan struct{}), err: err}
	close(e.failed)
	return e
}

func (e *brokenEngine) Failed() <-chan struct{} { return e.failed }
func (e *brokenEngine) Err() error              { return e.err }

func (e *fakeEngine) Create(ctx context.Context, container string, cfg Config) (Instance, error) {
	if e.beforeCreate != nil {
		e.beforeCreate()
	}
	if e.createErr != nil {
		return nil, e.createErr
	}
	inst := &fakeInstance{container: container, cfg: cfg}
	e.mu.Lock()
	e.instances = append(e.instances, inst)
	e.mu.Unlock()
	return inst, nil
}

func (e *fakeEngine) last() *fakeInstance {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.instances) == 0 {
		return nil
	}
	return e.instances[len(e.instances)-1]
}

type fakeInstance struct {
	container string

	mu       sync.Mutex
	cfg      Config
	calls    []string
	outcomes []results.Outcome
	testsErr error
	shortErr error
	closed   bool
	// onRun, when set, runs inside Run.
	onRun func()
	subs  map[string][]func(Event)
}

func (f *fakeInstance) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeInstance) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeInstance) Run(ctx context.Context) error {
	f.record("run")
	if f.onRun != nil {
		f.onRun()
	}
	return nil
}

func (f *fakeInstance) GetCode(ctx context.Context) (Code, error) {
	f.record("getCode")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg.Code(), nil
}

func (f *fakeInstance) RunTests(ctx context.Context) ([]results.Outcome, error) {
	f.record("runTests")
	return f.outcomes, f.testsErr
}

func (f *fakeInstance) SetConfig(ctx context.Context, cfg Config) error {
	f.record("setConfig")
	f.mu.Lock()
	f.cfg = f.cfg.Merge(cfg)
	f.mu.Unlock()
	return nil
}

func (f *fakeInstance) ShareURL(ctx context.Context, short bool) (string, error) {
	if short {
		f.record("share:short")
		if f.shortErr != nil {
			return "", f.shortErr
		}
		return "https://labs.test/s/abc", nil
	}
	f.record("share:long")
	return "https://labs.test/?lab=" + f.cfg.Lab + "&code=xyz", nil
}

func (f *fakeInstance) Watch(event string, fn func(Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[string][]func(Event))
	}
	f.subs[event] = append(f.subs[event], fn)
	return func() {}
}

func (f *fakeInstance) emit(ev Event) {
	f.mu.Lock()
	fns := append([]func(Event)(nil), f.subs[ev.Type]...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (f *fakeInstance) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeInstance) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

var errFake = errors.New("fake failure")
