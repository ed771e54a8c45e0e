package server

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livetemplate/labkit"
	"github.com/livetemplate/labkit/internal/playground"
	"github.com/livetemplate/labkit/internal/results"
	"github.com/livetemplate/labkit/internal/share"
)

// stubEngine is an always-ready playground engine whose instances keep
// their configuration in memory.
type stubEngine struct {
	ready  chan struct{}
	sharer *share.Sharer

	mu        sync.Mutex
	instances []*stubInstance
}

func newStubEngine(sharer *share.Sharer) *stubEngine {
	e := &stubEngine{ready: make(chan struct{}), sharer: sharer}
	close(e.ready)
	return e
}

func (e *stubEngine) Ready() <-chan struct{} { return e.ready }

func (e *stubEngine) Create(ctx context.Context, container string, cfg playground.Config) (playground.Instance, error) {
	inst := &stubInstance{cfg: cfg, sharer: e.sharer}
	e.mu.Lock()
	e.instances = append(e.instances, inst)
	e.mu.Unlock()
	return inst, nil
}

func (e *stubEngine) last() *stubInstance {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.instances) == 0 {
		return nil
	}
	return e.instances[len(e.instances)-1]
}

type stubInstance struct {
	sharer *share.Sharer

	mu     sync.Mutex
	cfg    playground.Config
	runs   int
	closed bool
}

func (i *stubInstance) Run(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.runs++
	return nil
}

func (i *stubInstance) GetCode(ctx context.Context) (playground.Code, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.cfg.Code(), nil
}

func (i *stubInstance) RunTests(ctx context.Context) ([]results.Outcome, error) {
	return []results.Outcome{
		{Status: results.StatusPass, Title: "has padding"},
		{Status: results.StatusFail, Title: "has a border", Errors: []string{"expected 1px, got 0px"}},
	}, nil
}

func (i *stubInstance) SetConfig(ctx context.Context, cfg playground.Config) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.cfg = i.cfg.Merge(cfg)
	return nil
}

func (i *stubInstance) ShareURL(ctx context.Context, short bool) (string, error) {
	if i.sharer == nil {
		return "", errors.New("sharing is not configured")
	}
	i.mu.Lock()
	cfg := i.cfg
	i.mu.Unlock()
	code := cfg.Code()
	return i.sharer.URL(ctx, share.Snapshot{Lab: cfg.Lab, HTML: code.Markup, CSS: code.Style, JS: code.Script}, short)
}

func (i *stubInstance) Watch(event string, fn func(playground.Event)) func() {
	return func() {}
}

func (i *stubInstance) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed = true
	return nil
}

// memStore is an in-memory share.Store.
type memStore struct {
	mu    sync.Mutex
	snaps map[string]share.Snapshot
}

func newMemStore() *memStore {
	return &memStore{snaps: make(map[string]share.Snapshot)}
}

func (m *memStore) Save(ctx context.Context, s share.Snapshot) (string, error) {
	id, err := share.NewID()
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[id] = s
	return id, nil
}

func (m *memStore) Get(ctx context.Context, id string) (share.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snaps[id]
	if !ok {
		return share.Snapshot{}, share.ErrNotFound
	}
	return s, nil
}

func (m *memStore) Close() error { return nil }

var boxLab = map[string]string{
	labkit.ResourceDescription: "# Box Model\n\nGive the box **padding**.",
	labkit.ResourceHTML:        `<div class="box">hi</div>`,
	labkit.ResourceCSS:         ".box { padding: 0; }",
	labkit.ResourceJS:          "console.log('box');",
	labkit.ResourceTests:       "test('has padding', () => {});",
}

// writeLab writes a lab bundle under root.
func writeLab(t *testing.T, root, name string, files map[string]string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	for file, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(content), 0644))
	}
}
