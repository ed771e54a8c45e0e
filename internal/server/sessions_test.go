package server

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livetemplate/labkit/internal/fetch"
	"github.com/livetemplate/labkit/internal/metrics"
	"github.com/livetemplate/labkit/internal/playground"
	"github.com/livetemplate/labkit/internal/session"
)

func newStoreSession(t *testing.T, id, lab string) *session.Session {
	t.Helper()
	labsDir := t.TempDir()
	writeLab(t, labsDir, "box-model", boxLab)

	sess := session.New(session.Options{
		ID:         id,
		Loader:     fetch.New(fetch.NewDirBackend(labsDir), nil),
		Playground: playground.NewBridge(newStubEngine(nil), 0, nil),
	})
	if lab != "" {
		require.NoError(t, sess.Navigate(context.Background(), url.Values{"lab": {lab}}))
	}
	return sess
}

func TestSessionStoreAddGetRemove(t *testing.T) {
	m := metrics.New()
	store := newSessionStore(time.Hour, m, nil)

	var evicted []string
	store.onEvict = func(id string) { evicted = append(evicted, id) }

	sess := newStoreSession(t, "one", "box-model")
	store.add(sess)

	got, ok := store.get("one")
	require.True(t, ok)
	assert.Same(t, sess, got)
	assert.Equal(t, 1, store.len())

	assert.True(t, store.remove("one"))
	assert.False(t, store.remove("one"))
	assert.Equal(t, []string{"one"}, evicted)
	assert.Equal(t, session.StateUninitialized, sess.State(), "removed sessions are closed")
	_, ok = store.get("one")
	assert.False(t, ok)
}

func TestSessionStoreByLab(t *testing.T) {
	store := newSessionStore(time.Hour, nil, nil)
	store.add(newStoreSession(t, "a", "box-model"))
	store.add(newStoreSession(t, "b", ""))

	got := store.byLab("box-model")
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID())
	assert.Empty(t, store.byLab("other"))
}

func TestSessionStoreSweep(t *testing.T) {
	store := newSessionStore(time.Minute, nil, nil)
	store.add(newStoreSession(t, "idle", ""))

	assert.Equal(t, 0, store.sweep(time.Now()))
	assert.Equal(t, 1, store.sweep(time.Now().Add(2*time.Minute)))
	assert.Equal(t, 0, store.len())
}

func TestSessionStoreClose(t *testing.T) {
	store := newSessionStore(time.Hour, nil, nil)
	store.start(10 * time.Millisecond)

	var mu sync.Mutex
	evicted := 0
	store.onEvict = func(string) {
		mu.Lock()
		evicted++
		mu.Unlock()
	}
	store.add(newStoreSession(t, "a", "box-model"))
	store.add(newStoreSession(t, "b", "box-model"))

	require.NoError(t, store.close())
	assert.Equal(t, 0, store.len())
	assert.Equal(t, 2, evicted)

	// A second close is harmless.
	require.NoError(t, store.close())
}

func TestNewSessionIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := newSessionID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}
