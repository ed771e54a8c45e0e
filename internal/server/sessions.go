package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/livetemplate/labkit/internal/metrics"
	"github.com/livetemplate/labkit/internal/session"
	"go.uber.org/zap"
)

// sessionStore holds live learner sessions and expires idle ones.
type sessionStore struct {
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
	onEvict func(id string)

	mu       sync.RWMutex
	sessions map[string]*session.Session

	stop    chan struct{}
	done    chan struct{}
	started bool
}

func newSessionStore(ttl time.Duration, m *metrics.Metrics, logger *zap.Logger) *sessionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &sessionStore{
		ttl:      ttl,
		metrics:  m,
		logger:   logger.Named("sessions"),
		sessions: make(map[string]*session.Session),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// newSessionID returns a random session id.
func newSessionID() string {
	return uuid.NewString()
}

// start runs the idle sweep until close.
func (s *sessionStore) start(interval time.Duration) {
	s.started = true
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep(time.Now())
			case <-s.stop:
				return
			}
		}
	}()
}

func (s *sessionStore) add(sess *session.Session) {
	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	n := len(s.sessions)
	s.mu.Unlock()

	s.metrics.SessionOpened()
	s.logger.Debug("session added", zap.String("session", sess.ID()), zap.Int("active", n))
}

func (s *sessionStore) get(id string) (*session.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// remove closes and drops a session.
func (s *sessionStore) remove(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return false
	}

	s.release(sess)
	return true
}

func (s *sessionStore) release(sess *session.Session) error {
	s.metrics.SessionClosed()
	if s.onEvict != nil {
		s.onEvict(sess.ID())
	}
	if err := sess.Close(); err != nil {
		s.logger.Warn("closing session", zap.String("session", sess.ID()), zap.Error(err))
		return err
	}
	return nil
}

// byLab returns sessions whose latest navigation targeted lab.
func (s *sessionStore) byLab(lab string) []*session.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*session.Session
	for _, sess := range s.sessions {
		if sess.LabName() == lab {
			out = append(out, sess)
		}
	}
	return out
}

func (s *sessionStore) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// sweep removes sessions idle for longer than the TTL.
func (s *sessionStore) sweep(now time.Time) int {
	s.mu.Lock()
	var expired []*session.Session
	for id, sess := range s.sessions {
		if now.Sub(sess.LastActive()) > s.ttl {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		s.release(sess)
	}
	if len(expired) > 0 {
		s.logger.Info("expired idle sessions", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// close stops the sweep and closes every session.
func (s *sessionStore) close() error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	if s.started {
		<-s.done
	}

	s.mu.Lock()
	all := s.sessions
	s.sessions = make(map[string]*session.Session)
	s.mu.Unlock()

	var result *multierror.Error
	for _, sess := range all {
		if err := s.release(sess); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
