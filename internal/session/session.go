// Package session sequences a learner's lab session: it resolves the lab
// from the navigation, loads it, initializes the playground and runs the
// learner's actions against it.
//
// A Session is safe for concurrent use. Navigations are serialized and
// numbered; a load that finishes after a newer navigation started is
// discarded. Each action disables its own control for its duration, so a
// second invocation of the same action fails fast.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/livetemplate/labkit"
	"github.com/livetemplate/labkit/internal/metrics"
	"github.com/livetemplate/labkit/internal/playground"
	"github.com/livetemplate/labkit/internal/results"
	"github.com/livetemplate/labkit/internal/share"
	"github.com/livetemplate/labkit/internal/validate"
	"go.uber.org/zap"
)

// State is the session's top-level state.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady // lab loaded, playground not yet up
	StateInteractive
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateInteractive:
		return "interactive"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Controls name the learner's actions.
const (
	ControlRunTests = "run-tests"
	ControlValidate = "validate"
	ControlShare    = "share"
	ControlReset    = "reset"
)

var allControls = []string{ControlRunTests, ControlValidate, ControlShare, ControlReset}

// Query parameters read by Navigate.
const (
	ParamLab   = "lab"
	ParamShare = "share"
	ParamCode  = "code"
)

// Container is the default playground container name.
const Container = "playground"

// LabLoader loads a lab by name.
type LabLoader interface {
	LoadLab(ctx context.Context, name string) (labkit.Lab, error)
}

// Playground is the session's view of the playground bridge.
type Playground interface {
	Initialize(ctx context.Context, container string, lab labkit.Lab) error
	GetCode(ctx context.Context) (playground.Code, error)
	SetCode(ctx context.Context, code playground.Code) error
	RunTests(ctx context.Context) ([]results.Outcome, error)
	ResetCode(ctx context.Context, lab labkit.Lab) error
	ShareURL(ctx context.Context, preferShort bool) (string, error)
	Close() error
}

// Validator validates learner code.
type Validator interface {
	Validate(ctx context.Context, code validate.Code) validate.Report
}

// SnapshotResolver resolves short share ids.
type SnapshotResolver interface {
	Resolve(ctx context.Context, id string) (share.Snapshot, error)
}

// Options configures a Session. Loader and Playground are required.
type Options struct {
	ID         string
	Container  string // default: Container
	Loader     LabLoader
	Playground Playground
	Validator  Validator        // nil disables validation
	Snapshots  SnapshotResolver // nil disables short share restore
	Notifier   Notifier
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
	LongLinks  bool // share long links instead of short ones
}

// Session is one learner's lab session.
type Session struct {
	id         string
	container  string
	loader     LabLoader
	pg         Playground
	validator  Validator
	snapshots  SnapshotResolver
	notifier   Notifier
	metrics    *metrics.Metrics
	logger     *zap.Logger
	shortLinks bool

	gen    atomic.Uint64
	loadMu sync.Mutex

	mu         sync.Mutex
	state      State
	labName    string
	lab        labkit.Lab
	loadErr    error
	results    results.DisplayModel
	validation *validate.Report
	epoch      uint64 // bumped whenever results are cleared
	busy       map[string]bool
	lastActive time.Time
	closed     bool
}

// New creates an uninitialized session.
func New(opts Options) *Session {
	if opts.Container == "" {
		opts.Container = Container
	}
	if opts.Notifier == nil {
		opts.Notifier = discardNotifier{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		id:         opts.ID,
		container:  opts.Container,
		loader:     opts.Loader,
		pg:         opts.Playground,
		validator:  opts.Validator,
		snapshots:  opts.Snapshots,
		notifier:   opts.Notifier,
		metrics:    opts.Metrics,
		logger:     logger.Named("session").With(zap.String("session", opts.ID)),
		shortLinks: !opts.LongLinks,
		results:    results.Empty(),
		busy:       make(map[string]bool),
		lastActive: time.Now(),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Navigate loads the lab named by the lab query parameter. The optional
// share and code parameters restore shared code once the playground is up.
func (s *Session) Navigate(ctx context.Context, query url.Values) error {
	s.touch()
	name := strings.TrimSpace(query.Get(ParamLab))
	gen := s.gen.Add(1)

	if name == "" {
		err := &MissingLabError{}
		s.fail(gen, "", err)
		return err
	}

	s.mu.Lock()
	s.state = StateLoading
	s.labName = name
	s.lab = labkit.Lab{}
	s.loadErr = nil
	s.results = results.Empty()
	s.validation = nil
	s.epoch++
	s.mu.Unlock()

	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	if s.superseded(gen) {
		return s.discard(name)
	}

	lab, err := s.loader.LoadLab(ctx, name)

	s.mu.Lock()
	if s.gen.Load() != gen {
		s.mu.Unlock()
		return s.discard(name)
	}
	if err != nil {
		s.mu.Unlock()
		s.fail(gen, name, err)
		return err
	}
	s.state = StateReady
	s.lab = lab
	s.mu.Unlock()

	err = s.pg.Initialize(ctx, s.container, lab)
	if s.superseded(gen) {
		return s.discard(name)
	}
	if err != nil {
		s.fail(gen, name, err)
		return err
	}

	s.mu.Lock()
	if s.gen.Load() != gen {
		s.mu.Unlock()
		return s.discard(name)
	}
	s.state = StateInteractive
	s.mu.Unlock()

	s.metrics.LabLoaded(metrics.OutcomeLoaded)
	s.logger.Info("lab loaded", zap.String("lab", name), zap.String("title", lab.Title))

	s.restoreShared(ctx, lab, query)
	return nil
}

func (s *Session) currentEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

func (s *Session) superseded(gen uint64) bool {
	return s.gen.Load() != gen
}

func (s *Session) discard(name string) error {
	s.metrics.LabLoaded(metrics.OutcomeSupersede)
	s.logger.Debug("discarding superseded load", zap.String("lab", name))
	return ErrSuperseded
}

// fail moves the session to Failed, unless a newer navigation owns it.
func (s *Session) fail(gen uint64, name string, err error) {
	s.mu.Lock()
	if s.gen.Load() != gen {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	s.lab = labkit.Lab{}
	s.loadErr = err
	s.mu.Unlock()

	var missing *MissingLabError
	if errors.As(err, &missing) {
		s.metrics.LabLoaded(metrics.OutcomeMissing)
	} else {
		s.metrics.LabLoaded(metrics.LoadOutcome(err))
	}
	s.logger.Warn("lab load failed", zap.String("lab", name), zap.Error(err))
	s.notify(LevelError, "", labkit.UserFriendlyMessage(err))
}

// restoreShared applies code from a share link. Failures are reported but
// leave the starter code in place.
func (s *Session) restoreShared(ctx context.Context, lab labkit.Lab, query url.Values) {
	var snap share.Snapshot
	var err error

	switch {
	case query.Get(ParamShare) != "":
		if s.snapshots == nil {
			err = errors.New("short share links are not configured")
			break
		}
		snap, err = s.snapshots.Resolve(ctx, query.Get(ParamShare))
	case query.Get(ParamCode) != "":
		snap, err = share.DecodeLong(query.Get(ParamCode))
	default:
		return
	}

	if err == nil && snap.Lab != "" && snap.Lab != lab.Name {
		err = fmt.Errorf("shared code belongs to lab %q", snap.Lab)
	}
	if err == nil {
		err = s.pg.SetCode(ctx, playground.Code{Markup: snap.HTML, Style: snap.CSS, Script: snap.JS})
	}
	if err != nil {
		s.logger.Warn("restoring shared code", zap.Error(err))
		s.notify(LevelWarning, "", "Could not restore the shared code: "+labkit.UserFriendlyMessage(err))
		return
	}
	s.notify(LevelInfo, "", "Restored shared code.")
}

// begin disables control for the duration of an action. The returned func
// re-enables it.
func (s *Session) begin(control string) (func(), error) {
	s.touch()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateInteractive {
		return nil, &NotInteractiveError{Action: control, State: s.state}
	}
	if s.busy[control] {
		return nil, ErrActionInProgress
	}
	s.busy[control] = true

	return func() {
		s.mu.Lock()
		delete(s.busy, control)
		s.mu.Unlock()
	}, nil
}

// actionFailed reports an action error. No action is retried.
func (s *Session) actionFailed(control string, err error) error {
	s.logger.Warn("action failed", zap.String("action", control), zap.Error(err))
	if errors.Is(err, ErrActionInProgress) {
		return err
	}
	s.notify(LevelError, control, labkit.UserFriendlyMessage(err))
	return err
}

// RunTests runs the lab's tests against the current code and replaces the
// results model.
func (s *Session) RunTests(ctx context.Context) (results.DisplayModel, error) {
	release, err := s.begin(ControlRunTests)
	if err != nil {
		return results.DisplayModel{}, s.actionFailed(ControlRunTests, err)
	}
	defer release()

	epoch := s.currentEpoch()
	outcomes, err := s.pg.RunTests(ctx)
	if err != nil {
		return results.DisplayModel{}, s.actionFailed(ControlRunTests, err)
	}

	model := results.Project(outcomes)

	// A reset or navigation while the run was in flight owns the results now.
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		s.logger.Debug("dropping results of a superseded run")
		return results.DisplayModel{}, ErrSuperseded
	}
	s.results = model
	lab := s.lab.Name
	s.mu.Unlock()

	s.metrics.TestsRun(lab, model.Percentage)

	level := LevelSuccess
	if model.Failed > 0 || model.Total == 0 {
		level = LevelWarning
	}
	s.notify(level, ControlRunTests, results.Summary(model))
	return model, nil
}

// Validate checks the current code. A validation service that is down is
// reported and leaves the other checks' results intact.
func (s *Session) Validate(ctx context.Context) (validate.Report, error) {
	release, err := s.begin(ControlValidate)
	if err != nil {
		return validate.Report{}, s.actionFailed(ControlValidate, err)
	}
	defer release()

	if s.validator == nil {
		return validate.Report{}, s.actionFailed(ControlValidate, errors.New("validation is not configured"))
	}

	epoch := s.currentEpoch()
	code, err := s.pg.GetCode(ctx)
	if err != nil {
		return validate.Report{}, s.actionFailed(ControlValidate, err)
	}

	report := s.validator.Validate(ctx, validate.Code{HTML: code.Markup, CSS: code.Style, JS: code.Script})

	for service, ferr := range report.Failures() {
		s.metrics.ValidatorFailed(service)
		s.notify(LevelWarning, ControlValidate, labkit.UserFriendlyMessage(ferr))
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return validate.Report{}, ErrSuperseded
	}
	s.validation = &report
	s.mu.Unlock()

	if report.Valid() {
		s.notify(LevelSuccess, ControlValidate, "No validation errors found.")
	} else if n := report.HTML.Errors() + report.CSS.Errors() + report.Script.Errors(); n > 0 {
		s.notify(LevelWarning, ControlValidate, fmt.Sprintf("Found %d validation error(s).", n))
	}
	return report, nil
}

// Share returns a link to the current code.
func (s *Session) Share(ctx context.Context) (string, error) {
	release, err := s.begin(ControlShare)
	if err != nil {
		return "", s.actionFailed(ControlShare, err)
	}
	defer release()

	link, err := s.pg.ShareURL(ctx, s.shortLinks)
	if err != nil {
		return "", s.actionFailed(ControlShare, err)
	}
	s.notify(LevelSuccess, ControlShare, "Share link ready: "+link)
	return link, nil
}

// Reset restores the starter code after confirmation and clears the
// results. It reports whether the reset happened.
func (s *Session) Reset(ctx context.Context, confirmer Confirmer) (bool, error) {
	release, err := s.begin(ControlReset)
	if err != nil {
		return false, s.actionFailed(ControlReset, err)
	}
	defer release()

	if confirmer == nil || !confirmer.Confirm(ctx, "Reset your code to the starter files? Your changes will be lost.") {
		return false, nil
	}

	s.mu.Lock()
	lab := s.lab
	s.mu.Unlock()

	if err := s.pg.ResetCode(ctx, lab); err != nil {
		return false, s.actionFailed(ControlReset, err)
	}

	s.mu.Lock()
	s.results = results.Empty()
	s.validation = nil
	s.epoch++
	s.mu.Unlock()

	s.notify(LevelInfo, ControlReset, "Code reset to the starter files.")
	return true, nil
}

// SetCode replaces the learner's code.
func (s *Session) SetCode(ctx context.Context, code playground.Code) error {
	s.touch()
	if st := s.State(); st != StateInteractive {
		return &NotInteractiveError{Action: "set code", State: st}
	}
	return s.pg.SetCode(ctx, code)
}

// Code returns the learner's current code.
func (s *Session) Code(ctx context.Context) (playground.Code, error) {
	s.touch()
	if st := s.State(); st != StateInteractive {
		return playground.Code{}, &NotInteractiveError{Action: "get code", State: st}
	}
	return s.pg.GetCode(ctx)
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Lab returns the loaded lab, if any.
func (s *Session) Lab() (labkit.Lab, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lab, !s.lab.IsZero()
}

// LabName returns the lab of the latest navigation, loaded or not.
func (s *Session) LabName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.labName
}

// Err returns the error that failed the latest load.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadErr
}

// Results returns the latest display model; the zero model before any run
// and after a reset.
func (s *Session) Results() results.DisplayModel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results
}

// Validation returns the latest validation report, if any.
func (s *Session) Validation() (validate.Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.validation == nil {
		return validate.Report{}, false
	}
	return *s.validation, true
}

// Controls reports which controls are enabled.
func (s *Session) Controls() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(allControls))
	for _, c := range allControls {
		out[c] = s.state == StateInteractive && !s.busy[c]
	}
	return out
}

// LastActive returns when the session was last used.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *Session) notify(level Level, action, message string) {
	s.notifier.Notify(Notification{
		Level:   level,
		Message: message,
		Action:  action,
		Time:    time.Now(),
	})
}

// Close releases the playground. The session cannot be used afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.state = StateUninitialized
	s.mu.Unlock()

	s.gen.Add(1)
	return s.pg.Close()
}
