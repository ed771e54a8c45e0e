package server

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/livetemplate/labkit"
	"github.com/livetemplate/labkit/internal/fetch"
	"github.com/livetemplate/labkit/internal/playground"
	"github.com/livetemplate/labkit/internal/results"
	"github.com/livetemplate/labkit/internal/session"
	"github.com/livetemplate/labkit/internal/validate"
)

// maxRequestBodySize limits the size of incoming request bodies (1MB)
const maxRequestBodySize = 1 << 20

// navigateRequest carries the query parameters of a lab page load.
type navigateRequest struct {
	Lab   string `json:"lab"`
	Share string `json:"share,omitempty"`
	Code  string `json:"code,omitempty"`
}

func (n navigateRequest) query() url.Values {
	q := url.Values{}
	if n.Lab != "" {
		q.Set(session.ParamLab, n.Lab)
	}
	if n.Share != "" {
		q.Set(session.ParamShare, n.Share)
	}
	if n.Code != "" {
		q.Set(session.ParamCode, n.Code)
	}
	return q
}

type labView struct {
	Name            string        `json:"name"`
	Title           string        `json:"title"`
	DescriptionHTML template.HTML `json:"descriptionHTML"`
}

type sessionView struct {
	ID         string               `json:"id"`
	State      session.State        `json:"state"`
	Lab        *labView             `json:"lab,omitempty"`
	Code       *playground.Code     `json:"code,omitempty"`
	Controls   map[string]bool      `json:"controls"`
	Results    results.DisplayModel `json:"results"`
	Validation *validationView      `json:"validation,omitempty"`
	Error      string               `json:"error,omitempty"`
	Notified   bool                 `json:"notified,omitempty"`
}

type resultView struct {
	Messages []validate.Message `json:"messages"`
	Error    string             `json:"error,omitempty"`
}

// validationView is a validate.Report with check failures rendered as
// learner-facing text.
type validationView struct {
	Valid  bool       `json:"valid"`
	HTML   resultView `json:"html"`
	CSS    resultView `json:"css"`
	Script resultView `json:"js"`
}

func newResultView(r validate.Result) resultView {
	v := resultView{Messages: r.Messages}
	if v.Messages == nil {
		v.Messages = []validate.Message{}
	}
	if r.Err != nil {
		v.Error = labkit.UserFriendlyMessage(r.Err)
	}
	return v
}

func newValidationView(r validate.Report) *validationView {
	return &validationView{
		Valid:  r.Valid(),
		HTML:   newResultView(r.HTML),
		CSS:    newResultView(r.CSS),
		Script: newResultView(r.Script),
	}
}

func (s *Server) view(ctx context.Context, sess *session.Session) sessionView {
	v := sessionView{
		ID:       sess.ID(),
		State:    sess.State(),
		Controls: sess.Controls(),
		Results:  sess.Results(),
	}
	if lab, ok := sess.Lab(); ok {
		desc, err := labkit.RenderDescription(lab.Description)
		if err != nil {
			s.logger.Warn("rendering description", zap.String("lab", lab.Name), zap.Error(err))
		}
		v.Lab = &labView{Name: lab.Name, Title: lab.Title, DescriptionHTML: desc}
	}
	if sess.State() == session.StateInteractive {
		if code, err := sess.Code(ctx); err == nil {
			v.Code = &code
		}
	}
	if report, ok := sess.Validation(); ok {
		v.Validation = newValidationView(report)
	}
	if err := sess.Err(); err != nil {
		v.Error = labkit.UserFriendlyMessage(err)
	}
	return v
}

// session looks up the {id} route variable, writing a 404 when unknown.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, ok := s.sessions.get(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}

func (s *Server) newSession() *session.Session {
	id := newSessionID()
	opts := session.Options{
		ID:         id,
		Loader:     s.fetcher,
		Playground: playground.NewBridge(s.engine, s.config.Playground.GetReadyTimeout(), s.logger),
		Notifier:   s.hub.Notifier(id),
		Metrics:    s.metrics,
		Logger:     s.logger,
		LongLinks:  s.sharer == nil,
	}
	if s.validator != nil {
		opts.Validator = s.validator
	}
	if s.sharer != nil {
		opts.Snapshots = s.sharer
	}
	return session.New(opts)
}

func (s *Server) handleListLabs(w http.ResponseWriter, r *http.Request) {
	labs, err := s.listLabs()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if labs == nil {
		labs = []fetch.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"labs": labs})
}

// handleCreateSession opens a session and loads the requested lab into it.
// Sessions whose first load fails are discarded.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sess := s.newSession()
	s.sessions.add(sess)

	if err := sess.Navigate(r.Context(), req.query()); err != nil {
		s.sessions.remove(sess.ID())
		writeError(w, statusFor(err), labkit.UserFriendlyMessage(err))
		return
	}
	writeJSON(w, http.StatusCreated, s.view(r.Context(), sess))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.view(r.Context(), sess))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.remove(mux.Vars(r)["id"]) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleNavigate reloads the session, for a new lab or a changed one. A
// failed load leaves the session in its error state, reported in the view.
func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req navigateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := sess.Navigate(r.Context(), req.query()); err != nil {
		if errors.Is(err, session.ErrSuperseded) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		v := s.view(r.Context(), sess)
		v.Notified = session.Notified(err)
		writeJSON(w, statusFor(err), v)
		return
	}
	writeJSON(w, http.StatusOK, s.view(r.Context(), sess))
}

func (s *Server) handleSetCode(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var code playground.Code
	if !decodeBody(w, r, &code) {
		return
	}
	if err := sess.SetCode(r.Context(), code); err != nil {
		writeError(w, statusFor(err), labkit.UserFriendlyMessage(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunTests(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	model, err := sess.RunTests(r.Context())
	if err != nil {
		writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if s.validator == nil {
		writeError(w, http.StatusNotImplemented, "validation is not configured")
		return
	}
	report, err := sess.Validate(r.Context())
	if err != nil {
		writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newValidationView(report))
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	link, err := sess.Share(r.Context())
	if err != nil {
		writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": link})
}

// handleReset restores the starter code. The browser asks the learner
// before calling; ?confirm=true carries the answer.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))

	done, err := sess.Reset(r.Context(), session.Answer(confirmed))
	if err != nil {
		writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"reset": done})
}

// decodeBody decodes a size-limited JSON body, writing a 400 on failure.
// An empty body decodes to the zero value.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	// Notified is set when the failure was already pushed over the
	// session's notification socket.
	Notified bool `json:"notified,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeActionError reports a failed session action.
func writeActionError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{
		Error:    labkit.UserFriendlyMessage(err),
		Notified: session.Notified(err),
	})
}
