// Package wizard holds the questionnaire state machine.
//
// A Session moves through Loading, Collecting, Submitting, Result and Failed.
// Operations that need the network are split in two: Begin* (or Advance on the
// last step) hands back a Request, the caller runs it however it likes, and
// Finish* applies the outcome. Every Request carries its session id and a
// token unique across all sessions; outcomes for superseded tokens or for
// another session are rejected with ErrStale.
package wizard

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mpataki/clerk/internal/models"
	"github.com/mpataki/clerk/internal/orchestrator"
	"github.com/mpataki/clerk/internal/validator"
)

var (
	ErrBusy         = errors.New("an operation of this kind is already in progress")
	ErrStale        = errors.New("request was superseded")
	ErrWrongPhase   = errors.New("operation not allowed in the current phase")
	ErrUnknownField = errors.New("unknown field")
)

// tokens is shared by every session so a token never repeats within a
// process.
var tokens atomic.Uint64

type RequestKind int

const (
	RequestLoad RequestKind = iota + 1
	RequestSubmit
)

func (k RequestKind) String() string {
	switch k {
	case RequestLoad:
		return "load"
	case RequestSubmit:
		return "submit"
	}
	return fmt.Sprintf("RequestKind(%d)", int(k))
}

// Request describes work the caller must run before calling the matching
// Finish method. Answers is a snapshot; later edits do not affect it.
type Request struct {
	Kind         RequestKind
	Token        uint64
	SessionID    string
	ContractType string
	Fields       []*models.Field
	Answers      models.AnswerMap
}

type Session struct {
	id           string
	contractType string
	title        string
	fields       []*models.Field
	validator    *validator.Validator

	phase   models.Phase
	step    int
	answers models.AnswerMap
	errors  models.ErrorMap
	banner  string
	result  *models.GenerationResult
	failure error

	pending map[RequestKind]uint64
}

type Option func(*Session)

func WithValidator(v *validator.Validator) Option {
	return func(s *Session) { s.validator = v }
}

func New(contractType string, opts ...Option) *Session {
	s := &Session{
		id:           uuid.NewString(),
		contractType: contractType,
		validator:    validator.New(validator.DefaultPhoneRegion),
		phase:        models.PhaseLoading,
		answers:      models.AnswerMap{},
		errors:       models.ErrorMap{},
		pending:      make(map[RequestKind]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) ID() string           { return s.id }
func (s *Session) ContractType() string { return s.contractType }
func (s *Session) Title() string        { return s.title }
func (s *Session) Phase() models.Phase  { return s.phase }
func (s *Session) Step() int            { return s.step }
func (s *Session) Banner() string       { return s.banner }
func (s *Session) Failure() error       { return s.failure }

func (s *Session) Fields() []*models.Field {
	return s.fields
}

// Current returns the field at the current step, or nil before loading.
func (s *Session) Current() *models.Field {
	if s.step < 0 || s.step >= len(s.fields) {
		return nil
	}
	return s.fields[s.step]
}

func (s *Session) IsLastStep() bool {
	return len(s.fields) > 0 && s.step == len(s.fields)-1
}

func (s *Session) Answers() models.AnswerMap {
	return s.answers.Clone()
}

func (s *Session) Answer(fieldID string) any {
	return s.answers[fieldID]
}

func (s *Session) Errors() models.ErrorMap {
	return s.errors.Clone()
}

func (s *Session) Error(fieldID string) string {
	return s.errors[fieldID]
}

func (s *Session) Result() *models.GenerationResult {
	return s.result
}

// Pending reports whether a request of the given kind is outstanding.
func (s *Session) Pending(kind RequestKind) bool {
	return s.pending[kind] != 0
}

// BeginLoad starts template resolution. It is only valid while Loading.
func (s *Session) BeginLoad() (*Request, error) {
	if s.phase != models.PhaseLoading {
		return nil, ErrWrongPhase
	}
	if s.Pending(RequestLoad) {
		return nil, ErrBusy
	}
	return s.begin(RequestLoad), nil
}

// FinishLoad applies the outcome of a load request. Any error, including an
// empty template, moves the session to Failed.
func (s *Session) FinishLoad(req *Request, tmpl *models.Template, err error) error {
	if err := s.finish(req, RequestLoad); err != nil {
		return err
	}

	if err == nil && (tmpl == nil || len(tmpl.Fields) == 0) {
		err = fmt.Errorf("template %s has no fields", s.contractType)
	}
	if err != nil {
		s.fail(err)
		return nil
	}

	s.title = tmpl.Title
	s.fields = tmpl.Fields
	s.step = 0
	s.phase = models.PhaseCollecting
	return nil
}

// SetAnswer records value for fieldID and re-validates that field only.
// Edits are refused while a submission is pending.
func (s *Session) SetAnswer(fieldID string, value any) error {
	switch s.phase {
	case models.PhaseCollecting:
	case models.PhaseSubmitting:
		return ErrBusy
	default:
		return ErrWrongPhase
	}

	field := s.field(fieldID)
	if field == nil {
		return fmt.Errorf("%w: %s", ErrUnknownField, fieldID)
	}

	s.answers[fieldID] = value
	s.check(field)
	return nil
}

// Advance validates the current field. When it is invalid the step does not
// change and the error is recorded. When it is valid the session moves to the
// next step, or on the last step enters Submitting and returns the submit
// request.
func (s *Session) Advance() (*Request, error) {
	switch s.phase {
	case models.PhaseCollecting:
	case models.PhaseSubmitting:
		return nil, ErrBusy
	default:
		return nil, ErrWrongPhase
	}

	if !s.check(s.Current()) {
		return nil, nil
	}

	if !s.IsLastStep() {
		s.step++
		return nil, nil
	}

	s.banner = ""
	s.phase = models.PhaseSubmitting
	req := s.begin(RequestSubmit)
	req.Fields = s.fields
	req.Answers = s.answers.Clone()
	return req, nil
}

// Retreat moves back one step without validating. It is a no-op on the first
// step.
func (s *Session) Retreat() error {
	if s.phase != models.PhaseCollecting {
		return ErrWrongPhase
	}
	if s.step > 0 {
		s.step--
	}
	return nil
}

// FinishSubmit applies the outcome of a submit request.
//
// Validation failures return the session to Collecting at the first field with
// an error. Retriable service errors keep it on the last step with a banner;
// anything else moves it to Failed.
func (s *Session) FinishSubmit(req *Request, result *models.GenerationResult, err error) error {
	if err := s.finish(req, RequestSubmit); err != nil {
		return err
	}

	if err == nil && result == nil {
		err = errors.New("generation returned no result")
	}

	var (
		localErr   *orchestrator.LocalValidationError
		remoteErr  *orchestrator.RemoteValidationError
		serviceErr *orchestrator.ServiceError
	)
	switch {
	case err == nil:
		s.result = result
		s.phase = models.PhaseResult
	case errors.As(err, &localErr):
		s.reposition(localErr.Errors, "")
	case errors.As(err, &remoteErr):
		s.reposition(remoteErr.Errors, remoteErr.Message)
	case errors.As(err, &serviceErr) && serviceErr.Retriable:
		s.phase = models.PhaseCollecting
		s.step = len(s.fields) - 1
		s.banner = serviceErr.Message
	case errors.Is(err, orchestrator.ErrInFlight):
		s.phase = models.PhaseCollecting
		s.step = len(s.fields) - 1
		s.banner = err.Error()
	default:
		s.fail(err)
	}
	return nil
}

// Reset discards answers, errors and any result and returns to the first
// step. Pending requests are superseded. A session whose template never
// loaded cannot be reset.
func (s *Session) Reset() error {
	if len(s.fields) == 0 {
		return ErrWrongPhase
	}
	s.supersede()
	s.answers = models.AnswerMap{}
	s.errors = models.ErrorMap{}
	s.banner = ""
	s.result = nil
	s.failure = nil
	s.step = 0
	s.phase = models.PhaseCollecting
	return nil
}

// Abandon supersedes pending requests so their outcomes are ignored. A
// pending submission returns the session to the last step.
func (s *Session) Abandon() {
	s.supersede()
	if s.phase == models.PhaseSubmitting {
		s.phase = models.PhaseCollecting
		s.step = len(s.fields) - 1
	}
}

// Owns reports whether req was issued by s.
func (s *Session) Owns(req *Request) bool {
	return req != nil && req.SessionID == s.id
}

func (s *Session) begin(kind RequestKind) *Request {
	token := tokens.Add(1)
	s.pending[kind] = token
	return &Request{Kind: kind, Token: token, SessionID: s.id, ContractType: s.contractType}
}

func (s *Session) finish(req *Request, kind RequestKind) error {
	if req == nil || req.Kind != kind {
		return fmt.Errorf("expected %s request", kind)
	}
	if req.SessionID != s.id || s.pending[kind] != req.Token {
		return ErrStale
	}
	delete(s.pending, kind)
	return nil
}

func (s *Session) supersede() {
	clear(s.pending)
}

func (s *Session) fail(err error) {
	s.failure = err
	s.banner = err.Error()
	s.phase = models.PhaseFailed
}

// check validates f against its answer and updates only f's error entry.
func (s *Session) check(f *models.Field) bool {
	if f == nil {
		return false
	}
	outcome := s.validator.Validate(f, s.answers[f.ID])
	if outcome.Valid {
		delete(s.errors, f.ID)
		return true
	}
	s.errors[f.ID] = outcome.Message
	return false
}

// reposition merges errs and moves to the first field carrying an error.
// Errors for fields the session does not show become the banner.
func (s *Session) reposition(errs models.ErrorMap, message string) {
	s.phase = models.PhaseCollecting

	var general, unknown []string
	for id, msg := range errs {
		switch {
		case strings.TrimSpace(id) == "":
			general = append(general, msg)
		case s.field(id) == nil:
			unknown = append(unknown, id+": "+msg)
		default:
			s.errors[id] = msg
		}
	}

	if i := s.errors.FirstIn(s.fields); i >= 0 {
		s.step = i
	} else {
		s.step = len(s.fields) - 1
	}

	sort.Strings(unknown)
	details := append(general, unknown...)
	switch {
	case len(details) > 0:
		if message == "" {
			message = "the contract service rejected the answers"
		}
		s.banner = message + ": " + strings.Join(details, "; ")
	case len(errs) == 0 && message != "":
		s.banner = message
	}
}

func (s *Session) field(id string) *models.Field {
	for _, f := range s.fields {
		if f.ID == id {
			return f
		}
	}
	return nil
}
