package wizard

import (
	"context"
	"fmt"

	"github.com/mpataki/clerk/internal/logger"
	"github.com/mpataki/clerk/internal/models"
)

type Resolver interface {
	Resolve(ctx context.Context, contractType string) (*models.Template, error)
}

type Submitter interface {
	Submit(ctx context.Context, contractType string, fields []*models.Field, answers models.AnswerMap) (*models.GenerationResult, error)
}

// Driver runs a session's requests synchronously. The line-mode CLI and
// tests use it; the TUI runs requests as commands instead.
type Driver struct {
	resolver  Resolver
	submitter Submitter
}

func NewDriver(resolver Resolver, submitter Submitter) *Driver {
	return &Driver{resolver: resolver, submitter: submitter}
}

// Context returns ctx annotated with the session for logging.
func Context(ctx context.Context, s *Session) context.Context {
	return logger.WithSession(ctx, s.ID(), s.ContractType())
}

// Execute runs req and applies its outcome to s.
func (d *Driver) Execute(ctx context.Context, s *Session, req *Request) error {
	ctx = Context(ctx, s)

	switch req.Kind {
	case RequestLoad:
		tmpl, err := d.resolver.Resolve(ctx, req.ContractType)
		if err != nil {
			logger.Warn(ctx, "template load failed", "error", err)
		}
		return s.FinishLoad(req, tmpl, err)
	case RequestSubmit:
		result, err := d.submitter.Submit(ctx, req.ContractType, req.Fields, req.Answers)
		if ferr := s.FinishSubmit(req, result, err); ferr != nil {
			return ferr
		}
		logger.Debug(ctx, "submission finished", "phase", s.Phase())
		return nil
	}
	return fmt.Errorf("unknown request kind %v", req.Kind)
}

// Load resolves the session's template. A failed load leaves the session in
// Failed and returns the failure.
func (d *Driver) Load(ctx context.Context, s *Session) error {
	req, err := s.BeginLoad()
	if err != nil {
		return err
	}
	if err := d.Execute(ctx, s, req); err != nil {
		return err
	}
	return s.Failure()
}

// Advance advances s and, on the last step, runs the submission.
func (d *Driver) Advance(ctx context.Context, s *Session) error {
	req, err := s.Advance()
	if err != nil || req == nil {
		return err
	}
	return d.Execute(ctx, s, req)
}

// Fill answers every step from answers and advances until the session leaves
// Collecting or a step fails validation. It returns the session's error map
// as an error when the walk stops on an invalid answer.
func (d *Driver) Fill(ctx context.Context, s *Session, answers models.AnswerMap) error {
	for s.Phase() == models.PhaseCollecting {
		field := s.Current()
		if value, ok := answers[field.ID]; ok {
			if err := s.SetAnswer(field.ID, value); err != nil {
				return err
			}
		}

		step := s.Step()
		if err := d.Advance(ctx, s); err != nil {
			return err
		}
		if s.Phase() == models.PhaseCollecting && s.Step() <= step {
			return &IncompleteError{Step: s.Step(), Errors: s.Errors(), Banner: s.Banner()}
		}
	}
	if s.Phase() == models.PhaseFailed {
		return s.Failure()
	}
	return nil
}

// IncompleteError reports the answers that kept Fill from finishing.
type IncompleteError struct {
	Step   int
	Errors models.ErrorMap
	Banner string
}

func (e *IncompleteError) Error() string {
	if len(e.Errors) == 0 && e.Banner != "" {
		return e.Banner
	}
	return fmt.Sprintf("%d answer(s) need attention", len(e.Errors))
}
