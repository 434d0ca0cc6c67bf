package prompt

import (
	"context"
	"fmt"
	"strings"

	"github.com/mpataki/clerk/internal/models"
	"github.com/mpataki/clerk/internal/validator"
	"github.com/mpataki/clerk/internal/wizard"
)

// BackToken typed as an answer steps back to the previous question.
const BackToken = "<"

const backOption = "← Back"

type Runner struct {
	prompts Driver
	wizard  *wizard.Driver
}

func NewRunner(prompts Driver, w *wizard.Driver) *Runner {
	return &Runner{prompts: prompts, wizard: w}
}

// Run drives s to Result or Failed, asking one question per step. It returns
// the session's failure, or ErrAborted when the user interrupts.
func (r *Runner) Run(ctx context.Context, s *wizard.Session) error {
	if s.Phase() == models.PhaseLoading {
		if err := r.wizard.Load(ctx, s); err != nil {
			return err
		}
	}

	for s.Phase() == models.PhaseCollecting {
		if err := r.step(ctx, s); err != nil {
			return err
		}
	}

	if s.Phase() == models.PhaseFailed {
		return s.Failure()
	}
	return nil
}

func (r *Runner) step(ctx context.Context, s *wizard.Session) error {
	field := s.Current()
	total := len(s.Fields())

	if banner := s.Banner(); banner != "" {
		r.prompts.Info(ctx, "! "+banner)
	}
	if msg := s.Error(field.ID); msg != "" {
		r.prompts.Info(ctx, fmt.Sprintf("✗ %s: %s", field.Label, msg))
	}

	message := fmt.Sprintf("[%d/%d] %s", s.Step()+1, total, field.Label)
	if field.Required {
		message += " *"
	}

	value, back, err := r.ask(ctx, field, message, s.Step() > 0, s.Answer(field.ID))
	if err != nil {
		return err
	}
	if back {
		return s.Retreat()
	}

	if err := s.SetAnswer(field.ID, value); err != nil {
		return err
	}

	if s.IsLastStep() && s.Error(field.ID) == "" {
		ok, err := r.prompts.Confirm(ctx, ConfirmConfig{Message: "Generate the contract?", Default: true})
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		r.prompts.Info(ctx, "Generating…")
	}

	return r.wizard.Advance(ctx, s)
}

func (r *Runner) ask(ctx context.Context, field *models.Field, message string, canGoBack bool, current any) (value any, back bool, err error) {
	def := ""
	if current != nil {
		def = validator.Stringify(current)
	}

	switch field.Kind {
	case models.KindSelect:
		options := make([]string, 0, len(field.Options)+1)
		defIndex := 0
		for i, opt := range field.Options {
			options = append(options, opt.Label)
			if opt.Value == def {
				defIndex = i
			}
		}
		if canGoBack {
			options = append(options, backOption)
		}
		idx, err := r.prompts.Select(ctx, SelectConfig{Message: message, Options: options, DefaultIndex: defIndex})
		if err != nil {
			return nil, false, err
		}
		if idx < 0 || idx >= len(field.Options) {
			return nil, canGoBack && idx == len(field.Options), nil
		}
		return field.Options[idx].Value, false, nil

	case models.KindTextarea:
		text, err := r.prompts.TextArea(ctx, TextAreaConfig{Message: message, Default: def, Help: backHelp(canGoBack)})
		if err != nil {
			return nil, false, err
		}
		return answer(text, canGoBack)

	default:
		text, err := r.prompts.Input(ctx, InputConfig{Message: message, Default: def, Help: inputHelp(field.Kind, canGoBack)})
		if err != nil {
			return nil, false, err
		}
		return answer(text, canGoBack)
	}
}

func answer(text string, canGoBack bool) (any, bool, error) {
	trimmed := strings.TrimSpace(text)
	if canGoBack && trimmed == BackToken {
		return nil, true, nil
	}
	if trimmed == "" {
		return nil, false, nil
	}
	return trimmed, false, nil
}

func inputHelp(kind models.FieldKind, canGoBack bool) string {
	var hint string
	switch kind {
	case models.KindDate:
		hint = "Date as YYYY-MM-DD."
	case models.KindNumber:
		hint = "A number, e.g. 1500 or 12.5."
	case models.KindEmail:
		hint = "An email address."
	case models.KindPhone:
		hint = "A phone number, e.g. +380501234567."
	}
	if b := backHelp(canGoBack); b != "" {
		return strings.TrimSpace(hint + " " + b)
	}
	return hint
}

func backHelp(canGoBack bool) string {
	if !canGoBack {
		return ""
	}
	return fmt.Sprintf("Enter %q to go back.", BackToken)
}
