package templates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mpataki/clerk/internal/models"
)

var (
	ErrTemplateNotFound           = errors.New("template not found")
	ErrTemplateServiceUnavailable = errors.New("template service unavailable")
	ErrInvalidTemplate            = errors.New("invalid template")
)

// Provider fetches the raw template for a contract type. Implementations
// report a missing template with an error wrapping ErrTemplateNotFound.
type Provider interface {
	GetTemplate(ctx context.Context, contractType string) (*models.Template, error)
}

// Catalog lists the contract types a provider can serve.
type Catalog interface {
	ListContractTypes(ctx context.Context) ([]models.ContractType, error)
}

// Visibility evaluates a conditional against answers.
type Visibility interface {
	Visible(ctx context.Context, cond *models.Conditional, answers models.AnswerMap) (bool, error)
}

type Resolver struct {
	provider   Provider
	visibility Visibility
}

type Option func(*Resolver)

// WithVisibility sets the evaluator used by ResolveWithSeed.
func WithVisibility(v Visibility) Option {
	return func(r *Resolver) {
		r.visibility = v
	}
}

func NewResolver(provider Provider, opts ...Option) *Resolver {
	r := &Resolver{provider: provider}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the template with its visible fields in provider order.
// Fields carrying a conditional are excluded.
func (r *Resolver) Resolve(ctx context.Context, contractType string) (*models.Template, error) {
	return r.resolve(ctx, contractType, nil)
}

// ResolveWithSeed is Resolve, except that conditional fields are evaluated once
// against seed and kept when their predicate holds.
func (r *Resolver) ResolveWithSeed(ctx context.Context, contractType string, seed models.AnswerMap) (*models.Template, error) {
	return r.resolve(ctx, contractType, seed)
}

func (r *Resolver) resolve(ctx context.Context, contractType string, seed models.AnswerMap) (*models.Template, error) {
	raw, err := r.provider.GetTemplate(ctx, contractType)
	if err != nil {
		if errors.Is(err, ErrTemplateNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrTemplateServiceUnavailable, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, contractType)
	}

	if err := checkFields(raw.Fields); err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrInvalidTemplate, contractType, err)
	}

	visible := make([]*models.Field, 0, len(raw.Fields))
	for _, f := range raw.Fields {
		ok, err := r.isVisible(ctx, f, seed)
		if err != nil {
			return nil, fmt.Errorf("%w %s: field %s: %v", ErrInvalidTemplate, contractType, f.ID, err)
		}
		if ok {
			visible = append(visible, f)
		}
	}

	if len(visible) == 0 {
		return nil, fmt.Errorf("%w %s: no visible fields", ErrInvalidTemplate, contractType)
	}

	slog.Debug("resolved template", "contract_type", contractType,
		"fields", len(raw.Fields), "visible", len(visible))

	return &models.Template{
		ID:          raw.ID,
		Title:       raw.Title,
		Description: raw.Description,
		Fields:      visible,
	}, nil
}

func (r *Resolver) isVisible(ctx context.Context, f *models.Field, seed models.AnswerMap) (bool, error) {
	if f.Conditional == nil {
		return true, nil
	}
	if seed == nil || r.visibility == nil {
		return false, nil
	}
	return r.visibility.Visible(ctx, f.Conditional, seed)
}

var knownKinds = map[models.FieldKind]bool{
	models.KindText:     true,
	models.KindNumber:   true,
	models.KindDate:     true,
	models.KindTextarea: true,
	models.KindSelect:   true,
	models.KindEmail:    true,
	models.KindPhone:    true,
}

func checkFields(fields []*models.Field) error {
	seen := make(map[string]bool, len(fields))
	for i, f := range fields {
		if f == nil || f.ID == "" {
			return fmt.Errorf("field %d has no id", i)
		}
		if seen[f.ID] {
			return fmt.Errorf("duplicate field id %q", f.ID)
		}
		seen[f.ID] = true
		if !knownKinds[f.Kind] {
			return fmt.Errorf("field %q has unknown type %q", f.ID, f.Kind)
		}
	}
	return nil
}
