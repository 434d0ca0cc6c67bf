// Package orchestrator submits a completed questionnaire: local validation,
// then remote validation, then generation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mpataki/clerk/internal/logger"
	"github.com/mpataki/clerk/internal/models"
	"github.com/mpataki/clerk/internal/remote"
	"github.com/mpataki/clerk/internal/validator"
)

var ErrInFlight = errors.New("a submission is already in progress")

// Service is the remote half of a submission. *remote.Client implements it.
type Service interface {
	Validate(ctx context.Context, contractType string, answers models.AnswerMap) (*remote.ValidationResponse, error)
	Generate(ctx context.Context, contractType string, answers models.AnswerMap) (*models.GenerationResult, error)
}

// Recorder stores successful generations.
type Recorder interface {
	RecordResult(ctx context.Context, sessionID string, result *models.GenerationResult) (*models.Contract, error)
}

type Orchestrator struct {
	service         Service
	validator       *validator.Validator
	recorder        Recorder
	validateTimeout time.Duration
	generateTimeout time.Duration
	inFlight        atomic.Bool
}

type Option func(*Orchestrator)

func WithValidator(v *validator.Validator) Option {
	return func(o *Orchestrator) { o.validator = v }
}

func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

func WithTimeouts(validate, generate time.Duration) Option {
	return func(o *Orchestrator) {
		o.validateTimeout = validate
		o.generateTimeout = generate
	}
}

func New(service Service, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		service:         service,
		validator:       validator.New(validator.DefaultPhoneRegion),
		validateTimeout: 10 * time.Second,
		generateTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit validates answers locally and remotely, then generates the contract.
// Only answers for the given fields are sent. A concurrent call returns
// ErrInFlight without contacting the service.
func (o *Orchestrator) Submit(ctx context.Context, contractType string, fields []*models.Field, answers models.AnswerMap) (*models.GenerationResult, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		return nil, ErrInFlight
	}
	defer o.inFlight.Store(false)

	if errs := o.validator.ValidateAll(fields, answers); len(errs) > 0 {
		logger.Debug(ctx, "local validation failed", "fields", len(errs))
		return nil, &LocalValidationError{Errors: errs}
	}

	payload := payloadFor(fields, answers)

	if err := o.validateRemote(ctx, contractType, payload); err != nil {
		return nil, err
	}

	result, err := o.generate(ctx, contractType, payload)
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "contract generated", "title", result.Title)

	if o.recorder != nil {
		if _, err := o.recorder.RecordResult(ctx, logger.SessionID(ctx), result); err != nil {
			logger.Warn(ctx, "failed to record generated contract", "error", err)
		}
	}

	return result, nil
}

func (o *Orchestrator) validateRemote(ctx context.Context, contractType string, payload models.AnswerMap) error {
	ctx, cancel := context.WithTimeout(ctx, o.validateTimeout)
	defer cancel()

	resp, err := o.service.Validate(ctx, contractType, payload)
	if err != nil {
		logger.Warn(ctx, "remote validation request failed", "error", err)
		return newServiceError(err)
	}
	if !resp.Valid {
		logger.Debug(ctx, "remote validation failed", "fields", len(resp.Errors))
		return newRemoteValidationError(resp.Errors, "the contract service rejected the answers")
	}
	return nil
}

func (o *Orchestrator) generate(ctx context.Context, contractType string, payload models.AnswerMap) (*models.GenerationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.generateTimeout)
	defer cancel()

	result, err := o.service.Generate(ctx, contractType, payload)
	if err != nil {
		if se, ok := remote.AsStatusError(err); ok && se.StatusCode == http.StatusBadRequest && len(se.Errors) > 0 {
			logger.Debug(ctx, "generation rejected answers", "fields", len(se.Errors))
			return nil, newRemoteValidationError(se.Errors, se.Message)
		}
		logger.Error(ctx, "generation failed", "error", err)
		return nil, newServiceError(err)
	}
	if result == nil {
		return nil, &ServiceError{Message: "the contract service returned an empty result"}
	}
	return result, nil
}

func payloadFor(fields []*models.Field, answers models.AnswerMap) models.AnswerMap {
	payload := make(models.AnswerMap, len(fields))
	for _, f := range fields {
		if v, ok := answers[f.ID]; ok && v != nil {
			payload[f.ID] = v
		}
	}
	return payload
}

// newRemoteValidationError keeps the first message reported for each field.
// Errors that name no field are appended to message.
func newRemoteValidationError(errs []remote.FieldError, message string) *RemoteValidationError {
	out := make(models.ErrorMap, len(errs))
	var general []string
	for _, e := range errs {
		if strings.TrimSpace(e.Field) == "" {
			if e.Message != "" {
				general = append(general, e.Message)
			}
			continue
		}
		if _, seen := out[e.Field]; !seen {
			out[e.Field] = e.Message
		}
	}
	if len(general) > 0 {
		if message == "" {
			message = strings.Join(general, "; ")
		} else {
			message += ": " + strings.Join(general, "; ")
		}
	}
	return &RemoteValidationError{Errors: out, Message: message}
}

func newServiceError(err error) *ServiceError {
	se := &ServiceError{Retriable: remote.Transient(err), Err: err}

	var decodeErr *remote.DecodeError
	statusErr, isStatus := remote.AsStatusError(err)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		se.Message = "the contract service did not respond in time"
	case errors.Is(err, context.Canceled):
		se.Message = "the request was cancelled"
	case errors.As(err, &decodeErr):
		se.Message = "the contract service returned an unexpected response"
	case isStatus && statusErr.Message != "":
		se.Message = fmt.Sprintf("the contract service returned an error (%d): %s", statusErr.StatusCode, statusErr.Message)
	case isStatus:
		se.Message = fmt.Sprintf("the contract service returned an error (%d)", statusErr.StatusCode)
	default:
		se.Message = "could not reach the contract service"
	}
	return se
}
