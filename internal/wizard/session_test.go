package wizard

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mpataki/clerk/internal/models"
	"github.com/mpataki/clerk/internal/orchestrator"
	"github.com/mpataki/clerk/internal/templates"
	"github.com/mpataki/clerk/internal/validator"
)

func intPtr(n int) *int { return &n }

func leaseTemplate() *models.Template {
	return &models.Template{
		ID:    "rent_contract",
		Title: "Lease",
		Fields: []*models.Field{
			{ID: "landlord_name", Label: "Landlord", Kind: models.KindText, Required: true},
			{ID: "tenant_name", Label: "Tenant", Kind: models.KindText, Required: true,
				Validation: &models.Rules{MinLength: intPtr(2)}},
			{ID: "notes", Label: "Notes", Kind: models.KindTextarea},
		},
	}
}

func loaded(t *testing.T, tmpl *models.Template) *Session {
	t.Helper()
	s := New(tmpl.ID)
	req, err := s.BeginLoad()
	if err != nil {
		t.Fatalf("BeginLoad() failed: %v", err)
	}
	if err := s.FinishLoad(req, tmpl, nil); err != nil {
		t.Fatalf("FinishLoad() failed: %v", err)
	}
	return s
}

// walkToLast answers every step validly and stops on the last step.
func walkToLast(t *testing.T, s *Session) {
	t.Helper()
	values := map[string]any{"landlord_name": "Alice", "tenant_name": "Bob", "f1": "Alice", "f2": "Bob"}
	for !s.IsLastStep() {
		f := s.Current()
		if v, ok := values[f.ID]; ok {
			if err := s.SetAnswer(f.ID, v); err != nil {
				t.Fatal(err)
			}
		}
		if _, err := s.Advance(); err != nil {
			t.Fatal(err)
		}
	}
}

func submit(t *testing.T, s *Session) *Request {
	t.Helper()
	walkToLast(t, s)
	req, err := s.Advance()
	if err != nil {
		t.Fatalf("Advance() on last step failed: %v", err)
	}
	if req == nil || req.Kind != RequestSubmit {
		t.Fatalf("expected submit request, got %+v", req)
	}
	return req
}

func TestLoad(t *testing.T) {
	s := loaded(t, leaseTemplate())

	if s.Phase() != models.PhaseCollecting {
		t.Errorf("expected collecting, got %s", s.Phase())
	}
	if s.Step() != 0 || s.Current().ID != "landlord_name" {
		t.Errorf("expected first field, got step %d", s.Step())
	}
	if s.Title() != "Lease" {
		t.Errorf("unexpected title %q", s.Title())
	}
}

func TestBeginLoadTwiceIsBusy(t *testing.T) {
	s := New("rent_contract")
	if _, err := s.BeginLoad(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.BeginLoad(); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
}

func TestLoadFailureIsFatal(t *testing.T) {
	s := New("lease")
	req, _ := s.BeginLoad()

	if err := s.FinishLoad(req, nil, templates.ErrTemplateNotFound); err != nil {
		t.Fatal(err)
	}
	if s.Phase() != models.PhaseFailed {
		t.Fatalf("expected failed, got %s", s.Phase())
	}
	if !errors.Is(s.Failure(), templates.ErrTemplateNotFound) {
		t.Errorf("expected not found failure, got %v", s.Failure())
	}
	if err := s.Reset(); !errors.Is(err, ErrWrongPhase) {
		t.Errorf("expected reset to be refused, got %v", err)
	}
	if _, err := s.BeginLoad(); !errors.Is(err, ErrWrongPhase) {
		t.Errorf("expected reload to be refused, got %v", err)
	}
}

func TestLoadEmptyTemplateFails(t *testing.T) {
	s := New("empty")
	req, _ := s.BeginLoad()
	if err := s.FinishLoad(req, &models.Template{ID: "empty"}, nil); err != nil {
		t.Fatal(err)
	}
	if s.Phase() != models.PhaseFailed {
		t.Errorf("expected failed, got %s", s.Phase())
	}
}

func TestAbandonedLoadIsStale(t *testing.T) {
	s := New("rent_contract")
	req, _ := s.BeginLoad()
	s.Abandon()

	if err := s.FinishLoad(req, leaseTemplate(), nil); !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	if s.Phase() != models.PhaseLoading {
		t.Errorf("stale load must not change phase, got %s", s.Phase())
	}

	retry, err := s.BeginLoad()
	if err != nil {
		t.Fatalf("expected load to be restartable, got %v", err)
	}
	if retry.Token <= req.Token {
		t.Errorf("tokens must increase: %d then %d", req.Token, retry.Token)
	}
}

func TestLoadFromPreviousSessionIsStale(t *testing.T) {
	old := New("rent_contract")
	oldReq, _ := old.BeginLoad()
	old.Abandon()

	s := New("loan_contract")
	req, err := s.BeginLoad()
	if err != nil {
		t.Fatal(err)
	}
	if req.Token == oldReq.Token {
		t.Fatalf("tokens must not repeat across sessions: %d", req.Token)
	}

	if err := s.FinishLoad(oldReq, leaseTemplate(), nil); !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	if s.Phase() != models.PhaseLoading || len(s.Fields()) != 0 {
		t.Fatalf("load from another session must not apply, got phase %s with %d fields", s.Phase(), len(s.Fields()))
	}

	// Same token, other session: still rejected.
	forged := *oldReq
	forged.Token = req.Token
	if err := s.FinishLoad(&forged, leaseTemplate(), nil); !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale for a foreign session id, got %v", err)
	}

	loan := &models.Template{ID: "loan_contract", Title: "Loan", Fields: []*models.Field{
		{ID: "lender_name", Label: "Lender", Kind: models.KindText, Required: true},
	}}
	if err := s.FinishLoad(req, loan, nil); err != nil {
		t.Fatalf("own load failed: %v", err)
	}
	if s.Title() != "Loan" || s.Current().ID != "lender_name" {
		t.Errorf("expected the loan template, got %q at %s", s.Title(), s.Current().ID)
	}
}

func TestSubmitFromPreviousSessionIsStale(t *testing.T) {
	old := loaded(t, leaseTemplate())
	walkToLast(t, old)
	oldReq, err := old.Advance()
	if err != nil || oldReq == nil {
		t.Fatalf("expected submit request, got %v, %v", oldReq, err)
	}
	old.Abandon()

	s := loaded(t, leaseTemplate())
	walkToLast(t, s)
	req, err := s.Advance()
	if err != nil || req == nil {
		t.Fatalf("expected submit request, got %v, %v", req, err)
	}

	stale := &models.GenerationResult{ContractType: "rent_contract", Title: "Old"}
	if err := s.FinishSubmit(oldReq, stale, nil); !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	forged := *oldReq
	forged.Token = req.Token
	if err := s.FinishSubmit(&forged, stale, nil); !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale for a foreign session id, got %v", err)
	}
	if s.Phase() != models.PhaseSubmitting || s.Result() != nil {
		t.Fatalf("submission from another session must not apply, got phase %s", s.Phase())
	}

	fresh := &models.GenerationResult{ContractType: "rent_contract", Title: "Lease"}
	if err := s.FinishSubmit(req, fresh, nil); err != nil {
		t.Fatal(err)
	}
	if s.Result() != fresh {
		t.Errorf("expected own result applied")
	}
}

func TestSetAnswerTouchesOnlyThatField(t *testing.T) {
	s := loaded(t, leaseTemplate())

	if err := s.SetAnswer("landlord_name", "  "); err != nil {
		t.Fatal(err)
	}
	if err := s.SetAnswer("tenant_name", "B"); err != nil {
		t.Fatal(err)
	}

	want := models.ErrorMap{
		"landlord_name": validator.MsgRequired,
		"tenant_name":   "must be at least 2 characters",
	}
	if diff := cmp.Diff(want, s.Errors()); diff != "" {
		t.Errorf("errors mismatch (-want +got):\n%s", diff)
	}

	if err := s.SetAnswer("tenant_name", "Bob"); err != nil {
		t.Fatal(err)
	}
	want = models.ErrorMap{"landlord_name": validator.MsgRequired}
	if diff := cmp.Diff(want, s.Errors()); diff != "" {
		t.Errorf("errors mismatch after fix (-want +got):\n%s", diff)
	}
	if s.Step() != 0 {
		t.Errorf("SetAnswer must not move the step, got %d", s.Step())
	}
}

func TestSetAnswerUnknownField(t *testing.T) {
	s := loaded(t, leaseTemplate())
	if err := s.SetAnswer("pets", "cat"); !errors.Is(err, ErrUnknownField) {
		t.Errorf("expected ErrUnknownField, got %v", err)
	}
}

func TestAdvance(t *testing.T) {
	s := loaded(t, leaseTemplate())

	req, err := s.Advance()
	if err != nil || req != nil {
		t.Fatalf("unexpected Advance() result %v, %v", req, err)
	}
	if s.Step() != 0 {
		t.Errorf("invalid field must not advance, got step %d", s.Step())
	}
	if s.Error("landlord_name") != validator.MsgRequired {
		t.Errorf("expected required error, got %q", s.Error("landlord_name"))
	}

	if err := s.SetAnswer("landlord_name", "Alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Advance(); err != nil {
		t.Fatal(err)
	}
	if s.Step() != 1 {
		t.Errorf("expected step 1, got %d", s.Step())
	}
}

func TestRetreat(t *testing.T) {
	s := loaded(t, leaseTemplate())

	if err := s.Retreat(); err != nil {
		t.Fatal(err)
	}
	if s.Step() != 0 {
		t.Errorf("retreat must not go below 0, got %d", s.Step())
	}

	walkToLast(t, s)
	s.SetAnswer("notes", nil)
	if err := s.SetAnswer("tenant_name", "B"); err != nil {
		t.Fatal(err)
	}
	before := s.Errors()

	if err := s.Retreat(); err != nil {
		t.Fatal(err)
	}
	if s.Step() != 1 {
		t.Errorf("expected step 1, got %d", s.Step())
	}
	if diff := cmp.Diff(before, s.Errors()); diff != "" {
		t.Errorf("retreat must not validate (-before +after):\n%s", diff)
	}
}

func TestSubmittingRejectsEditsAndDuplicates(t *testing.T) {
	s := loaded(t, leaseTemplate())
	req := submit(t, s)

	if s.Phase() != models.PhaseSubmitting {
		t.Fatalf("expected submitting, got %s", s.Phase())
	}
	if diff := cmp.Diff(models.AnswerMap{"landlord_name": "Alice", "tenant_name": "Bob"}, req.Answers); diff != "" {
		t.Errorf("request answers mismatch (-want +got):\n%s", diff)
	}

	if _, err := s.Advance(); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy on second advance, got %v", err)
	}
	if err := s.SetAnswer("tenant_name", "Eve"); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy on edit, got %v", err)
	}
	if s.Answer("tenant_name") != "Bob" {
		t.Errorf("edit during submission leaked: %v", s.Answer("tenant_name"))
	}
	if err := s.Retreat(); !errors.Is(err, ErrWrongPhase) {
		t.Errorf("expected ErrWrongPhase on retreat, got %v", err)
	}
}

func TestFinishSubmitSuccess(t *testing.T) {
	s := loaded(t, leaseTemplate())
	req := submit(t, s)

	result := &models.GenerationResult{
		ContractType:    "rent_contract",
		Title:           "Lease",
		MarkdownContent: "...",
		GeneratedAt:     time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC),
	}
	if err := s.FinishSubmit(req, result, nil); err != nil {
		t.Fatal(err)
	}
	if s.Phase() != models.PhaseResult {
		t.Fatalf("expected result, got %s", s.Phase())
	}
	if s.Result() != result {
		t.Error("expected the exact generation result")
	}
	if err := s.FinishSubmit(req, result, nil); !errors.Is(err, ErrStale) {
		t.Errorf("expected second finish to be stale, got %v", err)
	}
}

func TestFinishSubmitRemoteValidationRepositions(t *testing.T) {
	s := loaded(t, leaseTemplate())
	req := submit(t, s)

	err := &orchestrator.RemoteValidationError{
		Errors:  models.ErrorMap{"tenant_name": "tenant is blacklisted"},
		Message: "Validation failed",
	}
	if ferr := s.FinishSubmit(req, nil, err); ferr != nil {
		t.Fatal(ferr)
	}

	if s.Phase() != models.PhaseCollecting {
		t.Fatalf("expected collecting, got %s", s.Phase())
	}
	if s.Current().ID != "tenant_name" {
		t.Errorf("expected tenant_name step, got %s", s.Current().ID)
	}
	if s.Error("tenant_name") != "tenant is blacklisted" {
		t.Errorf("unexpected error %q", s.Error("tenant_name"))
	}
	if s.Banner() != "" {
		t.Errorf("expected no banner, got %q", s.Banner())
	}
}

func TestFinishSubmitRemoteValidationUnknownField(t *testing.T) {
	s := loaded(t, leaseTemplate())
	req := submit(t, s)

	err := &orchestrator.RemoteValidationError{Errors: models.ErrorMap{"deposit": "required by law"}}
	if ferr := s.FinishSubmit(req, nil, err); ferr != nil {
		t.Fatal(ferr)
	}

	if !s.IsLastStep() {
		t.Errorf("expected last step, got %d", s.Step())
	}
	if s.Banner() != "the contract service rejected the answers: deposit: required by law" {
		t.Errorf("unexpected banner %q", s.Banner())
	}
	if len(s.Errors()) != 0 {
		t.Errorf("unknown fields must not enter the error map: %v", s.Errors())
	}
}

func TestFinishSubmitFieldlessErrorGoesToBanner(t *testing.T) {
	s := loaded(t, leaseTemplate())
	req := submit(t, s)

	err := &orchestrator.RemoteValidationError{
		Errors:  models.ErrorMap{"": "lease term too short"},
		Message: "Validation failed",
	}
	if ferr := s.FinishSubmit(req, nil, err); ferr != nil {
		t.Fatal(ferr)
	}

	if s.Phase() != models.PhaseCollecting || !s.IsLastStep() {
		t.Errorf("expected collecting on the last step, got %s step %d", s.Phase(), s.Step())
	}
	if s.Banner() != "Validation failed: lease term too short" {
		t.Errorf("unexpected banner %q", s.Banner())
	}
	if _, ok := s.Errors()[""]; ok {
		t.Errorf("fieldless error must not enter the error map: %v", s.Errors())
	}
}

func TestFinishSubmitLocalValidationRepositions(t *testing.T) {
	s := loaded(t, leaseTemplate())
	req := submit(t, s)

	err := &orchestrator.LocalValidationError{Errors: models.ErrorMap{"landlord_name": validator.MsgRequired}}
	if ferr := s.FinishSubmit(req, nil, err); ferr != nil {
		t.Fatal(ferr)
	}
	if s.Step() != 0 || s.Error("landlord_name") != validator.MsgRequired {
		t.Errorf("expected step 0 with required error, got step %d errors %v", s.Step(), s.Errors())
	}
}

func TestFinishSubmitServiceErrors(t *testing.T) {
	t.Run("retriable", func(t *testing.T) {
		s := loaded(t, leaseTemplate())
		req := submit(t, s)

		err := &orchestrator.ServiceError{Message: "the contract service did not respond in time", Retriable: true}
		if ferr := s.FinishSubmit(req, nil, err); ferr != nil {
			t.Fatal(ferr)
		}
		if s.Phase() != models.PhaseCollecting || !s.IsLastStep() {
			t.Errorf("expected collecting on last step, got %s step %d", s.Phase(), s.Step())
		}
		if s.Banner() != err.Message {
			t.Errorf("unexpected banner %q", s.Banner())
		}
		if s.Answer("tenant_name") != "Bob" {
			t.Error("answers must survive a retriable failure")
		}

		if _, aerr := s.Advance(); aerr != nil {
			t.Errorf("expected retry to be possible, got %v", aerr)
		}
	})

	t.Run("unrecoverable", func(t *testing.T) {
		s := loaded(t, leaseTemplate())
		req := submit(t, s)

		err := &orchestrator.ServiceError{Message: "the contract service returned an unexpected response"}
		if ferr := s.FinishSubmit(req, nil, err); ferr != nil {
			t.Fatal(ferr)
		}
		if s.Phase() != models.PhaseFailed {
			t.Fatalf("expected failed, got %s", s.Phase())
		}

		if rerr := s.Reset(); rerr != nil {
			t.Fatal(rerr)
		}
		if s.Phase() != models.PhaseCollecting || s.Step() != 0 || len(s.Answers()) != 0 {
			t.Errorf("reset left state behind: %s step %d answers %v", s.Phase(), s.Step(), s.Answers())
		}
	})
}

func TestResetSupersedesPendingSubmit(t *testing.T) {
	s := loaded(t, leaseTemplate())
	req := submit(t, s)

	if err := s.Reset(); err != nil {
		t.Fatal(err)
	}
	late := &models.GenerationResult{Title: "Lease"}
	if err := s.FinishSubmit(req, late, nil); !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	if s.Phase() != models.PhaseCollecting || s.Result() != nil {
		t.Errorf("late result leaked into fresh session: %s %v", s.Phase(), s.Result())
	}
}

func TestAbandonDuringSubmit(t *testing.T) {
	s := loaded(t, leaseTemplate())
	req := submit(t, s)

	s.Abandon()
	if s.Phase() != models.PhaseCollecting || !s.IsLastStep() {
		t.Errorf("expected collecting on last step, got %s step %d", s.Phase(), s.Step())
	}
	if err := s.FinishSubmit(req, &models.GenerationResult{}, nil); !errors.Is(err, ErrStale) {
		t.Errorf("expected ErrStale, got %v", err)
	}
}

func TestFinishWithWrongRequestKind(t *testing.T) {
	s := New("rent_contract")
	req, _ := s.BeginLoad()
	if err := s.FinishSubmit(req, nil, nil); err == nil {
		t.Error("expected error for mismatched request kind")
	}
}

func TestStepStaysInBounds(t *testing.T) {
	s := loaded(t, leaseTemplate())

	ops := []func(){
		func() { s.Retreat() },
		func() { s.SetAnswer("landlord_name", "Alice") },
		func() { s.Advance() },
		func() { s.Advance() },
		func() { s.SetAnswer("tenant_name", "Bob") },
		func() { s.Advance() },
		func() { s.Retreat() },
		func() { s.Retreat() },
		func() { s.Retreat() },
	}
	for i, op := range ops {
		op()
		if s.Step() < 0 || s.Step() >= len(s.Fields()) {
			t.Fatalf("step %d out of bounds after op %d", s.Step(), i)
		}
	}
}
