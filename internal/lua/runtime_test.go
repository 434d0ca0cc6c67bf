package lua

import (
	"context"
	"strings"
	"testing"

	"github.com/mpataki/clerk/internal/models"
)

func TestVisibleNilConditional(t *testing.T) {
	ok, err := NewEvaluator().Visible(context.Background(), nil, nil)
	if err != nil || !ok {
		t.Fatalf("nil conditional should be visible, got %v, %v", ok, err)
	}
}

func TestVisibleEquality(t *testing.T) {
	e := NewEvaluator()
	cond := &models.Conditional{Field: "payment_method", Value: "bank_transfer"}

	tests := []struct {
		name    string
		answers models.AnswerMap
		want    bool
	}{
		{"no answers", nil, false},
		{"blank answer", models.AnswerMap{"payment_method": " "}, false},
		{"different answer", models.AnswerMap{"payment_method": "cash"}, false},
		{"matching answer", models.AnswerMap{"payment_method": "bank_transfer"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Visible(context.Background(), cond, tt.answers)
			if err != nil {
				t.Fatalf("Visible() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Visible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVisibleEqualityComparesStringified(t *testing.T) {
	cond := &models.Conditional{Field: "duration_years", Value: 3}
	got, err := NewEvaluator().Visible(context.Background(), cond, models.AnswerMap{"duration_years": "3"})
	if err != nil {
		t.Fatal(err)
	}
	if !got {
		t.Error("expected numeric conditional value to match string answer")
	}
}

func TestVisibleExpression(t *testing.T) {
	e := NewEvaluator()
	answers := models.AnswerMap{
		"interest_rate": 5.0,
		"loan_amount":   "10000",
	}

	tests := []struct {
		expr string
		want bool
	}{
		{`answers.interest_rate > 0`, true},
		{`answers.interest_rate == 0`, false},
		{`tonumber(answers.loan_amount) >= 5000`, true},
		{`has("loan_amount") and not has("penalty_amount")`, true},
		{`answers.missing`, false},
		{`string.len(answers.loan_amount) == 5`, true},
	}

	for _, tt := range tests {
		got, err := e.Visible(context.Background(), &models.Conditional{Expr: tt.expr}, answers)
		if err != nil {
			t.Fatalf("Visible(%q) failed: %v", tt.expr, err)
		}
		if got != tt.want {
			t.Errorf("Visible(%q) = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestVisibleExpressionSandboxed(t *testing.T) {
	e := NewEvaluator()

	for _, expr := range []string{`dofile("/etc/passwd")`, `os.exit(1)`, `io.read()`} {
		if _, err := e.Visible(context.Background(), &models.Conditional{Expr: expr}, nil); err == nil {
			t.Errorf("expected %q to fail in the sandbox", expr)
		}
	}
}

func TestVisibleExpressionTimeout(t *testing.T) {
	e := NewEvaluator()
	_, err := e.Visible(context.Background(), &models.Conditional{Expr: `(function() while true do end end)()`}, nil)
	if err == nil {
		t.Fatal("expected runaway expression to be stopped")
	}
}

func TestVisibleSyntaxError(t *testing.T) {
	_, err := NewEvaluator().Visible(context.Background(), &models.Conditional{Expr: `answers.x ==`}, nil)
	if err == nil || !strings.Contains(err.Error(), "failed to evaluate conditional") {
		t.Fatalf("expected evaluation error, got %v", err)
	}
}

func TestVisibleEmptyConditional(t *testing.T) {
	if _, err := NewEvaluator().Visible(context.Background(), &models.Conditional{}, nil); err == nil {
		t.Fatal("expected error for conditional without field or expression")
	}
}
