package models

type FieldKind string

const (
	KindText     FieldKind = "text"
	KindNumber   FieldKind = "number"
	KindDate     FieldKind = "date"
	KindTextarea FieldKind = "textarea"
	KindSelect   FieldKind = "select"
	KindEmail    FieldKind = "email"
	KindPhone    FieldKind = "phone"
)

// IsText reports whether values of this kind are free-form strings subject to
// length bounds.
func (k FieldKind) IsText() bool {
	switch k {
	case KindText, KindTextarea, KindEmail, KindPhone:
		return true
	}
	return false
}

type ContractType struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

type Template struct {
	ID          string   `json:"id" yaml:"id"`
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Fields      []*Field `json:"fields" yaml:"fields"`
}

type Field struct {
	ID          string       `json:"id" yaml:"id"`
	Label       string       `json:"label" yaml:"label"`
	Kind        FieldKind    `json:"type" yaml:"type"`
	Required    bool         `json:"required,omitempty" yaml:"required,omitempty"`
	Options     []Option     `json:"options,omitempty" yaml:"options,omitempty"`
	Validation  *Rules       `json:"validation,omitempty" yaml:"validation,omitempty"`
	Conditional *Conditional `json:"conditional,omitempty" yaml:"conditional,omitempty"`
}

type Option struct {
	Value string `json:"value" yaml:"value"`
	Label string `json:"label" yaml:"label"`
}

// Rules holds optional constraints. Nil pointers mean the bound is unset.
type Rules struct {
	MinLength      *int     `json:"min_length,omitempty" yaml:"min_length,omitempty"`
	MaxLength      *int     `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Pattern        string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Min            *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max            *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	FutureDateOnly bool     `json:"future_date,omitempty" yaml:"future_date,omitempty"`
}

// Conditional is either an equality test against another field's answer
// (Field/Value) or a Lua boolean expression (Expr) evaluated over answers.
type Conditional struct {
	Field string `json:"field,omitempty" yaml:"field,omitempty"`
	Value any    `json:"value,omitempty" yaml:"value,omitempty"`
	Expr  string `json:"expr,omitempty" yaml:"expr,omitempty"`
}

// OptionLabel returns the label for value, or value itself when no option
// matches.
func (f *Field) OptionLabel(value string) string {
	for _, opt := range f.Options {
		if opt.Value == value {
			return opt.Label
		}
	}
	return value
}
