// Package validator checks a single answer against its field definition.
//
// Rules run in a fixed order and the first failure wins: required, type
// coercion, length bounds, pattern, numeric bounds, date rules, and finally
// kind-specific format checks. An optional field with no answer is always
// valid.
package validator

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/mpataki/clerk/internal/models"
	"github.com/nyaruka/phonenumbers"
)

const (
	MsgRequired      = "field is required"
	MsgInvalidFormat = "invalid format"
	MsgInvalidDate   = "invalid date"
	MsgFutureDate    = "must be a future date"
	MsgInvalidEmail  = "invalid email"
	MsgInvalidPhone  = "invalid phone number"
	MsgInvalidOption = "invalid option"
)

const DefaultPhoneRegion = "UA"

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

type Outcome struct {
	Valid   bool
	Message string
}

func Valid() Outcome {
	return Outcome{Valid: true}
}

func Invalid(msg string) Outcome {
	return Outcome{Message: msg}
}

type Validator struct {
	// Now returns the current time; futureDateOnly compares against its date.
	Now         func() time.Time
	PhoneRegion string

	patterns sync.Map // pattern -> *regexp.Regexp, nil when it does not compile
}

func New(phoneRegion string) *Validator {
	if phoneRegion == "" {
		phoneRegion = DefaultPhoneRegion
	}
	return &Validator{
		Now:         time.Now,
		PhoneRegion: phoneRegion,
	}
}

var defaultValidator = New(DefaultPhoneRegion)

// Validate checks value against field using the current time and the default
// phone region.
func Validate(field *models.Field, value any) Outcome {
	return defaultValidator.Validate(field, value)
}

func (v *Validator) Validate(field *models.Field, value any) Outcome {
	if IsEmpty(value) {
		if field.Required {
			return Invalid(MsgRequired)
		}
		return Valid()
	}

	rules := field.Validation
	if rules == nil {
		rules = &models.Rules{}
	}

	var number float64
	switch field.Kind {
	case models.KindNumber:
		n, ok := toNumber(value)
		if !ok {
			return Invalid(typeMessage(field.Kind))
		}
		number = n
	case models.KindDate:
		if !dateLike(value) {
			return Invalid(typeMessage(field.Kind))
		}
	}

	str := Stringify(value)

	if field.Kind.IsText() {
		if msg := checkLength(str, rules); msg != "" {
			return Invalid(msg)
		}
	}

	if rules.Pattern != "" {
		if re := v.pattern(rules.Pattern); re != nil && !re.MatchString(str) {
			return Invalid(MsgInvalidFormat)
		}
	}

	if field.Kind == models.KindNumber {
		if rules.Min != nil && number < *rules.Min {
			return Invalid("must be at least " + formatNumber(*rules.Min))
		}
		if rules.Max != nil && number > *rules.Max {
			return Invalid("must be at most " + formatNumber(*rules.Max))
		}
	}

	if field.Kind == models.KindDate {
		date, ok := parseDate(value)
		if !ok {
			return Invalid(MsgInvalidDate)
		}
		if rules.FutureDateOnly && !dayOf(date).After(dayOf(v.now())) {
			return Invalid(MsgFutureDate)
		}
	}

	switch field.Kind {
	case models.KindEmail:
		if !emailPattern.MatchString(strings.TrimSpace(str)) {
			return Invalid(MsgInvalidEmail)
		}
	case models.KindPhone:
		if !v.plausiblePhone(str) {
			return Invalid(MsgInvalidPhone)
		}
	case models.KindSelect:
		if len(field.Options) > 0 && !hasOption(field.Options, str) {
			return Invalid(MsgInvalidOption)
		}
	}

	return Valid()
}

// ValidateAll validates every field against answers and returns the failures.
func (v *Validator) ValidateAll(fields []*models.Field, answers models.AnswerMap) models.ErrorMap {
	errs := models.ErrorMap{}
	for _, f := range fields {
		if out := v.Validate(f, answers[f.ID]); !out.Valid {
			errs[f.ID] = out.Message
		}
	}
	return errs
}

func ValidateAll(fields []*models.Field, answers models.AnswerMap) models.ErrorMap {
	return defaultValidator.ValidateAll(fields, answers)
}

// IsEmpty reports whether value counts as unanswered: nil or a
// whitespace-only string.
func IsEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case *string:
		return v == nil || strings.TrimSpace(*v) == ""
	}
	return false
}

// Stringify renders an answer the way it is matched against patterns and
// shown to the user.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case *string:
		if v == nil {
			return ""
		}
		return *v
	case float64:
		return formatNumber(v)
	case float32:
		return formatNumber(float64(v))
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case time.Time:
		return v.Format("2006-01-02")
	}
	return fmt.Sprint(value)
}

func (v *Validator) now() time.Time {
	if v.Now == nil {
		return time.Now()
	}
	return v.Now()
}

func (v *Validator) pattern(expr string) *regexp.Regexp {
	if cached, ok := v.patterns.Load(expr); ok {
		re, _ := cached.(*regexp.Regexp)
		return re
	}
	// A template pattern that does not compile cannot be satisfied by any
	// answer, so the rule is skipped rather than blocking the field.
	re, err := regexp.Compile(expr)
	if err != nil {
		re = nil
	}
	v.patterns.Store(expr, re)
	return re
}

func (v *Validator) plausiblePhone(str string) bool {
	num, err := phonenumbers.Parse(strings.TrimSpace(str), v.PhoneRegion)
	if err != nil {
		return false
	}
	return phonenumbers.IsPossibleNumber(num)
}

func typeMessage(kind models.FieldKind) string {
	return fmt.Sprintf("must be a valid %s", kind)
}

func checkLength(str string, rules *models.Rules) string {
	if rules.MinLength == nil && rules.MaxLength == nil {
		return ""
	}
	n := utf8.RuneCountInString(str)
	tooShort := rules.MinLength != nil && n < *rules.MinLength
	tooLong := rules.MaxLength != nil && n > *rules.MaxLength
	if !tooShort && !tooLong {
		return ""
	}
	if rules.MinLength != nil && rules.MaxLength != nil {
		return fmt.Sprintf("must be between %d and %d characters", *rules.MinLength, *rules.MaxLength)
	}
	if tooShort {
		return fmt.Sprintf("must be at least %d characters", *rules.MinLength)
	}
	return fmt.Sprintf("must be at most %d characters", *rules.MaxLength)
}

func toNumber(value any) (float64, bool) {
	var n float64
	switch v := value.(type) {
	case float64:
		n = v
	case float32:
		n = float64(v)
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		n = parsed
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func dateLike(value any) bool {
	switch value.(type) {
	case string, *string, time.Time:
		return true
	}
	return false
}

func parseDate(value any) (time.Time, bool) {
	if t, ok := value.(time.Time); ok {
		return t, true
	}
	str := strings.TrimSpace(Stringify(value))
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, str); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// dayOf drops the time of day so dates compare by calendar day.
func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func hasOption(options []models.Option, value string) bool {
	for _, opt := range options {
		if opt.Value == value {
			return true
		}
	}
	return false
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}
