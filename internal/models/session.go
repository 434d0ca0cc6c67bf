package models

import "maps"

type Phase string

const (
	PhaseLoading    Phase = "loading"
	PhaseCollecting Phase = "collecting"
	PhaseSubmitting Phase = "submitting"
	PhaseResult     Phase = "result"
	PhaseFailed     Phase = "failed"
)

// AnswerMap maps field ids to answers: string, float64, ISO date string or nil.
type AnswerMap map[string]any

func (a AnswerMap) Clone() AnswerMap {
	if a == nil {
		return AnswerMap{}
	}
	return maps.Clone(a)
}

// ErrorMap maps field ids to a validation message. Valid fields are absent.
type ErrorMap map[string]string

func (e ErrorMap) Clone() ErrorMap {
	if e == nil {
		return ErrorMap{}
	}
	return maps.Clone(e)
}

// FirstIn returns the index of the first field in fields that has an error,
// or -1.
func (e ErrorMap) FirstIn(fields []*Field) int {
	for i, f := range fields {
		if _, ok := e[f.ID]; ok {
			return i
		}
	}
	return -1
}
