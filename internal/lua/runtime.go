package lua

import (
	"context"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/mpataki/clerk/internal/models"
	"github.com/mpataki/clerk/internal/validator"
)

const defaultTimeout = 100 * time.Millisecond

// Evaluator decides conditional field visibility. Expression conditionals run
// in a sandboxed Lua state with the answers exposed as the `answers` table.
type Evaluator struct {
	timeout time.Duration
}

func NewEvaluator() *Evaluator {
	return &Evaluator{timeout: defaultTimeout}
}

// Visible reports whether a field guarded by cond should be shown for answers.
// A nil conditional is always visible. An equality conditional whose field
// has no answer is not satisfied.
func (e *Evaluator) Visible(ctx context.Context, cond *models.Conditional, answers models.AnswerMap) (bool, error) {
	if cond == nil {
		return true, nil
	}

	if cond.Expr != "" {
		return e.evalExpr(ctx, cond.Expr, answers)
	}

	if cond.Field == "" {
		return false, fmt.Errorf("conditional must name a field or an expression")
	}

	actual, ok := answers[cond.Field]
	if !ok || validator.IsEmpty(actual) {
		return false, nil
	}
	return validator.Stringify(actual) == validator.Stringify(cond.Value), nil
}

func (e *Evaluator) evalExpr(ctx context.Context, expr string, answers models.AnswerMap) (bool, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true, // Don't load any libraries by default
	})
	defer L.Close()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	L.SetContext(ctx)

	openSafeLibs(L)
	L.SetGlobal("answers", answersToTable(L, answers))
	L.SetGlobal("has", L.NewFunction(func(L *lua.LState) int {
		v, ok := answers[L.CheckString(1)]
		L.Push(lua.LBool(ok && !validator.IsEmpty(v)))
		return 1
	}))

	if err := L.DoString("return (" + expr + ")"); err != nil {
		return false, fmt.Errorf("failed to evaluate conditional %q: %w", expr, err)
	}

	result := L.Get(-1)
	L.Pop(1)
	return lua.LVAsBool(result), nil
}

// openSafeLibs loads only the safe standard libraries
func openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)

	// Remove dangerous base functions
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("print", lua.LNil)

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// Remove non-deterministic math functions
	math := L.GetGlobal("math")
	if tbl, ok := math.(*lua.LTable); ok {
		L.SetField(tbl, "random", lua.LNil)
		L.SetField(tbl, "randomseed", lua.LNil)
	}
}

func answersToTable(L *lua.LState, answers models.AnswerMap) *lua.LTable {
	tbl := L.NewTable()
	for key, value := range answers {
		tbl.RawSetString(key, toLuaValue(value))
	}
	return tbl
}

func toLuaValue(value any) lua.LValue {
	switch v := value.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(v)
	case float64:
		return lua.LNumber(v)
	case int:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case string:
		return lua.LString(v)
	default:
		return lua.LString(validator.Stringify(v))
	}
}
