// Package filter narrows the population before matchmaking using a CEL
// expression evaluated against each item.
//
// The expression sees one variable, item, with the fields id, name,
// image_path and rating:
//
//	item.rating >= 900.0 && !item.name.startsWith("test-")
package filter

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/okian/duel/internal/domain/model"
)

// Filter is a compiled population filter. The zero value and a nil *Filter
// keep every item. A Filter is safe for concurrent use.
type Filter struct {
	expr string
	prg  cel.Program
}

// New compiles expr. An empty expression yields a filter that keeps
// everything.
func New(expr string) (*Filter, error) {
	if expr == "" {
		return &Filter{}, nil
	}

	env, err := cel.NewEnv(cel.Variable("item", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}

	return &Filter{expr: expr, prg: prg}, nil
}

// Expression returns the source expression.
func (f *Filter) Expression() string {
	if f == nil {
		return ""
	}
	return f.expr
}

// Match reports whether it passes the filter.
func (f *Filter) Match(it model.Item) (bool, error) {
	if f == nil || f.prg == nil {
		return true, nil
	}

	out, _, err := f.prg.Eval(map[string]any{"item": input(it)})
	if err != nil {
		return false, fmt.Errorf("%w: item %s: %v", ErrEvaluate, it.ID, err)
	}

	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("%w: got %T", ErrNotBoolean, out.Value())
	}
	return ok, nil
}

// Apply returns the items that pass the filter, preserving order. The first
// evaluation error aborts the whole call.
func (f *Filter) Apply(items []model.Item) ([]model.Item, error) {
	if f == nil || f.prg == nil {
		return items, nil
	}

	kept := make([]model.Item, 0, len(items))
	for _, it := range items {
		ok, err := f.Match(it)
		if err != nil {
			return nil, err
		}
		if ok {
			kept = append(kept, it)
		}
	}
	return kept, nil
}

func input(it model.Item) map[string]any {
	return map[string]any{
		"id":         it.ID,
		"name":       it.Name,
		"image_path": it.ImagePath,
		"rating":     it.Rating,
	}
}
