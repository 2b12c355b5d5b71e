// Package interp implements the conditional gcode file interpreter
// (spec.md §4.4): it turns a flat stream of parsed codes into the
// effect of if/elif/else/while/break/continue blocks, tracking local
// variable scope and loop iteration counts, and yields only the codes
// that survive block reconciliation.
package interp

import "github.com/rrf-io/sbcd/internal/gcode"

// Evaluator is the injected expression-evaluation capability (spec.md
// §9 "Expression evaluator is an injected capability"). The
// interpreter never embeds expression-evaluation logic itself; it
// asks the evaluator to resolve a keyword code's argument, optionally
// as a boolean.
type Evaluator interface {
	Evaluate(code *gcode.Code, expectBool bool) (string, error)
}
