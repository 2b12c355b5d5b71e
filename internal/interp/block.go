package interp

import "github.com/rrf-io/sbcd/internal/gcode"

// codeBlock is one frame of the interpreter's block stack (spec.md
// §3 "Code block (file interpreter)").
type codeBlock struct {
	starting *gcode.Code // the keyword code that opened this block
	indent   int

	iterations int

	processBlock  bool // current branch taken?
	expectingElse bool // last sibling condition was false?
	continueLoop  bool // a `continue` was hit, re-enter rather than exit

	seenCodes bool // any real code executed inside this block?

	localVars []string // var/global names declared directly in this block
}

func (b *codeBlock) isWhile() bool {
	return b.starting != nil && b.starting.Keyword == gcode.KeywordWhile
}

func (b *codeBlock) declareVar(name string) {
	b.localVars = append(b.localVars, name)
}
