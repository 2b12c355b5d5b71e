package interp

import (
	"errors"
	"io"
	"strings"

	"github.com/rrf-io/sbcd/internal/gcode"
)

// ErrOutsideLoop is returned by GetIterations, break, and continue when
// used outside any enclosing while block.
var ErrOutsideLoop = errors.New("interp: not inside a loop")

// Interpreter reads a gcode file and yields the codes that survive
// if/elif/else/while block reconciliation (spec.md §4.4). It
// implements the method set internal/scheduler.FileReader expects
// (ReadCode, Position, Close) without importing that package.
type Interpreter struct {
	filename  string
	channel   gcode.Channel
	system    bool // true for firmware-triggered macros, false for print files
	evaluator Evaluator

	src       *lineSource
	lastMajor int

	stack []*codeBlock

	// lastPoppedAtIndent is set by reconcile so a following elif/else
	// can validate chain membership without re-walking the stack.
	lastPoppedAtIndent *codeBlock

	// reopening carries a while block's iteration count across a
	// loop re-seek: the block is popped for real, and the re-read
	// `while` line picks its count back up by matching file position.
	reopening *codeBlock

	pending []*gcode.Completion // emitted, not yet Finished/Failed
	closed  bool
}

// New builds an Interpreter over r, reading codes for channel.
// system marks this as a macro run rather than a top-level print file.
func New(r io.ReadSeeker, filename string, channel gcode.Channel, system bool, evaluator Evaluator) *Interpreter {
	return &Interpreter{
		filename:  filename,
		channel:   channel,
		system:    system,
		evaluator: evaluator,
		src:       newLineSource(r),
		lastMajor: -1,
	}
}

// Position reports the interpreter's current byte offset (spec.md
// §4.4 "Position semantics").
func (in *Interpreter) Position() int64 { return in.src.position() }

// SetPosition seeks the underlying stream. Per spec.md, seeking to 0
// resets the line counter to 1; any other seek leaves it unknown.
func (in *Interpreter) SetPosition(pos int64) error {
	return in.src.seek(pos)
}

// Close releases the underlying stream's resources, if it implements
// io.Closer.
func (in *Interpreter) Close() error {
	in.closed = true
	if c, ok := in.src.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// GetIterations scans the stack for the innermost while block and
// returns its iteration counter (spec.md §4.4 "Iteration count").
func (in *Interpreter) GetIterations(code *gcode.Code) (int, error) {
	for i := len(in.stack) - 1; i >= 0; i-- {
		if in.stack[i].isWhile() {
			return in.stack[i].iterations, nil
		}
	}
	return 0, ErrOutsideLoop
}

// active reports whether the block currently on top of the stack is
// being executed; an empty stack is always active (top-level body).
func (in *Interpreter) active() bool {
	if len(in.stack) == 0 {
		return true
	}
	return in.stack[len(in.stack)-1].processBlock
}

// flush blocks until every code this interpreter has emitted since
// the last flush has reached Finished or Failed (spec.md §4.4
// "Pending codes"). Completions are attached directly to each
// gcode.Code at emission time, so this needs no handle back to
// whatever is actually executing them.
func (in *Interpreter) flush() {
	for _, c := range in.pending {
		<-c.Done()
	}
	in.pending = in.pending[:0]
}

// ReadCode returns the next code this interpreter yields, or (nil,
// nil) at end of file (spec.md §4.4's `read_code() -> Option<Code>`).
func (in *Interpreter) ReadCode() (*gcode.Code, error) {
	for {
		raw, startOffset, lineNumber, err := in.src.next()
		if err == io.EOF {
			reseeked, rErr := in.reconcile(nil, 0, true)
			if rErr != nil {
				return nil, rErr
			}
			if reseeked {
				continue
			}
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		code, perr := gcode.ParseLine(in.filename, lineNumber, raw, &in.lastMajor)
		if perr != nil {
			return nil, perr
		}
		code.FilePosition = startOffset

		if code.Type == gcode.TypeComment || code.Type == gcode.TypeNone {
			continue
		}

		reseeked, err := in.reconcile(&code, code.Indent, false)
		if err != nil {
			return nil, err
		}
		if reseeked {
			continue
		}

		if len(in.stack) > 0 {
			in.stack[len(in.stack)-1].seenCodes = true
		}

		emit, result, err := in.step(&code)
		if err != nil {
			return nil, err
		}
		if !emit {
			continue
		}
		return result, nil
	}
}

// reconcile pops every block whose starting indent is >= the new
// code's indent (spec.md §4.4). atEOF treats the end of file as a
// dedent past everything. Returns true if a while-loop re-seek
// happened, in which case the caller should resume reading from the
// top of the loop.
func (in *Interpreter) reconcile(code *gcode.Code, indent int, atEOF bool) (reseeked bool, err error) {
	in.lastPoppedAtIndent = nil
	for len(in.stack) > 0 {
		top := in.stack[len(in.stack)-1]
		if !atEOF && top.indent < indent {
			break
		}

		if top.isWhile() {
			if !top.seenCodes {
				return false, &gcode.ParseError{File: in.filename, Line: top.starting.LineNumber, Msg: "empty while body"}
			}
			if top.processBlock || top.continueLoop {
				in.flush()
				in.stack = in.stack[:len(in.stack)-1]
				top.iterations++
				top.continueLoop = false
				if err := in.src.seek(top.starting.FilePosition); err != nil {
					return false, err
				}
				in.reopening = top
				return true, nil
			}
		}

		in.stack = in.stack[:len(in.stack)-1]
		in.lastPoppedAtIndent = top
	}
	return false, nil
}

// step processes one non-comment, non-control-flow-reconciled code:
// pushing/evaluating if/elif/else/while, handling break/continue,
// gating var/global/set/echo/regular codes on block activity, and
// emitting abort/return immediately. Returns whether a code should be
// handed back to the caller.
func (in *Interpreter) step(code *gcode.Code) (emit bool, result *gcode.Code, err error) {
	switch {
	case code.Type == gcode.TypeKeyword && code.Keyword == gcode.KeywordWhile:
		cond := in.active()
		if cond {
			val, err := in.evaluator.Evaluate(code, true)
			if err != nil {
				return false, nil, err
			}
			cond = val == "true"
		}
		iterations := 0
		if in.reopening != nil && in.reopening.starting.FilePosition == code.FilePosition {
			iterations = in.reopening.iterations
			in.reopening = nil
		}
		in.stack = append(in.stack, &codeBlock{starting: code, indent: code.Indent, processBlock: cond, iterations: iterations})
		return false, nil, nil

	case code.Type == gcode.TypeKeyword && code.Keyword == gcode.KeywordIf:
		cond := in.active()
		if cond {
			val, err := in.evaluator.Evaluate(code, true)
			if err != nil {
				return false, nil, err
			}
			cond = val == "true"
		}
		in.stack = append(in.stack, &codeBlock{starting: code, indent: code.Indent, processBlock: cond, expectingElse: !cond})
		return false, nil, nil

	case code.Type == gcode.TypeKeyword && (code.Keyword == gcode.KeywordElif || code.Keyword == gcode.KeywordElse):
		prior := in.lastPoppedAtIndent
		if prior == nil || prior.indent != code.Indent ||
			(prior.starting.Keyword != gcode.KeywordIf && prior.starting.Keyword != gcode.KeywordElif) {
			return false, nil, &gcode.ParseError{File: in.filename, Line: code.LineNumber, Msg: "elif/else without matching if"}
		}
		grandparentActive := in.active()
		cond := grandparentActive && prior.expectingElse
		if cond && code.Keyword == gcode.KeywordElif {
			val, err := in.evaluator.Evaluate(code, true)
			if err != nil {
				return false, nil, err
			}
			cond = val == "true"
		}
		in.stack = append(in.stack, &codeBlock{starting: code, indent: code.Indent, processBlock: cond, expectingElse: prior.expectingElse && !cond})
		return false, nil, nil

	case code.Type == gcode.TypeKeyword && code.Keyword == gcode.KeywordBreak:
		if !in.unwindToLoop(false) {
			return false, nil, &gcode.ParseError{File: in.filename, Line: code.LineNumber, Msg: "break outside loop"}
		}
		return false, nil, nil

	case code.Type == gcode.TypeKeyword && code.Keyword == gcode.KeywordContinue:
		if !in.unwindToLoop(true) {
			return false, nil, &gcode.ParseError{File: in.filename, Line: code.LineNumber, Msg: "continue outside loop"}
		}
		return false, nil, nil

	case code.Type == gcode.TypeKeyword && (code.Keyword == gcode.KeywordAbort || code.Keyword == gcode.KeywordReturn):
		if !in.active() {
			return false, nil, nil
		}
		in.flush()
		in.Close()
		return true, in.emit(code), nil

	case code.Type == gcode.TypeKeyword && (code.Keyword == gcode.KeywordVar || code.Keyword == gcode.KeywordGlobal):
		if !in.active() {
			return false, nil, nil
		}
		if len(in.stack) > 0 {
			in.stack[len(in.stack)-1].declareVar(firstToken(code.KeywordArg))
		}
		return true, in.emit(code), nil

	case code.Type == gcode.TypeKeyword:
		// set, echo
		if !in.active() {
			return false, nil, nil
		}
		return true, in.emit(code), nil

	default:
		// Regular G/M/T code.
		if !in.active() {
			return false, nil, nil
		}
		return true, in.emit(code), nil
	}
}

// unwindToLoop walks the stack clearing processBlock until it reaches
// a while block, marking it for continuation or exit (spec.md §4.4
// "break"/"continue").
func (in *Interpreter) unwindToLoop(isContinue bool) bool {
	for i := len(in.stack) - 1; i >= 0; i-- {
		b := in.stack[i]
		b.processBlock = false
		if b.isWhile() {
			b.continueLoop = isContinue
			return true
		}
	}
	return false
}

// emit finalizes a code for execution: attaches its channel and a
// completion handle, and tracks it for the next flush.
func (in *Interpreter) emit(code *gcode.Code) *gcode.Code {
	code.Channel = in.channel
	code.IsSystemCode = in.system
	code.Completion = gcode.NewCompletion()
	in.pending = append(in.pending, code.Completion)
	return code
}

func firstToken(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " \t="); i >= 0 {
		return s[:i]
	}
	return s
}
