package scheduler

import "github.com/rrf-io/sbcd/internal/gcode"

// FileReader is the subset of internal/interp's Interpreter the
// scheduler needs to pull codes from a running file or macro. Defined
// here rather than imported so internal/interp never needs to import
// internal/scheduler: interp.Interpreter satisfies this by having the
// right method set, not by declared conformance.
type FileReader interface {
	// ReadCode returns the next code, or (nil, nil) at end of file.
	ReadCode() (*gcode.Code, error)
	// Position reports the current byte offset, for M26/M27 and resume.
	Position() int64
	Close() error
}

// Opener resolves a macro/file name to a FileReader. cmd/sbcd wires
// this to its macroOpener, which builds an interp.Interpreter; the scheduler itself knows nothing about the
// filesystem layout (spec.md §4.4 "macro directory resolution").
type Opener func(channel gcode.Channel, filename string) (FileReader, error)

// macroFrame is one entry in a channel's macro stack (spec.md §4.3
// "Macro stacking").
type macroFrame struct {
	filename string
	reader   FileReader
	// isFile marks the bottom-most frame, a running print file as
	// opposed to a triggered macro; aborting a file also clears any
	// macros stacked above it.
	isFile bool
}

// MaxMacroDepth bounds recursive macro nesting (spec.md §4.3
// "Invariants", matching the firmware's own stack limit).
const MaxMacroDepth = 9

// pushMacro opens filename via opener and pushes it onto ch's macro
// stack. Returns an error if the stack is already at MaxMacroDepth or
// the file can't be opened.
func (ch *channelQueue) pushMacro(channel gcode.Channel, filename string, isFile bool, opener Opener) error {
	if len(ch.macros) >= MaxMacroDepth {
		return errMacroStackFull
	}
	r, err := opener(channel, filename)
	if err != nil {
		return err
	}
	ch.macros = append(ch.macros, &macroFrame{filename: filename, reader: r, isFile: isFile})
	return nil
}

// popMacro closes and removes the innermost macro frame, if any.
func (ch *channelQueue) popMacro() {
	n := len(ch.macros)
	if n == 0 {
		return
	}
	ch.macros[n-1].reader.Close()
	ch.macros = ch.macros[:n-1]
}

// abortMacros closes every frame on the stack, file included (spec.md
// §4.3 "AbortFile").
func (ch *channelQueue) abortMacros() {
	for len(ch.macros) > 0 {
		ch.popMacro()
	}
}
