// Package gcode holds the data model shared by the scheduler and the
// conditional file interpreter: a Code, its parameters, and the queue
// state a Code moves through on its way to the firmware and back.
package gcode

import (
	"fmt"
)

// Channel identifies the logical originator of a Code. Each channel has
// its own queue and busy bit (spec.md §3, §4.3).
type Channel uint8

const (
	HTTP Channel = iota
	Telnet
	File
	USB
	Aux
	Trigger
	Queue
	LCD
	SBC
	Daemon
	Autopause
	File2
	Queue2
	Unknown

	numChannels = int(Unknown) + 1
)

func (c Channel) String() string {
	switch c {
	case HTTP:
		return "HTTP"
	case Telnet:
		return "Telnet"
	case File:
		return "File"
	case USB:
		return "USB"
	case Aux:
		return "Aux"
	case Trigger:
		return "Trigger"
	case Queue:
		return "Queue"
	case LCD:
		return "LCD"
	case SBC:
		return "SBC"
	case Daemon:
		return "Daemon"
	case Autopause:
		return "Autopause"
	case File2:
		return "File2"
	case Queue2:
		return "Queue2"
	default:
		return "Unknown"
	}
}

// NumChannels is the size of the fixed channel set.
func NumChannels() int { return numChannels }

// Type is the broad category of a Code.
type Type uint8

const (
	TypeG Type = iota
	TypeM
	TypeT
	TypeComment
	TypeKeyword
	TypeNone
)

// Keyword enumerates the conditional-block keywords recognized by the
// file interpreter (spec.md §4.4). None means "not a keyword code".
type Keyword uint8

const (
	KeywordNone Keyword = iota
	KeywordIf
	KeywordElif
	KeywordElse
	KeywordWhile
	KeywordBreak
	KeywordContinue
	KeywordVar
	KeywordGlobal
	KeywordSet
	KeywordEcho
	KeywordAbort
	KeywordReturn
)

// Flags are per-Code behavioral bits.
type Flags uint8

const (
	FlagAsynchronous Flags = 1 << iota
	FlagInternallyProcessed
	FlagUnbuffered
)

// Parameter is a single letter+value pair, e.g. "X12.5".
type Parameter struct {
	Letter byte
	Value  string
}

// Code is one parsed G/M/T-code or keyword statement, plus enough
// provenance (file, line, indent) for the interpreter and the
// scheduler's error reporting.
type Code struct {
	Channel Channel
	Type    Type

	MajorNumber int
	MinorNumber int // 0 if absent (HasMinor false), e.g. G28 has no minor number
	HasMinor    bool

	Parameters []Parameter

	Keyword    Keyword
	KeywordArg string // the raw expression text following the keyword

	Comment string // full comment text, present when Type == TypeComment

	Indent int

	// Source position, used by the interpreter for loop re-seeking and
	// by error messages.
	FilePosition int64
	LineNumber   int

	Flags Flags

	// IsSystemCode marks a Code that originates from a firmware-requested
	// macro rather than an externally awaited submission (spec.md §3).
	IsSystemCode bool

	// Completion, if non-nil, is signaled exactly once when this Code
	// reaches Finished or Failed.
	Completion *Completion
}

// Param returns the value for the given parameter letter and whether it
// was present.
func (c *Code) Param(letter byte) (string, bool) {
	for _, p := range c.Parameters {
		if p.Letter == letter {
			return p.Value, true
		}
	}
	return "", false
}

func (c *Code) String() string {
	switch c.Type {
	case TypeComment:
		return fmt.Sprintf("; %s", c.Comment)
	case TypeKeyword:
		return fmt.Sprintf("%s %s", keywordName(c.Keyword), c.KeywordArg)
	case TypeNone:
		return "<empty>"
	default:
		s := fmt.Sprintf("%c%d", typeLetter(c.Type), c.MajorNumber)
		if c.HasMinor {
			s += fmt.Sprintf(".%d", c.MinorNumber)
		}
		for _, p := range c.Parameters {
			s += fmt.Sprintf(" %c%s", p.Letter, p.Value)
		}
		return s
	}
}

func typeLetter(t Type) byte {
	switch t {
	case TypeG:
		return 'G'
	case TypeM:
		return 'M'
	case TypeT:
		return 'T'
	default:
		return '?'
	}
}

func keywordName(k Keyword) string {
	switch k {
	case KeywordIf:
		return "if"
	case KeywordElif:
		return "elif"
	case KeywordElse:
		return "else"
	case KeywordWhile:
		return "while"
	case KeywordBreak:
		return "break"
	case KeywordContinue:
		return "continue"
	case KeywordVar:
		return "var"
	case KeywordGlobal:
		return "global"
	case KeywordSet:
		return "set"
	case KeywordEcho:
		return "echo"
	case KeywordAbort:
		return "abort"
	case KeywordReturn:
		return "return"
	default:
		return ""
	}
}

// Completion is the handle a Code's originator waits on. Exactly one of
// Reply/Err is meaningful once Done is closed.
type Completion struct {
	done  chan struct{}
	reply string
	err   error
}

// NewCompletion returns an unresolved Completion.
func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Done returns a channel that is closed once Resolve has been called.
func (c *Completion) Done() <-chan struct{} { return c.done }

// Resolve finalizes the completion. It must be called exactly once.
func (c *Completion) Resolve(reply string, err error) {
	c.reply = reply
	c.err = err
	close(c.done)
}

// Result returns the resolved reply/error. Callers must wait on Done()
// first.
func (c *Completion) Result() (string, error) {
	return c.reply, c.err
}
