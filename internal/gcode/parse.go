package gcode

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseError reports a file+line parse failure (spec.md §7 "Code
// parse/flow error").
type ParseError struct {
	File string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
}

// ParseLine parses a single gcode source line into a Code. Indent is the
// count of leading whitespace characters (spec.md §6). lastMajor carries
// the previous line's major number forward so that CNC/Laser-style
// "bare letter" continuations (a letter with no digits before the next
// parameter, e.g. "G X10") repeat it.
func ParseLine(file string, lineNumber int, raw string, lastMajor *int) (Code, error) {
	line := strings.TrimRight(raw, "\r\n")
	indent := 0
	for indent < len(line) && (line[indent] == ' ' || line[indent] == '\t') {
		indent++
	}
	trimmed := strings.TrimSpace(line[indent:])

	c := Code{Indent: indent, LineNumber: lineNumber}

	if trimmed == "" {
		c.Type = TypeNone
		return c, nil
	}

	if trimmed[0] == ';' {
		c.Type = TypeComment
		c.Comment = strings.TrimSpace(trimmed[1:])
		return c, nil
	}
	if trimmed[0] == '(' {
		end := strings.IndexByte(trimmed, ')')
		if end < 0 {
			end = len(trimmed)
		}
		c.Type = TypeComment
		c.Comment = strings.TrimSpace(trimmed[1:end])
		return c, nil
	}

	if kw, arg, ok := parseKeyword(trimmed); ok {
		c.Type = TypeKeyword
		c.Keyword = kw
		c.KeywordArg = arg
		return c, nil
	}

	return parseMajorCode(file, lineNumber, trimmed, indent, lastMajor)
}

var keywords = map[string]Keyword{
	"if":       KeywordIf,
	"elif":     KeywordElif,
	"else":     KeywordElse,
	"while":    KeywordWhile,
	"break":    KeywordBreak,
	"continue": KeywordContinue,
	"var":      KeywordVar,
	"global":   KeywordGlobal,
	"set":      KeywordSet,
	"echo":     KeywordEcho,
	"abort":    KeywordAbort,
	"return":   KeywordReturn,
}

func parseKeyword(trimmed string) (Keyword, string, bool) {
	i := strings.IndexAny(trimmed, " \t")
	word := trimmed
	rest := ""
	if i >= 0 {
		word = trimmed[:i]
		rest = strings.TrimSpace(trimmed[i+1:])
	}
	kw, ok := keywords[strings.ToLower(word)]
	if !ok {
		return KeywordNone, "", false
	}
	return kw, rest, true
}

func parseMajorCode(file string, lineNumber int, trimmed string, indent int, lastMajor *int) (Code, error) {
	var c Code
	c.Indent = indent
	c.LineNumber = lineNumber

	letter := trimmed[0]
	switch letter {
	case 'G', 'g':
		c.Type = TypeG
	case 'M', 'm':
		c.Type = TypeM
	case 'T', 't':
		c.Type = TypeT
	default:
		return c, &ParseError{File: file, Line: lineNumber, Msg: fmt.Sprintf("unexpected character %q", letter)}
	}

	rest := trimmed[1:]
	digitEnd := 0
	for digitEnd < len(rest) && (isDigit(rest[digitEnd]) || rest[digitEnd] == '.') {
		digitEnd++
	}

	numText := rest[:digitEnd]
	rest = rest[digitEnd:]

	if numText == "" {
		// Bare letter: CNC/Laser mode major-number repetition (spec.md §6).
		if lastMajor == nil {
			return c, &ParseError{File: file, Line: lineNumber, Msg: "missing major number"}
		}
		c.MajorNumber = *lastMajor
	} else {
		parts := strings.SplitN(numText, ".", 2)
		n, err := strconv.Atoi(parts[0])
		if err != nil {
			return c, &ParseError{File: file, Line: lineNumber, Msg: fmt.Sprintf("bad major number %q", numText)}
		}
		c.MajorNumber = n
		if len(parts) == 2 && parts[1] != "" {
			minor, err := strconv.Atoi(parts[1])
			if err != nil {
				return c, &ParseError{File: file, Line: lineNumber, Msg: fmt.Sprintf("bad minor number %q", numText)}
			}
			c.MinorNumber = minor
			c.HasMinor = true
		}
		if lastMajor != nil {
			*lastMajor = c.MajorNumber
		}
	}

	params, comment, err := parseParameters(rest)
	if err != nil {
		return c, &ParseError{File: file, Line: lineNumber, Msg: err.Error()}
	}
	c.Parameters = params
	_ = comment

	return c, nil
}

func parseParameters(rest string) ([]Parameter, string, error) {
	var params []Parameter
	i := 0
	for i < len(rest) {
		for i < len(rest) && (rest[i] == ' ' || rest[i] == '\t') {
			i++
		}
		if i >= len(rest) {
			break
		}
		if rest[i] == ';' {
			return params, strings.TrimSpace(rest[i+1:]), nil
		}
		letter := rest[i]
		if !isLetter(letter) {
			return nil, "", fmt.Errorf("unexpected character %q in parameters", letter)
		}
		i++
		start := i
		if i < len(rest) && rest[i] == '"' {
			i++
			for i < len(rest) && rest[i] != '"' {
				i++
			}
			if i < len(rest) {
				i++ // closing quote
			}
		} else {
			for i < len(rest) && rest[i] != ' ' && rest[i] != '\t' && rest[i] != ';' {
				i++
			}
		}
		params = append(params, Parameter{Letter: letter, Value: rest[start:i]})
	}
	return params, "", nil
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
func isLetter(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}
