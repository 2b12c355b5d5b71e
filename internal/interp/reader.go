package interp

import (
	"bufio"
	"io"
)

// lineSource turns an io.ReadSeeker into a sequence of raw lines, each
// tagged with the byte offset it started at, so the interpreter can
// seek back precisely for loop re-entry (spec.md §4.4 "Position
// semantics").
type lineSource struct {
	r          io.ReadSeeker
	br         *bufio.Reader
	offset     int64
	lineNumber int // -1 means unknown, per spec.md's seek semantics
}

func newLineSource(r io.ReadSeeker) *lineSource {
	return &lineSource{r: r, br: bufio.NewReader(r), lineNumber: 1}
}

// next returns the next raw line (without its trailing newline), the
// byte offset it started at, and its line number. io.EOF is returned
// once the underlying stream is exhausted.
func (s *lineSource) next() (line string, startOffset int64, lineNumber int, err error) {
	startOffset = s.offset
	lineNumber = s.lineNumber

	raw, err := s.br.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", startOffset, lineNumber, err
	}
	if raw == "" && err == io.EOF {
		return "", startOffset, lineNumber, io.EOF
	}

	s.offset += int64(len(raw))
	if s.lineNumber >= 0 {
		s.lineNumber++
	}

	if n := len(raw); n > 0 && raw[n-1] == '\n' {
		raw = raw[:n-1]
		if n := len(raw); n > 0 && raw[n-1] == '\r' {
			raw = raw[:n-1]
		}
	}
	return raw, startOffset, lineNumber, nil
}

// position reports the byte offset the next call to next() will start
// reading from.
func (s *lineSource) position() int64 { return s.offset }

// seek repositions the stream. Per spec.md, line numbering resets to 1
// only when seeking to the very start of the file; otherwise it
// becomes unknown (-1) until the caller re-synchronizes it.
func (s *lineSource) seek(pos int64) error {
	if _, err := s.r.Seek(pos, io.SeekStart); err != nil {
		return err
	}
	s.br = bufio.NewReader(s.r)
	s.offset = pos
	if pos == 0 {
		s.lineNumber = 1
	} else {
		s.lineNumber = -1
	}
	return nil
}
