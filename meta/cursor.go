package meta

import (
	"bytes"
)

const tokenDelimiter = ' '

// cursor walks space delimited tokens over a read-only byte slice. Tokens are sub-slices
// of the input, the input is never modified.
type cursor struct {
	buf []byte
	pos int
}

func newCursor(buf []byte) *cursor {
	return &cursor{buf: buf}
}

// next skips leading delimiters and returns the following token. The delimiter ending the
// token is consumed. ok is false once the input is exhausted.
func (c *cursor) next() (tok []byte, ok bool) {
	for c.pos < len(c.buf) && c.buf[c.pos] == tokenDelimiter {
		c.pos++
	}
	if c.pos >= len(c.buf) {
		return nil, false
	}
	start := c.pos
	end := bytes.IndexByte(c.buf[start:], tokenDelimiter)
	if end < 0 {
		c.pos = len(c.buf)
		return c.buf[start:], true
	}
	c.pos = start + end + 1
	return c.buf[start : start+end], true
}

// rest returns everything after the last consumed token, internal spacing included.
// ok is false when nothing is left.
func (c *cursor) rest() (tail []byte, ok bool) {
	if c.pos >= len(c.buf) {
		return nil, false
	}
	tail = c.buf[c.pos:]
	c.pos = len(c.buf)
	return tail, true
}

// fields splits buf into tokens the same way next does.
func fields(buf []byte) [][]byte {
	var out [][]byte
	c := newCursor(buf)
	for {
		tok, ok := c.next()
		if !ok {
			return out
		}
		out = append(out, tok)
	}
}
