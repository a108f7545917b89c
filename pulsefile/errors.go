package pulsefile

import "fmt"

// ParseError describes where a Pulsefile stopped making sense.
type ParseError struct {
	Line   int
	Column int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("pulsefile:%d:%d: %s", e.Line, e.Column, e.Msg)
}
