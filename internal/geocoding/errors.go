package geocoding

import (
	"errors"
	"fmt"
)

// Kind classifies why a lookup did not produce coordinates.
type Kind string

const (
	KindTimeout   Kind = "Timeout"
	KindNoMatch   Kind = "NoMatch"
	KindTransport Kind = "TransportError"
	KindParse     Kind = "ParseError"
)

type Error struct {
	Kind     Kind
	Location string
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	if e.Kind == KindNoMatch {
		return "no coordinates found for location: " + e.Location
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the failure kind of err, or "" if err is not a lookup error.
func KindOf(err error) Kind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return ""
}

func IsNoMatch(err error) bool {
	return KindOf(err) == KindNoMatch
}
