// Package protocol defines the peer wire frame and the JSON envelope used by
// the local control surface.
//
// A peer frame is a single WebSocket text message of the form
//
//	time=<timestamp>;text=<payload>
//
// Nothing is escaped. Decode splits on the first ';' only, so a payload may
// contain ';' and '=' freely, but a timestamp containing ';' will be cut in
// the wrong place. Peers that need arbitrary content should move to a
// length-prefixed or JSON envelope; this format is kept for compatibility
// with existing peers.
package protocol

import (
	"errors"
	"fmt"
	"strings"
)

const (
	timeKey   = "time="
	textKey   = "text="
	separator = ";"
)

// ErrMalformedFrame is returned by Decode when the frame has no separator.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is one decoded peer message.
type Frame struct {
	Time string
	Text string
}

// Encode renders a frame for the wire.
func Encode(timestamp, text string) string {
	return timeKey + timestamp + separator + textKey + text
}

// String returns the wire form of f.
func (f Frame) String() string {
	return Encode(f.Time, f.Text)
}

// Decode parses a wire frame. The timestamp is whatever follows "time=" in
// the part before the first ';' and the text is whatever follows "text=" in
// the remainder. A missing key leaves the whole part in place.
func Decode(raw string) (Frame, error) {
	head, tail, ok := strings.Cut(raw, separator)
	if !ok {
		return Frame{}, fmt.Errorf("%w: no %q in %d byte frame", ErrMalformedFrame, separator, len(raw))
	}
	return Frame{
		Time: after(head, timeKey),
		Text: after(tail, textKey),
	}, nil
}

func after(s, key string) string {
	if _, rest, ok := strings.Cut(s, key); ok {
		return rest
	}
	return s
}
