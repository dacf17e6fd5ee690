package hymnplayer

import (
	"errors"
	"fmt"
)

// ErrLoadSuperseded is returned by a Load that finished after a newer Load
// had already started. The newer load wins; nothing was installed.
var ErrLoadSuperseded = errors.New("hymnplayer: load superseded by a newer load")

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("hymnplayer: player closed")

// LoadError reports a MIDI source that could not be fetched or parsed. The
// player keeps whatever it had loaded before.
type LoadError struct {
	Src string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("hymnplayer: load %s: %v", e.Src, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// TransportMisuseError reports a transport operation that is not valid in
// the current state. The state is unchanged.
type TransportMisuseError struct {
	Op    string
	State State
}

func (e *TransportMisuseError) Error() string {
	return fmt.Sprintf("hymnplayer: %s not allowed while %s", e.Op, e.State)
}
