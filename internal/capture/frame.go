package capture

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket/layers"
)

var (
	// ErrFormat matches every *FormatError.
	ErrFormat = errors.New("malformed capture")

	// ErrEndOfStream is returned when reading from an exhausted source.
	ErrEndOfStream = errors.New("end of capture stream")
)

// Frame is one captured packet plus its capture metadata. Frames are not
// modified after they are read.
type Frame struct {
	Data          []byte
	Timestamp     time.Time
	CaptureLength int
	Length        int
	// Seq is the 1-based position of the frame within its source.
	Seq int
	// Source is the index of the originating source.
	Source   int
	LinkType layers.LinkType
}

// Truncated reports whether fewer bytes were captured than were on the wire.
func (f *Frame) Truncated() bool {
	return f.CaptureLength < f.Length
}

// FormatError reports a capture file that is not a recognized format or is
// cut short.
type FormatError struct {
	Path string
	// Frame is the 1-based frame number that failed, 0 for the file header.
	Frame int
	Err   error
}

func (e *FormatError) Error() string {
	if e.Frame == 0 {
		return fmt.Sprintf("capture %q: bad header: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("capture %q: frame %d: %v", e.Path, e.Frame, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

func (e *FormatError) Is(target error) bool { return target == ErrFormat }
