package pktt

import (
	"github.com/sirupsen/logrus"

	"nfstrace/internal/correlate"
	"nfstrace/internal/stream"
)

// Mode selects how frames of several sources are ordered.
type Mode int

const (
	// ModeParallel interleaves all sources by capture timestamp. Use it for
	// traces captured at the same time on different observation points.
	ModeParallel Mode = iota
	// ModeSerial exhausts the sources one after another in the given order.
	ModeSerial
)

func (m Mode) String() string {
	if m == ModeSerial {
		return "serial"
	}
	return "parallel"
}

// FrameErrorPolicy decides what happens when a source fails mid-stream.
type FrameErrorPolicy int

const (
	// FrameErrorSkip logs the error, drops the damaged source and carries
	// on with the others.
	FrameErrorSkip FrameErrorPolicy = iota
	// FrameErrorAbort returns the error from Next.
	FrameErrorAbort
)

// Config is the complete configuration of a sequencer.
type Config struct {
	Mode Mode
	// DecodeReplies enables program decoding of reply bodies.
	DecodeReplies bool
	// MaxPending bounds the calls waiting for a reply.
	MaxPending   int
	OnFrameError FrameErrorPolicy
	// SkipBadSources lets Open continue when a source other than the first
	// cannot be opened.
	SkipBadSources bool
	MaxRecordSize  int
	Logger         logrus.FieldLogger
}

// DefaultConfig returns the configuration used by the command line tools.
func DefaultConfig() Config {
	return Config{
		Mode:          ModeParallel,
		DecodeReplies: true,
		MaxPending:    correlate.DefaultMaxPending,
		OnFrameError:  FrameErrorSkip,
		MaxRecordSize: stream.DefaultMaxRecordSize,
		Logger:        logrus.StandardLogger(),
	}
}
