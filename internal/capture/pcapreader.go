package capture

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const pcapngMagic = 0x0A0D0D0A

// frameReader is satisfied by both pcapgo.Reader and pcapgo.NgReader.
type frameReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Source reads frames from one capture file and keeps a single frame of
// read-ahead so the next timestamp can be inspected without consuming it.
type Source struct {
	path   string
	index  int
	file   *os.File
	reader frameReader

	next    *Frame
	pending error
	seq     int
	done    bool
	closed  bool
}

// Open opens a pcap or pcapng file. index is the position of the source in
// the caller's list and is copied into every frame.
func Open(path string, index int) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture %q: %w", path, err)
	}
	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		f.Close()
		return nil, &FormatError{Path: path, Err: fmt.Errorf("read magic: %w", err)}
	}

	var r frameReader
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		r, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		r, err = pcapgo.NewReader(br)
	}
	if err != nil {
		f.Close()
		return nil, &FormatError{Path: path, Err: err}
	}
	return &Source{path: path, index: index, file: f, reader: r}, nil
}

// Path returns the file the source was opened from.
func (s *Source) Path() string {
	return s.path
}

// Index returns the position of the source in the caller's list.
func (s *Source) Index() int {
	return s.index
}

// LinkType returns the link layer type of the capture.
func (s *Source) LinkType() layers.LinkType {
	return s.reader.LinkType()
}

// PeekTimestamp returns the timestamp of the next unread frame. It returns
// false once the source is exhausted. A pending read error reports the zero
// time so a merging caller pulls from this source next and sees the error.
func (s *Source) PeekTimestamp() (time.Time, bool) {
	s.fill()
	if s.pending != nil {
		return time.Time{}, true
	}
	if s.next == nil {
		return time.Time{}, false
	}
	return s.next.Timestamp, true
}

// ReadNext consumes and returns the next frame. After exhaustion it returns
// ErrEndOfStream. A damaged record is reported once as a *FormatError and
// ends the source since the file cannot be resynchronized.
func (s *Source) ReadNext() (*Frame, error) {
	s.fill()
	if s.pending != nil {
		err := s.pending
		s.pending = nil
		return nil, err
	}
	if s.next == nil {
		return nil, ErrEndOfStream
	}
	f := s.next
	s.next = nil
	return f, nil
}

// Exhausted reports whether every frame has been consumed.
func (s *Source) Exhausted() bool {
	s.fill()
	return s.next == nil && s.pending == nil
}

func (s *Source) fill() {
	if s.next != nil || s.pending != nil || s.done || s.closed {
		return
	}
	data, ci, err := s.reader.ReadPacketData()
	if err != nil {
		s.done = true
		if errors.Is(err, io.EOF) {
			return
		}
		s.pending = &FormatError{Path: s.path, Frame: s.seq + 1, Err: err}
		return
	}
	s.seq++
	s.next = &Frame{
		Data:          data,
		Timestamp:     ci.Timestamp,
		CaptureLength: ci.CaptureLength,
		Length:        ci.Length,
		Seq:           s.seq,
		Source:        s.index,
		LinkType:      s.reader.LinkType(),
	}
}

// Close releases the file. Calling it more than once is a no-op.
func (s *Source) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.next = nil
	s.pending = nil
	return s.file.Close()
}
