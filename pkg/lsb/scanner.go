// scanner.go - Streaming marker search over recovered bytes.
package lsb

import (
	"fmt"
	"io"
)

// Phase is the coarse state of a Scanner.
type Phase uint8

const (
	SeekingStart Phase = iota
	SeekingEnd
	ReadingChecksum
)

func (p Phase) String() string {
	switch p {
	case SeekingStart:
		return "SeekingStart"
	case SeekingEnd:
		return "SeekingEnd"
	case ReadingChecksum:
		return "ReadingChecksum"
	default:
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
}

// ScanState is a phase plus the number of marker or checksum bytes matched in it.
type ScanState struct {
	Phase    Phase
	Progress uint8 // 0..4
}

// Terminal reports whether the full checksum has been read.
func (s ScanState) Terminal() bool {
	return s.Phase == ReadingChecksum && s.Progress == 4
}

func (s ScanState) String() string {
	return fmt.Sprintf("%s(%d)", s.Phase, s.Progress)
}

// Result describes a recovered payload.
type Result struct {
	PayloadLen uint64
	Computed   uint32 // CRC-32/CKSUM of the bytes written to the sink
	Stored     uint32 // checksum read from the carrier
	ChecksumOK bool
}

// Scanner consumes recovered bytes one at a time and writes payload bytes to
// its sink as soon as they are known not to belong to the end marker. It
// never looks back at bytes it has already consumed.
type Scanner struct {
	state ScanState
	w     io.Writer
	crc   cksum
	one   [1]byte
	err   error

	payloadLen uint64
	stored     uint32
}

// NewScanner returns a Scanner in SeekingStart(0) writing payload bytes to w.
func NewScanner(w io.Writer) *Scanner {
	return &Scanner{w: w}
}

// State returns the current state.
func (s *Scanner) State() ScanState { return s.state }

// Feed consumes one recovered byte. done is true once the state is terminal;
// further bytes are ignored. err is non-nil only when the sink fails.
func (s *Scanner) Feed(b byte) (done bool, err error) {
	if s.err != nil {
		return false, s.err
	}

	switch s.state.Phase {
	case SeekingStart:
		// A mismatching byte is dropped without checking whether it could
		// open a new start marker.
		if b != startBytes[s.state.Progress] {
			s.state.Progress = 0
			return false, nil
		}
		s.state.Progress++
		if s.state.Progress == 4 {
			s.state = ScanState{Phase: SeekingEnd}
		}
		return false, nil

	case SeekingEnd:
		n := s.state.Progress
		if b == endBytes[n] {
			n++
			if n == 4 {
				s.state = ScanState{Phase: ReadingChecksum}
			} else {
				s.state.Progress = n
			}
			return false, nil
		}
		// The speculative prefix was payload after all.
		if n > 0 {
			if err := s.emit(endBytes[:n]); err != nil {
				return false, err
			}
		}
		if b == endBytes[0] {
			s.state.Progress = 1
			return false, nil
		}
		s.state.Progress = 0
		s.one[0] = b
		return false, s.emit(s.one[:])

	case ReadingChecksum:
		if s.state.Progress == 4 {
			return true, nil
		}
		s.stored = s.stored<<8 | uint32(b)
		s.state.Progress++
		return s.state.Progress == 4, nil
	}
	return false, nil
}

func (s *Scanner) emit(p []byte) error {
	if _, err := s.w.Write(p); err != nil {
		s.err = fmt.Errorf("write payload: %w", err)
		return s.err
	}
	s.crc.Write(p)
	s.payloadLen += uint64(len(p))
	return nil
}

// Result reports the outcome once input is exhausted or the state is terminal.
func (s *Scanner) Result() (Result, error) {
	res := Result{PayloadLen: s.payloadLen, Computed: s.crc.Sum32()}
	if s.err != nil {
		return res, s.err
	}

	switch {
	case s.state.Phase == SeekingStart:
		return Result{}, ErrStartMarkerNotFound
	case s.state.Phase == SeekingEnd:
		return res, fmt.Errorf("%w after %d bytes", ErrEndMarkerNotFound, s.payloadLen)
	case !s.state.Terminal():
		return res, fmt.Errorf("%w: %d of 4 bytes read", ErrChecksumTruncated, s.state.Progress)
	}

	res.Stored = s.stored
	res.ChecksumOK = res.Computed == res.Stored
	if !res.ChecksumOK {
		return res, fmt.Errorf("%w: computed 0x%08x, stored 0x%08x", ErrChecksumMismatch, res.Computed, res.Stored)
	}
	return res, nil
}
