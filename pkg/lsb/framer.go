// framer.go - Lazily produces the framed byte stream from a payload reader.
package lsb

import (
	"bufio"
	"encoding/binary"
	"io"
)

type framePhase uint8

const (
	framingStart framePhase = iota
	framingPayload
	framingEnd
	framingChecksum
	framingDone
)

// Framer is a pull source over StartMarker | payload | EndMarker | checksum.
// The payload is read once, in order, and never held in memory; the checksum
// is folded in as bytes pass through.
type Framer struct {
	src   *bufio.Reader
	crc   cksum
	phase framePhase
	pos   int
	tail  [4]byte
	err   error

	payloadLen uint64
	emitted    uint64

	match      int
	collisions int
}

// NewFramer returns a Framer reading the payload from r.
func NewFramer(r io.Reader) *Framer {
	return &Framer{src: bufio.NewReader(r)}
}

// ReadByte returns the next framed byte, or io.EOF once the checksum has been produced.
func (f *Framer) ReadByte() (byte, error) {
	if f.err != nil {
		return 0, f.err
	}
	for {
		switch f.phase {
		case framingStart:
			b := startBytes[f.pos]
			f.step(framingPayload)
			return f.emit(b)
		case framingPayload:
			b, err := f.src.ReadByte()
			if err == io.EOF {
				binary.BigEndian.PutUint32(f.tail[:], f.crc.Sum32())
				f.phase = framingEnd
				continue
			}
			if err != nil {
				f.err = err
				return 0, err
			}
			f.crc.WriteByte(b)
			f.payloadLen++
			f.trackCollision(b)
			return f.emit(b)
		case framingEnd:
			b := endBytes[f.pos]
			f.step(framingChecksum)
			return f.emit(b)
		case framingChecksum:
			b := f.tail[f.pos]
			f.step(framingDone)
			return f.emit(b)
		default:
			return 0, io.EOF
		}
	}
}

// step advances within a 4-byte field and moves to next after its last byte.
func (f *Framer) step(next framePhase) {
	f.pos++
	if f.pos == 4 {
		f.pos = 0
		f.phase = next
	}
}

func (f *Framer) emit(b byte) (byte, error) {
	f.emitted++
	return b, nil
}

// trackCollision counts complete end markers inside the payload. The marker
// bytes are pairwise distinct, so a mismatch can only restart at END[0].
func (f *Framer) trackCollision(b byte) {
	switch {
	case b == endBytes[f.match]:
		f.match++
		if f.match == len(endBytes) {
			f.collisions++
			f.match = 0
		}
	case b == endBytes[0]:
		f.match = 1
	default:
		f.match = 0
	}
}

// Checksum returns the CRC-32/CKSUM of the payload bytes read so far. It is
// final once the payload has been exhausted.
func (f *Framer) Checksum() uint32 { return f.crc.Sum32() }

// PayloadLen returns the number of payload bytes read.
func (f *Framer) PayloadLen() uint64 { return f.payloadLen }

// Emitted returns the number of framed bytes handed out, markers included.
func (f *Framer) Emitted() uint64 { return f.emitted }

// EndMarkerCollisions returns how many end markers appeared inside the payload.
func (f *Framer) EndMarkerCollisions() int { return f.collisions }
