// Package lsb hides a byte payload in the least-significant bit of every
// sample of a flat image buffer and recovers it again.
//
// The embedded stream is framed as
//
//	StartMarker (4 bytes BE) | payload | EndMarker (4 bytes BE) | CRC-32/CKSUM(payload) (4 bytes BE)
//
// and written one bit per sample, most-significant bit of each byte first.
// The payload length is never stored: decoding scans for the end marker.
package lsb

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Framing constants. They are part of the on-carrier format and must not change.
const (
	StartMarker uint32 = 0x0F1F2FFF
	EndMarker   uint32 = 0x0E1E2EEE

	// FrameOverhead is start marker + end marker + checksum.
	FrameOverhead = 12
)

var (
	startBytes = markerBytes(StartMarker)
	endBytes   = markerBytes(EndMarker)
)

func markerBytes(m uint32) [4]byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], m)
	return b
}

// EncodeReport summarizes one Encode call.
type EncodeReport struct {
	Checksum    uint32 // CRC-32/CKSUM of the payload
	PayloadLen  uint64
	FramedBytes uint64 // framed bytes fully written into the carrier
	Truncated   bool   // the carrier ran out of samples before the framed stream ended

	// EndMarkerCollisions counts end markers found inside the payload itself.
	// A payload with collisions cannot be recovered intact.
	EndMarkerCollisions int
}

// Encode embeds exactly size bytes read from payload into samples, in place.
// Capacity is checked before any sample is modified. If payload yields fewer
// than size bytes the samples are restored and io.ErrUnexpectedEOF is returned.
func Encode(samples []byte, g Geometry, payload io.Reader, size int64) (EncodeReport, error) {
	var rep EncodeReport
	if err := checkBuffer(samples, g); err != nil {
		return rep, err
	}
	if size < 0 {
		return rep, fmt.Errorf("negative payload size %d", size)
	}
	if err := CheckCapacity(uint64(size), g); err != nil {
		return rep, err
	}

	// The frame touches only a prefix of the buffer; keep it for rollback.
	touched := min(uint64(len(samples)), (uint64(size)+FrameOverhead)*8*uint64(g.BytesPerSample()))
	saved := append([]byte(nil), samples[:touched]...)

	f := NewFramer(io.LimitReader(payload, size))
	st, err := Embed(samples, g, f)
	if err != nil {
		copy(samples, saved)
		return rep, err
	}

	rep = EncodeReport{
		Checksum:            f.Checksum(),
		PayloadLen:          f.PayloadLen(),
		FramedBytes:         st.FramedBytes,
		Truncated:           st.Truncated,
		EndMarkerCollisions: f.EndMarkerCollisions(),
	}
	if rep.PayloadLen != uint64(size) {
		copy(samples, saved)
		return rep, fmt.Errorf("payload: read %d of %d bytes: %w", rep.PayloadLen, size, io.ErrUnexpectedEOF)
	}
	return rep, nil
}

// Decode scans samples for a framed payload and streams the payload to w.
//
// On ErrChecksumMismatch the payload has still been written in full and the
// returned Result is populated. On ErrEndMarkerNotFound whatever was written
// to w must not be trusted. On ErrStartMarkerNotFound nothing is written.
func Decode(samples []byte, g Geometry, w io.Writer) (Result, error) {
	sc := NewScanner(w)
	if err := Extract(samples, g, sc); err != nil {
		return Result{}, err
	}
	return sc.Result()
}
