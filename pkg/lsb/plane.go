// plane.go - Maps framed bits onto sample bytes and back.
package lsb

import (
	"fmt"
	"io"
)

// SampleOffset returns the offset of the byte whose LSB carries bit k.
// 16-bit samples are big-endian, so only their low-order byte is addressed.
func SampleOffset(k uint64, bitDepth uint8) uint64 {
	if bitDepth == 16 {
		return 2*k + 1
	}
	return k
}

// SetLSB replaces the least-significant bit of b.
func SetLSB(b, bit byte) byte { return b&0xFE | bit&0x01 }

// GetLSB returns the least-significant bit of b.
func GetLSB(b byte) byte { return b & 0x01 }

// EmbedStats reports what Embed wrote.
type EmbedStats struct {
	FramedBytes uint64
	Truncated   bool
}

// Embed writes the bytes of src into samples, one bit per sample, MSB first.
// Samples past the end of src keep their original value. When samples run out
// first, embedding stops quietly and Truncated is set.
func Embed(samples []byte, g Geometry, src io.ByteReader) (EmbedStats, error) {
	var st EmbedStats
	if err := checkBuffer(samples, g); err != nil {
		return st, err
	}

	step := g.BytesPerSample()
	var cur byte
	bits := 0
	for i := step - 1; i < len(samples); i += step {
		if bits == 0 {
			b, err := src.ReadByte()
			if err == io.EOF {
				return st, nil
			}
			if err != nil {
				return st, fmt.Errorf("read framed stream: %w", err)
			}
			cur, bits = b, 8
		}
		samples[i] = SetLSB(samples[i], cur>>7)
		cur <<= 1
		bits--
		if bits == 0 {
			st.FramedBytes++
		}
	}

	if bits > 0 {
		st.Truncated = true
		return st, nil
	}
	if _, err := src.ReadByte(); err == nil {
		st.Truncated = true
	} else if err != io.EOF {
		return st, fmt.Errorf("read framed stream: %w", err)
	}
	return st, nil
}

// Extract reads one bit per sample, assembles bytes MSB first and feeds them
// to sc until it reaches a terminal state or the samples run out. The outcome
// is available from sc.Result.
func Extract(samples []byte, g Geometry, sc *Scanner) error {
	if err := checkBuffer(samples, g); err != nil {
		return err
	}

	step := g.BytesPerSample()
	var cur byte
	bits := 0
	for i := step - 1; i < len(samples); i += step {
		cur = cur<<1 | GetLSB(samples[i])
		bits++
		if bits < 8 {
			continue
		}
		done, err := sc.Feed(cur)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		cur, bits = 0, 0
	}
	return nil
}
