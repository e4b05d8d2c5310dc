// capacity.go - Carrier geometry and the one-bit-per-sample capacity model.
package lsb

import "fmt"

// Geometry describes the flat sample buffer of a carrier image.
// Samples are stored row-major, channel-interleaved, one or two bytes each.
type Geometry struct {
	Width    uint32
	Height   uint32
	Channels uint8 // 1 gray, 2 gray+alpha, 3 RGB, 4 RGBA
	BitDepth uint8 // 8 or 16
}

// Validate reports ErrUnsupportedCarrier for channel counts or bit depths
// the sample-plane codec cannot address.
func (g Geometry) Validate() error {
	if g.Channels < 1 || g.Channels > 4 {
		return fmt.Errorf("%w: %d channels", ErrUnsupportedCarrier, g.Channels)
	}
	if g.BitDepth != 8 && g.BitDepth != 16 {
		return fmt.Errorf("%w: bit depth %d", ErrUnsupportedCarrier, g.BitDepth)
	}
	return nil
}

// Samples returns the number of samples in the carrier.
func (g Geometry) Samples() uint64 {
	return uint64(g.Width) * uint64(g.Height) * uint64(g.Channels)
}

// BytesPerSample returns 1 for 8-bit and 2 for 16-bit carriers.
func (g Geometry) BytesPerSample() int {
	return int(g.BitDepth) / 8
}

// BufferLen returns the expected length of the flat sample buffer.
func (g Geometry) BufferLen() uint64 {
	return g.Samples() * uint64(g.BytesPerSample())
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d, %d channel(s), %d-bit", g.Width, g.Height, g.Channels, g.BitDepth)
}

// Capacity returns the largest framed stream, in bytes, the carrier can hold.
func Capacity(g Geometry) uint64 {
	return g.Samples() / 8
}

// MaxPayload returns the largest payload that still leaves room for the
// markers and checksum. It is zero for carriers smaller than the overhead.
func MaxPayload(g Geometry) uint64 {
	c := Capacity(g)
	if c < FrameOverhead {
		return 0
	}
	return c - FrameOverhead
}

// CheckCapacity fails with ErrCapacityExceeded when a payload of payloadLen
// bytes plus framing overhead would not fit the carrier.
func CheckCapacity(payloadLen uint64, g Geometry) error {
	if err := g.Validate(); err != nil {
		return err
	}
	if payloadLen+FrameOverhead > Capacity(g) {
		return fmt.Errorf("%w: %d bytes + %d framing > %d available",
			ErrCapacityExceeded, payloadLen, FrameOverhead, Capacity(g))
	}
	return nil
}

// checkBuffer verifies that samples matches the geometry exactly.
func checkBuffer(samples []byte, g Geometry) error {
	if err := g.Validate(); err != nil {
		return err
	}
	if uint64(len(samples)) != g.BufferLen() {
		return fmt.Errorf("%w: sample buffer is %d bytes, geometry %s needs %d",
			ErrUnsupportedCarrier, len(samples), g, g.BufferLen())
	}
	return nil
}
