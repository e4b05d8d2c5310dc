package lsb

import (
	"errors"
	"testing"
)

func TestCapacity(t *testing.T) {
	t.Parallel()
	tests := []struct {
		g          Geometry
		capacity   uint64
		maxPayload uint64
	}{
		{Geometry{Width: 3, Height: 3, Channels: 1, BitDepth: 8}, 1, 0},
		{Geometry{Width: 8, Height: 8, Channels: 3, BitDepth: 8}, 24, 12},
		{Geometry{Width: 10, Height: 10, Channels: 4, BitDepth: 16}, 50, 38},
		{Geometry{Width: 7, Height: 1, Channels: 2, BitDepth: 8}, 1, 0},
		{Geometry{Width: 65536, Height: 65536, Channels: 4, BitDepth: 8}, 1 << 31, 1<<31 - 12},
	}
	for _, tc := range tests {
		if got := Capacity(tc.g); got != tc.capacity {
			t.Errorf("Capacity(%s) = %d, want %d", tc.g, got, tc.capacity)
		}
		if got := MaxPayload(tc.g); got != tc.maxPayload {
			t.Errorf("MaxPayload(%s) = %d, want %d", tc.g, got, tc.maxPayload)
		}
	}
}

func TestCheckCapacityBoundary(t *testing.T) {
	t.Parallel()
	g := Geometry{Width: 8, Height: 8, Channels: 3, BitDepth: 8}
	if err := CheckCapacity(Capacity(g)-FrameOverhead, g); err != nil {
		t.Fatalf("payload of capacity-12 bytes rejected: %v", err)
	}
	if err := CheckCapacity(Capacity(g)-FrameOverhead+1, g); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("payload of capacity-11 bytes: err = %v, want ErrCapacityExceeded", err)
	}
}

func TestGeometryValidate(t *testing.T) {
	t.Parallel()
	bad := []Geometry{
		{Width: 4, Height: 4, Channels: 0, BitDepth: 8},
		{Width: 4, Height: 4, Channels: 5, BitDepth: 8},
		{Width: 4, Height: 4, Channels: 3, BitDepth: 4},
		{Width: 4, Height: 4, Channels: 3, BitDepth: 12},
	}
	for _, g := range bad {
		if err := g.Validate(); !errors.Is(err, ErrUnsupportedCarrier) {
			t.Errorf("Validate(%s) = %v, want ErrUnsupportedCarrier", g, err)
		}
	}
	good := Geometry{Width: 4, Height: 4, Channels: 2, BitDepth: 16}
	if err := good.Validate(); err != nil {
		t.Errorf("Validate(%s) = %v", good, err)
	}
	if got := good.BufferLen(); got != 64 {
		t.Errorf("BufferLen = %d, want 64", got)
	}
}
