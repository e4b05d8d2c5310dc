package lsb

import (
	"bytes"
	"io"
	"testing"
)

func readAll(t *testing.T, f *Framer) []byte {
	t.Helper()
	var out []byte
	for {
		b, err := f.ReadByte()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("ReadByte: %v", err)
		}
		out = append(out, b)
	}
}

func TestFramerLayout(t *testing.T) {
	t.Parallel()
	payload := []byte("hi")
	f := NewFramer(bytes.NewReader(payload))
	got := readAll(t, f)

	sum := ChecksumCKSUM(payload)
	want := []byte{
		0x0F, 0x1F, 0x2F, 0xFF,
		'h', 'i',
		0x0E, 0x1E, 0x2E, 0xEE,
		byte(sum >> 24), byte(sum >> 16), byte(sum >> 8), byte(sum),
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("framed = % x\nwant     % x", got, want)
	}
	if f.Emitted() != uint64(len(want)) {
		t.Errorf("Emitted = %d, want %d", f.Emitted(), len(want))
	}
	if f.PayloadLen() != 2 {
		t.Errorf("PayloadLen = %d, want 2", f.PayloadLen())
	}
	if f.Checksum() != sum {
		t.Errorf("Checksum = 0x%08x, want 0x%08x", f.Checksum(), sum)
	}
	if _, err := f.ReadByte(); err != io.EOF {
		t.Errorf("ReadByte after end = %v, want io.EOF", err)
	}
}

func TestFramerEmptyPayload(t *testing.T) {
	t.Parallel()
	got := readAll(t, NewFramer(bytes.NewReader(nil)))
	want := []byte{0x0F, 0x1F, 0x2F, 0xFF, 0x0E, 0x1E, 0x2E, 0xEE, 0xFF, 0xFF, 0xFF, 0xFF}
	if !bytes.Equal(got, want) {
		t.Fatalf("framed = % x, want % x", got, want)
	}
}

func TestFramerEndMarkerCollisions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		payload []byte
		want    int
	}{
		{name: "none", payload: []byte{0x0E, 0x1E, 0x2E, 0x00}, want: 0},
		{name: "one", payload: []byte{0x01, 0x0E, 0x1E, 0x2E, 0xEE, 0x02}, want: 1},
		{name: "restart", payload: []byte{0x0E, 0x0E, 0x1E, 0x2E, 0xEE}, want: 1},
		{name: "two", payload: []byte{0x0E, 0x1E, 0x2E, 0xEE, 0x0E, 0x1E, 0x2E, 0xEE}, want: 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := NewFramer(bytes.NewReader(tc.payload))
			readAll(t, f)
			if got := f.EndMarkerCollisions(); got != tc.want {
				t.Fatalf("EndMarkerCollisions = %d, want %d", got, tc.want)
			}
		})
	}
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestFramerReadError(t *testing.T) {
	t.Parallel()
	boom := io.ErrClosedPipe
	f := NewFramer(failingReader{err: boom})
	for i := 0; i < 4; i++ {
		if _, err := f.ReadByte(); err != nil {
			t.Fatalf("start marker byte %d: %v", i, err)
		}
	}
	if _, err := f.ReadByte(); err != boom {
		t.Fatalf("ReadByte = %v, want %v", err, boom)
	}
	if _, err := f.ReadByte(); err != boom {
		t.Fatalf("error is not sticky: %v", err)
	}
}
