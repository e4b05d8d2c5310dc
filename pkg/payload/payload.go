// Package payload holds optional transforms applied to a payload before it is
// framed into a carrier.
package payload

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Magic is the zstd frame magic; Decompress refuses input without it.
var Magic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// MaxDecodedSize bounds the output of Decompress.
const MaxDecodedSize = 1 << 30

// ErrTooLarge reports a frame that expands past the caller's limit.
var ErrTooLarge = errors.New("decompressed payload too large")

var encPool = sync.Pool{
	New: func() any {
		enc, err := zstd.NewWriter(nil,
			zstd.WithEncoderConcurrency(1),
			zstd.WithEncoderLevel(zstd.SpeedBetterCompression),
			zstd.WithZeroFrames(true),
		)
		if err != nil {
			panic(err)
		}
		return enc
	},
}

var decPool = sync.Pool{
	New: func() any {
		dec, err := zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderLowmem(true),
			zstd.WithDecoderMaxMemory(MaxDecodedSize),
		)
		if err != nil {
			panic(err)
		}
		return dec
	},
}

// Compress reads r to the end and returns a single zstd frame.
func Compress(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	enc := encPool.Get().(*zstd.Encoder)
	out := enc.EncodeAll(data, nil)
	encPool.Put(enc)
	return out, nil
}

// Decompress inverts Compress.
func Decompress(data []byte) ([]byte, error) {
	if !IsCompressed(data) {
		return nil, fmt.Errorf("payload is not zstd compressed")
	}
	dec := decPool.Get().(*zstd.Decoder)
	out, err := dec.DecodeAll(data, nil)
	decPool.Put(dec)
	if errors.Is(err, zstd.ErrDecoderSizeExceeded) {
		return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, MaxDecodedSize)
	}
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return out, nil
}

// DecompressLimit is Decompress for untrusted input: it streams the frame and
// fails with ErrTooLarge once more than limit bytes come out.
func DecompressLimit(data []byte, limit int64) ([]byte, error) {
	if !IsCompressed(data) {
		return nil, fmt.Errorf("payload is not zstd compressed")
	}
	if limit <= 0 || limit > MaxDecodedSize {
		limit = MaxDecodedSize
	}
	dec, err := zstd.NewReader(bytes.NewReader(data),
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderLowmem(true),
		zstd.WithDecoderMaxWindow(uint64(max(zstd.MinWindowSize, min(limit, 1<<27)))),
	)
	if err != nil {
		return nil, limitErr(err)
	}
	defer dec.Close()

	var out bytes.Buffer
	n, err := io.Copy(&out, io.LimitReader(dec, limit+1))
	if err != nil {
		return nil, limitErr(err)
	}
	if n > limit {
		return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, limit)
	}
	return out.Bytes(), nil
}

// IsCompressed reports whether data starts with a zstd frame header.
func IsCompressed(data []byte) bool {
	return bytes.HasPrefix(data, Magic)
}

func limitErr(err error) error {
	if errors.Is(err, zstd.ErrWindowSizeExceeded) {
		return fmt.Errorf("%w: %v", ErrTooLarge, err)
	}
	return fmt.Errorf("zstd: %w", err)
}
