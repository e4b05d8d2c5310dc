//go:build js && wasm

// gosteg WASM - client-side encoder and decoder.
// Compiled with: GOOS=js GOARCH=wasm go build -o gosteg.wasm ./clients/wasm/
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"syscall/js"

	"github.com/xob0t/gosteg/pkg/carrier"
	"github.com/xob0t/gosteg/pkg/generator"
	"github.com/xob0t/gosteg/pkg/lsb"
	"github.com/xob0t/gosteg/pkg/payload"
)

// Registered carriers, so large images cross the JS boundary once.
var (
	carriersMu sync.RWMutex
	carriers   = make(map[string][]byte)
)

func main() {
	fmt.Println("gosteg WASM loaded")

	js.Global().Set("goEncode", js.FuncOf(encode))
	js.Global().Set("goDecode", js.FuncOf(decode))
	js.Global().Set("goInfo", js.FuncOf(info))
	js.Global().Set("goCover", js.FuncOf(cover))
	js.Global().Set("goRegisterCarrier", js.FuncOf(registerCarrier))
	js.Global().Set("goRemoveCarrier", js.FuncOf(removeCarrier))
	js.Global().Set("goReady", js.ValueOf(true))

	// Block forever (WASM must not exit).
	select {}
}

func fail(format string, a ...any) js.Value {
	return js.ValueOf("error: " + fmt.Sprintf(format, a...))
}

func reply(v any) js.Value {
	b, err := json.Marshal(v)
	if err != nil {
		return fail("marshal: %v", err)
	}
	return js.ValueOf(string(b))
}

// loadCarrier accepts a registered carrier ID or base64 image data.
func loadCarrier(ref string) (*carrier.Image, error) {
	carriersMu.RLock()
	data, ok := carriers[ref]
	carriersMu.RUnlock()
	if !ok {
		var err error
		if data, err = base64.StdEncoding.DecodeString(ref); err != nil {
			return nil, fmt.Errorf("invalid base64: %w", err)
		}
	}
	return carrier.Decode(bytes.NewReader(data))
}

// goRegisterCarrier(id, base64Data) - keep a carrier in Go memory.
func registerCarrier(this js.Value, args []js.Value) any {
	if len(args) < 2 {
		return fail("need id, base64Data")
	}
	data, err := base64.StdEncoding.DecodeString(args[1].String())
	if err != nil {
		return fail("invalid base64: %v", err)
	}
	if _, err := carrier.Decode(bytes.NewReader(data)); err != nil {
		return fail("%v", err)
	}
	carriersMu.Lock()
	carriers[args[0].String()] = data
	carriersMu.Unlock()
	return js.ValueOf("ok")
}

// goRemoveCarrier(id) - drop a registered carrier.
func removeCarrier(this js.Value, args []js.Value) any {
	if len(args) < 1 {
		return fail("need id")
	}
	carriersMu.Lock()
	delete(carriers, args[0].String())
	carriersMu.Unlock()
	return js.ValueOf("ok")
}

// goEncode(carrier, base64Payload, zstd) - embed and return JSON with the base64 stego image.
func encode(this js.Value, args []js.Value) any {
	if len(args) < 2 {
		return fail("need carrier, base64Payload")
	}
	im, err := loadCarrier(args[0].String())
	if err != nil {
		return fail("carrier: %v", err)
	}
	data, err := base64.StdEncoding.DecodeString(args[1].String())
	if err != nil {
		return fail("payload: invalid base64: %v", err)
	}
	if len(args) > 2 && args[2].Truthy() {
		if data, err = payload.Compress(bytes.NewReader(data)); err != nil {
			return fail("%v", err)
		}
	}

	rep, err := lsb.Encode(im.Samples, im.Geometry, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fail("%v", err)
	}
	var out bytes.Buffer
	if err := im.Encode(&out); err != nil {
		return fail("encode %s: %v", im.Format, err)
	}
	return reply(map[string]any{
		"image":      base64.StdEncoding.EncodeToString(out.Bytes()),
		"mime":       im.Format.MIME(),
		"checksum":   fmt.Sprintf("0x%08x", rep.Checksum),
		"length":     rep.PayloadLen,
		"collisions": rep.EndMarkerCollisions,
	})
}

// goDecode(carrier, zstd) - extract and return JSON with the base64 payload.
// A checksum mismatch still returns the payload with "checksum_ok": false.
func decode(this js.Value, args []js.Value) any {
	if len(args) < 1 {
		return fail("need carrier")
	}
	im, err := loadCarrier(args[0].String())
	if err != nil {
		return fail("carrier: %v", err)
	}

	var buf bytes.Buffer
	res, err := lsb.Decode(im.Samples, im.Geometry, &buf)
	if err != nil && !errors.Is(err, lsb.ErrChecksumMismatch) {
		return fail("%v", err)
	}
	data := buf.Bytes()
	if res.ChecksumOK && len(args) > 1 && args[1].Truthy() {
		if data, err = payload.Decompress(data); err != nil {
			return fail("%v", err)
		}
	}
	return reply(map[string]any{
		"payload":     base64.StdEncoding.EncodeToString(data),
		"checksum":    fmt.Sprintf("0x%08x", res.Computed),
		"stored":      fmt.Sprintf("0x%08x", res.Stored),
		"checksum_ok": res.ChecksumOK,
	})
}

// goInfo(carrier) - return JSON with geometry, capacity and payload presence.
func info(this js.Value, args []js.Value) any {
	if len(args) < 1 {
		return fail("need carrier")
	}
	im, err := loadCarrier(args[0].String())
	if err != nil {
		return fail("carrier: %v", err)
	}
	res, err := lsb.Decode(im.Samples, im.Geometry, io.Discard)
	g := im.Geometry
	return reply(map[string]any{
		"format":      im.Format,
		"width":       g.Width,
		"height":      g.Height,
		"channels":    g.Channels,
		"bit_depth":   g.BitDepth,
		"capacity":    im.Capacity(),
		"max_payload": im.MaxPayload(),
		"has_payload": !errors.Is(err, lsb.ErrStartMarkerNotFound),
		"payload_ok":  err == nil,
		"length":      res.PayloadLen,
	})
}

// goCover(configJSON, format) - render a cover and return it as base64.
func cover(this js.Value, args []js.Value) any {
	if len(args) < 2 {
		return fail("need configJSON, format")
	}
	var cfg generator.Config
	if err := json.Unmarshal([]byte(args[0].String()), &cfg); err != nil {
		return fail("parse config: %v", err)
	}
	cfg.FontPath = ""

	var out bytes.Buffer
	if err := generator.GenerateToWriter(&out, carrier.Format(args[1].String()), cfg); err != nil {
		return fail("%v", err)
	}
	return js.ValueOf(base64.StdEncoding.EncodeToString(out.Bytes()))
}
