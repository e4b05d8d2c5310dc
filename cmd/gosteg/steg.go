package main

import (
	"bufio"
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xob0t/gosteg/pkg/carrier"
	"github.com/xob0t/gosteg/pkg/lsb"
	"github.com/xob0t/gosteg/pkg/payload"
)

func runEncode(args []string) error {
	fs := flag.NewFlagSet("encode", flag.ExitOnError)

	var opt encodeOptions
	fs.StringVar(&opt.input, "i", "", "Payload file, '-' for stdin")
	fs.StringVar(&opt.input, "input", "", "Payload file, '-' for stdin")
	fs.StringVar(&opt.output, "o", "", "Output image")
	fs.StringVar(&opt.output, "output", "", "Output image")
	fs.StringVar(&opt.carrier, "c", "", "Carrier image")
	fs.StringVar(&opt.carrier, "carrier", "", "Carrier image")
	fs.BoolVar(&opt.zstd, "zstd", false, "Compress the payload before embedding")

	fs.Usage = printUsage
	if err := fs.Parse(args); err != nil {
		return err
	}
	var err error
	if opt.carrier, err = carrierArg(fs, opt.carrier); err != nil {
		return err
	}
	if opt.input == "" {
		return fmt.Errorf("payload file is required (-i)")
	}
	if opt.output == "" {
		ext := filepath.Ext(opt.carrier)
		opt.output = strings.TrimSuffix(opt.carrier, ext) + ".steg" + ext
	}

	rep, err := encodeFile(opt, os.Stdin)
	if err != nil {
		return err
	}
	fmt.Printf("File CRC32 0x%08x\n", rep.Checksum)
	fmt.Println(encodeSummary(rep))
	if rep.EndMarkerCollisions > 0 {
		fmt.Fprintf(os.Stderr, "Warning: payload contains the end marker %d time(s); it will not decode intact\n",
			rep.EndMarkerCollisions)
	}
	fmt.Printf("Saved: %s\n", opt.output)
	return nil
}

// encodeSummary reports the framed byte count written to the carrier.
func encodeSummary(rep lsb.EncodeReport) string {
	return fmt.Sprintf("Encoded %d bytes (%d payload + %d metadata bytes)",
		rep.FramedBytes, rep.PayloadLen, rep.FramedBytes-rep.PayloadLen)
}

type encodeOptions struct {
	carrier string
	input   string
	output  string
	zstd    bool
}

// encodeFile embeds the payload named by opt into the carrier and writes the
// result. stdin is read when opt.input is "-".
func encodeFile(opt encodeOptions, stdin io.Reader) (lsb.EncodeReport, error) {
	im, err := carrier.Open(opt.carrier)
	if err != nil {
		return lsb.EncodeReport{}, err
	}
	fmt.Printf("Carrier: %s (%s, %s)\n", opt.carrier, strings.ToUpper(string(im.Format)), im.Geometry)

	var (
		src  io.Reader
		size int64
	)
	if opt.input == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return lsb.EncodeReport{}, fmt.Errorf("read stdin: %w", err)
		}
		src, size = bytes.NewReader(data), int64(len(data))
	} else {
		f, err := os.Open(opt.input)
		if err != nil {
			return lsb.EncodeReport{}, err
		}
		defer f.Close()
		st, err := f.Stat()
		if err != nil {
			return lsb.EncodeReport{}, err
		}
		src, size = f, st.Size()
	}

	if opt.zstd {
		packed, err := payload.Compress(src)
		if err != nil {
			return lsb.EncodeReport{}, err
		}
		fmt.Printf("Compressed %d -> %d bytes\n", size, len(packed))
		src, size = bytes.NewReader(packed), int64(len(packed))
	}

	rep, err := lsb.Encode(im.Samples, im.Geometry, src, size)
	if err != nil {
		return rep, err
	}
	if err := im.Save(opt.output); err != nil {
		return rep, err
	}
	return rep, nil
}

func runDecode(args []string) error {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)

	var (
		output      string
		carrierPath string
		unzstd      bool
	)
	fs.StringVar(&output, "o", "", "Payload destination, '-' for stdout")
	fs.StringVar(&output, "output", "", "Payload destination, '-' for stdout")
	fs.StringVar(&carrierPath, "c", "", "Carrier image")
	fs.StringVar(&carrierPath, "carrier", "", "Carrier image")
	fs.BoolVar(&unzstd, "zstd", false, "Decompress the extracted payload")

	fs.Usage = printUsage
	if err := fs.Parse(args); err != nil {
		return err
	}
	carrierPath, err := carrierArg(fs, carrierPath)
	if err != nil {
		return err
	}
	if output == "" {
		return fmt.Errorf("output file is required (-o)")
	}

	// Keep stdout clean when the payload goes there.
	diag := io.Writer(os.Stdout)
	if output == "-" {
		diag = os.Stderr
	}

	res, err := decodeFile(carrierPath, output, unzstd)
	switch {
	case err == nil:
		fmt.Fprintf(diag, "Decoded %d bytes\n", res.PayloadLen)
		fmt.Fprintf(diag, "File CRC 0x%08x stored CRC 0x%08x\n", res.Computed, res.Stored)
		fmt.Fprintln(diag, "CRC OK!")
		return nil
	case errors.Is(err, lsb.ErrChecksumMismatch):
		fmt.Fprintf(diag, "Decoded %d bytes\n", res.PayloadLen)
		fmt.Fprintf(diag, "File CRC 0x%08x stored CRC 0x%08x\n", res.Computed, res.Stored)
		fmt.Fprintln(diag, "CRC Error!")
		return err
	case errors.Is(err, lsb.ErrEndMarkerNotFound), errors.Is(err, lsb.ErrChecksumTruncated):
		fmt.Fprintf(os.Stderr, "Warning: %d unverified bytes written to %s\n", res.PayloadLen, output)
		return err
	default:
		return err
	}
}

// keepPartial reports whether a failed decode still leaves bytes worth keeping.
func keepPartial(err error) bool {
	return errors.Is(err, lsb.ErrChecksumMismatch) ||
		errors.Is(err, lsb.ErrEndMarkerNotFound) ||
		errors.Is(err, lsb.ErrChecksumTruncated)
}

// decodeFile extracts the payload of the carrier at carrierPath into output.
// The payload is written to a temporary file next to output and renamed into
// place, so a carrier without a payload never leaves a file behind.
func decodeFile(carrierPath, output string, unzstd bool) (lsb.Result, error) {
	im, err := carrier.Open(carrierPath)
	if err != nil {
		return lsb.Result{}, err
	}
	if output == "-" {
		bw := bufio.NewWriter(os.Stdout)
		res, err := decodeTo(im, bw, unzstd)
		if ferr := bw.Flush(); err == nil {
			err = ferr
		}
		return res, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(output), ".gosteg-*")
	if err != nil {
		return lsb.Result{}, err
	}
	bw := bufio.NewWriter(tmp)
	res, err := decodeTo(im, bw, unzstd)
	if ferr := bw.Flush(); err == nil {
		err = ferr
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}

	if err != nil && !keepPartial(err) {
		os.Remove(tmp.Name())
		return res, err
	}
	if cerr := os.Chmod(tmp.Name(), 0644); cerr != nil {
		os.Remove(tmp.Name())
		return res, cerr
	}
	if rerr := os.Rename(tmp.Name(), output); rerr != nil {
		os.Remove(tmp.Name())
		return res, rerr
	}
	return res, err
}

// decodeTo streams the payload to w. With unzstd the payload is buffered,
// verified and decompressed first; a frame that fails verification is
// written as is.
func decodeTo(im *carrier.Image, w io.Writer, unzstd bool) (lsb.Result, error) {
	if !unzstd {
		return lsb.Decode(im.Samples, im.Geometry, w)
	}

	var buf bytes.Buffer
	res, err := lsb.Decode(im.Samples, im.Geometry, &buf)
	if err != nil {
		if keepPartial(err) {
			if _, werr := w.Write(buf.Bytes()); werr != nil {
				return res, werr
			}
		}
		return res, err
	}
	plain, err := payload.Decompress(buf.Bytes())
	if err != nil {
		return res, err
	}
	_, err = w.Write(plain)
	return res, err
}

func runInfo(args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	var carrierPath string
	fs.StringVar(&carrierPath, "c", "", "Carrier image")
	fs.StringVar(&carrierPath, "carrier", "", "Carrier image")
	fs.Usage = printUsage
	if err := fs.Parse(args); err != nil {
		return err
	}
	carrierPath, err := carrierArg(fs, carrierPath)
	if err != nil {
		return err
	}
	return printInfo(carrierPath)
}

// printInfo reports the carrier geometry, its capacity and whether it already
// holds a payload.
func printInfo(path string) error {
	im, err := carrier.Open(path)
	if err != nil {
		return err
	}
	g := im.Geometry
	fmt.Printf("File: %s\n", path)
	fmt.Printf("Format: %s\n", strings.ToUpper(string(im.Format)))
	fmt.Printf("Size: %dx%d, %d channel(s), %d-bit\n", g.Width, g.Height, g.Channels, g.BitDepth)
	fmt.Printf("Bytes per sample: %d\n", g.BytesPerSample())
	fmt.Printf("Capacity: %d B (%.2f KiB)\n", im.Capacity(), float64(im.Capacity())/1024)
	fmt.Printf("Max payload: %d B (%.2f KiB)\n", im.MaxPayload(), float64(im.MaxPayload())/1024)
	fmt.Printf("Payload: %s\n", describeFrame(im))
	return nil
}

// describeFrame describes the frame found in the carrier, if any.
func describeFrame(im *carrier.Image) string {
	res, err := lsb.Decode(im.Samples, im.Geometry, io.Discard)
	switch {
	case err == nil:
		return fmt.Sprintf("%d bytes, CRC 0x%08x OK", res.PayloadLen, res.Computed)
	case errors.Is(err, lsb.ErrStartMarkerNotFound):
		return "none"
	case errors.Is(err, lsb.ErrChecksumMismatch):
		return fmt.Sprintf("%d bytes, CRC Error! (0x%08x stored 0x%08x)", res.PayloadLen, res.Computed, res.Stored)
	default:
		return fmt.Sprintf("incomplete frame (%v)", err)
	}
}
