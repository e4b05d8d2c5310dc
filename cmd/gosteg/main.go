// gosteg - LSB image steganography.
//
// Usage:
//
//	gosteg encode -i <payload> [-o <output>] [--zstd] <carrier>
//	gosteg decode -o <payload> [--zstd] <carrier>
//	gosteg info <carrier>
//	gosteg cover -o <file> [options]
//	gosteg serve [--addr :8080]
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/xob0t/gosteg/clients/server"
	"github.com/xob0t/gosteg/pkg/generator"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "encode", "e":
		err = runEncode(os.Args[2:])
	case "decode", "d":
		err = runDecode(os.Args[2:])
	case "info":
		err = runInfo(os.Args[2:])
	case "cover":
		err = runCover(os.Args[2:])
	case "serve":
		err = server.RunServe(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", os.Args[1])
	}
	if err != nil {
		fatal(err)
	}
}

// carrierArg returns the carrier path from --carrier or the first positional argument.
func carrierArg(fs *flag.FlagSet, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if fs.NArg() == 0 {
		return "", fmt.Errorf("carrier image is required")
	}
	if fs.NArg() > 1 {
		return "", fmt.Errorf("unexpected arguments after %s: %v", fs.Arg(0), fs.Args()[1:])
	}
	return fs.Arg(0), nil
}

func runCover(args []string) error {
	fs := flag.NewFlagSet("cover", flag.ExitOnError)

	var (
		output string
		cfg    generator.Config
	)
	fs.StringVar(&output, "o", "", "Output file path (.png, .bmp or .tiff)")
	fs.StringVar(&output, "output", "", "Output file path (.png, .bmp or .tiff)")
	fs.IntVar(&cfg.Width, "w", generator.DefaultWidth, "Width in pixels")
	fs.IntVar(&cfg.Width, "width", generator.DefaultWidth, "Width in pixels")
	fs.IntVar(&cfg.Height, "h", generator.DefaultHeight, "Height in pixels")
	fs.IntVar(&cfg.Height, "height", generator.DefaultHeight, "Height in pixels")
	fs.StringVar(&cfg.Color, "color", "noise", "Background: hex, 'random' or 'noise'")
	fs.StringVar(&cfg.Label, "label", "", "Text drawn on the cover")
	fs.StringVar(&cfg.FontPath, "font", "", "TTF/OTF font for the label")
	fs.Float64Var(&cfg.FontSize, "font-size", 0, "Label size in points (default: height/12)")
	fs.IntVar(&cfg.Depth, "depth", 8, "Bits per sample: 8 or 16")
	fs.BoolVar(&cfg.Gray, "gray", false, "Single-channel grayscale cover")
	fs.BoolVar(&cfg.Alpha, "alpha", false, "Add an alpha channel")

	fs.Usage = printUsage
	if err := fs.Parse(args); err != nil {
		return err
	}
	if output == "" {
		return fmt.Errorf("output file is required (-o)")
	}

	fmt.Printf("Generating: %s\n", output)
	if err := generator.Generate(output, cfg); err != nil {
		return err
	}
	return printInfo(output)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func printUsage() {
	fmt.Print(`gosteg - LSB Image Steganography (Pure Go)

USAGE:
    gosteg encode -i <payload> [-o <output>] [--zstd] <carrier>
    gosteg decode -o <payload> [--zstd] <carrier>
    gosteg info <carrier>
    gosteg cover -o <file> [options]
    gosteg serve [--addr :8080]

ENCODE:
    -i, --input <path>     Payload file, '-' for stdin
    -o, --output <path>    Output image (default: <carrier>.steg.<ext>)
    -c, --carrier <path>   Carrier image (or first positional argument)
    --zstd                 Compress the payload before embedding

DECODE:
    -o, --output <path>    Payload destination, '-' for stdout
    -c, --carrier <path>   Carrier image (or first positional argument)
    --zstd                 Decompress the extracted payload

COVER:
    -o, --output <path>    Output image (.png, .bmp or .tiff)
    --color <hex>          Background color, 'random' or 'noise' (default: noise)
    -w, --width <px>       Width in pixels (default: 1280)
    -h, --height <px>      Height in pixels (default: 720)
    --depth <8|16>         Bits per sample (default: 8)
    --gray                 Grayscale cover
    --alpha                Add an alpha channel
    --label <text>         Text drawn on the cover
    --font <path>          Label font (default: Go Regular)

SUPPORTED CARRIERS:
    PNG   gray, gray+alpha, RGB, RGBA at 8 or 16 bits (no palette, no interlace)
    BMP   24-bit RGB
    TIFF  gray, RGB, RGBA at 8 or 16 bits

EXAMPLES:
    gosteg cover -o cover.png -w 1920 -h 1080
    gosteg info cover.png
    gosteg encode -i secret.txt -o stego.png cover.png
    gosteg decode -o secret.txt stego.png
    tar c docs | gosteg encode -i - --zstd -o stego.tiff cover.tiff
`)
}
