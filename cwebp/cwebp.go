package cwebp

import (
	"context"
	"os/exec"
	"strconv"
)

// Encode finds `cwebp` on the PATH and runs Encode against it.
// See Command.Encode.
func Encode(ctx context.Context, src, dst string, opts *EncodeOpts) error {
	return Command("cwebp").Encode(ctx, src, dst, opts)
}

// Command represents the path to a `cwebp` executable.
type Command string

func (c Command) String() string {
	return string(c)
}

// EncodeOpts represent flags that can be passed to `cwebp`.
type EncodeOpts struct {
	// Quality from 1 to 100. Zero keeps the tool's default.
	Quality int
	// Lossless encodes without quality loss.
	Lossless bool
	// Method selects the size/speed trade-off from 1 (fastest) to 6
	// (slowest, smallest). Zero keeps the tool's default.
	Method int
}

// Encode executes `cwebp` found at Command against the image at src,
// writing the encoded result to dst. The output is WebP regardless of
// dst's extension.
func (c Command) Encode(ctx context.Context, src, dst string, opts *EncodeOpts) error {
	args := []string{"-quiet"}

	if opts != nil {
		if opts.Quality > 0 {
			args = append(args, "-q", strconv.Itoa(opts.Quality))
		}

		if opts.Lossless {
			args = append(args, "-lossless")
		}

		if opts.Method > 0 {
			args = append(args, "-m", strconv.Itoa(opts.Method))
		}
	}

	args = append(args, src, "-o", dst)

	//nolint:gosec
	return exec.CommandContext(ctx, c.String(), args...).Run()
}
