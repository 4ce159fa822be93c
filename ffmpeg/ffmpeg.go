package ffmpeg

import (
	"context"
	"os/exec"
	"strconv"
)

// TranscodeAudio finds `ffmpeg` on the PATH and runs TranscodeAudio
// against it. See Command.TranscodeAudio.
func TranscodeAudio(ctx context.Context, src, dst string, opts *AudioOpts) error {
	return Command("ffmpeg").TranscodeAudio(ctx, src, dst, opts)
}

// TranscodeVideo finds `ffmpeg` on the PATH and runs TranscodeVideo
// against it. See Command.TranscodeVideo.
func TranscodeVideo(ctx context.Context, src, dst string, opts *VideoOpts) error {
	return Command("ffmpeg").TranscodeVideo(ctx, src, dst, opts)
}

// Command represents the path to an `ffmpeg` executable.
type Command string

func (c Command) String() string {
	return string(c)
}

// AudioOpts represent flags that can be passed to `ffmpeg` when
// transcoding audio.
type AudioOpts struct {
	// Bitrate for the audio stream, e.g. "128k". Empty keeps the
	// tool's default.
	Bitrate string
}

// TranscodeAudio executes `ffmpeg` found at Command against the audio
// file at src, writing the result to dst. The container and codec
// follow dst's extension, so transcoding preserves the format when dst
// keeps src's name.
func (c Command) TranscodeAudio(ctx context.Context, src, dst string, opts *AudioOpts) error {
	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", src, "-vn"}

	if opts != nil && opts.Bitrate != "" {
		args = append(args, "-b:a", opts.Bitrate)
	}

	args = append(args, dst)

	//nolint:gosec
	return exec.CommandContext(ctx, c.String(), args...).Run()
}

// VideoOpts represent flags that can be passed to `ffmpeg` when
// transcoding video.
type VideoOpts struct {
	// CRF is the constant rate factor for the video stream. Zero
	// keeps the tool's default.
	CRF int
	// AudioBitrate for the audio stream, e.g. "128k". Empty keeps the
	// tool's default.
	AudioBitrate string
}

// TranscodeVideo executes `ffmpeg` found at Command against the video
// file at src, writing the result to dst. The container and codecs
// follow dst's extension.
func (c Command) TranscodeVideo(ctx context.Context, src, dst string, opts *VideoOpts) error {
	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", src}

	if opts != nil {
		if opts.CRF > 0 {
			args = append(args, "-crf", strconv.Itoa(opts.CRF))
		}

		if opts.AudioBitrate != "" {
			args = append(args, "-b:a", opts.AudioBitrate)
		}
	}

	args = append(args, dst)

	//nolint:gosec
	return exec.CommandContext(ctx, c.String(), args...).Run()
}
