package command

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/frantjc/renpack"
	"github.com/frantjc/renpack/cwebp"
	"github.com/frantjc/renpack/ffmpeg"
	"github.com/frantjc/renpack/internal/renkeys"
)

// openKeystore opens the blob-bucket keystore at urlstr, defaulting to
// a directory under the user's config directory.
func openKeystore(ctx context.Context, urlstr string) (*renkeys.Keystore, error) {
	if urlstr == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, err
		}

		dir = filepath.Join(dir, "renpack", "keys")
		if err = os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}

		urlstr = "file://" + filepath.ToSlash(dir)
	}

	return renkeys.Open(ctx, urlstr)
}

func imageCodec(command cwebp.Command, quality int, lossless bool, speed renpack.Speed) renpack.Codec {
	method := map[renpack.Speed]int{
		renpack.SpeedFast:    1,
		renpack.SpeedAverage: 4,
		renpack.SpeedSlow:    6,
	}[speed]

	return renpack.CodecFunc(func(ctx context.Context, src, dst string) error {
		return command.Encode(ctx, src, dst, &cwebp.EncodeOpts{
			Quality:  quality,
			Lossless: lossless,
			Method:   method,
		})
	})
}

func audioCodec(command ffmpeg.Command, tier renpack.Tier) renpack.Codec {
	bitrate := map[renpack.Tier]string{
		renpack.TierLowest: "64k",
		renpack.TierLow:    "96k",
		renpack.TierMedium: "128k",
		renpack.TierHigh:   "192k",
	}[tier]

	return renpack.CodecFunc(func(ctx context.Context, src, dst string) error {
		return command.TranscodeAudio(ctx, src, dst, &ffmpeg.AudioOpts{Bitrate: bitrate})
	})
}

func videoCodec(command ffmpeg.Command, tier renpack.Tier) renpack.Codec {
	opts := map[renpack.Tier]*ffmpeg.VideoOpts{
		renpack.TierLowest: {CRF: 34, AudioBitrate: "64k"},
		renpack.TierLow:    {CRF: 30, AudioBitrate: "96k"},
		renpack.TierMedium: {CRF: 26, AudioBitrate: "128k"},
		renpack.TierHigh:   {CRF: 22, AudioBitrate: "192k"},
	}[tier]

	return renpack.CodecFunc(func(ctx context.Context, src, dst string) error {
		return command.TranscodeVideo(ctx, src, dst, opts)
	})
}

func fmtSize(s int64) string {
	if s < 1024 {
		return fmt.Sprintf("%dB", s)
	} else if s < 1024*1024 {
		return fmt.Sprintf("%.1fKB", float64(s)/1024)
	}

	return fmt.Sprintf("%.2fMB", float64(s)/1024/1024)
}
