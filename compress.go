package renpack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	xslice "github.com/frantjc/x/slice"
	"golang.org/x/sync/errgroup"
)

// Category classifies a staged file by extension. Anything outside
// every category is carried over unchanged.
type Category string

const (
	CategoryImage Category = "image"
	CategoryAudio Category = "audio"
	CategoryVideo Category = "video"
)

var (
	imageExts = []string{".png", ".jpg", ".jpeg", ".webp"}
	audioExts = []string{".mp3", ".ogg", ".opus", ".wav", ".flac"}
	videoExts = []string{".mp4", ".webm", ".mkv", ".avi", ".ogv"}
)

// CategoryOf reports the media category of the named file, if any.
func CategoryOf(name string) (Category, bool) {
	ext := strings.ToLower(filepath.Ext(name))

	switch {
	case xslice.Includes(imageExts, ext):
		return CategoryImage, true
	case xslice.Includes(audioExts, ext):
		return CategoryAudio, true
	case xslice.Includes(videoExts, ext):
		return CategoryVideo, true
	}

	return "", false
}

type CompressOpts struct {
	// OnFile is called as each staged file is compressed or carried
	// over, with processed counting monotonically toward total.
	OnFile func(name string, processed, total int)
}

// Compress drives the configured codecs over the staging tree at src,
// producing the output tree at dst. Images compress in parallel
// bounded by the thread count; audio and video run sequentially to
// bound transcoder memory. A codec failure is recorded in the outcome
// and the original file carried over; only I/O on the trees themselves
// or cancellation aborts the run.
func Compress(ctx context.Context, config *Config, codecs Codecs, src, dst string, opts *CompressOpts) (*Outcome, error) {
	if opts == nil {
		opts = &CompressOpts{}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	staged, err := walkFiles(src)
	if err != nil {
		return nil, err
	}

	var (
		images, audio, video []string
		candidate            = map[string]bool{}
	)
	for _, rel := range staged {
		category, ok := CategoryOf(rel)
		if !ok {
			continue
		}

		switch {
		case category == CategoryImage && !config.SkipImages:
			images = append(images, rel)
		case category == CategoryAudio && !config.SkipAudio:
			audio = append(audio, rel)
		case category == CategoryVideo && !config.SkipVideo:
			video = append(video, rel)
		default:
			continue
		}

		candidate[rel] = true
	}

	for _, missing := range []struct {
		codec Codec
		files []string
		name  string
	}{
		{codecs.Image, images, "image"},
		{codecs.Audio, audio, "audio"},
		{codecs.Video, video, "video"},
	} {
		if len(missing.files) > 0 && missing.codec == nil {
			return nil, fmt.Errorf("no %s codec", missing.name)
		}
	}

	var (
		outcome   = &Outcome{}
		mu        sync.Mutex
		processed int
		total     = len(staged)
		report    = func(rel string, original, result int64, failed bool) {
			if failed {
				outcome.addFailure(original)
			} else {
				outcome.addSuccess(original, result)
			}

			processed++
			if opts.OnFile != nil {
				opts.OnFile(rel, processed, total)
			}
		}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(config.Threads)

	for _, rel := range images {
		g.Go(func() error {
			original, result, failed, err := compressFile(gctx, codecs.Image, src, dst, rel)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()

			report(rel, original, result, failed)

			return nil
		})
	}

	if err = g.Wait(); err != nil {
		return nil, err
	}

	for _, batch := range []struct {
		codec Codec
		files []string
	}{
		{codecs.Audio, audio},
		{codecs.Video, video},
	} {
		for _, rel := range batch.files {
			if err = ctx.Err(); err != nil {
				return nil, err
			}

			original, result, failed, err := compressFile(ctx, batch.codec, src, dst, rel)
			if err != nil {
				return nil, err
			}

			report(rel, original, result, failed)
		}
	}

	// Carry over everything without output: files outside every
	// category, files whose category is skipped, and failed attempts.
	// Never overwrite what a codec already placed.
	for _, rel := range staged {
		if err = ctx.Err(); err != nil {
			return nil, err
		}

		out := filepath.Join(dst, rel)
		if _, err := os.Stat(out); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}

		if err := copyFile(filepath.Join(src, rel), out); err != nil {
			return nil, err
		}

		if !candidate[rel] {
			processed++
			if opts.OnFile != nil {
				opts.OnFile(rel, processed, total)
			}
		}
	}

	return outcome, nil
}

// compressFile runs one codec attempt. A codec error is a per-file
// failure unless the context is done, which aborts the run.
func compressFile(ctx context.Context, codec Codec, src, dst, rel string) (original, result int64, failed bool, err error) {
	var (
		in  = filepath.Join(src, rel)
		out = filepath.Join(dst, rel)
	)

	info, err := os.Stat(in)
	if err != nil {
		return 0, 0, false, err
	}
	original = info.Size()

	if err = os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return 0, 0, false, err
	}

	if err = codec.Compress(ctx, in, out); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return 0, 0, false, cerr
		}

		// Discard partial output so the carry-over pass restores the
		// original.
		_ = os.Remove(out)

		return original, 0, true, nil
	}

	info, err = os.Stat(out)
	if err != nil {
		// The codec claimed success without producing output.
		return original, 0, true, nil
	}

	return original, info.Size(), false, nil
}

func walkFiles(dir string) ([]string, error) {
	files := []string{}

	if err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		} else if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		files = append(files, filepath.ToSlash(rel))

		return nil
	}); err != nil {
		return nil, err
	}

	return files, nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	r, err := os.Open(src)
	if err != nil {
		return err
	}
	defer r.Close()

	w, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err = io.Copy(w, r); err != nil {
		_ = w.Close()
		return err
	}

	return w.Close()
}
