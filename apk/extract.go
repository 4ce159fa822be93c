package apk

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/frantjc/renpack/renpy"
)

// ErrNoMarkedAssets means the container holds no marked game assets at
// all, so it was not packaged the way this module works on.
var ErrNoMarkedAssets = errors.New("no marked game assets in container")

type ExtractOpts struct {
	// OnAsset is called after each asset lands in the staging
	// directory.
	OnAsset func(name string, processed, total int)
}

// Extract stages every marked game asset in the container at name into
// dir under its normalized path and returns those paths. The staging
// directory is created if absent and must be empty. A container without
// any marked assets fails with ErrNoMarkedAssets.
func Extract(ctx context.Context, name, dir string, opts *ExtractOpts) ([]string, error) {
	if opts == nil {
		opts = &ExtractOpts{}
	}

	r, err := OpenReader(name)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if err = os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	if entries, err := os.ReadDir(dir); err != nil {
		return nil, err
	} else if len(entries) > 0 {
		return nil, fmt.Errorf("staging directory %s is not empty", dir)
	}

	var marked []*zip.File

	for _, f := range r.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}

		if renpy.IsMarkedAsset(f.Name) {
			marked = append(marked, f)
		}
	}

	if len(marked) == 0 {
		return nil, ErrNoMarkedAssets
	}

	assets := make([]string, 0, len(marked))

	for i, f := range marked {
		if err = ctx.Err(); err != nil {
			return nil, err
		}

		normalized, err := renpy.NormalizeAssetPath(f.Name)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", f.Name, err)
		}

		if !filepath.IsLocal(filepath.FromSlash(normalized)) {
			return nil, fmt.Errorf("extract %s: escapes the staging directory", f.Name)
		}

		if err = extractFile(f, filepath.Join(dir, filepath.FromSlash(normalized))); err != nil {
			return nil, fmt.Errorf("extract %s: %w", f.Name, err)
		}

		assets = append(assets, normalized)

		if opts.OnAsset != nil {
			opts.OnAsset(normalized, i+1, len(marked))
		}
	}

	return assets, nil
}

func extractFile(f *zip.File, name string) error {
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return err
	}

	r, err := f.Open()
	if err != nil {
		return err
	}
	defer r.Close()

	w, err := os.Create(name)
	if err != nil {
		return err
	}

	if _, err = io.Copy(w, r); err != nil {
		_ = w.Close()
		return err
	}

	return w.Close()
}
