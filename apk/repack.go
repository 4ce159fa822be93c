package apk

import (
	"archive/zip"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/frantjc/renpack/renpy"
)

type RepackOpts struct {
	// OnEntry is called after each entry is written to the new
	// container.
	OnEntry func(name string, processed, total int)
}

// Repack writes a new container at dst from the one at src. Every entry
// that is neither a marked game asset nor stale signing metadata is
// copied byte for byte, then each file under the assets directory is
// added as a stored entry at its restored marked path. The container is
// built next to dst and only renamed onto it once finalized, so failure
// leaves nothing at dst.
func Repack(ctx context.Context, src, assets, dst string, opts *RepackOpts) error {
	if opts == nil {
		opts = &RepackOpts{}
	}

	r, err := OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	keep := make([]*zip.File, 0, len(r.File))

	for _, f := range r.File {
		if renpy.IsMarkedAsset(f.Name) || IsSigningMetadata(f.Name) {
			continue
		}

		keep = append(keep, f)
	}

	staged := []string{}

	if err = filepath.WalkDir(assets, func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(assets, name)
		if err != nil {
			return err
		}

		staged = append(staged, filepath.ToSlash(rel))

		return nil
	}); err != nil {
		return fmt.Errorf("walk assets: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()

	w := NewWriter(f)
	defer func() {
		_ = w.Close()
		_ = os.Remove(tmp)
	}()

	total := len(keep) + len(staged)
	processed := 0

	report := func(name string) {
		processed++
		if opts.OnEntry != nil {
			opts.OnEntry(name, processed, total)
		}
	}

	for _, entry := range keep {
		if err = ctx.Err(); err != nil {
			return err
		}

		if err = w.Copy(entry); err != nil {
			return fmt.Errorf("copy %s: %w", entry.Name, err)
		}

		report(entry.Name)
	}

	for _, rel := range staged {
		if err = ctx.Err(); err != nil {
			return err
		}

		name := filepath.Join(assets, filepath.FromSlash(rel))

		info, err := os.Stat(name)
		if err != nil {
			return err
		}

		restored := renpy.RestoreAssetPath(rel)

		if err = w.WriteStored(restored, name, info.ModTime()); err != nil {
			return fmt.Errorf("store %s: %w", restored, err)
		}

		report(restored)
	}

	if err = w.Close(); err != nil {
		return err
	}

	return os.Rename(tmp, dst)
}
