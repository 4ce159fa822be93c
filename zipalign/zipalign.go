package zipalign

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/frantjc/renpack/apk"
)

// Boundary is the alignment Android requires of stored entry data so
// that the runtime can map it straight out of the package.
const Boundary = 4

type AlignOpts struct {
	// OnEntry is called after each entry is written.
	OnEntry func(name string, processed, total int)
}

// Align writes a copy of the container at src to dst with every stored
// file entry's data beginning on a multiple of Boundary. Entries
// transfer byte for byte except for the padding field in their extra,
// which is dropped and recomputed, so aligning an aligned container
// reproduces it exactly. Nothing is left at dst on failure.
func Align(ctx context.Context, src, dst string, opts *AlignOpts) error {
	if opts == nil {
		opts = &AlignOpts{}
	}

	r, err := apk.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	f, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()

	w := apk.NewWriter(f)
	defer func() {
		_ = w.Close()
		_ = os.Remove(tmp)
	}()

	// Runs ahead of the writer so each entry's padding can be sized
	// from where its local record will land.
	var offset int64

	for i, entry := range r.File {
		if err = ctx.Err(); err != nil {
			return err
		}

		written, err := w.CopyAligned(entry, offset, Boundary)
		if err != nil {
			return fmt.Errorf("align %s: %w", entry.Name, err)
		}

		offset += written

		if opts.OnEntry != nil {
			opts.OnEntry(entry.Name, i+1, len(r.File))
		}
	}

	if err = w.Close(); err != nil {
		return err
	}

	return os.Rename(tmp, dst)
}

// Check returns the stored file entries of the container at name whose
// data does not begin on a multiple of Boundary.
func Check(name string) ([]string, error) {
	r, err := apk.OpenReader(name)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var misaligned []string

	for _, f := range r.File {
		if f.Method != zip.Store || strings.HasSuffix(f.Name, "/") {
			continue
		}

		offset, err := f.DataOffset()
		if err != nil {
			return nil, err
		}

		if offset%Boundary != 0 {
			misaligned = append(misaligned, f.Name)
		}
	}

	return misaligned, nil
}
