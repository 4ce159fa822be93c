package renpack

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
)

// ArchiveAssets writes a ZIP archive at dst holding every file under
// dir at its slash-separated relative path, deflated. The archive is
// built next to dst and renamed onto it once finalized, so failure
// leaves nothing at dst.
func ArchiveAssets(ctx context.Context, dir, dst string) error {
	files, err := walkFiles(dir)
	if err != nil {
		return err
	}

	f, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}()

	zw := zip.NewWriter(f)

	for _, rel := range files {
		if err = ctx.Err(); err != nil {
			return err
		}

		w, err := zw.Create(rel)
		if err != nil {
			return err
		}

		r, err := os.Open(filepath.Join(dir, rel))
		if err != nil {
			return err
		}

		if _, err = io.Copy(w, r); err != nil {
			_ = r.Close()
			return err
		}

		if err = r.Close(); err != nil {
			return err
		}
	}

	if err = zw.Close(); err != nil {
		return err
	}

	if err = f.Sync(); err != nil {
		return err
	}

	if err = f.Close(); err != nil {
		return err
	}

	return os.Rename(f.Name(), dst)
}
