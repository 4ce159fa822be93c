package apk

import (
	"archive/zip"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"strings"
	"time"

	"github.com/frantjc/renpack/internal/renzip"
)

// OpenReader opens the container at name for reading. Entry metadata is
// read eagerly, entry data lazily. A payload that is not a ZIP container
// is distinguished from plain IO failure.
func OpenReader(name string) (*zip.ReadCloser, error) {
	r, err := zip.OpenReader(name)
	if errors.Is(err, zip.ErrFormat) {
		return nil, fmt.Errorf("%s is not a zip container: %w", name, err)
	} else if err != nil {
		return nil, fmt.Errorf("read container: %w", err)
	}

	return r, nil
}

// Writer writes container entries to a file. Entries are written front
// to back followed by the central directory, which Close finalizes
// regardless of how far the caller got.
type Writer struct {
	f      *os.File
	zw     *zip.Writer
	closed bool
}

// Create opens a Writer on a new file at name, truncating anything
// already there.
func Create(name string) (*Writer, error) {
	f, err := os.Create(name)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	return NewWriter(f), nil
}

// NewWriter opens a Writer on f, which must be positioned at its start.
func NewWriter(f *os.File) *Writer {
	return &Writer{f: f, zw: zip.NewWriter(f)}
}

// Copy transfers f byte for byte, compressed payload and metadata intact.
func (w *Writer) Copy(f *zip.File) error {
	return w.zw.Copy(f)
}

// CopyAligned transfers f byte for byte except for its extra field,
// which is re-padded so that a stored entry's data begins on a multiple
// of boundary given the record lands at offset. It returns the number
// of bytes the record occupies.
func (w *Writer) CopyAligned(f *zip.File, offset int64, boundary int) (int64, error) {
	return renzip.CopyAligned(w.zw, f, offset, boundary)
}

// WriteStored adds an uncompressed entry from the file at name. ZIP's
// local-header-first layout needs a stored entry's size and checksum
// before any data, so the file is read once to checksum it and once to
// transfer it, and the entry carries no data descriptor.
func (w *Writer) WriteStored(entry, name string, modified time.Time) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	crc := crc32.NewIEEE()

	size, err := io.Copy(crc, f)
	if err != nil {
		return err
	}

	if _, err = f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	ew, err := w.zw.CreateRaw(&zip.FileHeader{
		Name:               entry,
		Method:             zip.Store,
		Modified:           modified,
		CRC32:              crc.Sum32(),
		CompressedSize64:   uint64(size),
		UncompressedSize64: uint64(size),
		CreatorVersion:     20,
		ReaderVersion:      20,
	})
	if err != nil {
		return err
	}

	_, err = io.Copy(ew, f)

	return err
}

// WriteDeflated adds a compressed entry with the contents of r.
func (w *Writer) WriteDeflated(entry string, modified time.Time, r io.Reader) error {
	ew, err := w.zw.CreateHeader(&zip.FileHeader{
		Name:     entry,
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return err
	}

	_, err = io.Copy(ew, r)

	return err
}

// Close writes the central directory, syncs and closes the file. It is
// safe to call more than once.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.zw.Close(); err != nil {
		_ = w.f.Close()
		return fmt.Errorf("finalize container: %w", err)
	}

	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		return err
	}

	return w.f.Close()
}

// IsSigningMetadata reports whether the entry name belongs to a JAR
// signature: the manifest or any signature file under META-INF. These
// go stale the moment any other entry changes.
func IsSigningMetadata(name string) bool {
	if !strings.HasPrefix(name, "META-INF/") {
		return false
	}

	if name == "META-INF/MANIFEST.MF" {
		return true
	}

	upper := strings.ToUpper(name)

	return strings.HasSuffix(upper, ".SF") ||
		strings.HasSuffix(upper, ".RSA") ||
		strings.HasSuffix(upper, ".DSA") ||
		strings.HasSuffix(upper, ".EC")
}
