package apk_test

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/frantjc/renpack/apk"
)

type entry struct {
	name   string
	data   string
	method uint16
}

func writeContainer(t *testing.T, name string, entries []entry) {
	t.Helper()

	f, err := os.Create(name)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)

	for _, e := range entries {
		if strings.HasSuffix(e.name, "/") {
			if _, err = zw.CreateHeader(&zip.FileHeader{Name: e.name}); err != nil {
				t.Fatal(err)
			}

			continue
		}

		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: e.method})
		if err != nil {
			t.Fatal(err)
		}

		if _, err = w.Write([]byte(e.data)); err != nil {
			t.Fatal(err)
		}
	}

	if err = zw.Close(); err != nil {
		t.Fatal(err)
	}
}

func readEntry(t *testing.T, r *zip.Reader, name string) string {
	t.Helper()

	for _, f := range r.File {
		if f.Name != name {
			continue
		}

		er, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		defer er.Close()

		data, err := io.ReadAll(er)
		if err != nil {
			t.Fatal(err)
		}

		return string(data)
	}

	t.Fatalf("no entry %s", name)

	return ""
}

func TestWriteStored(t *testing.T) {
	dir := t.TempDir()

	asset := filepath.Join(dir, "bg.png")
	if err := os.WriteFile(asset, []byte("not really a png"), 0o644); err != nil {
		t.Fatal(err)
	}

	name := filepath.Join(dir, "out.apk")

	w, err := apk.Create(name)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err = w.WriteStored("assets/x-game/x-bg.png", asset, time.Now()); err != nil {
		t.Fatal(err)
	}

	if err = w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := apk.OpenReader(name)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if len(r.File) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(r.File))
	}

	f := r.File[0]

	if f.Method != zip.Store {
		t.Error("expected the entry to be stored")
	}

	if f.Flags&0x8 != 0 {
		t.Error("expected no data descriptor on a stored entry")
	}

	if f.CompressedSize64 != f.UncompressedSize64 {
		t.Error("expected equal sizes on a stored entry")
	}

	// Reading the entry checks its recorded checksum.
	if data := readEntry(t, &r.Reader, "assets/x-game/x-bg.png"); data != "not really a png" {
		t.Errorf("got %q", data)
	}
}

func TestOpenReaderNotAContainer(t *testing.T) {
	name := filepath.Join(t.TempDir(), "garbage.apk")

	if err := os.WriteFile(name, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := apk.OpenReader(name); err == nil {
		t.Error("expected an error")
	}
}

func TestIsSigningMetadata(t *testing.T) {
	for name, expected := range map[string]bool{
		"META-INF/MANIFEST.MF":        true,
		"META-INF/CERT.SF":            true,
		"META-INF/CERT.RSA":           true,
		"META-INF/GOOGPLAY.DSA":       true,
		"META-INF/cert.ec":            true,
		"META-INF/services/whatever":  false,
		"assets/x-game/x-script.rpyc": false,
		"MANIFEST.MF":                 false,
	} {
		if actual := apk.IsSigningMetadata(name); actual != expected {
			t.Errorf("expected IsSigningMetadata(%q) to be %t", name, expected)
		}
	}
}
