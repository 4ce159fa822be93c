package zipalign_test

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/frantjc/renpack/zipalign"
)

func writeFixture(t *testing.T, name string) map[string]string {
	t.Helper()

	entries := []struct {
		name   string
		method uint16
		data   string
	}{
		{"a", zip.Store, "aaaa"},
		{"classes.dex", zip.Deflate, strings.Repeat("dex", 50)},
		{"lib/arm64-v8a/libmain.so", zip.Store, strings.Repeat("x", 100)},
		{"assets/x-game/x-images/x-bg.png", zip.Store, "image data"},
		{"resources.arsc", zip.Store, "resources"},
		{"assets/fonts/a.ttf", zip.Deflate, "font"},
	}

	f, err := os.Create(name)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	contents := map[string]string{}

	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: e.method})
		if err != nil {
			t.Fatal(err)
		}

		if _, err = w.Write([]byte(e.data)); err != nil {
			t.Fatal(err)
		}

		contents[e.name] = e.data
	}

	if err = zw.Close(); err != nil {
		t.Fatal(err)
	}

	return contents
}

func TestAlign(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "game.apk")
	contents := writeFixture(t, src)

	misaligned, err := zipalign.Check(src)
	if err != nil {
		t.Fatal(err)
	}

	if len(misaligned) == 0 {
		t.Fatal("expected the fixture to have misaligned entries")
	}

	dst := filepath.Join(dir, "aligned.apk")

	if err = zipalign.Align(context.Background(), src, dst, nil); err != nil {
		t.Fatal(err)
	}

	if misaligned, err = zipalign.Check(dst); err != nil {
		t.Fatal(err)
	} else if len(misaligned) != 0 {
		t.Errorf("still misaligned: %v", misaligned)
	}

	r, err := zip.OpenReader(dst)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if len(r.File) != len(contents) {
		t.Errorf("expected %d entries, got %d", len(contents), len(r.File))
	}

	for _, f := range r.File {
		offset, err := f.DataOffset()
		if err != nil {
			t.Fatal(err)
		}

		if f.Method == zip.Store && offset%4 != 0 {
			t.Errorf("%s data at %d", f.Name, offset)
		}

		er, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}

		data, err := io.ReadAll(er)
		_ = er.Close()
		if err != nil {
			t.Fatal(err)
		}

		if string(data) != contents[f.Name] {
			t.Errorf("%s changed contents", f.Name)
		}
	}
}

func TestAlignIdempotent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "game.apk")
	writeFixture(t, src)

	once := filepath.Join(dir, "once.apk")
	if err := zipalign.Align(context.Background(), src, once, nil); err != nil {
		t.Fatal(err)
	}

	twice := filepath.Join(dir, "twice.apk")
	if err := zipalign.Align(context.Background(), once, twice, nil); err != nil {
		t.Fatal(err)
	}

	a, err := os.ReadFile(once)
	if err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(twice)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(a, b) {
		t.Error("expected the second pass to reproduce the container exactly")
	}
}

func TestAlignLeavesNothingBehindOnFailure(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "aligned.apk")

	if err := zipalign.Align(context.Background(), filepath.Join(dir, "missing.apk"), dst, nil); err == nil {
		t.Fatal("expected an error")
	}

	if _, err := os.Stat(dst); err == nil {
		t.Error("expected nothing at the destination")
	}
}
