package apk_test

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/frantjc/renpack/apk"
)

func TestRepack(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "game.apk")

	writeContainer(t, src, []entry{
		{name: "AndroidManifest.xml", data: "binary xml", method: zip.Deflate},
		{name: "classes.dex", data: "dex", method: zip.Deflate},
		{name: "resources.arsc", data: "resources", method: zip.Store},
		{name: "lib/arm64-v8a/libmain.so", data: "elf", method: zip.Store},
		{name: "assets/fonts/a.ttf", data: "font", method: zip.Deflate},
		{name: "assets/x-game/"},
		{name: "assets/x-game/x-script.rpyc", data: "script", method: zip.Store},
		{name: "assets/x-game/x-images/x-bg.png", data: "big image", method: zip.Store},
		{name: "META-INF/MANIFEST.MF", data: "manifest", method: zip.Deflate},
		{name: "META-INF/CERT.SF", data: "sf", method: zip.Deflate},
		{name: "META-INF/CERT.RSA", data: "rsa", method: zip.Deflate},
	})

	assets := filepath.Join(dir, "assets")
	for name, data := range map[string]string{
		"game/script.rpyc":    "script",
		"game/images/bg.png":  "small image",
		"game/audio/song.ogg": "small song",
	} {
		name = filepath.Join(assets, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
			t.Fatal(err)
		}

		if err := os.WriteFile(name, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	dst := filepath.Join(dir, "repacked.apk")

	if err := apk.Repack(context.Background(), src, assets, dst, nil); err != nil {
		t.Fatal(err)
	}

	r, err := apk.OpenReader(dst)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	slices.Sort(names)

	// Everything but the replaced assets and the stale signature,
	// plus the recompressed assets at their restored paths.
	expected := []string{
		"AndroidManifest.xml",
		"assets/fonts/a.ttf",
		"assets/x-game/x-audio/x-song.ogg",
		"assets/x-game/x-images/x-bg.png",
		"assets/x-game/x-script.rpyc",
		"classes.dex",
		"lib/arm64-v8a/libmain.so",
		"resources.arsc",
	}

	if !slices.Equal(names, expected) {
		t.Errorf("expected entries %v, got %v", expected, names)
	}

	for _, f := range r.File {
		switch f.Name {
		case "classes.dex":
			if f.Method != zip.Deflate {
				t.Error("expected classes.dex to stay deflated")
			}
		case "resources.arsc", "lib/arm64-v8a/libmain.so":
			if f.Method != zip.Store {
				t.Errorf("expected %s to stay stored", f.Name)
			}
		case "assets/x-game/x-images/x-bg.png":
			if f.Method != zip.Store {
				t.Error("expected the recompressed asset to be stored")
			}

			if f.UncompressedSize64 != uint64(len("small image")) {
				t.Error("expected the recompressed asset's new size")
			}
		}
	}

	if data := readEntry(t, &r.Reader, "assets/x-game/x-images/x-bg.png"); data != "small image" {
		t.Errorf("got %q", data)
	}

	if data := readEntry(t, &r.Reader, "classes.dex"); data != "dex" {
		t.Errorf("got %q", data)
	}
}

func TestRepackLeavesNothingBehindOnFailure(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "game.apk")

	writeContainer(t, src, []entry{
		{name: "classes.dex", data: "dex", method: zip.Deflate},
	})

	dst := filepath.Join(dir, "repacked.apk")

	if err := apk.Repack(context.Background(), src, filepath.Join(dir, "missing"), dst, nil); err == nil {
		t.Fatal("expected an error")
	}

	if _, err := os.Stat(dst); !errors.Is(err, os.ErrNotExist) {
		t.Error("expected nothing at the destination")
	}
}
