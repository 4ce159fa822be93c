package apksign

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/frantjc/renpack/apk"
	"github.com/frantjc/renpack/internal/renzip"
	"github.com/frantjc/renpack/zipalign"
)

// v3MinSDK is the first API level that understands the v3 scheme.
const v3MinSDK = 28

type SignOpts struct {
	// SkipV1, SkipV2 and SkipV3 turn off individual signature schemes.
	// All three are applied when unset.
	SkipV1 bool
	SkipV2 bool
	SkipV3 bool

	// MinSDK is the lowest API level the v3 signer covers. Defaults to
	// the first level that verifies v3 signatures.
	MinSDK int

	// OnEntry is called after each entry is carried into the signed
	// container.
	OnEntry func(name string, processed, total int)
}

// Sign writes a signed copy of the container at src to dst. Any prior
// signature is stripped, stored entries are re-padded onto their
// alignment boundary, JAR signature entries are appended, and the
// signing block is inserted ahead of the central directory. dst is
// only written once everything has succeeded.
func Sign(ctx context.Context, src, dst string, identity *Identity, opts *SignOpts) error {
	if opts == nil {
		opts = &SignOpts{}
	}
	if identity == nil || identity.Key == nil || identity.Certificate == nil {
		return errors.New("no signing identity")
	}
	if opts.SkipV1 && opts.SkipV2 && opts.SkipV3 {
		return errors.New("every signature scheme is disabled")
	}

	minSDK := uint32(v3MinSDK)
	if opts.MinSDK > 0 {
		minSDK = uint32(opts.MinSDK)
	}

	var schemes []int
	if !opts.SkipV2 {
		schemes = append(schemes, 2)
	}
	if !opts.SkipV3 {
		schemes = append(schemes, 3)
	}

	f, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*")
	if err != nil {
		return err
	}

	tmp := f.Name()

	defer func() {
		_ = f.Close()
		_ = os.Remove(tmp)
	}()

	if err := writeJARSigned(ctx, src, f, identity, !opts.SkipV1, schemes, opts.OnEntry); err != nil {
		return fmt.Errorf("sign %s: %w", src, err)
	}

	if len(schemes) == 0 {
		return os.Rename(tmp, dst)
	}

	if err := insertSigningBlock(tmp, dst, identity, !opts.SkipV2, !opts.SkipV3, minSDK); err != nil {
		return fmt.Errorf("sign %s: %w", src, err)
	}

	return nil
}

// writeJARSigned rewrites the container at src into f with stale
// signing metadata dropped and stored entries realigned, then appends
// the JAR signature entries when withManifest is set.
func writeJARSigned(ctx context.Context, src string, f *os.File, identity *Identity, withManifest bool, schemes []int, onEntry func(string, int, int)) error {
	r, err := apk.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	keep := make([]*zip.File, 0, len(r.File))
	for _, entry := range r.File {
		if apk.IsSigningMetadata(entry.Name) {
			continue
		}
		keep = append(keep, entry)
	}

	w := apk.NewWriter(f)
	defer w.Close()

	var (
		digests = make([]entryDigest, 0, len(keep))
		offset  int64
	)
	for i, entry := range keep {
		if err := ctx.Err(); err != nil {
			return err
		}

		if withManifest && !strings.HasSuffix(entry.Name, "/") {
			digest, err := digestEntry(entry)
			if err != nil {
				return fmt.Errorf("digest %s: %w", entry.Name, err)
			}
			digests = append(digests, entryDigest{entry.Name, digest})
		}

		written, err := w.CopyAligned(entry, offset, zipalign.Boundary)
		if err != nil {
			return fmt.Errorf("copy %s: %w", entry.Name, err)
		}
		offset += written

		if onEntry != nil {
			onEntry(entry.Name, i+1, len(keep))
		}
	}

	if withManifest {
		manifest, mainSection, sections := buildManifest(digests)
		sf := buildSignatureFile(manifest, mainSection, digests, sections, schemes)

		block, err := signSignatureFile(sf, identity)
		if err != nil {
			return fmt.Errorf("sign %s: %w", signatureFileName, err)
		}

		now := time.Now()
		for _, entry := range []struct {
			name string
			data []byte
		}{
			{manifestName, manifest},
			{signatureFileName, sf},
			{signatureBlockName, block},
		} {
			if err := w.WriteDeflated(entry.name, now, bytes.NewReader(entry.data)); err != nil {
				return fmt.Errorf("write %s: %w", entry.name, err)
			}
		}
	}

	return w.Close()
}

func digestEntry(f *zip.File) (string, error) {
	r, err := f.Open()
	if err != nil {
		return "", err
	}
	defer r.Close()

	h := sha256.New()
	if _, err = io.Copy(h, r); err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// insertSigningBlock signs the container at src under the block-based
// schemes and writes the result to dst, moving the central directory
// back to make room for the block.
func insertSigningBlock(src, dst string, identity *Identity, v2, v3 bool, minSDK uint32) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	eocd, err := renzip.FindEndOfCentralDirectory(f, info.Size())
	if err != nil {
		return err
	}

	var (
		cdOffset = int64(eocd.CentralDirectoryOffset)
		cdSize   = int64(eocd.CentralDirectorySize)
	)

	// The block lands where the central directory was, so the digested
	// end of central directory points there.
	block, err := signingBlock(
		identity,
		io.NewSectionReader(f, 0, cdOffset),
		io.NewSectionReader(f, cdOffset, cdSize),
		eocd.Raw,
		uint32(cdOffset),
		v2, v3, minSDK,
	)
	if err != nil {
		return err
	}

	if cdOffset+int64(len(block)) > math.MaxUint32 {
		return errors.New("container too large for a signing block")
	}

	patched, err := renzip.PatchCentralDirectoryOffset(eocd.Raw, uint32(cdOffset)+uint32(len(block)))
	if err != nil {
		return err
	}

	out, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*")
	if err != nil {
		return err
	}

	tmp := out.Name()

	defer func() {
		_ = out.Close()
		_ = os.Remove(tmp)
	}()

	if _, err = io.Copy(out, io.NewSectionReader(f, 0, cdOffset)); err != nil {
		return err
	}
	if _, err = out.Write(block); err != nil {
		return err
	}
	if _, err = io.Copy(out, io.NewSectionReader(f, cdOffset, cdSize)); err != nil {
		return err
	}
	if _, err = out.Write(patched); err != nil {
		return err
	}

	if err = out.Sync(); err != nil {
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}

	return os.Rename(tmp, dst)
}
