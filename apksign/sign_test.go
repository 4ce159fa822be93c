package apksign_test

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/frantjc/renpack/apksign"
	"github.com/frantjc/renpack/internal/renzip"
	"github.com/frantjc/renpack/zipalign"
	"github.com/smallstep/pkcs7"
)

type entry struct {
	name   string
	data   string
	method uint16
}

// The long asset name forces attribute lines in the manifest to wrap.
var longAssetName = "assets/x-game/x-" + strings.Repeat("n", 64) + ".rpa"

var containerFixture = []entry{
	{"AndroidManifest.xml", "binary manifest stand-in", zip.Deflate},
	{"classes.dex", "dex bytecode", zip.Deflate},
	{"resources.arsc", "resource table", zip.Store},
	{"assets/", "", 0},
	{longAssetName, "archive data", zip.Store},
	{"lib/armeabi-v7a/libmain.so", strings.Repeat("x", 64), zip.Store},
	{"META-INF/MANIFEST.MF", "stale manifest", zip.Deflate},
	{"META-INF/CERT.SF", "stale signature file", zip.Deflate},
	{"META-INF/CERT.RSA", "stale signature block", zip.Deflate},
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

func signFixture(t *testing.T, opts *apksign.SignOpts) (string, *apksign.Identity) {
	t.Helper()

	dir := t.TempDir()

	src := filepath.Join(dir, "src.apk")
	writeContainer(t, src, containerFixture)

	identity, err := apksign.NewIdentity("test")
	if err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(dir, "dst.apk")
	if err = apksign.Sign(context.Background(), src, dst, identity, opts); err != nil {
		t.Fatal(err)
	}

	return dst, identity
}

func contentDigest(data string) string {
	sum := sha256.Sum256([]byte(data))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// parseSections reassembles wrapped attribute lines and splits the data
// into its main section and named sections.
func parseSections(t *testing.T, data string) (map[string]string, []map[string]string) {
	t.Helper()

	var lines []string
	for _, line := range strings.Split(data, "\r\n") {
		if strings.HasPrefix(line, " ") {
			if len(lines) == 0 {
				t.Fatalf("continuation with nothing to continue: %q", line)
			}
			lines[len(lines)-1] += line[1:]
			continue
		}
		lines = append(lines, line)
	}

	sections := []map[string]string{}
	current := map[string]string{}
	for _, line := range lines {
		if line == "" {
			if len(current) > 0 {
				sections = append(sections, current)
				current = map[string]string{}
			}
			continue
		}

		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			t.Fatalf("malformed attribute line %q", line)
		}
		current[key] = value
	}
	if len(current) > 0 {
		sections = append(sections, current)
	}

	if len(sections) == 0 {
		t.Fatal("no sections")
	}

	return sections[0], sections[1:]
}

func TestNewIdentity(t *testing.T) {
	identity, err := apksign.NewIdentity("release")
	if err != nil {
		t.Fatal(err)
	}

	if bits := identity.Key.N.BitLen(); bits != 2048 {
		t.Errorf("expected a 2048-bit key, got %d", bits)
	}

	c := identity.Certificate

	if err = c.CheckSignature(c.SignatureAlgorithm, c.RawTBSCertificate, c.Signature); err != nil {
		t.Error(err)
	}

	if c.Subject.CommonName != "release" {
		t.Errorf("got common name %q", c.Subject.CommonName)
	}

	if !c.NotAfter.After(time.Now().AddDate(20, 0, 0)) {
		t.Errorf("expected a long-lived certificate, expires %s", c.NotAfter)
	}
}

func TestSign(t *testing.T) {
	dst, identity := signFixture(t, nil)

	r, err := zip.OpenReader(dst)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if len(r.File) != 9 {
		t.Fatalf("expected 9 entries, got %d", len(r.File))
	}

	for _, e := range containerFixture {
		if strings.HasSuffix(e.name, "/") || strings.HasPrefix(e.name, "META-INF/") {
			continue
		}

		if data := readEntry(t, &r.Reader, e.name); data != e.data {
			t.Errorf("expected %s to survive signing, got %q", e.name, data)
		}
	}

	manifest := readEntry(t, &r.Reader, "META-INF/MANIFEST.MF")
	sf := readEntry(t, &r.Reader, "META-INF/CERT.SF")

	for _, data := range []string{manifest, sf} {
		for _, line := range strings.Split(data, "\r\n") {
			if len(line) > 70 {
				t.Errorf("attribute line over 70 bytes: %q", line)
			}
		}
	}

	main, sections := parseSections(t, manifest)

	if main["Manifest-Version"] != "1.0" {
		t.Errorf("got manifest version %q", main["Manifest-Version"])
	}

	if len(sections) != 5 {
		t.Fatalf("expected 5 manifest sections, got %d", len(sections))
	}

	digests := map[string]string{}
	for _, section := range sections {
		digests[section["Name"]] = section["SHA-256-Digest"]
	}

	for _, e := range containerFixture {
		if strings.HasSuffix(e.name, "/") || strings.HasPrefix(e.name, "META-INF/") {
			continue
		}

		if digests[e.name] != contentDigest(e.data) {
			t.Errorf("wrong manifest digest for %s", e.name)
		}
	}

	sfMain, sfSections := parseSections(t, sf)

	if sfMain["Signature-Version"] != "1.0" {
		t.Errorf("got signature version %q", sfMain["Signature-Version"])
	}

	if sfMain["X-Android-APK-Signed"] != "2, 3" {
		t.Errorf("got X-Android-APK-Signed %q", sfMain["X-Android-APK-Signed"])
	}

	if sfMain["SHA-256-Digest-Manifest"] != contentDigest(manifest) {
		t.Error("wrong manifest digest in the signature file")
	}

	// Each signature file section digests the corresponding manifest
	// section byte for byte, blank line included.
	manifestSections := strings.SplitAfter(manifest, "\r\n\r\n")

	if sfMain["SHA-256-Digest-Manifest-Main-Attributes"] != contentDigest(manifestSections[0]) {
		t.Error("wrong main attributes digest in the signature file")
	}

	if len(sfSections) != 5 {
		t.Fatalf("expected 5 signature file sections, got %d", len(sfSections))
	}

	for i, section := range sfSections {
		if section["SHA-256-Digest"] != contentDigest(manifestSections[i+1]) {
			t.Errorf("wrong signature file digest for %s", section["Name"])
		}
	}

	p7, err := pkcs7.Parse([]byte(readEntry(t, &r.Reader, "META-INF/CERT.RSA")))
	if err != nil {
		t.Fatal(err)
	}

	signer := p7.GetOnlySigner()
	if signer == nil {
		t.FailNow()
	}

	if !signer.Equal(identity.Certificate) {
		t.Error("expected the signature block to carry the signing certificate")
	}

	// The signature is detached, so hand the content back before verifying.
	p7.Content = []byte(sf)

	if err = p7.Verify(); err != nil {
		t.Error(err)
	}
}

type cursor struct {
	t *testing.T
	b []byte
}

func (c *cursor) take(n int) []byte {
	c.t.Helper()

	if n < 0 || n > len(c.b) {
		c.t.Fatalf("truncated: want %d bytes, have %d", n, len(c.b))
	}

	taken := c.b[:n]
	c.b = c.b[n:]
	return taken
}

func (c *cursor) uint32() uint32 {
	c.t.Helper()
	return binary.LittleEndian.Uint32(c.take(4))
}

func (c *cursor) uint64() uint64 {
	c.t.Helper()
	return binary.LittleEndian.Uint64(c.take(8))
}

// parseBlockPairs walks the ID-value pairs of a signing block.
func parseBlockPairs(t *testing.T, block []byte) map[uint32][]byte {
	t.Helper()

	if len(block) < 32 {
		t.Fatalf("signing block too small: %d bytes", len(block))
	}

	pairs := map[uint32][]byte{}

	c := &cursor{t: t, b: block[8 : len(block)-24]}
	for len(c.b) > 0 {
		n := c.uint64()
		id := c.uint32()
		pairs[id] = c.take(int(n) - 4)
	}

	return pairs
}

// recomputeDigest re-derives the section digest of a signed container
// from scratch: 1MiB chunks of the entries, the central directory and
// the end of central directory record with its directory offset
// pointing at the signing block.
func recomputeDigest(t *testing.T, f *os.File, size int64) []byte {
	t.Helper()

	eocd, err := renzip.FindEndOfCentralDirectory(f, size)
	if err != nil {
		t.Fatal(err)
	}

	start, _, ok := renzip.FindSigningBlock(f, int64(eocd.CentralDirectoryOffset))
	if !ok {
		t.Fatal("expected a signing block")
	}

	entries := make([]byte, start)
	if _, err = f.ReadAt(entries, 0); err != nil {
		t.Fatal(err)
	}

	directory := make([]byte, eocd.CentralDirectorySize)
	if _, err = f.ReadAt(directory, int64(eocd.CentralDirectoryOffset)); err != nil {
		t.Fatal(err)
	}

	patched, err := renzip.PatchCentralDirectoryOffset(eocd.Raw, uint32(start))
	if err != nil {
		t.Fatal(err)
	}

	var (
		count   uint32
		digests []byte
		prefix  [5]byte
	)
	for _, section := range [][]byte{entries, directory, patched} {
		for len(section) > 0 {
			n := len(section)
			if n > 1<<20 {
				n = 1 << 20
			}

			h := sha256.New()
			prefix[0] = 0xa5
			binary.LittleEndian.PutUint32(prefix[1:], uint32(n))
			h.Write(prefix[:])
			h.Write(section[:n])
			digests = h.Sum(digests)
			count++

			section = section[n:]
		}
	}

	h := sha256.New()
	prefix[0] = 0x5a
	binary.LittleEndian.PutUint32(prefix[1:], count)
	h.Write(prefix[:])
	h.Write(digests)
	return h.Sum(nil)
}

// checkSigner picks apart one scheme's block value and checks the
// digest, certificate, public key and signature against the identity.
func checkSigner(t *testing.T, value []byte, withSDKRange bool, digest []byte, identity *apksign.Identity) (uint32, uint32) {
	t.Helper()

	c := &cursor{t: t, b: value}

	if n := c.uint32(); int(n) != len(value)-4 {
		t.Errorf("wrong signer sequence length %d", n)
	}
	if n := c.uint32(); int(n) != len(value)-8 {
		t.Errorf("wrong signer length %d", n)
	}

	signedData := c.take(int(c.uint32()))

	var minSDK, maxSDK uint32
	if withSDKRange {
		minSDK, maxSDK = c.uint32(), c.uint32()
	}

	c.uint32() // signatures length
	c.uint32() // element length
	if alg := c.uint32(); alg != 0x0103 {
		t.Errorf("got signature algorithm %#x", alg)
	}
	signature := c.take(int(c.uint32()))

	publicKey, err := x509.ParsePKIXPublicKey(c.take(int(c.uint32())))
	if err != nil {
		t.Fatal(err)
	}

	if !publicKey.(*rsa.PublicKey).Equal(identity.Key.Public()) {
		t.Error("expected the embedded public key to match the identity")
	}

	sum := sha256.Sum256(signedData)
	if err = rsa.VerifyPKCS1v15(identity.Key.Public().(*rsa.PublicKey), crypto.SHA256, sum[:], signature); err != nil {
		t.Error(err)
	}

	s := &cursor{t: t, b: signedData}

	s.uint32() // digests length
	s.uint32() // element length
	if alg := s.uint32(); alg != 0x0103 {
		t.Errorf("got digest algorithm %#x", alg)
	}
	if embedded := s.take(int(s.uint32())); !bytes.Equal(embedded, digest) {
		t.Error("expected the embedded digest to match the recomputed one")
	}

	s.uint32() // certificates length
	certificate, err := x509.ParseCertificate(s.take(int(s.uint32())))
	if err != nil {
		t.Fatal(err)
	}

	if !certificate.Equal(identity.Certificate) {
		t.Error("expected the embedded certificate to match the identity")
	}

	if withSDKRange {
		if sdMin, sdMax := s.uint32(), s.uint32(); sdMin != minSDK || sdMax != maxSDK {
			t.Errorf("signed data SDK range %d-%d does not match the signer's %d-%d", sdMin, sdMax, minSDK, maxSDK)
		}
	}

	if n := s.uint32(); n != 0 {
		t.Errorf("expected no additional attributes, got %d bytes", n)
	}

	return minSDK, maxSDK
}

func TestSignBlock(t *testing.T) {
	dst, identity := signFixture(t, nil)

	f, err := os.Open(dst)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		t.Fatal(err)
	}

	eocd, err := renzip.FindEndOfCentralDirectory(f, info.Size())
	if err != nil {
		t.Fatal(err)
	}

	start, length, ok := renzip.FindSigningBlock(f, int64(eocd.CentralDirectoryOffset))
	if !ok {
		t.Fatal("expected a signing block")
	}

	block := make([]byte, length)
	if _, err = f.ReadAt(block, start); err != nil {
		t.Fatal(err)
	}

	pairs := parseBlockPairs(t, block)
	digest := recomputeDigest(t, f, info.Size())

	v2, ok := pairs[0x7109871a]
	if !ok {
		t.Fatal("expected a v2 pair")
	}
	checkSigner(t, v2, false, digest, identity)

	v3, ok := pairs[0xf05368c0]
	if !ok {
		t.Fatal("expected a v3 pair")
	}

	minSDK, maxSDK := checkSigner(t, v3, true, digest, identity)
	if minSDK != 28 {
		t.Errorf("got v3 min SDK %d", minSDK)
	}
	if maxSDK != math.MaxInt32 {
		t.Errorf("got v3 max SDK %d", maxSDK)
	}
}

func TestSignPreservesAlignment(t *testing.T) {
	dst, _ := signFixture(t, nil)

	misaligned, err := zipalign.Check(dst)
	if err != nil {
		t.Fatal(err)
	}

	if len(misaligned) > 0 {
		t.Errorf("expected no misaligned entries, got %v", misaligned)
	}
}

func TestSignV1Only(t *testing.T) {
	dst, _ := signFixture(t, &apksign.SignOpts{SkipV2: true, SkipV3: true})

	f, err := os.Open(dst)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		t.Fatal(err)
	}

	eocd, err := renzip.FindEndOfCentralDirectory(f, info.Size())
	if err != nil {
		t.Fatal(err)
	}

	if _, _, ok := renzip.FindSigningBlock(f, int64(eocd.CentralDirectoryOffset)); ok {
		t.Error("expected no signing block")
	}

	r, err := zip.OpenReader(dst)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	sfMain, _ := parseSections(t, readEntry(t, &r.Reader, "META-INF/CERT.SF"))

	if _, ok := sfMain["X-Android-APK-Signed"]; ok {
		t.Error("expected no block scheme marker on a JAR-only signature")
	}
}

func TestSignWithoutJARSignature(t *testing.T) {
	dst, _ := signFixture(t, &apksign.SignOpts{SkipV1: true})

	r, err := zip.OpenReader(dst)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	for _, f := range r.File {
		if strings.HasPrefix(f.Name, "META-INF/") {
			t.Errorf("unexpected entry %s", f.Name)
		}
	}

	f, err := os.Open(dst)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		t.Fatal(err)
	}

	eocd, err := renzip.FindEndOfCentralDirectory(f, info.Size())
	if err != nil {
		t.Fatal(err)
	}

	if _, _, ok := renzip.FindSigningBlock(f, int64(eocd.CentralDirectoryOffset)); !ok {
		t.Error("expected a signing block")
	}
}

func TestSignRejectsBadOptions(t *testing.T) {
	dir := t.TempDir()

	src := filepath.Join(dir, "src.apk")
	writeContainer(t, src, containerFixture)

	dst := filepath.Join(dir, "dst.apk")

	identity, err := apksign.NewIdentity("test")
	if err != nil {
		t.Fatal(err)
	}

	if err := apksign.Sign(context.Background(), src, dst, identity, &apksign.SignOpts{SkipV1: true, SkipV2: true, SkipV3: true}); err == nil {
		t.Error("expected an error with every scheme disabled")
	}

	if err := apksign.Sign(context.Background(), src, dst, nil, nil); err == nil {
		t.Error("expected an error without an identity")
	}

	if _, err := os.Stat(dst); !errors.Is(err, fs.ErrNotExist) {
		t.Error("expected no output")
	}
}

func TestSignLeavesNothingBehindOnFailure(t *testing.T) {
	dir := t.TempDir()

	src := filepath.Join(dir, "src.apk")
	writeContainer(t, src, containerFixture)

	identity, err := apksign.NewIdentity("test")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := apksign.Sign(ctx, src, filepath.Join(dir, "dst.apk"), identity, nil); err == nil {
		t.Error("expected an error")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}

	if len(entries) != 1 || entries[0].Name() != "src.apk" {
		t.Errorf("expected only the source to remain, got %v", entries)
	}
}
