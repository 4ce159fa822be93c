package apksign

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/smallstep/pkcs7"
)

// JAR signing. MANIFEST.MF records a digest of every entry's
// uncompressed contents, CERT.SF records digests of the manifest and
// of each of its sections, and CERT.RSA is a detached PKCS#7 signature
// over CERT.SF.

const (
	manifestName       = "META-INF/MANIFEST.MF"
	signatureFileName  = "META-INF/CERT.SF"
	signatureBlockName = "META-INF/CERT.RSA"
)

type entryDigest struct {
	name   string
	digest string
}

// writeAttribute writes a manifest attribute, breaking lines at 70
// bytes with a leading space on each continuation.
func writeAttribute(b *bytes.Buffer, key, value string) {
	line := key + ": " + value
	for first := true; len(line) > 0; first = false {
		max := 70
		if !first {
			b.WriteByte(' ')
			max = 69
		}
		if len(line) < max {
			max = len(line)
		}
		b.WriteString(line[:max])
		b.WriteString("\r\n")
		line = line[max:]
	}
}

func digestBase64(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// buildManifest renders MANIFEST.MF and returns it along with its main
// section and each entry section, which the signature file digests
// individually.
func buildManifest(digests []entryDigest) (manifest, mainSection []byte, sections [][]byte) {
	main := new(bytes.Buffer)
	writeAttribute(main, "Manifest-Version", "1.0")
	writeAttribute(main, "Created-By", "1.0 (Android)")
	main.WriteString("\r\n")

	b := new(bytes.Buffer)
	b.Write(main.Bytes())
	sections = make([][]byte, len(digests))
	for i, d := range digests {
		section := new(bytes.Buffer)
		writeAttribute(section, "Name", d.name)
		writeAttribute(section, "SHA-256-Digest", d.digest)
		section.WriteString("\r\n")
		sections[i] = section.Bytes()
		b.Write(sections[i])
	}

	return b.Bytes(), main.Bytes(), sections
}

// buildSignatureFile renders CERT.SF. The X-Android-APK-Signed
// attribute names the block-based schemes also applied so that
// verifiers reject a package stripped down to its JAR signature.
func buildSignatureFile(manifest, mainSection []byte, digests []entryDigest, sections [][]byte, schemes []int) []byte {
	b := new(bytes.Buffer)
	writeAttribute(b, "Signature-Version", "1.0")
	writeAttribute(b, "Created-By", "1.0 (Android)")
	if len(schemes) > 0 {
		ids := make([]string, len(schemes))
		for i, scheme := range schemes {
			ids[i] = strconv.Itoa(scheme)
		}
		writeAttribute(b, "X-Android-APK-Signed", strings.Join(ids, ", "))
	}
	writeAttribute(b, "SHA-256-Digest-Manifest-Main-Attributes", digestBase64(mainSection))
	writeAttribute(b, "SHA-256-Digest-Manifest", digestBase64(manifest))
	b.WriteString("\r\n")

	for i, d := range digests {
		writeAttribute(b, "Name", d.name)
		writeAttribute(b, "SHA-256-Digest", digestBase64(sections[i]))
		b.WriteString("\r\n")
	}

	return b.Bytes()
}

// signSignatureFile produces the detached PKCS#7 signature block over
// CERT.SF.
func signSignatureFile(sf []byte, identity *Identity) ([]byte, error) {
	signed, err := pkcs7.NewSignedData(sf)
	if err != nil {
		return nil, err
	}

	signed.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)

	if err := signed.SignWithoutAttr(identity.Certificate, identity.Key, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, err
	}

	signed.Detach()

	return signed.Finish()
}
