package apksign

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"io"
	"math"

	"github.com/frantjc/renpack/internal/renzip"
)

// Block-based signature schemes. The container is digested as three
// sections, entries, central directory, and end of central directory,
// and the signature over those digests lives in a signing block wedged
// between the first two.

const (
	// RSASSA-PKCS1-v1_5 over SHA2-256.
	sigAlgRSAPKCS1SHA256 = 0x0103

	schemeV2BlockID = 0x7109871a
	schemeV3BlockID = 0xf05368c0

	chunkSize = 1 << 20
)

type sizedReaderAt interface {
	io.ReaderAt
	Size() int64
}

// computeDigest splits each section into 1MiB chunks, hashes every
// chunk behind an 0xa5 prefix and its length, then hashes the chunk
// digests behind an 0x5a prefix and their count.
func computeDigest(sections ...sizedReaderAt) ([]byte, error) {
	var (
		count   uint32
		digests []byte
		buf     = make([]byte, chunkSize)
		prefix  [5]byte
	)

	for _, section := range sections {
		size := section.Size()
		for off := int64(0); off < size; off += chunkSize {
			n := size - off
			if n > chunkSize {
				n = chunkSize
			}
			if _, err := section.ReadAt(buf[:n], off); err != nil && !errors.Is(err, io.EOF) {
				return nil, err
			}

			h := sha256.New()
			prefix[0] = 0xa5
			binary.LittleEndian.PutUint32(prefix[1:], uint32(n))
			h.Write(prefix[:])
			h.Write(buf[:n])
			digests = h.Sum(digests)
			count++
		}
	}

	h := sha256.New()
	prefix[0] = 0x5a
	binary.LittleEndian.PutUint32(prefix[1:], count)
	h.Write(prefix[:])
	h.Write(digests)
	return h.Sum(nil), nil
}

func appendUint32Prefixed(b, data []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, uint32(len(data)))
	return append(b, data...)
}

// buildSignedData renders the signed data of a single signer: the
// digest sequence, the certificate chain, for the newer scheme the SDK
// range, and an empty additional attributes sequence.
func buildSignedData(digest, certificate []byte, withSDKRange bool, minSDK, maxSDK uint32) []byte {
	element := binary.LittleEndian.AppendUint32(nil, sigAlgRSAPKCS1SHA256)
	element = appendUint32Prefixed(element, digest)
	digests := appendUint32Prefixed(nil, element)

	certificates := appendUint32Prefixed(nil, certificate)

	signedData := appendUint32Prefixed(nil, digests)
	signedData = appendUint32Prefixed(signedData, certificates)
	if withSDKRange {
		signedData = binary.LittleEndian.AppendUint32(signedData, minSDK)
		signedData = binary.LittleEndian.AppendUint32(signedData, maxSDK)
	}
	return appendUint32Prefixed(signedData, nil)
}

// buildSigner wraps signed data, its signatures and the public key
// into one signer entry.
func buildSigner(signedData, signature, publicKey []byte, withSDKRange bool, minSDK, maxSDK uint32) []byte {
	element := binary.LittleEndian.AppendUint32(nil, sigAlgRSAPKCS1SHA256)
	element = appendUint32Prefixed(element, signature)
	signatures := appendUint32Prefixed(nil, element)

	signer := appendUint32Prefixed(nil, signedData)
	if withSDKRange {
		signer = binary.LittleEndian.AppendUint32(signer, minSDK)
		signer = binary.LittleEndian.AppendUint32(signer, maxSDK)
	}
	signer = appendUint32Prefixed(signer, signatures)
	return appendUint32Prefixed(signer, publicKey)
}

type blockPair struct {
	id    uint32
	value []byte
}

// buildSigningBlock assembles the signing block from its ID-value
// pairs. Both size fields count everything after the leading size
// field, including the trailing magic.
func buildSigningBlock(pairs []blockPair) []byte {
	var body []byte
	for _, pair := range pairs {
		body = binary.LittleEndian.AppendUint64(body, uint64(4+len(pair.value)))
		body = binary.LittleEndian.AppendUint32(body, pair.id)
		body = append(body, pair.value...)
	}

	size := uint64(len(body) + 8 + 16)
	block := binary.LittleEndian.AppendUint64(nil, size)
	block = append(block, body...)
	block = binary.LittleEndian.AppendUint64(block, size)
	return append(block, renzip.SigningBlockMagic...)
}

// signScheme produces the block value for one scheme over the section
// digest.
func signScheme(identity *Identity, digest, publicKey []byte, withSDKRange bool, minSDK, maxSDK uint32) ([]byte, error) {
	signedData := buildSignedData(digest, identity.Certificate.Raw, withSDKRange, minSDK, maxSDK)

	sum := sha256.Sum256(signedData)
	signature, err := rsa.SignPKCS1v15(rand.Reader, identity.Key, crypto.SHA256, sum[:])
	if err != nil {
		return nil, err
	}

	signer := buildSigner(signedData, signature, publicKey, withSDKRange, minSDK, maxSDK)
	return appendUint32Prefixed(nil, appendUint32Prefixed(nil, signer)), nil
}

// signingBlock digests the three sections, with the central directory
// offset the verifier will observe substituted into the end of central
// directory record, and signs them under the requested schemes.
func signingBlock(identity *Identity, entries, directory sizedReaderAt, eocd []byte, blockOffset uint32, v2, v3 bool, minSDK uint32) ([]byte, error) {
	patched, err := renzip.PatchCentralDirectoryOffset(eocd, blockOffset)
	if err != nil {
		return nil, err
	}

	digest, err := computeDigest(entries, directory, bytes.NewReader(patched))
	if err != nil {
		return nil, err
	}

	publicKey, err := x509.MarshalPKIXPublicKey(identity.Key.Public())
	if err != nil {
		return nil, err
	}

	var pairs []blockPair
	if v2 {
		value, err := signScheme(identity, digest, publicKey, false, 0, 0)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, blockPair{schemeV2BlockID, value})
	}
	if v3 {
		value, err := signScheme(identity, digest, publicKey, true, minSDK, math.MaxInt32)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, blockPair{schemeV3BlockID, value})
	}

	return buildSigningBlock(pairs), nil
}
