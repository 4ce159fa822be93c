package renkeys

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/frantjc/renpack/apksign"
	"github.com/frantjc/renpack/internal/renregexp"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
	"software.sslmate.com/src/go-pkcs12"
)

var (
	// ErrNotFound is returned when loading a key that was never stored.
	ErrNotFound = errors.New("key not found")

	// ErrWrongPassphrase is returned when a stored key cannot be
	// decrypted with the given passphrase.
	ErrWrongPassphrase = errors.New("wrong passphrase")
)

// Keystore keeps signing identities as passphrase-protected PKCS#12
// archives in a bucket.
type Keystore struct {
	bucket *blob.Bucket
}

func New(bucket *blob.Bucket) *Keystore {
	return &Keystore{bucket: bucket}
}

// Open opens the keystore in the bucket at the given URL, e.g.
// file:///home/user/.config/renpack/keys or s3://bucket/keys.
func Open(ctx context.Context, url string) (*Keystore, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open keystore: %w", err)
	}

	return New(bucket), nil
}

func (k *Keystore) Close() error {
	return k.bucket.Close()
}

// Store encrypts the identity under the passphrase and writes it to
// the bucket, overwriting any identity already stored under name.
func (k *Keystore) Store(ctx context.Context, name, passphrase string, identity *apksign.Identity) error {
	if !renregexp.IsKeyName(name) {
		return fmt.Errorf("invalid key name %q", name)
	}

	data, err := pkcs12.Modern.Encode(identity.Key, identity.Certificate, nil, passphrase)
	if err != nil {
		return fmt.Errorf("encode key %s: %w", name, err)
	}

	w, err := k.bucket.NewWriter(ctx, Key(name), nil)
	if err != nil {
		return err
	}

	if _, err = w.Write(data); err != nil {
		return err
	}

	return w.Close()
}

// Load reads the named identity back out of the bucket.
func (k *Keystore) Load(ctx context.Context, name, passphrase string) (*apksign.Identity, error) {
	r, err := k.bucket.NewReader(ctx, Key(name), nil)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	} else if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	key, certificate, err := pkcs12.Decode(data, passphrase)
	if errors.Is(err, pkcs12.ErrIncorrectPassword) {
		return nil, fmt.Errorf("%w for key %s", ErrWrongPassphrase, name)
	} else if err != nil {
		return nil, fmt.Errorf("decode key %s: %w", name, err)
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key %s is not an RSA key", name)
	}

	return &apksign.Identity{Key: rsaKey, Certificate: certificate}, nil
}

// List returns the names of every stored identity.
func (k *Keystore) List(ctx context.Context) ([]string, error) {
	var (
		names = []string{}
		iter  = k.bucket.List(nil)
	)

	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, err
		}

		if name, ok := strings.CutSuffix(obj.Key, keySuffix); ok {
			names = append(names, name)
		}
	}

	return names, nil
}
