package renpack

import (
	"context"

	"github.com/frantjc/renpack/apksign"
)

// IdentitySource selects how the pipeline obtains its signing
// identity. It is a closed set of three: EphemeralKey, NewKey and
// StoredKey, resolved once before any other work so that a bad key
// reference fails before extraction starts.
type IdentitySource interface {
	isIdentitySource()
}

// EphemeralKey generates a throwaway identity for this run only.
// Nothing retains it, so the package cannot be updated in place later.
type EphemeralKey struct{}

// NewKey generates an identity and stores it in the keystore under
// Name before signing with it.
type NewKey struct {
	Name       string
	Passphrase string
}

// StoredKey loads a previously stored identity from the keystore.
type StoredKey struct {
	Name       string
	Passphrase string
}

func (EphemeralKey) isIdentitySource() {}
func (NewKey) isIdentitySource()       {}
func (StoredKey) isIdentitySource()    {}

// Keystore stores and retrieves named signing identities.
type Keystore interface {
	Store(ctx context.Context, name, passphrase string, identity *apksign.Identity) error
	Load(ctx context.Context, name, passphrase string) (*apksign.Identity, error)
}
