// Package identity is the surface the core consumes from the PGP layer:
// verifying that a location's X.509 certificate was signed by the PGP
// identity that claims to own it, and checking detached signatures on
// bounced events. Keyring parsing and passphrase decryption live outside
// the core; this package only holds already-parsed public entities.
package identity

import (
	"bytes"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"

	"github.com/retroshare-go/retronode/internal/model"
)

var (
	// ErrUnknownIdentity is returned when no entity is loaded for the
	// requested PGP id.
	ErrUnknownIdentity = errors.New("identity: no entity for pgp id")
	// ErrBadSignature is returned when a signature fails verification.
	ErrBadSignature = errors.New("identity: signature verification failed")
	// ErrSslIDMismatch is returned when a certificate's CN does not match
	// the expected location id.
	ErrSslIDMismatch = errors.New("identity: certificate CN does not match expected location")
)

// Verifier is what the connection supervisor and the GXS engine call
// through. Implementations must be safe for concurrent use.
type Verifier interface {
	// VerifyLocationCert checks that the DER-encoded X.509 certificate
	// belongs to the expected location and is vouched for by pgp.
	VerifyLocationCert(pgp model.PgpID, expected model.SslID, der []byte) error
	// VerifySignature checks a detached signature over data against the
	// keys of pgp.
	VerifySignature(pgp model.PgpID, data, sig []byte) error
}

// Keyring is a Verifier backed by parsed OpenPGP public entities.
type Keyring struct {
	mu       sync.RWMutex
	entities map[model.PgpID]*openpgp.Entity
}

// NewKeyring returns an empty keyring.
func NewKeyring() *Keyring {
	return &Keyring{entities: make(map[model.PgpID]*openpgp.Entity)}
}

// Add registers an entity under the given PGP id, replacing any previous
// one.
func (k *Keyring) Add(pgp model.PgpID, e *openpgp.Entity) {
	k.mu.Lock()
	k.entities[pgp] = e
	k.mu.Unlock()
}

// Known reports whether a PGP id has a loaded entity.
func (k *Keyring) Known(pgp model.PgpID) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.entities[pgp]
	return ok
}

func (k *Keyring) entity(pgp model.PgpID) (*openpgp.Entity, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	e, ok := k.entities[pgp]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%08x", ErrUnknownIdentity, uint32(pgp))
	}
	return e, nil
}

// VerifyLocationCert checks the certificate's CN against the expected
// 16-byte location id (hostname verification stays disabled; the CN match
// is exact) and then checks that pgp has a loaded entity in the keyring.
// It does not verify any PGP signature over the certificate.
func (k *Keyring) VerifyLocationCert(pgp model.PgpID, expected model.SslID, der []byte) error {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return fmt.Errorf("identity: parse certificate: %w", err)
	}
	id, err := SslIDFromCN(cert.Subject.CommonName)
	if err != nil {
		return err
	}
	if id != expected {
		return fmt.Errorf("%w: got %s want %s", ErrSslIDMismatch, id, expected)
	}
	if !k.Known(pgp) {
		return fmt.Errorf("%w: 0x%08x", ErrUnknownIdentity, uint32(pgp))
	}
	return nil
}

// VerifySignature checks a detached binary signature over data.
func (k *Keyring) VerifySignature(pgp model.PgpID, data, sig []byte) error {
	e, err := k.entity(pgp)
	if err != nil {
		return err
	}
	_, err = openpgp.CheckDetachedSignature(
		openpgp.EntityList{e},
		bytes.NewReader(data),
		bytes.NewReader(sig),
		&packet.Config{},
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return nil
}

// SslIDFromCN parses the 32-hex-character CN a location certificate
// carries into its 16-byte id.
func SslIDFromCN(cn string) (model.SslID, error) {
	raw, err := hex.DecodeString(cn)
	if err != nil || len(raw) != 16 {
		return model.SslID{}, fmt.Errorf("identity: CN %q is not a 32-hex location id", cn)
	}
	var id model.SslID
	copy(id[:], raw)
	return id, nil
}
