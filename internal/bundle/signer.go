package bundle

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
)

// Signer produces armored detached OpenPGP signatures over manifests
type Signer struct {
	entity *openpgp.Entity
}

// NewSigner wraps an entity holding a decrypted private key
func NewSigner(entity *openpgp.Entity) (*Signer, error) {
	if entity == nil || entity.PrivateKey == nil {
		return nil, errors.New("signing entity has no private key")
	}
	if entity.PrivateKey.Encrypted {
		return nil, errors.New("signing key is encrypted")
	}
	return &Signer{entity: entity}, nil
}

// LoadSigner reads the first private key of an armored key ring. The key is
// decrypted with passphrase when it is protected.
func LoadSigner(path, passphrase string) (*Signer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open signing key: %w", err)
	}
	defer func() { _ = f.Close() }()

	ring, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}

	for _, entity := range ring {
		if entity.PrivateKey == nil {
			continue
		}
		if entity.PrivateKey.Encrypted {
			if passphrase == "" {
				return nil, errors.New("signing key is encrypted and no passphrase was given")
			}
			if err := entity.DecryptPrivateKeys([]byte(passphrase)); err != nil {
				return nil, fmt.Errorf("decrypt signing key: %w", err)
			}
		}
		return NewSigner(entity)
	}

	return nil, fmt.Errorf("no private key in %s", path)
}

// Sign writes an armored detached signature of message to w
func (s *Signer) Sign(w io.Writer, message io.Reader) error {
	if err := openpgp.ArmoredDetachSign(w, s.entity, message, nil); err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	return nil
}
