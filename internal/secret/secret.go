// Package secret seals club passwords for storage with the job that needs
// them. Sealed values are authenticated and encrypted with the cookie keys.
package secret

import (
	"errors"
	"fmt"

	"github.com/gorilla/securecookie"
)

// ErrTampered is returned when a sealed value fails authentication or was
// sealed under a different name.
var ErrTampered = errors.New("sealed value rejected")

type Sealer struct {
	sc *securecookie.SecureCookie
}

// New returns a Sealer. hashKey authenticates (32 or 64 bytes); blockKey
// encrypts and must be 16, 24 or 32 bytes.
func New(hashKey, blockKey []byte) (*Sealer, error) {
	sc := securecookie.New(hashKey, blockKey)
	// sealed passwords live as long as their job
	sc.MaxAge(0)
	sc.SetSerializer(securecookie.JSONEncoder{})
	// Encode reports a bad block key lazily; surface it now.
	if _, err := sc.Encode("probe", ""); err != nil {
		return nil, fmt.Errorf("secret keys: %w", err)
	}
	return &Sealer{sc: sc}, nil
}

// Seal binds value to name, so a value sealed for one job cannot be opened
// as another's.
func (s *Sealer) Seal(name, value string) (string, error) {
	out, err := s.sc.Encode(name, value)
	if err != nil {
		return "", fmt.Errorf("seal %s: %w", name, err)
	}
	return out, nil
}

func (s *Sealer) Open(name, sealed string) (string, error) {
	var value string
	if err := s.sc.Decode(name, sealed, &value); err != nil {
		return "", fmt.Errorf("open %s: %w: %v", name, ErrTampered, err)
	}
	return value, nil
}
