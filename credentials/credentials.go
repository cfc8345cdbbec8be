package credentials

import (
	"golang.org/x/crypto/bcrypt"
)

// Verifier hashes session passphrases and checks join attempts against the
// stored hash. The hash is never reversible and Verify never returns it.
type Verifier interface {
	// Hash returns the stored form of passphrase, or nil when passphrase is
	// empty (no passphrase required).
	Hash(passphrase string) (*string, error)

	// Verify reports whether passphrase matches hash. A nil hash always
	// matches.
	Verify(passphrase string, hash *string) bool
}

// BcryptVerifier implements Verifier with bcrypt.
type BcryptVerifier struct {
	cost int
}

var _ Verifier = (*BcryptVerifier)(nil)

// NewBcryptVerifier returns a verifier using the given bcrypt cost, clamped to
// bcrypt's supported range. Zero or negative selects bcrypt.DefaultCost.
func NewBcryptVerifier(cost int) *BcryptVerifier {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &BcryptVerifier{cost: cost}
}

// Cost returns the bcrypt cost factor in use.
func (v *BcryptVerifier) Cost() int {
	return v.cost
}

func (v *BcryptVerifier) Hash(passphrase string) (*string, error) {
	if passphrase == "" {
		return nil, nil
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(passphrase), v.cost)
	if err != nil {
		return nil, err
	}
	hash := string(bytes)
	return &hash, nil
}

func (v *BcryptVerifier) Verify(passphrase string, hash *string) bool {
	if hash == nil {
		return true
	}
	if passphrase == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(*hash), []byte(passphrase)) == nil
}
