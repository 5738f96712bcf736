package wallet

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gagliardetto/solana-go"
)

const maxAddressLength = 100 // Solana addresses are 44 chars, give buffer

// Valid Solana address/signature characters: base58 (no 0, O, I, l).
var validBase58Regex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)

// ValidationError marks an identifier that failed syntactic validation
// before touching the registry or the network.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

// ParsePublicKey validates and decodes a base58 public key.
// Malformed identifiers are rejected with a *ValidationError; nothing
// unvalidated ever enters the model.
func ParsePublicKey(address string) (solana.PublicKey, error) {
	if address == "" {
		return solana.PublicKey{}, validationErrorf("address is required")
	}
	if len(address) > maxAddressLength {
		return solana.PublicKey{}, validationErrorf("address too long: %d chars", len(address))
	}
	if !validBase58Regex.MatchString(address) {
		return solana.PublicKey{}, validationErrorf("address contains invalid base58 characters")
	}
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return solana.PublicKey{}, validationErrorf("invalid address: %v", err)
	}
	return pk, nil
}
