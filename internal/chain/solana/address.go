package solana

import (
	"fmt"
	"strings"

	sol "github.com/gagliardetto/solana-go"
)

// ParseAddress validates a base58 encoded public key.
func ParseAddress(address string) (sol.PublicKey, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return sol.PublicKey{}, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}

	key, err := sol.PublicKeyFromBase58(address)
	if err != nil {
		return sol.PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return key, nil
}

// ValidateAddress reports whether address is a well formed wallet address.
func ValidateAddress(address string) error {
	_, err := ParseAddress(address)
	return err
}

// TokenAccount derives the associated token account of owner for mint.
func TokenAccount(owner, mint string) (string, error) {
	ownerKey, err := ParseAddress(owner)
	if err != nil {
		return "", fmt.Errorf("owner: %w", err)
	}

	mintKey, err := ParseAddress(mint)
	if err != nil {
		return "", fmt.Errorf("mint: %w", err)
	}

	ata, _, err := sol.FindAssociatedTokenAddress(ownerKey, mintKey)
	if err != nil {
		return "", fmt.Errorf("derive associated token account: %w", err)
	}
	return ata.String(), nil
}

// Deriver implements the payment gate's account derivation for a fixed mint.
type Deriver struct {
	Mint string
}

func (d Deriver) Validate(address string) error {
	return ValidateAddress(address)
}

func (d Deriver) TokenAccount(owner string) (string, error) {
	return TokenAccount(owner, d.Mint)
}
