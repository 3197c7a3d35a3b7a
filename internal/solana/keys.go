package solana

import (
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/blocto/solana-go-sdk/common"
	"github.com/mr-tron/base58"
)

// ErrInvalidAddress is returned for strings that are not 32-byte base58 keys.
var ErrInvalidAddress = errors.New("invalid solana address")

// ErrOwnerOffCurve is returned when an associated token account is requested
// for an owner that is not an ed25519 point (PDAs, custodial addresses).
var ErrOwnerOffCurve = errors.New("token owner off curve")

// DecodeAddress decodes a base58 public key.
func DecodeAddress(address string) ([]byte, error) {
	b, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("%w: decoded length %d", ErrInvalidAddress, len(b))
	}
	return b, nil
}

// IsOnCurve reports whether address is a valid ed25519 point.
func IsOnCurve(address string) (bool, error) {
	b, err := DecodeAddress(address)
	if err != nil {
		return false, err
	}
	return isOnCurve(b), nil
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}

// FindAssociatedTokenAddress derives the canonical associated token account
// of owner for mint. Off-curve owners return ErrOwnerOffCurve.
func FindAssociatedTokenAddress(owner, mint string) (string, error) {
	ownerBytes, err := DecodeAddress(owner)
	if err != nil {
		return "", err
	}
	if !isOnCurve(ownerBytes) {
		return "", ErrOwnerOffCurve
	}
	mintBytes, err := DecodeAddress(mint)
	if err != nil {
		return "", err
	}

	ata, _, err := common.FindAssociatedTokenAddress(
		common.PublicKeyFromBytes(ownerBytes),
		common.PublicKeyFromBytes(mintBytes),
	)
	if err != nil {
		return "", fmt.Errorf("derive associated token address: %w", err)
	}
	return ata.ToBase58(), nil
}
