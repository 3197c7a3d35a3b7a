package solana

import (
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/mr-tron/base58"
)

const (
	testUSDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	// System program id: 32 zero bytes, a valid curve point.
	testOnCurveOwner = "11111111111111111111111111111111"
)

// offCurveAddress returns a deterministic address that is not an ed25519 point.
func offCurveAddress(t *testing.T) string {
	t.Helper()
	for i := 0; i < 256; i++ {
		h := sha256.Sum256([]byte{byte(i), 'o', 'f', 'f'})
		if !isOnCurve(h[:]) {
			return base58.Encode(h[:])
		}
	}
	t.Fatal("no off-curve point found")
	return ""
}

func TestIsOnCurve(t *testing.T) {
	on, err := IsOnCurve(testOnCurveOwner)
	if err != nil {
		t.Fatalf("IsOnCurve: %v", err)
	}
	if !on {
		t.Errorf("expected %s on curve", testOnCurveOwner)
	}

	off, err := IsOnCurve(offCurveAddress(t))
	if err != nil {
		t.Fatalf("IsOnCurve: %v", err)
	}
	if off {
		t.Error("expected off-curve address")
	}
}

func TestIsOnCurve_InvalidAddress(t *testing.T) {
	for _, addr := range []string{"", "0OIl", "abc"} {
		if _, err := IsOnCurve(addr); !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("address %q: expected ErrInvalidAddress, got %v", addr, err)
		}
	}
}

func TestFindAssociatedTokenAddress(t *testing.T) {
	ata, err := FindAssociatedTokenAddress(testOnCurveOwner, testUSDCMint)
	if err != nil {
		t.Fatalf("FindAssociatedTokenAddress: %v", err)
	}
	if _, err := DecodeAddress(ata); err != nil {
		t.Errorf("derived address not decodable: %v", err)
	}

	again, err := FindAssociatedTokenAddress(testOnCurveOwner, testUSDCMint)
	if err != nil {
		t.Fatalf("FindAssociatedTokenAddress: %v", err)
	}
	if ata != again {
		t.Errorf("derivation not deterministic: %s != %s", ata, again)
	}
}

func TestFindAssociatedTokenAddress_OffCurve(t *testing.T) {
	_, err := FindAssociatedTokenAddress(offCurveAddress(t), testUSDCMint)
	if !errors.Is(err, ErrOwnerOffCurve) {
		t.Fatalf("expected ErrOwnerOffCurve, got %v", err)
	}
}
