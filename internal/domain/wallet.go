package domain

// Wallet is a tracked custody wallet as exposed by the wallet directory.
type Wallet struct {
	ID                      int64
	Address                 string
	USDCTokenAccountAddress string // empty until resolved
}

// HasTokenAccount reports whether the wallet's USDC token account is known.
func (w Wallet) HasTokenAccount() bool {
	return w.USDCTokenAccountAddress != ""
}
