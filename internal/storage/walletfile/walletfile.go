// Package walletfile implements storage.WalletDirectory on a YAML file.
// It lets the reconciler run against a fixed wallet set without the custody database.
package walletfile

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/NargusS/tiltpay-backend/internal/domain"
	"github.com/NargusS/tiltpay-backend/internal/storage"
)

// File is the on-disk document.
//
//	wallets:
//	  - id: 1
//	    address: 7xKX...
//	    usdc_token_account: 9aE4...
type File struct {
	Wallets []Entry `yaml:"wallets"`
}

// Entry is one wallet of the file.
type Entry struct {
	ID           int64  `yaml:"id"`
	Address      string `yaml:"address"`
	TokenAccount string `yaml:"usdc_token_account,omitempty"`
}

// Directory serves wallets from a YAML file. SetTokenAccount rewrites the file.
type Directory struct {
	mu      sync.RWMutex
	path    string
	wallets []domain.Wallet
}

// Compile-time interface check.
var _ storage.WalletDirectory = (*Directory)(nil)

// Load reads and validates the file at path.
func Load(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wallet file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse wallet file: %w", err)
	}

	seen := make(map[int64]struct{}, len(f.Wallets))
	wallets := make([]domain.Wallet, 0, len(f.Wallets))
	for i, e := range f.Wallets {
		if e.ID <= 0 || e.Address == "" {
			return nil, fmt.Errorf("%w: wallet %d needs id and address", storage.ErrInvalidInput, i)
		}
		if _, dup := seen[e.ID]; dup {
			return nil, fmt.Errorf("%w: wallet id %d", storage.ErrDuplicateKey, e.ID)
		}
		seen[e.ID] = struct{}{}
		wallets = append(wallets, domain.Wallet{ID: e.ID, Address: e.Address, USDCTokenAccountAddress: e.TokenAccount})
	}
	sort.Slice(wallets, func(i, j int) bool { return wallets[i].ID < wallets[j].ID })

	return &Directory{path: path, wallets: wallets}, nil
}

// ListPrimary returns every wallet of the file.
func (d *Directory) ListPrimary(_ context.Context) ([]*domain.Wallet, error) {
	return d.list(true, 0), nil
}

// ListForTokenAccountUpdate returns wallets without a token account, or all with includeResolved.
func (d *Directory) ListForTokenAccountUpdate(_ context.Context, includeResolved bool, limit int) ([]*domain.Wallet, error) {
	return d.list(includeResolved, limit), nil
}

func (d *Directory) list(includeResolved bool, limit int) []*domain.Wallet {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var result []*domain.Wallet
	for _, w := range d.wallets {
		if !includeResolved && w.HasTokenAccount() {
			continue
		}
		wc := w
		result = append(result, &wc)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result
}

// SetTokenAccount updates the wallet and persists the file.
func (d *Directory) SetTokenAccount(_ context.Context, walletID int64, tokenAccount string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	idx := -1
	for i, w := range d.wallets {
		if w.ID == walletID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return storage.ErrNotFound
	}

	prev := d.wallets[idx].USDCTokenAccountAddress
	d.wallets[idx].USDCTokenAccountAddress = tokenAccount
	if err := d.saveLocked(); err != nil {
		d.wallets[idx].USDCTokenAccountAddress = prev
		return err
	}
	return nil
}

func (d *Directory) saveLocked() error {
	f := File{Wallets: make([]Entry, 0, len(d.wallets))}
	for _, w := range d.wallets {
		f.Wallets = append(f.Wallets, Entry{ID: w.ID, Address: w.Address, TokenAccount: w.USDCTokenAccountAddress})
	}

	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("encode wallet file: %w", err)
	}

	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write wallet file: %w", err)
	}
	if err := os.Rename(tmp, d.path); err != nil {
		return fmt.Errorf("replace wallet file: %w", err)
	}
	return nil
}
