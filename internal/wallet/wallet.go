// internal/wallet/wallet.go
package wallet

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// Wallet holds one signing key plus a cache of derived associated token
// account addresses.
type Wallet struct {
	privateKey solana.PrivateKey
	publicKey  solana.PublicKey

	mu       sync.Mutex
	ataCache map[string]solana.PublicKey
}

// New builds a wallet from a base58-encoded 64-byte private key.
func New(privateKeyBase58 string) (*Wallet, error) {
	privateKeyBytes, err := base58.Decode(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(privateKeyBytes) != 64 {
		return nil, fmt.Errorf("invalid private key length: expected 64 bytes, got %d", len(privateKeyBytes))
	}
	privateKey := solana.PrivateKey(privateKeyBytes)
	return &Wallet{
		privateKey: privateKey,
		publicKey:  privateKey.PublicKey(),
		ataCache:   make(map[string]solana.PublicKey),
	}, nil
}

// FromEnv builds a wallet from the key stored in the named environment
// variable. The key never appears in configuration files.
func FromEnv(envVar string) (*Wallet, error) {
	key := os.Getenv(envVar)
	if key == "" {
		return nil, fmt.Errorf("environment variable %s is not set", envVar)
	}
	return New(key)
}

// PublicKey returns the wallet's public key.
func (w *Wallet) PublicKey() solana.PublicKey {
	return w.publicKey
}

// SignTransaction signs with this wallet's key only.
func (w *Wallet) SignTransaction(tx *solana.Transaction) error {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(w.publicKey) {
			return &w.privateKey
		}
		return nil
	})
	return err
}

// ATA returns the associated token account address for a mint, computed
// once and cached.
func (w *Wallet) ATA(mint solana.PublicKey) (solana.PublicKey, error) {
	mintStr := mint.String()
	w.mu.Lock()
	defer w.mu.Unlock()
	if ata, ok := w.ataCache[mintStr]; ok {
		return ata, nil
	}
	ata, _, err := solana.FindAssociatedTokenAddress(w.publicKey, mint)
	if err != nil {
		return solana.PublicKey{}, err
	}
	w.ataCache[mintStr] = ata
	return ata, nil
}

func (w *Wallet) String() string {
	return w.publicKey.String()
}

// Keyring maps wallet references from trade requests to loaded wallets.
type Keyring struct {
	wallets map[string]*Wallet
}

// NewKeyring builds a keyring from named wallets.
func NewKeyring(wallets map[string]*Wallet) *Keyring {
	if wallets == nil {
		wallets = make(map[string]*Wallet)
	}
	return &Keyring{wallets: wallets}
}

// LoadKeyring reads a CSV file with a header row and [name, private_key]
// columns. Rows with malformed keys are skipped.
func LoadKeyring(path string) (*Keyring, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wallet file: %w", err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read wallet CSV: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("wallet CSV has no data rows")
	}

	wallets := make(map[string]*Wallet)
	for _, record := range records[1:] {
		if len(record) != 2 || record[0] == "" {
			continue
		}
		w, err := New(record[1])
		if err != nil {
			continue
		}
		wallets[record[0]] = w
	}
	if len(wallets) == 0 {
		return nil, fmt.Errorf("no valid wallets in %s", path)
	}
	return &Keyring{wallets: wallets}, nil
}

// Resolve returns the wallet for a reference name.
func (k *Keyring) Resolve(ref string) (*Wallet, error) {
	w, ok := k.wallets[ref]
	if !ok {
		return nil, fmt.Errorf("unknown wallet reference %q", ref)
	}
	return w, nil
}

// Names lists the loaded wallet references.
func (k *Keyring) Names() []string {
	names := make([]string, 0, len(k.wallets))
	for name := range k.wallets {
		names = append(names, name)
	}
	return names
}
