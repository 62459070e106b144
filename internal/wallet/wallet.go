package wallet

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/ripemd160"
)

var (
	ErrNotConfigured  = errors.New("wallet mnemonic not configured")
	ErrUnknownVersion = errors.New("unknown wallet version")
)

type Version byte

const (
	V4R2 Version = 1
	V5R1 Version = 2
)

func ParseVersion(v string) (Version, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "v4r2", "4", "v4":
		return V4R2, nil
	case "v5r1", "5", "v5":
		return V5R1, nil
	}
	return 0, ErrUnknownVersion
}

const (
	seedSalt       = "TON default seed"
	seedIterations = 100000
)

// Wallet holds signing key material derived from a mnemonic phrase. The
// derivation runs once on first use and is memoized; the phrase itself never
// leaves the struct.
type Wallet struct {
	mnemonic string
	version  Version
	prefix   string

	mu      sync.Mutex
	derived bool
	key     ed25519.PrivateKey
	address string
}

func New(mnemonic, version, prefix string) (*Wallet, error) {
	ver, err := ParseVersion(version)
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		return nil, errors.New("address prefix is required")
	}
	return &Wallet{mnemonic: mnemonic, version: ver, prefix: prefix}, nil
}

func (w *Wallet) Configured() bool {
	return strings.TrimSpace(w.mnemonic) != ""
}

func (w *Wallet) derive() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.derived {
		return nil
	}
	phrase := strings.Join(strings.Fields(w.mnemonic), " ")
	if phrase == "" {
		return ErrNotConfigured
	}

	mac := hmac.New(sha512.New, []byte(phrase))
	entropy := mac.Sum(nil)
	seed := pbkdf2.Key(entropy, []byte(seedSalt), seedIterations, ed25519.SeedSize, sha512.New)
	w.key = ed25519.NewKeyFromSeed(seed)

	addr, err := encodeAddress(w.prefix, w.version, w.key.Public().(ed25519.PublicKey))
	if err != nil {
		return err
	}
	w.address = addr
	w.derived = true
	return nil
}

// encodeAddress renders the account address the same way regardless of key
// type: version byte plus public key, hashed and bech32-encoded.
func encodeAddress(prefix string, version Version, pub ed25519.PublicKey) (string, error) {
	payload := append([]byte{byte(version)}, pub...)
	sum := sha256.Sum256(payload)
	rip := ripemd160.New()
	_, _ = rip.Write(sum[:])
	converted, err := bech32.ConvertBits(rip.Sum(nil), 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(prefix, converted)
}

func (w *Wallet) Address() (string, error) {
	if err := w.derive(); err != nil {
		return "", err
	}
	return w.address, nil
}

func (w *Wallet) PublicKeyHex() (string, error) {
	if err := w.derive(); err != nil {
		return "", err
	}
	return hex.EncodeToString(w.key.Public().(ed25519.PublicKey)), nil
}

// StateInit is the account initialization blob the provider expects when
// linking the wallet: the version byte plus public key, base64-encoded.
func (w *Wallet) StateInit() (string, error) {
	if err := w.derive(); err != nil {
		return "", err
	}
	pub := w.key.Public().(ed25519.PublicKey)
	return base64.StdEncoding.EncodeToString(append([]byte{byte(w.version)}, pub...)), nil
}

// Transfer is one unsigned on-chain transfer parsed from a provider
// transaction descriptor.
type Transfer struct {
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
	Payload     string `json:"payload,omitempty"`
	ValidUntil  int64  `json:"valid_until,omitempty"`
}

// SignedMessage is the broadcast-ready envelope: the serialized transfer
// body, its signature and the signer's public key.
type SignedMessage struct {
	Body      string `json:"body"`
	Signature string `json:"signature"`
	PublicKey string `json:"public_key"`
}

func (w *Wallet) SignTransfer(t Transfer) (*SignedMessage, error) {
	if err := w.derive(); err != nil {
		return nil, err
	}
	if t.Destination == "" || t.Amount == "" {
		return nil, errors.New("transfer destination and amount are required")
	}
	body, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	sig := ed25519.Sign(w.key, body)
	return &SignedMessage{
		Body:      base64.StdEncoding.EncodeToString(body),
		Signature: base64.StdEncoding.EncodeToString(sig),
		PublicKey: hex.EncodeToString(w.key.Public().(ed25519.PublicKey)),
	}, nil
}
