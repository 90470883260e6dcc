package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/celldex/pkg/cell"
)

// SignatureSize is the length of a recoverable signature [R || S || V]
const SignatureSize = 65

// signingDomain separates transaction signatures from any other message
// signed with the same key
var signingDomain = []byte("celldex-tx")

// Signer manages a secp256k1 key pair for signing transactions
type Signer struct {
	privateKey *ecdsa.PrivateKey
	publicKey  *ecdsa.PublicKey
	address    common.Address
}

// GenerateKey creates a new random secp256k1 key pair
func GenerateKey() (*Signer, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return newSigner(privateKey)
}

// FromPrivateKeyHex creates a Signer from a hex-encoded private key
// Format: "0x1234..." or "1234..." (64 hex chars)
func FromPrivateKeyHex(hexKey string) (*Signer, error) {
	if len(hexKey) >= 2 && (hexKey[:2] == "0x" || hexKey[:2] == "0X") {
		hexKey = hexKey[2:]
	}
	privateKey, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return newSigner(privateKey)
}

func newSigner(privateKey *ecdsa.PrivateKey) (*Signer, error) {
	publicKeyECDSA, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("failed to cast public key to ECDSA")
	}
	return &Signer{
		privateKey: privateKey,
		publicKey:  publicKeyECDSA,
		address:    crypto.PubkeyToAddress(*publicKeyECDSA),
	}, nil
}

// Address returns the 20-byte address derived from the public key
func (s *Signer) Address() common.Address {
	return s.address
}

// PrivateKeyHex returns the private key as hex string (WITHOUT 0x prefix)
// WARNING: Keep this secret! Never expose to users or logs
func (s *Signer) PrivateKeyHex() string {
	return fmt.Sprintf("%x", crypto.FromECDSA(s.privateKey))
}

// PublicKeyHex returns the public key as hex string (uncompressed, 130 chars)
func (s *Signer) PublicKeyHex() string {
	return fmt.Sprintf("%x", crypto.FromECDSAPub(s.publicKey))
}

// Sign signs a 32-byte hash and returns a 65-byte [R || S || V] signature
func (s *Signer) Sign(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}

	signature, err := crypto.Sign(hash, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	return signature, nil
}

// SignMessage signs a message (not a hash) by first hashing it with Keccak256
func (s *Signer) SignMessage(message []byte) ([]byte, error) {
	hash := crypto.Keccak256Hash(message)
	return s.Sign(hash.Bytes())
}

// SigningHash is the digest a lock owner signs: keccak256(domain || tx hash).
// The tx hash excludes witnesses, so signatures can be added in any order.
func SigningHash(tx *cell.Transaction) []byte {
	txHash := tx.Hash()
	return crypto.Keccak256(signingDomain, txHash[:])
}

// SignTransaction signs tx and stores the signature in the witness slot of
// inputIndex, growing the witness list as needed.
func (s *Signer) SignTransaction(tx *cell.Transaction, inputIndex int) error {
	if inputIndex < 0 || inputIndex >= len(tx.Inputs) {
		return fmt.Errorf("input index %d out of range (%d inputs)", inputIndex, len(tx.Inputs))
	}
	sig, err := s.Sign(SigningHash(tx))
	if err != nil {
		return err
	}
	for len(tx.Witnesses) <= inputIndex {
		tx.Witnesses = append(tx.Witnesses, hexutil.Bytes{})
	}
	tx.Witnesses[inputIndex] = sig
	return nil
}

// VerifySignature verifies that signature was created by address for given hash
func VerifySignature(address common.Address, hash []byte, signature []byte) bool {
	recovered, err := RecoverAddress(hash, signature)
	if err != nil {
		return false
	}
	return recovered == address
}

// RecoverAddress recovers the signer's address from a message hash and signature
func RecoverAddress(hash []byte, signature []byte) (common.Address, error) {
	if len(signature) != SignatureSize {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(signature))
	}
	if len(hash) != 32 {
		return common.Address{}, fmt.Errorf("invalid hash length: %d", len(hash))
	}

	publicKey, err := crypto.SigToPub(hash, signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*publicKey), nil
}
