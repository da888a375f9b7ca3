package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidKey       = errors.New("invalid wallet key")
)

// SignatureLength is the size of an r || s || v recoverable signature.
const SignatureLength = 65

// personalMessagePrefix is prepended to every message before hashing so a
// signed login message can never double as a signed transaction.
const personalMessagePrefix = "\x19Ethereum Signed Message:\n"

// NormalizeAddress returns the canonical lowercase form of a wallet address.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// PersonalMessageHash computes keccak256(prefix || len(message) || message).
func PersonalMessageHash(message string) []byte {
	h := sha3.NewLegacyKeccak256()
	fmt.Fprintf(h, "%s%d%s", personalMessagePrefix, len(message), message)
	return h.Sum(nil)
}

// ParseSignature decodes a hex signature, with or without the 0x prefix.
func ParseSignature(signature string) ([]byte, error) {
	raw := strings.TrimSpace(signature)
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")

	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex encoding", ErrInvalidSignature)
	}
	if len(decoded) != SignatureLength {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidSignature, SignatureLength, len(decoded))
	}
	return decoded, nil
}

// RecoverAddress returns the lowercase address of the key that produced
// signature over the personal-message hash of challenge.
// The recovery byte may be either 0/1 or 27/28.
func RecoverAddress(challenge string, signature []byte) (string, error) {
	if len(signature) != SignatureLength {
		return "", fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidSignature, SignatureLength, len(signature))
	}

	sig := make([]byte, SignatureLength)
	copy(sig, signature)

	switch sig[64] {
	case 27, 28:
		sig[64] -= 27
	case 0, 1:
	default:
		return "", fmt.Errorf("%w: unsupported recovery id %d", ErrInvalidSignature, signature[64])
	}

	pub, err := ethcrypto.SigToPub(PersonalMessageHash(challenge), sig)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	return NormalizeAddress(ethcrypto.PubkeyToAddress(*pub).Hex()), nil
}

// SignPersonalMessage signs message the way wallets implement personal_sign.
// The returned signature carries a 27/28 recovery byte.
func SignPersonalMessage(key *ecdsa.PrivateKey, message string) ([]byte, error) {
	if key == nil {
		return nil, ErrInvalidKey
	}
	sig, err := ethcrypto.Sign(PersonalMessageHash(message), key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// EncodeSignature renders a signature as 0x-prefixed hex.
func EncodeSignature(signature []byte) string {
	return "0x" + hex.EncodeToString(signature)
}

// AddressOf returns the lowercase wallet address of key.
func AddressOf(key *ecdsa.PrivateKey) string {
	return NormalizeAddress(ethcrypto.PubkeyToAddress(key.PublicKey).Hex())
}

// GenerateKey creates a new secp256k1 wallet key.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return ethcrypto.GenerateKey()
}

// ParsePrivateKey decodes a hex-encoded secp256k1 private key.
func ParsePrivateKey(keyHex string) (*ecdsa.PrivateKey, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(keyHex), "0x")
	key, err := ethcrypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key, nil
}

// EncodePrivateKey renders key as hex without prefix.
func EncodePrivateKey(key *ecdsa.PrivateKey) string {
	return hex.EncodeToString(ethcrypto.FromECDSA(key))
}
