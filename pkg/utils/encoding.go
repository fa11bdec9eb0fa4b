package utils

import (
	"github.com/mr-tron/base58"
)

// Base58 encoding/decoding utilities

// EncodeBase58 encodes bytes to base58 string
func EncodeBase58(data []byte) string {
	return base58.Encode(data)
}

// DecodeBase58 decodes base58 string to bytes
func DecodeBase58(encoded string) ([]byte, error) {
	return base58.Decode(encoded)
}

// EncodeKeys encodes each raw key to base58, keeping order
func EncodeKeys(keys [][]byte) []string {
	encoded := make([]string, len(keys))
	for i, key := range keys {
		encoded[i] = base58.Encode(key)
	}
	return encoded
}

// Validation utilities

// IsValidSolanaAddress checks if string is a valid Solana address
func IsValidSolanaAddress(address string) bool {
	decoded, err := base58.Decode(address)
	return err == nil && len(decoded) == 32
}

// IsValidSolanaSignature checks if string is a valid Solana signature
func IsValidSolanaSignature(signature string) bool {
	decoded, err := base58.Decode(signature)
	return err == nil && len(decoded) == 64
}

// ShortAddress abbreviates an address or signature for log output
func ShortAddress(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:6] + "…" + s[len(s)-4:]
}
