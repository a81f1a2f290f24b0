// Package crypto provides address parsing and deterministic module-address
// derivation for the settlement node.
package crypto

import (
	"encoding/hex"
	"errors"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidAddress is returned when a string does not decode to 20 bytes.
var ErrInvalidAddress = errors.New("crypto: invalid address")

// ModuleAddress derives the deterministic custody address for a named module
// (e.g. "coordinator", "vault/default", "treasury/archive"). The address is
// the trailing 20 bytes of keccak256("clearline/module/" + name), so module
// accounts can never collide with externally controlled keys by construction
// of the fixed prefix.
func ModuleAddress(name string) [20]byte {
	digest := ethcrypto.Keccak256([]byte("clearline/module/" + strings.TrimSpace(name)))
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}

// ParseAddress decodes a hex address, with or without the 0x prefix.
func ParseAddress(s string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	raw, err := hex.DecodeString(trimmed)
	if err != nil || len(raw) != 20 {
		return addr, ErrInvalidAddress
	}
	copy(addr[:], raw)
	return addr, nil
}

// FormatAddress renders an address as 0x-prefixed lowercase hex.
func FormatAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

// ParseHash decodes a 32-byte hex identifier, with or without the 0x prefix.
func ParseHash(s string) ([32]byte, error) {
	var id [32]byte
	trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	raw, err := hex.DecodeString(trimmed)
	if err != nil || len(raw) != 32 {
		return id, errors.New("crypto: invalid 32-byte identifier")
	}
	copy(id[:], raw)
	return id, nil
}

// FormatHash renders a 32-byte identifier as 0x-prefixed lowercase hex.
func FormatHash(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}
