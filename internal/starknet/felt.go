package starknet

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"stark-claimer/internal/domain"
)

var (
	mask250 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 250), big.NewInt(1))
	mask128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
)

// ParseFelt parses a 0x-prefixed hex or a decimal field element.
func ParseFelt(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	v := new(big.Int)
	var ok bool
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		digits := s[2:]
		if digits == "" {
			digits = "0"
		}
		_, ok = v.SetString(digits, 16)
	} else {
		_, ok = v.SetString(s, 10)
	}
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid felt %q", ErrUnexpectedResponse, s)
	}
	return v, nil
}

// FeltHex renders v as a minimal 0x-prefixed hex string.
func FeltHex(v *big.Int) string {
	if v == nil || v.Sign() == 0 {
		return "0x0"
	}
	return "0x" + v.Text(16)
}

// FeltUint renders n as a felt.
func FeltUint(n uint64) string {
	return FeltHex(new(big.Int).SetUint64(n))
}

// SplitU256 encodes v as the (low, high) felt pair Cairo uses for u256.
func SplitU256(v *big.Int) (string, string) {
	if v == nil {
		return "0x0", "0x0"
	}
	low := new(big.Int).And(v, mask128)
	high := new(big.Int).Rsh(v, 128)
	return FeltHex(low), FeltHex(high)
}

// JoinU256 decodes a (low, high) pair.
func JoinU256(low, high string) (*big.Int, error) {
	l, err := ParseFelt(low)
	if err != nil {
		return nil, err
	}
	h, err := ParseFelt(high)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Or(new(big.Int).Lsh(h, 128), l), nil
}

// Selector returns the entry point selector for a function name:
// keccak256(name) truncated to 250 bits.
func Selector(name string) string {
	h := new(big.Int).SetBytes(crypto.Keccak256([]byte(name)))
	return FeltHex(h.And(h, mask250))
}

// EncodeMulticall builds the __execute__ calldata for a Cairo 1 account:
// [n, to, selector, len, data..., ...].
func EncodeMulticall(calls []domain.Call) []string {
	out := []string{FeltUint(uint64(len(calls)))}
	for _, c := range calls {
		out = append(out, c.ContractAddress, Selector(c.Entrypoint), FeltUint(uint64(len(c.Calldata))))
		out = append(out, c.Calldata...)
	}
	return out
}
