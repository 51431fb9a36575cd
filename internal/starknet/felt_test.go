package starknet

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stark-claimer/internal/domain"
)

func TestSelector_KnownValues(t *testing.T) {
	assert.Equal(t, "0x83afd3f4caedc6eebf44246fe54e38c95e3179a5ec9ea81740eca5b482d12e", Selector("transfer"))
}

func TestParseFelt(t *testing.T) {
	v, err := ParseFelt("0x00ff")
	require.NoError(t, err)
	assert.Equal(t, int64(255), v.Int64())

	v, err = ParseFelt("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Int64())

	v, err = ParseFelt("0x")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v.Int64())

	_, err = ParseFelt("0xzz")
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
}

func TestU256RoundTrip(t *testing.T) {
	v, ok := new(big.Int).SetString("340282366920938463463374607431768211457", 10) // 2^128 + 1
	require.True(t, ok)

	low, high := SplitU256(v)
	assert.Equal(t, "0x1", low)
	assert.Equal(t, "0x1", high)

	back, err := JoinU256(low, high)
	require.NoError(t, err)
	assert.Equal(t, 0, v.Cmp(back))

	low, high = SplitU256(nil)
	assert.Equal(t, "0x0", low)
	assert.Equal(t, "0x0", high)
}

func TestEncodeMulticall(t *testing.T) {
	calls := []domain.Call{
		{ContractAddress: "0xaa", Entrypoint: "approve", Calldata: []string{"0x1", "0x2", "0x0"}},
		{ContractAddress: "0xbb", Entrypoint: "transfer", Calldata: []string{"0x3"}},
	}

	got := EncodeMulticall(calls)

	want := []string{
		"0x2",
		"0xaa", Selector("approve"), "0x3", "0x1", "0x2", "0x0",
		"0xbb", Selector("transfer"), "0x1", "0x3",
	}
	assert.Equal(t, want, got)
}

func TestSuggestedMaxFee(t *testing.T) {
	assert.Equal(t, int64(150), SuggestedMaxFee(big.NewInt(100)).Int64())
}
