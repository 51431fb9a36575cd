package starknet_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stark-claimer/internal/domain"
	"stark-claimer/internal/starknet"
	"stark-claimer/internal/starknet/stub"
)

func transferCall() []domain.Call {
	return []domain.Call{{
		ContractAddress: domain.ETHAddress,
		Entrypoint:      "transfer",
		Calldata:        []string{"0xbeef", "0x10", "0x0"},
	}}
}

func TestAccount_Execute(t *testing.T) {
	p := stub.NewProvider()
	p.SetNonce("0xa11ce", 4)
	p.Fee = big.NewInt(1000)

	acct := starknet.NewAccount("0xa11ce", "secret", stub.Signer{})
	hash, err := acct.Execute(context.Background(), p, transferCall())
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	require.Len(t, p.Submitted, 1)
	tx := p.Submitted[0]
	assert.Equal(t, starknet.InvokeVersion1, tx.Version)
	assert.Equal(t, "0x4", tx.Nonce)
	assert.Equal(t, "0x5dc", tx.MaxFee) // 1000 * 1.5
	assert.Equal(t, []string{"0x1", "0x2"}, tx.Signature)
	assert.Equal(t, starknet.EncodeMulticall(transferCall()), tx.Calldata)
}

func TestAccount_ExecuteSignerFailure(t *testing.T) {
	p := stub.NewProvider()
	acct := starknet.NewAccount("0xa11ce", "secret", stub.Signer{Err: errors.New("locked")})

	_, err := acct.Execute(context.Background(), p, transferCall())
	require.Error(t, err)
	assert.Empty(t, p.Submitted)
}

func TestAccount_EstimateFee(t *testing.T) {
	p := stub.NewProvider()
	var seen starknet.InvokeTx
	p.FeeFunc = func(tx starknet.InvokeTx) (*big.Int, error) {
		seen = tx
		return big.NewInt(200), nil
	}

	fee, err := starknet.NewAccount("0xa11ce", "secret", stub.Signer{}).
		EstimateFee(context.Background(), p, transferCall())
	require.NoError(t, err)
	assert.Equal(t, int64(300), fee.Int64())
	assert.Equal(t, starknet.InvokeQueryVersion1, seen.Version)
	assert.Empty(t, seen.Signature)
}

func TestAccount_ExecuteEmptyPayload(t *testing.T) {
	_, err := starknet.NewAccount("0x1", "s", stub.Signer{}).Execute(context.Background(), stub.NewProvider(), nil)
	assert.Error(t, err)
}
