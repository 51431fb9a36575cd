package starknet

import (
	"context"
	"fmt"
	"math/big"

	"stark-claimer/internal/domain"
)

// Transaction versions.
const (
	InvokeVersion1      = "0x1"
	InvokeQueryVersion1 = "0x100000000000000000000000000000001"
)

// Signer produces the signature of an invoke transaction. Hashing and
// signing happen outside this process.
type Signer interface {
	SignInvoke(ctx context.Context, secret string, chainID string, tx InvokeTx) ([]string, error)
}

// Account submits multicalls on behalf of one address.
type Account struct {
	address string
	secret  string
	signer  Signer
}

// NewAccount creates an Account.
func NewAccount(address, secret string, signer Signer) *Account {
	return &Account{address: address, secret: secret, signer: signer}
}

// Address returns the account address.
func (a *Account) Address() string {
	return a.address
}

// EstimateFee returns the suggested max fee for calls: the node's overall
// fee estimate plus 50%.
func (a *Account) EstimateFee(ctx context.Context, p Provider, calls []domain.Call) (*big.Int, error) {
	nonce, err := p.Nonce(ctx, a.address, BlockPending)
	if err != nil {
		return nil, fmt.Errorf("estimate fee: nonce: %w", err)
	}
	return a.estimate(ctx, p, calls, nonce)
}

func (a *Account) estimate(ctx context.Context, p Provider, calls []domain.Call, nonce uint64) (*big.Int, error) {
	tx := InvokeTx{
		Type:          "INVOKE",
		Version:       InvokeQueryVersion1,
		SenderAddress: a.address,
		Calldata:      EncodeMulticall(calls),
		MaxFee:        "0x0",
		Nonce:         FeltUint(nonce),
		Signature:     []string{},
	}
	fee, err := p.EstimateFee(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("estimate fee: %w", err)
	}
	return SuggestedMaxFee(fee), nil
}

// SuggestedMaxFee pads an overall fee estimate by 50%.
func SuggestedMaxFee(overall *big.Int) *big.Int {
	out := new(big.Int).Mul(overall, big.NewInt(3))
	return out.Div(out, big.NewInt(2))
}

// Execute signs and submits calls as a single invoke transaction.
func (a *Account) Execute(ctx context.Context, p Provider, calls []domain.Call) (string, error) {
	if len(calls) == 0 {
		return "", fmt.Errorf("execute: empty payload")
	}

	nonce, err := p.Nonce(ctx, a.address, BlockPending)
	if err != nil {
		return "", fmt.Errorf("execute: nonce: %w", err)
	}
	chainID, err := p.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("execute: chain id: %w", err)
	}
	maxFee, err := a.estimate(ctx, p, calls, nonce)
	if err != nil {
		return "", err
	}

	tx := InvokeTx{
		Type:          "INVOKE",
		Version:       InvokeVersion1,
		SenderAddress: a.address,
		Calldata:      EncodeMulticall(calls),
		MaxFee:        FeltHex(maxFee),
		Nonce:         FeltUint(nonce),
	}
	sig, err := a.signer.SignInvoke(ctx, a.secret, chainID, tx)
	if err != nil {
		return "", fmt.Errorf("execute: sign: %w", err)
	}
	tx.Signature = sig

	hash, err := p.AddInvokeTransaction(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("execute: submit: %w", err)
	}
	return hash, nil
}
