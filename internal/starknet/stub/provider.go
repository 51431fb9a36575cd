// Package stub provides a scriptable in-memory starknet.Provider for tests.
package stub

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"stark-claimer/internal/domain"
	"stark-claimer/internal/starknet"
)

// Provider implements starknet.Provider for testing. Exported hooks override
// the default in-memory behaviour when set.
type Provider struct {
	mu sync.Mutex

	ChainIDValue string
	// Fee is the overall fee returned by EstimateFee.
	Fee *big.Int
	// AutoAdvanceNonce bumps the sender nonce on every accepted submission.
	AutoAdvanceNonce bool

	NonceFunc   func(address string, block starknet.BlockID) (uint64, error)
	CallFunc    func(call starknet.FunctionCall) ([]string, error)
	SubmitFunc  func(tx starknet.InvokeTx) (string, error)
	ReceiptFunc func(hash string) (*starknet.Receipt, error)
	FeeFunc     func(tx starknet.InvokeTx) (*big.Int, error)

	nonces      map[string]uint64
	balances    map[string]map[string]*big.Int
	classHashes map[string]string
	receipts    map[string]*starknet.Receipt

	Submitted []starknet.InvokeTx
	counts    map[string]int
}

// NewProvider creates an empty stub.
func NewProvider() *Provider {
	return &Provider{
		ChainIDValue: "0x534e5f4d41494e",
		Fee:          big.NewInt(1_000_000_000_000),
		nonces:       make(map[string]uint64),
		balances:     make(map[string]map[string]*big.Int),
		classHashes:  make(map[string]string),
		receipts:     make(map[string]*starknet.Receipt),
		counts:       make(map[string]int),
	}
}

var _ starknet.Provider = (*Provider)(nil)

func key(addr string) string {
	return domain.NormalizeAddress(addr)
}

// SetNonce sets the nonce of address.
func (p *Provider) SetNonce(address string, nonce uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nonces[key(address)] = nonce
}

// SetBalance sets the ERC-20 balance of owner for token contract.
func (p *Provider) SetBalance(token, owner string, amount *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := key(token)
	if p.balances[t] == nil {
		p.balances[t] = make(map[string]*big.Int)
	}
	p.balances[t][key(owner)] = new(big.Int).Set(amount)
}

// Balance returns the stored balance.
func (p *Provider) Balance(token, owner string) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b := p.balances[key(token)][key(owner)]; b != nil {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// SetClassHash marks address as deployed with hash.
func (p *Provider) SetClassHash(address, hash string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.classHashes[key(address)] = hash
}

// SetReceipt stores the receipt returned for hash.
func (p *Provider) SetReceipt(hash string, r *starknet.Receipt) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receipts[hash] = r
}

// Count returns how many times method was called.
func (p *Provider) Count(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[method]
}

func (p *Provider) hit(method string) {
	p.mu.Lock()
	p.counts[method]++
	p.mu.Unlock()
}

// ChainID returns ChainIDValue.
func (p *Provider) ChainID(context.Context) (string, error) {
	p.hit("ChainID")
	return p.ChainIDValue, nil
}

// Nonce returns the stored nonce or NonceFunc's result.
func (p *Provider) Nonce(_ context.Context, address string, block starknet.BlockID) (uint64, error) {
	p.hit("Nonce")
	if p.NonceFunc != nil {
		return p.NonceFunc(address, block)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nonces[key(address)], nil
}

// Call answers balanceOf from stored balances unless CallFunc is set.
func (p *Provider) Call(_ context.Context, call starknet.FunctionCall, _ starknet.BlockID) ([]string, error) {
	p.hit("Call")
	if p.CallFunc != nil {
		return p.CallFunc(call)
	}
	if call.EntryPointSelector != starknet.Selector("balanceOf") || len(call.Calldata) != 1 {
		return nil, fmt.Errorf("stub: unsupported call %s", call.EntryPointSelector)
	}
	low, high := starknet.SplitU256(p.Balance(call.ContractAddress, call.Calldata[0]))
	return []string{low, high}, nil
}

// ClassHashesAt resolves from stored class hashes.
func (p *Provider) ClassHashesAt(_ context.Context, addresses []string, _ starknet.BlockID) ([]string, error) {
	p.hit("ClassHashesAt")
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(addresses))
	for i, a := range addresses {
		out[i] = p.classHashes[key(a)]
	}
	return out, nil
}

// EstimateFee returns Fee unless FeeFunc is set.
func (p *Provider) EstimateFee(_ context.Context, tx starknet.InvokeTx) (*big.Int, error) {
	p.hit("EstimateFee")
	if p.FeeFunc != nil {
		return p.FeeFunc(tx)
	}
	return new(big.Int).Set(p.Fee), nil
}

// AddInvokeTransaction records tx, returns a deterministic hash and stores a
// successful receipt for it.
func (p *Provider) AddInvokeTransaction(_ context.Context, tx starknet.InvokeTx) (string, error) {
	p.hit("AddInvokeTransaction")
	if p.SubmitFunc != nil {
		hash, err := p.SubmitFunc(tx)
		if err != nil {
			return "", err
		}
		p.record(tx, hash)
		return hash, nil
	}

	p.mu.Lock()
	hash := fmt.Sprintf("0x%x", len(p.Submitted)+1)
	p.mu.Unlock()
	p.record(tx, hash)
	return hash, nil
}

func (p *Provider) record(tx starknet.InvokeTx, hash string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Submitted = append(p.Submitted, tx)
	if _, ok := p.receipts[hash]; !ok {
		p.receipts[hash] = &starknet.Receipt{
			TransactionHash: hash,
			FinalityStatus:  starknet.FinalityAcceptedOnL2,
			ExecutionStatus: starknet.ExecutionSucceeded,
		}
	}
	if p.AutoAdvanceNonce {
		p.nonces[key(tx.SenderAddress)]++
	}
}

// TransactionReceipt returns the stored receipt or starknet.ErrTxNotFound.
func (p *Provider) TransactionReceipt(_ context.Context, hash string) (*starknet.Receipt, error) {
	p.hit("TransactionReceipt")
	if p.ReceiptFunc != nil {
		return p.ReceiptFunc(hash)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.receipts[hash]
	if !ok {
		return nil, starknet.ErrTxNotFound
	}
	copied := *r
	return &copied, nil
}

// Signer is a starknet.Signer returning a fixed signature.
type Signer struct {
	Err error
}

// SignInvoke returns a dummy signature.
func (s Signer) SignInvoke(context.Context, string, string, starknet.InvokeTx) ([]string, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return []string{"0x1", "0x2"}, nil
}
