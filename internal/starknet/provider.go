// Package starknet provides the ledger client used by the pipeline:
// JSON-RPC access, endpoint failover, call encoding and account submission.
package starknet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// BlockID selects the block a read is evaluated against.
type BlockID string

const (
	BlockLatest  BlockID = "latest"
	BlockPending BlockID = "pending"
)

// Finality and execution statuses reported in receipts.
const (
	FinalityAcceptedOnL2 = "ACCEPTED_ON_L2"
	FinalityAcceptedOnL1 = "ACCEPTED_ON_L1"
	ExecutionSucceeded   = "SUCCEEDED"
	ExecutionReverted    = "REVERTED"
)

// Starknet JSON-RPC error codes.
const (
	CodeContractNotFound = 20
	CodeTxHashNotFound   = 29
	CodeDuplicateTx      = 59
)

var (
	// ErrTxNotFound means the node does not know the transaction yet.
	ErrTxNotFound = errors.New("transaction hash not found")
	// ErrContractNotFound means no contract is deployed at the address.
	ErrContractNotFound = errors.New("contract not found")
	// ErrDuplicateTx means an identical transaction is already known.
	ErrDuplicateTx = errors.New("duplicate transaction")
	// ErrUnexpectedResponse means a result did not have the expected shape.
	ErrUnexpectedResponse = errors.New("unexpected response shape")
)

// Provider is the read/submit surface of a single Starknet endpoint.
type Provider interface {
	ChainID(ctx context.Context) (string, error)
	Nonce(ctx context.Context, address string, block BlockID) (uint64, error)
	Call(ctx context.Context, call FunctionCall, block BlockID) ([]string, error)
	// ClassHashesAt resolves many addresses in one batch. The result is
	// parallel to addresses; undeployed addresses yield "".
	ClassHashesAt(ctx context.Context, addresses []string, block BlockID) ([]string, error)
	EstimateFee(ctx context.Context, tx InvokeTx) (*big.Int, error)
	AddInvokeTransaction(ctx context.Context, tx InvokeTx) (string, error)
	TransactionReceipt(ctx context.Context, hash string) (*Receipt, error)
}

// FunctionCall is a read-only contract call.
type FunctionCall struct {
	ContractAddress    string   `json:"contract_address"`
	EntryPointSelector string   `json:"entry_point_selector"`
	Calldata           []string `json:"calldata"`
}

// InvokeTx is a version 1 invoke transaction.
type InvokeTx struct {
	Type          string   `json:"type"`
	Version       string   `json:"version"`
	SenderAddress string   `json:"sender_address"`
	Calldata      []string `json:"calldata"`
	MaxFee        string   `json:"max_fee"`
	Nonce         string   `json:"nonce"`
	Signature     []string `json:"signature"`
}

// Receipt is the subset of a transaction receipt the pipeline inspects.
type Receipt struct {
	TransactionHash string `json:"transaction_hash"`
	FinalityStatus  string `json:"finality_status"`
	ExecutionStatus string `json:"execution_status"`
	RevertReason    string `json:"revert_reason,omitempty"`
}

// Succeeded reports an accepted, successfully executed transaction.
func (r *Receipt) Succeeded() bool {
	accepted := r.FinalityStatus == FinalityAcceptedOnL2 || r.FinalityStatus == FinalityAcceptedOnL1
	return accepted && r.ExecutionStatus == ExecutionSucceeded
}

// Reverted reports a reverted transaction.
func (r *Receipt) Reverted() bool {
	return r.ExecutionStatus == ExecutionReverted
}

// RPCError is a JSON-RPC error returned by a node.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("RPC error %d: %s (%s)", e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// RPCCode exposes the code for retry classification.
func (e *RPCError) RPCCode() int { return e.Code }

// Is maps node error codes and messages onto the package sentinels.
func (e *RPCError) Is(target error) bool {
	msg := strings.ToLower(e.Message + " " + string(e.Data))
	switch target {
	case ErrTxNotFound:
		return e.Code == CodeTxHashNotFound || strings.Contains(msg, "transaction hash not found")
	case ErrContractNotFound:
		return e.Code == CodeContractNotFound || strings.Contains(msg, "contract not found")
	case ErrDuplicateTx:
		return e.Code == CodeDuplicateTx ||
			strings.Contains(msg, "transaction with hash") ||
			strings.Contains(msg, "already exists")
	}
	return false
}
