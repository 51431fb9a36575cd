package domain

import (
	"math/big"
	"strings"
	"time"
)

// Eligibility holds the provisions proof for one address.
type Eligibility struct {
	Identity   string   `json:"identity"`
	Amount     *big.Int `json:"amount"`
	Index      uint64   `json:"index"`
	MerklePath []string `json:"merklePath"`
}

// StageState is the persisted progress of one on-chain operation.
type StageState struct {
	Status          Status    `json:"status"`
	TxHash          string    `json:"txHash,omitempty"`
	NonceSnapshot   uint64    `json:"nonceSnapshot,omitempty"`
	BalanceBaseline *big.Int  `json:"balanceBaseline,omitempty"`
	Amount          *big.Int  `json:"amount,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt,omitempty"`
}

// NewStageState returns a stage in the given starting status.
func NewStageState(status Status) StageState {
	return StageState{Status: status}
}

// SetStatus moves the stage to next, rejecting backward or post-terminal moves.
func (s *StageState) SetStatus(next Status) error {
	if !s.Status.CanTransitionTo(next) {
		return &TransitionError{From: s.Status, To: next}
	}
	s.Status = next
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkSubmitted records a successful submission. Hash and nonce are written
// together with the move to process.
func (s *StageState) MarkSubmitted(txHash string, nonce uint64) error {
	if err := s.SetStatus(StatusProcess); err != nil {
		return err
	}
	s.TxHash = txHash
	s.NonceSnapshot = nonce
	s.Reason = ""
	return nil
}

// Fail moves a non-terminal stage to error and keeps the reason.
// It is a no-op on terminal stages.
func (s *StageState) Fail(reason string) {
	if s.Status.IsTerminal() {
		return
	}
	s.Status = StatusError
	s.Reason = reason
	s.UpdatedAt = time.Now().UTC()
}

// SwapState is the swap stage; it additionally carries the selected venue
// and the built payload so a restart can resume at submission.
type SwapState struct {
	StageState
	Venue   VenueName `json:"venue,omitempty"`
	Payload []Call    `json:"payload,omitempty"`
}

// WalletRecord is the unit of persisted progress, one per account address.
type WalletRecord struct {
	Address              string       `json:"address"`
	Secret               string       `json:"secret"`
	PrimaryDestination   string       `json:"primaryDestination,omitempty"`
	SecondaryDestination string       `json:"secondaryDestination,omitempty"`
	Eligible             bool         `json:"eligible"`
	Eligibility          *Eligibility `json:"eligibility,omitempty"`
	Status               Status       `json:"status"`
	Position             int          `json:"position"`

	Claim             StageState `json:"claim"`
	SwapOnDex         SwapState  `json:"swapOnDex"`
	TransferPrimary   StageState `json:"transferPrimary"`
	TransferSecondary StageState `json:"transferSecondary"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// walletTransitions is the transition table for the overall wallet status.
var walletTransitions = map[Status][]Status{
	StatusDefault: {StatusProcess, StatusError},
	StatusProcess: {StatusDone, StatusError},
	StatusError:   {StatusProcess},
}

// SetStatus moves the wallet-level status.
func (w *WalletRecord) SetStatus(next Status) error {
	if w.Status == next && !next.IsTerminal() {
		return nil
	}
	for _, allowed := range walletTransitions[w.Status] {
		if allowed == next {
			w.Status = next
			w.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return &TransitionError{From: w.Status, To: next}
}

// TransferStage returns the transfer stage for token.
func (w *WalletRecord) TransferStage(token Token) *StageState {
	if token == TokenSecondary {
		return &w.TransferSecondary
	}
	return &w.TransferPrimary
}

// Destination returns the withdrawal address for token.
func (w *WalletRecord) Destination(token Token) string {
	if token == TokenSecondary {
		return w.SecondaryDestination
	}
	return w.PrimaryDestination
}

// Clone returns a deep copy.
func (w *WalletRecord) Clone() *WalletRecord {
	c := *w
	if w.Eligibility != nil {
		e := *w.Eligibility
		e.Amount = cloneInt(w.Eligibility.Amount)
		e.MerklePath = append([]string(nil), w.Eligibility.MerklePath...)
		c.Eligibility = &e
	}
	c.Claim = w.Claim.clone()
	c.TransferPrimary = w.TransferPrimary.clone()
	c.TransferSecondary = w.TransferSecondary.clone()
	c.SwapOnDex.StageState = w.SwapOnDex.StageState.clone()
	if w.SwapOnDex.Payload != nil {
		c.SwapOnDex.Payload = make([]Call, len(w.SwapOnDex.Payload))
		for i, call := range w.SwapOnDex.Payload {
			call.Calldata = append([]string(nil), call.Calldata...)
			c.SwapOnDex.Payload[i] = call
		}
	}
	return &c
}

func (s StageState) clone() StageState {
	s.BalanceBaseline = cloneInt(s.BalanceBaseline)
	s.Amount = cloneInt(s.Amount)
	return s
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// NormalizeAddress lowercases a hex address and pads it to 64 digits.
func NormalizeAddress(addr string) string {
	a := strings.ToLower(strings.TrimSpace(addr))
	a = strings.TrimPrefix(a, "0x")
	if len(a) < 64 {
		a = strings.Repeat("0", 64-len(a)) + a
	}
	return "0x" + a
}
