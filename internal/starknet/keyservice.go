package starknet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// AddressDeriver returns the candidate account addresses controlled by a
// secret, in preference order.
type AddressDeriver interface {
	CandidateAddresses(ctx context.Context, secret string) ([]string, error)
}

// RemoteKeyService talks to a local signing sidecar that owns the Stark
// curve and account address derivation.
type RemoteKeyService struct {
	baseURL string
	client  *http.Client
}

// NewRemoteKeyService creates a key service client.
func NewRemoteKeyService(baseURL string, timeout time.Duration) *RemoteKeyService {
	return &RemoteKeyService{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

var (
	_ Signer         = (*RemoteKeyService)(nil)
	_ AddressDeriver = (*RemoteKeyService)(nil)
)

type signRequest struct {
	Secret  string   `json:"secret"`
	ChainID string   `json:"chain_id"`
	Tx      InvokeTx `json:"transaction"`
}

type signResponse struct {
	Signature []string `json:"signature"`
}

// SignInvoke asks the sidecar to hash and sign tx.
func (s *RemoteKeyService) SignInvoke(ctx context.Context, secret, chainID string, tx InvokeTx) ([]string, error) {
	var out signResponse
	if err := s.post(ctx, "/sign", signRequest{Secret: secret, ChainID: chainID, Tx: tx}, &out); err != nil {
		return nil, err
	}
	if len(out.Signature) == 0 {
		return nil, fmt.Errorf("%w: empty signature", ErrUnexpectedResponse)
	}
	return out.Signature, nil
}

type deriveResponse struct {
	Addresses []string `json:"addresses"`
}

// CandidateAddresses asks the sidecar for the account addresses a secret
// (private key or mnemonic) may control.
func (s *RemoteKeyService) CandidateAddresses(ctx context.Context, secret string) ([]string, error) {
	var out deriveResponse
	if err := s.post(ctx, "/derive", map[string]string{"secret": secret}, &out); err != nil {
		return nil, err
	}
	if len(out.Addresses) == 0 {
		return nil, fmt.Errorf("%w: no derived addresses", ErrUnexpectedResponse)
	}
	return out.Addresses, nil
}

func (s *RemoteKeyService) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("key service %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("key service %s: status %d: %s", path, resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: key service %s: %v", ErrUnexpectedResponse, path, err)
	}
	return nil
}
