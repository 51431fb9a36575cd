package domain

// Call is a single contract invocation inside a multicall transaction.
// Calldata elements are 0x-prefixed hex felts.
type Call struct {
	ContractAddress string   `json:"contractAddress"`
	Entrypoint      string   `json:"entrypoint"`
	Calldata        []string `json:"calldata"`
}
