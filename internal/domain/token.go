package domain

// Token identifies one of the two ERC-20 tokens the pipeline moves.
type Token string

const (
	// TokenPrimary is the fee token (ETH).
	TokenPrimary Token = "ETH"
	// TokenSecondary is the claimed token (STRK).
	TokenSecondary Token = "STRK"
)

// Mainnet contract addresses.
const (
	ETHAddress         = "0x049d36570d4e46f48e99674bd3fcc84644ddd6b96f7c741b1562b82f9e004dc7"
	STRKAddress        = "0x04718f5a0fc34cc1af16a1cdee98ffb20c31f5cd61d6ab07201858f4287c938d"
	ClaimAddress       = "0x06793d9e6ed7182978454c79270e5b14d2655204ba6565ce9b0aa8a3c3121025"
	EkuboRouterAddress = "0x03266fe47923e1500aec0fa973df8093b5850bbce8dcd0666d3f47298b4b806e"
	MySwapAddress      = "0x01114c7103e12c2b2ecbd3a2472ba9c48ddcbf702b1c242dd570057e26212111"
	FibrousRouter      = "0x00f6f4cf62e3c010e0ac2451cc7807b5eec19a40b0faacd00cca3914280fdf5a"
	ExplorerTxURL      = "https://starkscan.co/tx/"
)

// Decimals is the ERC-20 precision shared by ETH and STRK.
const Decimals = 18
