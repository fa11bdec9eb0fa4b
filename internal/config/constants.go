package config

// Solana network constants
const (
	SolanaMainnetRPC = "https://api.mainnet-beta.solana.com"
	SolanaDevnetRPC  = "https://api.devnet.solana.com"

	// WebSocket endpoints
	SolanaMainnetWS = "wss://api.mainnet-beta.solana.com"
	SolanaDevnetWS  = "wss://api.devnet.solana.com"

	// RPC constants
	MaxRetries   = 3
	RetryDelayMs = 500
	RPCTimeoutMs = 30000
)

// Farm program (Raydium eco-farms)
const (
	FarmProgramID = "FarmqiPv5eAj3j1GMdMCMUGXqPUvmquZtMy86QH6rzhG"

	// Log grouping modes
	GroupingContext   = "context"
	GroupingSubstring = "substring"
)

// Output sinks
const (
	SinkJSONL    = "jsonl"
	SinkPostgres = "postgres"
)

// GetRPCEndpoint returns RPC endpoint based on network
func GetRPCEndpoint(network string) string {
	switch network {
	case "mainnet":
		return SolanaMainnetRPC
	case "devnet":
		return SolanaDevnetRPC
	default:
		return SolanaMainnetRPC
	}
}

// GetWSEndpoint returns WebSocket endpoint based on network
func GetWSEndpoint(network string) string {
	switch network {
	case "mainnet":
		return SolanaMainnetWS
	case "devnet":
		return SolanaDevnetWS
	default:
		return SolanaMainnetWS
	}
}
