// Package config holds the runtime configuration: JSON5 file with env var
// overlays, env taking precedence.
package config

import "time"

// Config is the full runtime configuration tree.
type Config struct {
	Agent      AgentConfig      `json:"agent"`
	Transport  TransportConfig  `json:"transport"`
	Store      StoreConfig      `json:"store"`
	Chain      ChainConfig      `json:"chain"`
	Classifier ClassifierConfig `json:"classifier"`
	Pinner     PinnerConfig     `json:"pinner"`
	Engine     EngineConfig     `json:"engine"`
	LogLevel   string           `json:"log_level"`
}

// AgentConfig is the agent's messaging identity.
type AgentConfig struct {
	Name string `json:"name"` // display name users address the agent by
}

// TransportConfig configures the group-messaging network connection. The
// messaging SDK runs as a sidecar; BridgeURL points at its local HTTP API.
type TransportConfig struct {
	BridgeURL string `json:"bridge_url"`
	// Env selects the messaging network environment ("production", "dev").
	Env string `json:"env"`
}

// StoreConfig selects and configures state persistence. An empty DSN uses the
// file store at Dir; a postgres:// DSN uses the database store.
type StoreConfig struct {
	DSN string `json:"dsn"`
	Dir string `json:"dir"`
}

// ChainConfig configures the RPC connection and launch contracts.
type ChainConfig struct {
	RPCURL  string `json:"rpc_url"`
	Network string `json:"network"` // network label stamped on pending transactions
	// ManagerFactory deploys fee-split manager contracts.
	ManagerFactory string `json:"manager_factory"`
	// CoinFactory launches tokens through a manager.
	CoinFactory string `json:"coin_factory"`
	// ReceiptTimeoutSec bounds one confirmation's receipt wait.
	ReceiptTimeoutSec int `json:"receipt_timeout_sec"`
}

// ClassifierConfig configures the completion service used for engagement and
// intent classification.
type ClassifierConfig struct {
	APIKey  string `json:"api_key"`
	APIBase string `json:"api_base"`
	Model   string `json:"model"`
	// LLMAssist enables the secondary low-confidence engagement check.
	LLMAssist bool `json:"llm_assist"`
}

// PinnerConfig configures coin image storage.
type PinnerConfig struct {
	// APIURL is the IPFS node API endpoint (the /api/v0/add base).
	APIURL string `json:"api_url"`
}

// EngineConfig tunes the message engine.
type EngineConfig struct {
	// PairWindowMs is the text+attachment debounce window.
	PairWindowMs int `json:"pair_window_ms"`
	// ThreadWindowSec is how long a thread stays live after the agent spoke.
	ThreadWindowSec int `json:"thread_window_sec"`
}

// PairWindow returns the debounce window as a duration, 0 meaning default.
func (e EngineConfig) PairWindow() time.Duration {
	return time.Duration(e.PairWindowMs) * time.Millisecond
}

// ThreadWindow returns the thread liveness window, 0 meaning default.
func (e EngineConfig) ThreadWindow() time.Duration {
	return time.Duration(e.ThreadWindowSec) * time.Second
}

// ReceiptTimeout returns the receipt wait bound, 0 meaning default.
func (c ChainConfig) ReceiptTimeout() time.Duration {
	return time.Duration(c.ReceiptTimeoutSec) * time.Second
}
