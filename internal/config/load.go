package config

import (
	"fmt"
	"os"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Name: "launchbot",
		},
		Transport: TransportConfig{
			BridgeURL: "http://127.0.0.1:7656",
			Env:       "production",
		},
		Store: StoreConfig{
			Dir: "~/.launchbot/state",
		},
		Chain: ChainConfig{
			Network: "base-mainnet",
		},
		Classifier: ClassifierConfig{
			Model: "gpt-4o-mini",
		},
		LogLevel: "info",
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("LAUNCHBOT_AGENT_NAME", &c.Agent.Name)
	envStr("LAUNCHBOT_BRIDGE_URL", &c.Transport.BridgeURL)
	envStr("LAUNCHBOT_TRANSPORT_ENV", &c.Transport.Env)
	envStr("LAUNCHBOT_STORE_DSN", &c.Store.DSN)
	envStr("LAUNCHBOT_STORE_DIR", &c.Store.Dir)
	envStr("LAUNCHBOT_RPC_URL", &c.Chain.RPCURL)
	envStr("LAUNCHBOT_NETWORK", &c.Chain.Network)
	envStr("LAUNCHBOT_MANAGER_FACTORY", &c.Chain.ManagerFactory)
	envStr("LAUNCHBOT_COIN_FACTORY", &c.Chain.CoinFactory)
	envStr("LAUNCHBOT_OPENAI_API_KEY", &c.Classifier.APIKey)
	envStr("LAUNCHBOT_OPENAI_API_BASE", &c.Classifier.APIBase)
	envStr("LAUNCHBOT_CLASSIFIER_MODEL", &c.Classifier.Model)
	envStr("LAUNCHBOT_PINNER_URL", &c.Pinner.APIURL)
	envStr("LAUNCHBOT_LOG_LEVEL", &c.LogLevel)
}
