// Package hubconfig loads the daemon configuration: relay transport settings
// plus the wallet-facing options, from yaml with environment overrides.
package hubconfig

import (
	"os"
	"strings"
	"time"

	"akasha-id/go-wallet/internal/hub"

	"gopkg.in/yaml.v3"
)

type DaemonConfig struct {
	Hub    HubSection    `yaml:"hub"`
	Wallet WalletSection `yaml:"wallet"`
}

type HubSection struct {
	Transport           string        `yaml:"transport"`
	Port                int           `yaml:"port"`
	AdvertiseAddress    string        `yaml:"advertiseAddress"`
	EnableRelay         *bool         `yaml:"enableRelay"`
	EnableStore         *bool         `yaml:"enableStore"`
	BootstrapNodes      []string      `yaml:"bootstrapNodes"`
	MinPeers            int           `yaml:"minPeers"`
	ReconnectInterval   time.Duration `yaml:"reconnectInterval"`
	ReconnectBackoffMax time.Duration `yaml:"reconnectBackoffMax"`
}

type WalletSection struct {
	BaseURL string `yaml:"baseURL"`
	DataDir string `yaml:"dataDir"`
}

// LoadFromPath reads the yaml config at configPath (or the default
// candidates when empty) and returns the merged hub config plus the wallet
// section. Missing files fall back to defaults.
func LoadFromPath(configPath string) (hub.Config, WalletSection) {
	cfg := hub.DefaultConfig()
	var wallet WalletSection

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates, "configs/config.yaml")
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var parsed DaemonConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}
		merged := cfg
		Merge(&merged, parsed.Hub)
		ApplyEnvOverrides(&merged)
		wallet = parsed.Wallet
		applyWalletEnvOverrides(&wallet)
		return merged, wallet
	}

	ApplyEnvOverrides(&cfg)
	applyWalletEnvOverrides(&wallet)
	return cfg, wallet
}

func Merge(dst *hub.Config, src HubSection) {
	if src.Transport != "" {
		dst.Transport = src.Transport
	}
	if src.Port != 0 {
		dst.Port = src.Port
	}
	if src.AdvertiseAddress != "" {
		dst.AdvertiseAddress = src.AdvertiseAddress
	}
	if src.EnableRelay != nil {
		dst.EnableRelay = *src.EnableRelay
	}
	if src.EnableStore != nil {
		dst.EnableStore = *src.EnableStore
	}
	if src.BootstrapNodes != nil {
		dst.BootstrapNodes = src.BootstrapNodes
	}
	if src.MinPeers != 0 {
		dst.MinPeers = src.MinPeers
	}
	if src.ReconnectInterval != 0 {
		dst.ReconnectInterval = src.ReconnectInterval
	}
	if src.ReconnectBackoffMax != 0 {
		dst.ReconnectBackoffMax = src.ReconnectBackoffMax
	}
}

func ApplyEnvOverrides(cfg *hub.Config) {
	if transport := strings.TrimSpace(os.Getenv("AKASHA_HUB_TRANSPORT")); transport != "" {
		cfg.Transport = transport
	}
	if nodes := strings.TrimSpace(os.Getenv("AKASHA_HUB_BOOTSTRAP_NODES")); nodes != "" {
		parts := strings.Split(nodes, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		cfg.BootstrapNodes = out
	}
}

func applyWalletEnvOverrides(wallet *WalletSection) {
	if url := strings.TrimSpace(os.Getenv("AKASHA_WALLET_URL")); url != "" {
		wallet.BaseURL = url
	}
	if dir := strings.TrimSpace(os.Getenv("AKASHA_WALLET_DATA_DIR")); dir != "" {
		wallet.DataDir = dir
	}
}
