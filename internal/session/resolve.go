package session

import "github.com/solchat-dev/solchat/internal/config"

// Resolve determines the active wallet address using precedence:
// 1. flagOverride (--wallet flag)
// 2. config.toml default_wallet (or SOLCHAT_WALLET env)
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultWallet != "" {
		return cfg.DefaultWallet
	}
	return ""
}
