package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.solchat.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".solchat")
}

// Dir returns the per-wallet session directory.
func Dir(wallet string) string {
	return filepath.Join(BaseDir(), "sessions", wallet)
}

// LockPath returns the lock file path for a wallet session.
func LockPath(wallet string) string {
	return filepath.Join(Dir(wallet), "LOCK")
}

// MessageDBPath returns the conversation store path for a wallet.
func MessageDBPath(wallet string) string {
	return filepath.Join(Dir(wallet), "solchat.db")
}

// SyncIndexPath returns the sync index database path for a wallet.
func SyncIndexPath(wallet string) string {
	return filepath.Join(Dir(wallet), "syncindex.db")
}

// KeypairPath returns the signing keypair path for a wallet.
func KeypairPath(wallet string) string {
	return filepath.Join(Dir(wallet), "keypair.json")
}

// LogDir returns the log directory for a wallet session.
func LogDir(wallet string) string {
	return filepath.Join(Dir(wallet), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(wallet string) string {
	return filepath.Join(LogDir(wallet), "solchatd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the session directory tree with proper permissions.
func EnsureDir(wallet string) error {
	dirs := []string{
		Dir(wallet),
		LogDir(wallet),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
