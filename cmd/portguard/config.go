package main

import (
	"fmt"
	"os"

	termutil "github.com/andrew-d/go-termutil"
	"golang.org/x/term"

	"github.com/portguard/portguard/internal/pgconfig"
)

func loadServerConfig(path string) (*pgconfig.ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read server config %s: %w", path, err)
	}
	cfg, err := pgconfig.DecodeServerConfig(data)
	if err != nil {
		return nil, fmt.Errorf("parse server config %s: %w", path, err)
	}
	return &cfg, nil
}

func saveServerConfig(path string, cfg *pgconfig.ServerConfig) error {
	data, err := pgconfig.EncodeServerConfig(*cfg)
	if err != nil {
		return fmt.Errorf("encode server config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write server config %s: %w", path, err)
	}
	return nil
}

// promptPassphrase reads a passphrase from the controlling terminal with
// echo suppressed. It refuses to fall back to a plain stdin read when stdin
// is not a terminal, since that would silently echo the passphrase.
func promptPassphrase() (string, error) {
	if !termutil.Isatty(os.Stdin.Fd()) {
		return "", fmt.Errorf("stdin is not a terminal; cannot prompt for a passphrase")
	}
	fmt.Fprint(os.Stderr, "Key passphrase: ")
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return string(b), nil
}
