package main

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/portguard/portguard/internal/keys"
	"github.com/portguard/portguard/internal/patch"
)

var listKeyShowServer bool

var listKeyCmd = &cobra.Command{
	Use:   "list-key",
	Short: "List the current client binary's public key",
	Args:  cobra.NoArgs,
	RunE:  runListKey,
}

func init() {
	listKeyCmd.Flags().BoolVarP(&listKeyShowServer, "server", "s", false, "also list the embedded server public key")
}

func runListKey(cmd *cobra.Command, args []string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate own executable: %w", err)
	}
	cfg, err := patch.ReadConfig(exe)
	if err != nil {
		return fmt.Errorf("read embedded configuration: %w", err)
	}

	if cfg.ClientKey.HasKeypass {
		return fmt.Errorf("client private key is passphrase-protected; decrypt it first with mod-cli before deriving its public key")
	}
	pub, err := keys.PublicFromPrivate(cfg.ClientKey.Private)
	if err != nil {
		return fmt.Errorf("derive client public key: %w", err)
	}
	fmt.Printf("Client pubkey: %s\n", base64.StdEncoding.EncodeToString(pub[:]))

	if listKeyShowServer {
		fmt.Printf("Server pubkey: %s\n", base64.StdEncoding.EncodeToString(cfg.ServerPub[:]))
	}
	return nil
}
