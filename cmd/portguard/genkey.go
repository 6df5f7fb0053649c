package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/portguard/portguard/internal/keys"
)

var genKeyConfigPath string

var genKeyCmd = &cobra.Command{
	Use:   "gen-key",
	Short: "Generate a fresh server keypair and store it in the server config",
	Args:  cobra.NoArgs,
	RunE:  runGenKey,
}

func init() {
	genKeyCmd.Flags().StringVarP(&genKeyConfigPath, "config", "c", "", "location of the server config file")
	genKeyCmd.MarkFlagRequired("config")
}

func runGenKey(cmd *cobra.Command, args []string) error {
	cfg, err := loadServerConfig(genKeyConfigPath)
	if err != nil {
		return err
	}

	keypair, err := keys.Generate()
	if err != nil {
		return fmt.Errorf("generate server keypair: %w", err)
	}
	copy(cfg.PublicKey[:], keypair.Public)
	copy(cfg.PrivateKey[:], keypair.Private)

	if err := saveServerConfig(genKeyConfigPath, cfg); err != nil {
		return err
	}
	logger.ILogf("generated new server keypair in %s", genKeyConfigPath)
	return nil
}
