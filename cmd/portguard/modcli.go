package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/portguard/portguard/internal/keys"
	"github.com/portguard/portguard/internal/patch"
	"github.com/portguard/portguard/internal/pgconfig"
)

var (
	modCliInputPath  string
	modCliOutputPath string
	modCliKeypass    bool
)

var modCliCmd = &cobra.Command{
	Use:   "mod-cli",
	Short: "Rewrite a client binary's keypair, leaving the rest of its configuration untouched",
	Args:  cobra.NoArgs,
	RunE:  runModCli,
}

func init() {
	flags := modCliCmd.Flags()
	flags.StringVarP(&modCliInputPath, "input", "i", "", "location of the input binary (defaults to the current executable)")
	flags.StringVarP(&modCliOutputPath, "output", "o", "", "location of the output binary")
	flags.BoolVarP(&modCliKeypass, "keypass", "k", false, "protect the new private key with a passphrase")
	modCliCmd.MarkFlagRequired("output")
}

func runModCli(cmd *cobra.Command, args []string) error {
	inPath := modCliInputPath
	if inPath == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate own executable: %w", err)
		}
		inPath = exe
	}

	keypair, err := keys.Generate()
	if err != nil {
		return fmt.Errorf("generate new keypair: %w", err)
	}

	priv := append([]byte(nil), keypair.Private...)
	if modCliKeypass {
		pass, err := promptPassphrase()
		if err != nil {
			return err
		}
		priv, err = keys.Encrypt(keypair.Private, pass)
		if err != nil {
			return fmt.Errorf("encrypt new private key: %w", err)
		}
	}

	newKey := pgconfig.ClientKey{HasKeypass: modCliKeypass, Private: priv}
	if err := patch.ModifyKeypair(inPath, modCliOutputPath, newKey); err != nil {
		return fmt.Errorf("modify client keypair: %w", err)
	}

	logger.ILogf("wrote new keypair to %s", modCliOutputPath)
	return nil
}
