package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/portguard/portguard/internal/patch"
)

var (
	cloneCliDnaPath    string
	cloneCliEggPath    string
	cloneCliOutputPath string
)

var cloneCliCmd = &cobra.Command{
	Use:   "clone-cli",
	Short: "Overlay one client binary's embedded configuration onto a fresh copy of another",
	Args:  cobra.NoArgs,
	RunE:  runCloneCli,
}

func init() {
	flags := cloneCliCmd.Flags()
	flags.StringVar(&cloneCliDnaPath, "dna", "", "client binary to take the embedded configuration from")
	flags.StringVar(&cloneCliEggPath, "egg", "", "unpatched binary to take the executable code from")
	flags.StringVarP(&cloneCliOutputPath, "output", "o", "", "location of the output binary")
	cloneCliCmd.MarkFlagRequired("dna")
	cloneCliCmd.MarkFlagRequired("egg")
	cloneCliCmd.MarkFlagRequired("output")
}

func runCloneCli(cmd *cobra.Command, args []string) error {
	if err := patch.Clone(cloneCliDnaPath, cloneCliEggPath, cloneCliOutputPath); err != nil {
		return fmt.Errorf("clone client binary: %w", err)
	}
	logger.ILogf("cloned %s's configuration onto %s -> %s", cloneCliDnaPath, cloneCliEggPath, cloneCliOutputPath)
	return nil
}
