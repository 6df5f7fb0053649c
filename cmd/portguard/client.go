package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/portguard/portguard/internal/clientengine"
	"github.com/portguard/portguard/internal/patch"
)

var (
	clientPort   uint16
	clientServer string
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Run the embedded client configuration (default command)",
	Args:  cobra.NoArgs,
	RunE:  runClient,
}

func init() {
	registerClientFlags(rootCmd)
	registerClientFlags(clientCmd)
	rootCmd.RunE = runClient
}

func registerClientFlags(cmd *cobra.Command) {
	cmd.Flags().Uint16VarP(&clientPort, "port", "p", 8022, "local port to listen on (forward mode)")
	cmd.Flags().StringVarP(&clientServer, "server", "s", "", "use another server address for this run")
}

func runClient(cmd *cobra.Command, args []string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate own executable: %w", err)
	}
	cfg, err := patch.ReadConfig(exe)
	if err != nil {
		return fmt.Errorf("read embedded configuration: %w", err)
	}

	eng, err := clientengine.New(cfg, clientServer, promptPassphrase, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.ILogf("received shutdown signal")
		cancel()
	}()

	return eng.Run(ctx, int(clientPort))
}
