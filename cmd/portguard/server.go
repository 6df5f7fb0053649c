package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/portguard/portguard/internal/serverengine"
)

var serverConfigPath string

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the portguard server",
	Args:  cobra.NoArgs,
	RunE:  runServer,
}

func init() {
	serverCmd.Flags().StringVarP(&serverConfigPath, "config", "c", "", "location of the server config file")
	serverCmd.MarkFlagRequired("config")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadServerConfig(serverConfigPath)
	if err != nil {
		return err
	}

	eng, err := serverengine.New(cfg, logger)
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

	return eng.Run(ctx)
}
