package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/blake2s"

	"github.com/portguard/portguard/internal/keys"
	"github.com/portguard/portguard/internal/patch"
	"github.com/portguard/portguard/internal/pgconfig"
)

var (
	genCliConfigPath string
	genCliInputPath  string
	genCliOutputPath string
	genCliName       string
	genCliTarget     string
	genCliService    uint32
	genCliHasService bool
	genCliKeypass    bool
)

var genCliCmd = &cobra.Command{
	Use:   "gen-cli",
	Short: "Generate a new client binary and register it in the server config",
	Args:  cobra.NoArgs,
	RunE:  runGenCli,
}

func init() {
	flags := genCliCmd.Flags()
	flags.StringVarP(&genCliConfigPath, "config", "c", "", "location of the server config file")
	flags.StringVarP(&genCliInputPath, "input", "i", "", "location of the unpatched input binary (defaults to the current executable)")
	flags.StringVarP(&genCliOutputPath, "output", "o", "", "location of the generated client binary")
	flags.StringVarP(&genCliName, "name", "n", "user", "name of the new client")
	flags.StringVarP(&genCliTarget, "target", "t", "", "client's target address, a socket address or \"socks5\"")
	flags.Uint32VarP(&genCliService, "service", "S", 0, "service id of a reverse proxy")
	flags.BoolVarP(&genCliKeypass, "keypass", "k", false, "protect the new client's private key with a passphrase")
	genCliCmd.MarkFlagRequired("config")
	genCliCmd.MarkFlagRequired("output")
	genCliCmd.PreRun = func(cmd *cobra.Command, args []string) {
		genCliHasService = cmd.Flags().Changed("service")
	}
}

func runGenCli(cmd *cobra.Command, args []string) error {
	inPath := genCliInputPath
	if inPath == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate own executable: %w", err)
		}
		inPath = exe
	}

	cfg, err := loadServerConfig(genCliConfigPath)
	if err != nil {
		return err
	}

	remote, err := resolveRemote(genCliTarget, genCliHasService, genCliService, cfg.Default)
	if err != nil {
		logger.WLogf("invalid remote input, using server default: %s", err)
		remote = cfg.Default
	}

	keypair, err := keys.Generate()
	if err != nil {
		return fmt.Errorf("generate client keypair: %w", err)
	}

	priv := append([]byte(nil), keypair.Private...)
	if genCliKeypass {
		pass, err := promptPassphrase()
		if err != nil {
			return err
		}
		priv, err = keys.Encrypt(keypair.Private, pass)
		if err != nil {
			return fmt.Errorf("encrypt client private key: %w", err)
		}
	}

	var pub [32]byte
	copy(pub[:], keypair.Public)
	if cfg.HasClient(pub) {
		return fmt.Errorf("client with this public key is already registered")
	}

	clientCfg := pgconfig.ClientConfig{
		ServerAddr: cfg.Addr(),
		Target:     remote.Target,
		Reverse:    remote.IsReverseProvider(),
		ServerPub:  cfg.PublicKey,
		ClientKey:  pgconfig.ClientKey{HasKeypass: genCliKeypass, Private: priv},
	}

	if err := patch.Generate(inPath, genCliOutputPath, clientCfg); err != nil {
		return fmt.Errorf("stamp client binary: %w", err)
	}

	entry := pgconfig.ClientEntry{Name: genCliName, PublicKey: pub}
	if remote != cfg.Default {
		r := remote
		entry.Remote = &r
	}
	if remote.IsReverseProvider() {
		data, err := os.ReadFile(genCliOutputPath)
		if err != nil {
			return fmt.Errorf("read generated binary to compute its hash: %w", err)
		}
		hash := blake2s.Sum256(data)
		entry.FileHash = &hash
	}

	cfg.Clients = append(cfg.Clients, entry)
	if err := saveServerConfig(genCliConfigPath, cfg); err != nil {
		return err
	}

	logger.ILogf("generated client %q -> %s", genCliName, genCliOutputPath)
	return nil
}

// resolveRemote mirrors the source CLI's target/service parsing: target
// alone is a forward proxy, service alone is a visitor, both together is a
// reverse-proxy provider, neither falls back to the server default.
func resolveRemote(target string, hasService bool, service uint32, serverDefault pgconfig.Remote) (pgconfig.Remote, error) {
	switch {
	case target == "" && !hasService:
		return serverDefault, nil
	case target == "" && hasService:
		return pgconfig.ServiceRemote(service), nil
	case target != "" && !hasService:
		t, err := pgconfig.ParseTarget(target)
		if err != nil {
			return pgconfig.Remote{}, err
		}
		return pgconfig.ProxyRemote(t), nil
	default:
		t, err := pgconfig.ParseTarget(target)
		if err != nil {
			return pgconfig.Remote{}, err
		}
		return pgconfig.RProxyRemote(t, service), nil
	}
}
