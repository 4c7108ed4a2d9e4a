// Package main is lmctl, a command line client for the liquidity manager
// program.
//
//	lmctl [-rpc URL] [-wallet PATH] <command> [flags]
//	lmctl -simulate [-state FILE] <command> [flags]
//
// The RPC endpoint and wallet default to ANCHOR_PROVIDER_URL and
// ANCHOR_WALLET, the same variables the Anchor tooling reads. Results are
// printed as JSON.
//
// With -simulate the commands run against an in-process engine instead of a
// cluster. The state file seeds token accounts, prices and holder counts and
// is rewritten after every successful command, so a sequence of invocations
// behaves like one deployment.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"

	"github.com/archon-research/liquidity-manager/internal/adapters/outbound/cluster"
	"github.com/archon-research/liquidity-manager/internal/adapters/outbound/pyth"
	"github.com/archon-research/liquidity-manager/internal/pkg/env"
	"github.com/archon-research/liquidity-manager/internal/pkg/provider"
	"github.com/archon-research/liquidity-manager/internal/ports/inbound"
	"github.com/archon-research/liquidity-manager/internal/ports/outbound"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "lmctl:", err)
		os.Exit(1)
	}
}

type globalConfig struct {
	rpcURL     string
	walletPath string
	programID  solana.PublicKey

	simulate  bool
	statePath string
}

// parseGlobal reads the flags in front of the command name.
func parseGlobal(args []string) (globalConfig, []string, error) {
	fs := flag.NewFlagSet("lmctl", flag.ContinueOnError)
	rpcURL := fs.String("rpc", "", "cluster RPC URL")
	walletPath := fs.String("wallet", "", "keypair file that signs and pays")
	programID := fs.String("program", "", "program id (defaults to the deployed program)")
	simulate := fs.Bool("simulate", false, "run against an in-process engine instead of a cluster")
	statePath := fs.String("state", "", "simulation state file, read before and written after the command")
	fs.Usage = func() { usage(fs.Output()) }
	if err := fs.Parse(args); err != nil {
		return globalConfig{}, nil, err
	}

	cfg := globalConfig{
		rpcURL:     *rpcURL,
		walletPath: *walletPath,
		simulate:   *simulate,
		statePath:  *statePath,
	}
	if cfg.statePath != "" && !cfg.simulate {
		return globalConfig{}, nil, fmt.Errorf("-state requires -simulate")
	}
	if cfg.rpcURL == "" {
		cfg.rpcURL = env.Get(provider.EnvProviderURL, provider.LocalURL)
	}
	if cfg.walletPath == "" {
		cfg.walletPath = env.Get(provider.EnvWallet, "")
	}
	if cfg.walletPath == "" && !cfg.simulate {
		return globalConfig{}, nil, fmt.Errorf("wallet not provided (use -wallet flag or %s env var)", provider.EnvWallet)
	}
	if *programID != "" {
		key, err := solana.PublicKeyFromBase58(*programID)
		if err != nil {
			return globalConfig{}, nil, fmt.Errorf("invalid program id: %w", err)
		}
		cfg.programID = key
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return globalConfig{}, nil, fmt.Errorf("no command given (one of: %s)", strings.Join(commandNames(), ", "))
	}
	return cfg, rest, nil
}

// app is what a command runs against.
type app struct {
	manager    inbound.LiquidityManager
	prices     outbound.PriceOracle
	wallet     solana.PublicKey
	addSigners func(keys ...solana.PrivateKey)

	// advance moves the simulation clock. Nil against a cluster.
	advance func(d time.Duration) time.Time
	out     io.Writer
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func run(ctx context.Context, args []string, out io.Writer) error {
	cfg, rest, err := parseGlobal(args)
	if err != nil {
		return err
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		return fmt.Errorf("unknown command %q (one of: %s)", rest[0], strings.Join(commandNames(), ", "))
	}

	logger := env.NewLogger(slog.LevelWarn)

	if cfg.simulate {
		return runSimulated(ctx, cfg, cmd, rest[1:], out, logger)
	}

	wallet, err := provider.LoadKeypairWallet(cfg.walletPath)
	if err != nil {
		return err
	}
	prov, err := provider.Local(provider.WithURL(cfg.rpcURL), provider.WithWallet(wallet))
	if err != nil {
		return fmt.Errorf("creating provider: %w", err)
	}
	provider.SetProvider(prov)

	client, err := cluster.NewClient(prov, cluster.Config{ProgramID: cfg.programID, Logger: logger})
	if err != nil {
		return fmt.Errorf("creating cluster client: %w", err)
	}
	prices, err := pyth.NewReader(client)
	if err != nil {
		return err
	}

	return cmd.run(ctx, &app{
		manager:    client,
		prices:     prices,
		wallet:     prov.PublicKey(),
		addSigners: client.AddSigners,
		out:        out,
	}, rest[1:])
}

func runSimulated(ctx context.Context, cfg globalConfig, cmd command, args []string, out io.Writer, logger *slog.Logger) error {
	var wallet solana.PublicKey
	if cfg.walletPath != "" {
		w, err := provider.LoadKeypairWallet(cfg.walletPath)
		if err != nil {
			return err
		}
		wallet = w.PublicKey()
	}

	sim, err := openSimulation(cfg.statePath, wallet, logger)
	if err != nil {
		return err
	}
	if err := cmd.run(ctx, &app{
		manager: sim.engine,
		prices:  sim.prices,
		wallet:  sim.state.Wallet,
		advance: sim.clock.advance,
		out:     out,
	}, args); err != nil {
		return err
	}
	return sim.save()
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: lmctl [-rpc URL] [-wallet PATH] [-program ID] <command> [flags]")
	fmt.Fprintln(w, "       lmctl -simulate [-state FILE] [-wallet PATH] <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	for _, name := range commandNames() {
		fmt.Fprintf(w, "  %-12s %s\n", name, commands[name].summary)
	}
}
