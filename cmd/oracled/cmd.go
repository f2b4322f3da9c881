package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"github.com/GPTx-global/flightsurety/oracle/config"
	"github.com/GPTx-global/flightsurety/oracle/daemon"
	"github.com/GPTx-global/flightsurety/oracle/ledger"
	"github.com/GPTx-global/flightsurety/oracle/log"
	"github.com/GPTx-global/flightsurety/oracle/surety"
	"github.com/GPTx-global/flightsurety/oracle/types"
)

const (
	flagHome      = "home"
	flagLogLevel  = "log-level"
	flagPassenger = "passenger"
	flagFrom      = "from"
	flagDirect    = "direct"
)

// dialLedger is replaced in tests.
var dialLedger = ledger.Dial

// NewRootCmd builds the oracled command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "oracled",
		Short:         "FlightSurety oracle relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, _ := cmd.Flags().GetString(flagLogLevel)
			return log.SetLevel(level)
		},
	}

	cmd.PersistentFlags().String(flagHome, config.DefaultHome(), "directory holding config.toml")
	cmd.PersistentFlags().String(flagLogLevel, "info", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		InitCmd(),
		StartCmd(),
		FetchStatusCmd(),
		FlightsCmd(),
		SuretyCmd(),
		AccountsCmd(),
		OperationalCmd(),
		RegisterAirlineCmd(),
		BuyInsuranceCmd(),
		WithdrawCmd(),
		DeauthorizeCmd(),
	)

	return cmd
}

func homeDir(cmd *cobra.Command) string {
	home, _ := cmd.Flags().GetString(flagHome)
	return home
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(homeDir(cmd))
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed(flagLogLevel) {
		return cfg, nil
	}

	return cfg, log.SetLevel(cfg.Log.Level)
}

func printJSON(cmd *cobra.Command, v any) error {
	bz, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(bz))
	return err
}

// InitCmd writes the default configuration.
func InitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default config.toml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := filepath.Join(homeDir(cmd), config.FileName)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}

			if err := config.WriteDefault(path); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
}

// StartCmd runs the relay until SIGINT or SIGTERM.
func StartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Register the oracles and answer flight status requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if cfg.Log.File {
				log.ResetLogger(homeDir(cmd))
			}
			cfg.Print(homeDir(cmd))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, err := daemon.New(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to create daemon: %w", err)
			}

			if err := d.Start(ctx); err != nil {
				stop()
				d.Stop()
				return fmt.Errorf("failed to start daemon: %w", err)
			}

			runErr := d.Run(ctx)

			log.Infof("=== Oracle daemon shutting down ===")
			stop()
			d.Stop()

			return runErr
		},
	}
}

// session is a ledger connection for one-shot commands.
type session struct {
	client *ledger.Client
	app    *surety.App
	data   *surety.Data
}

func connect(cmd *cobra.Command) (*config.Config, *session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	transport, err := dialLedger(cmd.Context(), cfg.Chain.Endpoint)
	if err != nil {
		return nil, nil, err
	}

	client := ledger.NewClient(transport, ledger.WithReceiptPollInterval(cfg.Chain.PollInterval()))
	return cfg, &session{
		client: client,
		app:    surety.NewApp(client, cfg.Chain.App(), cfg.Chain.GasLimit, cfg.Chain.OracleGasLimit),
		data:   surety.NewData(client, cfg.Chain.Data(), cfg.Chain.GasLimit),
	}, nil
}

func (s *session) Close() {
	s.client.Transport().Close()
}

// account resolves the account whose index is held by flag.
func (s *session) account(cmd *cobra.Command, flag string) (common.Address, error) {
	index, err := cmd.Flags().GetInt(flag)
	if err != nil {
		return common.Address{}, err
	}

	return account(cmd.Context(), s.client, index)
}

func account(ctx context.Context, client *ledger.Client, index int) (common.Address, error) {
	accounts, err := client.Accounts(ctx)
	if err != nil {
		return common.Address{}, err
	}
	if index < 0 || len(accounts) <= index {
		return common.Address{}, fmt.Errorf("account %d not available, ledger has %d accounts", index, len(accounts))
	}

	return accounts[index], nil
}

func parseFlight(args []string) (types.FlightKey, error) {
	if !common.IsHexAddress(args[0]) {
		return types.FlightKey{}, fmt.Errorf("invalid airline address %q", args[0])
	}

	ts, err := cast.ToUint64E(args[2])
	if err != nil {
		return types.FlightKey{}, fmt.Errorf("invalid timestamp %q: %w", args[2], err)
	}

	return types.FlightKey{
		Airline:   common.HexToAddress(args[0]),
		Flight:    args[1],
		Timestamp: ts,
	}, nil
}

// parseEther converts a decimal ether amount such as "0.25" to wei.
func parseEther(s string) (*big.Int, error) {
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 18 {
		return nil, fmt.Errorf("invalid amount %q: more than 18 decimals", s)
	}

	wei, ok := new(big.Int).SetString(whole+frac+strings.Repeat("0", 18-len(frac)), 10)
	if !ok || wei.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}

	return wei, nil
}

func formatEther(wei *big.Int) string {
	return new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(params.Ether)).Text('f', -1)
}

func printReceipt(cmd *cobra.Command, what string, receipt *ethtypes.Receipt) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s in tx %s\n", what, receipt.TxHash.Hex())
}
