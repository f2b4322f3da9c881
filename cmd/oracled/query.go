package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/GPTx-global/flightsurety/oracle/surety"
	"github.com/GPTx-global/flightsurety/oracle/types"
)

// FlightsCmd lists the registered flights.
func FlightsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flights",
		Short: "List registered flights and their status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, s, err := connect(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			flights, err := s.app.Flights(cmd.Context())
			if err != nil {
				return err
			}

			return printJSON(cmd, flights)
		},
	}
}

// SuretyCmd shows a passenger's insurance on a flight.
func SuretyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "surety [airline] [flight] [timestamp]",
		Short: "Show a passenger's insurance on a flight",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			flight, err := parseFlight(args)
			if err != nil {
				return err
			}

			_, s, err := connect(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			passenger, err := s.account(cmd, flagPassenger)
			if err != nil {
				return err
			}

			info, err := s.app.GetSuretyInfo(cmd.Context(), passenger, flight)
			if err != nil {
				return err
			}

			return printJSON(cmd, struct {
				Passenger common.Address  `json:"passenger"`
				Flight    types.FlightKey `json:"flight"`
				surety.SuretyInfo
				Payable bool `json:"payable"`
			}{passenger, flight, info, info.Status.Payable()})
		},
	}

	cmd.Flags().Int(flagPassenger, 2, "index of the passenger account")
	return cmd
}

// AccountsCmd lists the ledger's unlocked accounts.
func AccountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List the accounts the ledger node manages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, s, err := connect(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			accounts, err := s.client.Accounts(cmd.Context())
			if err != nil {
				return err
			}

			for i, a := range accounts {
				role := ""
				switch {
				case i == cfg.Chain.OwnerAccount:
					role = "owner"
				case cfg.Bootstrap.Enabled && i == cfg.Bootstrap.AirlineAccount:
					role = "airline"
				case cfg.Oracles.FirstAccount <= i && i < cfg.Oracles.FirstAccount+cfg.Oracles.Count:
					role = "oracle"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%3d %s %s\n", i, a.Hex(), role)
			}

			return nil
		},
	}
}

// OperationalCmd reports whether the app contract accepts state changes.
func OperationalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "operational",
		Short: "Show whether the app contract is operational",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, s, err := connect(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			ok, err := s.app.IsOperational(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "operational: %t\n", ok)
			return nil
		},
	}
}
