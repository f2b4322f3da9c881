package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/spf13/cobra"

	"github.com/GPTx-global/flightsurety/oracle/surety"
)

// FetchStatusCmd asks the ledger to open an oracle request for a flight.
func FetchStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch-status [airline] [flight] [timestamp]",
		Short: "Request the status of a flight from the oracles",
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

			from, err := s.account(cmd, flagFrom)
			if err != nil {
				return err
			}

			receipt, err := s.app.FetchFlightStatus(cmd.Context(), from, flight)
			if err != nil {
				return err
			}

			printReceipt(cmd, fmt.Sprintf("requested status of %s", flight), receipt)
			return nil
		},
	}

	cmd.Flags().Int(flagFrom, 0, "index of the sending account")
	return cmd
}

// RegisterAirlineCmd registers an airline, sent from an airline already in
// the consortium.
func RegisterAirlineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register-airline [airline]",
		Short: "Register an airline on behalf of a funded airline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !common.IsHexAddress(args[0]) {
				return fmt.Errorf("invalid airline address %q", args[0])
			}
			airline := common.HexToAddress(args[0])

			_, s, err := connect(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			from, err := s.account(cmd, flagFrom)
			if err != nil {
				return err
			}

			receipt, err := s.app.RegisterAirline(cmd.Context(), from, airline)
			if err != nil {
				return err
			}

			printReceipt(cmd, fmt.Sprintf("registered airline %s", airline.Hex()), receipt)
			return nil
		},
	}

	cmd.Flags().Int(flagFrom, 1, "index of the registering airline account")
	return cmd
}

// BuyInsuranceCmd insures a passenger on a flight.
func BuyInsuranceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buy-insurance [airline] [flight] [timestamp] [ether]",
		Short: "Insure a passenger on a flight for up to 1 ether",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			flight, err := parseFlight(args)
			if err != nil {
				return err
			}

			amount, err := parseEther(args[3])
			if err != nil {
				return err
			}
			if amount.Sign() == 0 || surety.MaxInsurance.Cmp(amount) < 0 {
				return fmt.Errorf("insurance must be more than 0 and at most %s ether", formatEther(surety.MaxInsurance))
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

			receipt, err := s.app.BuyInsurance(cmd.Context(), passenger, flight, amount)
			if err != nil {
				return err
			}

			printReceipt(cmd, fmt.Sprintf("insured %s for %s ether on %s", passenger.Hex(), formatEther(amount), flight), receipt)
			return nil
		},
	}

	cmd.Flags().Int(flagPassenger, 2, "index of the passenger account")
	return cmd
}

// WithdrawCmd pays out a passenger's credit for a delayed flight.
func WithdrawCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "withdraw [airline] [flight] [timestamp]",
		Short: "Withdraw a passenger's credit for a delayed flight",
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

			var receipt *ethtypes.Receipt
			if direct, _ := cmd.Flags().GetBool(flagDirect); direct {
				receipt, err = s.data.WithdrawPassengerClaimDirect(cmd.Context(), passenger, flight)
			} else {
				receipt, err = s.app.WithdrawPassengerClaim(cmd.Context(), passenger, flight)
			}
			if err != nil {
				return err
			}

			printReceipt(cmd, fmt.Sprintf("withdrew the claim of %s on %s", passenger.Hex(), flight), receipt)
			return nil
		},
	}

	cmd.Flags().Int(flagPassenger, 2, "index of the passenger account")
	cmd.Flags().Bool(flagDirect, false, "withdraw through the data contract")
	return cmd
}

// DeauthorizeCmd revokes the app contract's access to the data contract.
func DeauthorizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deauthorize",
		Short: "Revoke the app contract's access to the data contract",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, s, err := connect(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			owner, err := account(cmd.Context(), s.client, cfg.Chain.OwnerAccount)
			if err != nil {
				return err
			}

			receipt, err := s.data.DeauthorizeAppContract(cmd.Context(), owner, s.app.Address())
			if err != nil {
				return err
			}

			printReceipt(cmd, fmt.Sprintf("app contract %s is no longer authorized", s.app.Address().Hex()), receipt)
			return nil
		},
	}
}
