package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/vitos/credit_line/internal/domain"
)

func newWalletCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Manage the owner to smart wallet registry",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <owner-key> <address>",
			Short: "Register a smart wallet for an owner",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				if !common.IsHexAddress(args[1]) {
					return fmt.Errorf("%q is not an address", args[1])
				}
				w := &domain.Wallet{
					OwnerKey:  strings.TrimSpace(args[0]),
					Address:   strings.ToLower(common.HexToAddress(args[1]).Hex()),
					CreatedAt: time.Now().UTC(),
				}
				if w.OwnerKey == "" {
					return fmt.Errorf("owner key required")
				}
				if err := e.store.SaveWallet(cmd.Context(), w); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", w.OwnerKey, w.Address)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list <owner-key>",
			Short: "List the wallets of an owner",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				wallets, err := e.store.WalletsForOwner(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				for _, w := range wallets {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", w.Address, w.CreatedAt.Format(time.RFC3339))
				}
				return nil
			},
		},
	)
	return cmd
}
