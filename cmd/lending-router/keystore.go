package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/weisyn/lending-router-go/wallet"
)

func newKeystoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keystore",
		Short: "Manage submitter wallets",
	}
	cmd.PersistentFlags().String("dir", "keystore", "keystore directory")
	cmd.PersistentFlags().Bool("light", false, "use light scrypt parameters (development only)")

	newCmd := &cobra.Command{
		Use:   "new",
		Short: "Create a wallet and save it encrypted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			km, err := keystoreManager(cmd)
			if err != nil {
				return err
			}
			password, _ := cmd.Flags().GetString("password")
			if password == "" {
				return fmt.Errorf("--password is required")
			}
			w, err := wallet.NewWallet()
			if err != nil {
				return err
			}
			path, err := km.Save(w, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", w.Address().Hex(), path)
			return nil
		},
	}
	newCmd.Flags().String("password", "", "encryption password")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List wallet addresses in the keystore",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			km, err := keystoreManager(cmd)
			if err != nil {
				return err
			}
			accounts, err := km.Accounts()
			if err != nil {
				return err
			}
			for _, a := range accounts {
				fmt.Fprintln(cmd.OutOrStdout(), a.Hex())
			}
			return nil
		},
	}

	cmd.AddCommand(newCmd, listCmd)
	return cmd
}

func keystoreManager(cmd *cobra.Command) (*wallet.KeystoreManager, error) {
	dir, _ := cmd.Flags().GetString("dir")
	var opts []wallet.KeystoreOption
	if light, _ := cmd.Flags().GetBool("light"); light {
		opts = append(opts, wallet.WithLightScrypt())
	}
	return wallet.NewKeystoreManager(dir, opts...)
}
