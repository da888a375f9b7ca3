package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// init: create and save a wallet key.
func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a wallet key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if client.Key != nil && !force {
				return fmt.Errorf("wallet %s already exists; use --force to replace it", client.Address())
			}
			if err := client.GenerateKey(); err != nil {
				return err
			}
			if err := client.SaveKey(); err != nil {
				return err
			}
			fmt.Println(client.Address())
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing key")
	return cmd
}

// register [public-key]: publish an encryption key for this wallet.
func registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register [public-key]",
		Short: "Publish your public key (defaults to the wallet key)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			publicKey := ""
			if len(args) == 1 {
				publicKey = args[0]
			}
			if err := client.RegisterKey(publicKey); err != nil {
				return err
			}
			fmt.Println("registered", client.Address())
			return nil
		},
	}
}

// key <address>: look up a published key.
func keyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "key <address>",
		Short: "Show the public key registered for an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := client.GetKey(args[0])
			if err != nil {
				return err
			}
			fmt.Println(info.PublicKey)
			return nil
		},
	}
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Check that the relay accepts your signature",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Login()
			if err != nil {
				return err
			}
			fmt.Println("logged in as", resp.Address)
			return nil
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show relay health",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Health()
			if err != nil {
				return err
			}
			printJSON(resp)
			return nil
		},
	}
}
