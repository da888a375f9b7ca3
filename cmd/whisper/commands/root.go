package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/whispernet/whispernet/clients/go/whisper"
)

var (
	relayURL  string
	configDir string
	challenge string
	client    *whisper.Client
)

func Execute() error {
	root := &cobra.Command{
		Use:          "whisper",
		Short:        "Wallet-authenticated message relay client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configDir != "" {
				if err := os.Setenv("WHISPERNET_CONFIG", configDir); err != nil {
					return err
				}
			}
			if relayURL == "" {
				relayURL = os.Getenv("WHISPERNET_URL")
			}
			client = whisper.NewClient(relayURL)
			if challenge != "" {
				client.Challenge = challenge
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&relayURL, "relay", "", "relay base URL (default $WHISPERNET_URL or http://localhost:8080)")
	root.PersistentFlags().StringVar(&configDir, "home", "", "config dir (default ~/.whispernet)")
	root.PersistentFlags().StringVar(&challenge, "challenge", "", "login challenge the relay expects")

	root.AddCommand(initCmd(), registerCmd(), keyCmd(), loginCmd(), sendCmd(), inboxCmd(), sentCmd(), healthCmd())
	return root.Execute()
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
