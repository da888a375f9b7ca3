package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/whispernet/whispernet/clients/go/whisper"
)

// send <address> <encrypted-body>: relay an already encrypted message.
func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <address> <encrypted-body>",
		Short: "Send an encrypted message to a wallet",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Send(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("sent #%d\n", resp.ID)
			return nil
		},
	}
}

func inboxCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "List messages sent to you, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			msgs, err := client.Inbox()
			if err != nil {
				return err
			}
			if asJSON {
				printJSON(msgs)
				return nil
			}
			for _, m := range msgs {
				printMessage(m, "from", m.From)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}

func sentCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sent",
		Short: "List messages you have sent, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			msgs, err := client.Sent()
			if err != nil {
				return err
			}
			if asJSON {
				printJSON(msgs)
				return nil
			}
			for _, m := range msgs {
				printMessage(m, "to", m.To)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}

func printMessage(m whisper.Message, dir, peer string) {
	ts := m.Timestamp.Local().Format(time.DateTime)
	fmt.Printf("#%d [%s] %s %s: %s\n", m.ID, ts, dir, peer, m.EncryptedBody)
}
