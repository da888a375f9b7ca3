// Command whisper is a command line client for a WhisperNet relay.
package main

import (
	"os"

	"github.com/whispernet/whispernet/cmd/whisper/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
