package main

import (
	"fmt"
	"os"

	"github.com/whispernet/whispernet/internal/crypto"
)

func main() {
	key, err := crypto.GenerateKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Address:           %s\n", crypto.AddressOf(key))
	fmt.Printf("Private key (hex): %s\n", crypto.EncodePrivateKey(key))
}
