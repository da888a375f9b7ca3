package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/whispernet/whispernet/internal/auth"
	"github.com/whispernet/whispernet/internal/crypto"
)

func main() {
	keyHex := flag.String("key", "", "Hex-encoded secp256k1 private key")
	challenge := flag.String("challenge", auth.DefaultChallenge, "Login challenge to sign")
	flag.Parse()

	if *keyHex == "" {
		fmt.Fprintln(os.Stderr, "Usage: sign -key <private-key-hex> [-challenge <text>]")
		os.Exit(1)
	}

	key, err := crypto.ParsePrivateKey(*keyHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid private key: %v\n", err)
		os.Exit(1)
	}

	sig, err := crypto.SignPersonalMessage(key, *challenge)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to sign: %v\n", err)
		os.Exit(1)
	}

	// Output headers
	fmt.Printf("%s: %s\n", auth.HeaderAddress, crypto.AddressOf(key))
	fmt.Printf("%s: %s\n", auth.HeaderSignature, crypto.EncodeSignature(sig))
}
