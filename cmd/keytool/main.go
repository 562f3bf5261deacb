// Command keytool writes an encrypted operator key file for marketd.
//
//	keytool -out operator.json [-key 0x...] [-generate]
//
// The password is read from MARKETD_OPERATOR_KEY_PASSWORD.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/marketledger/internal/crypto"
)

const passwordEnv = "MARKETD_OPERATOR_KEY_PASSWORD"

func main() {
	out := flag.String("out", "operator.json", "key file to create")
	key := flag.String("key", "", "hex private key to encrypt")
	generate := flag.Bool("generate", false, "generate a fresh key instead of -key")
	flag.Parse()

	if err := run(*out, *key, *generate, os.Getenv(passwordEnv)); err != nil {
		fmt.Fprintf(os.Stderr, "keytool: %v\n", err)
		os.Exit(1)
	}
}

func run(out, key string, generate bool, password string) error {
	if password == "" {
		return fmt.Errorf("%s is not set", passwordEnv)
	}
	switch {
	case generate && key != "":
		return fmt.Errorf("-key and -generate are mutually exclusive")
	case generate:
		pk, err := ethcrypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		key = hex.EncodeToString(ethcrypto.FromECDSA(pk))
	case key == "":
		return fmt.Errorf("one of -key or -generate is required")
	}

	if err := crypto.WriteKeyFile(out, key, password); err != nil {
		return err
	}
	signer, err := crypto.NewSigner(key, crypto.Domain{})
	if err != nil {
		return err
	}
	fmt.Printf("wrote %s for %s\n", out, signer.Address().Hex())
	return nil
}
