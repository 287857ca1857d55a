package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"brokerfund/cmd/internal/passphrase"
	"brokerfund/crypto"
	"brokerfund/rpc/middleware"
)

func runKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(keygenCommand, flag.ContinueOnError)
	keystorePath := fs.String("keystore", defaultKeystore, "Output path for the keystore file")
	passEnv := fs.String("pass-env", passphrase.DefaultEnv, "Environment variable containing the keystore passphrase")
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !*force {
		if _, err := os.Stat(*keystorePath); err == nil {
			return fmt.Errorf("keystore file %s already exists (use -force to overwrite)", *keystorePath)
		} else if !os.IsNotExist(err) {
			return err
		}
	}
	pass, err := passphrase.NewSource(*passEnv).Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	if err := crypto.SaveToKeystore(*keystorePath, key, pass); err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	fmt.Fprintf(out, "%s\n", key.PubKey().Address().String())
	return nil
}

func runAddress(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(addressCommand, flag.ContinueOnError)
	keystorePath := fs.String("keystore", defaultKeystore, "Path to the keystore file")
	hexOut := fs.Bool("hex", false, "Print the address as 0x-prefixed hex")
	if err := fs.Parse(args); err != nil {
		return err
	}
	addr, err := crypto.KeystoreAddress(*keystorePath)
	if err != nil {
		return err
	}
	if *hexOut {
		fmt.Fprintf(out, "0x%x\n", addr)
		return nil
	}
	fmt.Fprintln(out, crypto.FormatAddress(crypto.FundPrefix, addr))
	return nil
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(tokenCommand, flag.ContinueOnError)
	subject := fs.String("subject", "", "Caller address the token authenticates")
	keystorePath := fs.String("keystore", "", "Read the subject from this keystore instead of -subject")
	secretEnv := fs.String("secret-env", defaultSecretEnv, "Environment variable containing the HMAC secret")
	issuer := fs.String("issuer", "brokerfund", "Token issuer")
	audience := fs.String("audience", "", "Token audience")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var caller [20]byte
	switch {
	case strings.TrimSpace(*keystorePath) != "":
		addr, err := crypto.KeystoreAddress(*keystorePath)
		if err != nil {
			return err
		}
		caller = addr
	case strings.TrimSpace(*subject) != "":
		addr, err := crypto.ParseAddress(strings.TrimSpace(*subject))
		if err != nil {
			return fmt.Errorf("subject: %w", err)
		}
		caller = addr
	default:
		return errors.New("either -subject or -keystore is required")
	}
	if *ttl <= 0 {
		return errors.New("ttl must be positive")
	}
	secret := os.Getenv(*secretEnv)
	if strings.TrimSpace(secret) == "" {
		return fmt.Errorf("%s is not set", *secretEnv)
	}
	token, err := middleware.IssueToken(secret, *issuer, *audience, caller, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}
