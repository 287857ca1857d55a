package main

import (
	"fmt"
	"io"
	"os"
)

const (
	keygenCommand       = "keygen"
	addressCommand      = "address"
	signDepositCommand  = "sign-deposit"
	signWithdrawCommand = "sign-withdraw"
	tokenCommand        = "token"

	defaultKeystore  = "operator.keystore"
	defaultSecretEnv = "BROKERFUND_HMAC_SECRET"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}

	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case keygenCommand:
		err = runKeygen(args, os.Stdout)
	case addressCommand:
		err = runAddress(args, os.Stdout)
	case signDepositCommand:
		err = runSignDeposit(args, os.Stdin, os.Stdout)
	case signWithdrawCommand:
		err = runSignWithdraw(args, os.Stdin, os.Stdout)
	case tokenCommand:
		err = runToken(args, os.Stdout)
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	default:
		usage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "brokerctl <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintf(w, "  %-14s Generate an encrypted operator keystore\n", keygenCommand)
	fmt.Fprintf(w, "  %-14s Print the address held by a keystore\n", addressCommand)
	fmt.Fprintf(w, "  %-14s Sign a deposit intent for relayed settlement\n", signDepositCommand)
	fmt.Fprintf(w, "  %-14s Sign a withdraw intent for relayed settlement\n", signWithdrawCommand)
	fmt.Fprintf(w, "  %-14s Issue an API bearer token\n", tokenCommand)
}
