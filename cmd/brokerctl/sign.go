package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"brokerfund/cmd/internal/passphrase"
	"brokerfund/crypto"
	"brokerfund/native/brokerage"
	"brokerfund/native/intent"
	"brokerfund/rpc"
)

// intentFlags are shared by both signing commands.
type intentFlags struct {
	keystore string
	passEnv  string
	order    string
	chainID  uint64
	engine   string
	nonce    uint64
	tip      string
	bribe    string
}

func (f *intentFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.keystore, "keystore", defaultKeystore, "Path to the signer keystore")
	fs.StringVar(&f.passEnv, "pass-env", passphrase.DefaultEnv, "Environment variable containing the keystore passphrase")
	fs.StringVar(&f.order, "order", "-", "Order JSON file, or - for stdin")
	fs.Uint64Var(&f.chainID, "chain-id", 1, "Chain id bound into the signature")
	fs.StringVar(&f.engine, "engine", "", "Settlement engine address (verifying contract)")
	fs.Uint64Var(&f.nonce, "nonce", 0, "Next unused nonce of the signer for the account")
	fs.StringVar(&f.tip, "tip", "0", "Relayer tip in the order asset")
	fs.StringVar(&f.bribe, "bribe", "0", "Bribe paid to the protocol fee recipient")
}

// intentParams is the parsed, key-independent part of a signing request.
type intentParams struct {
	domain  intent.Domain
	chainID uint64
	nonce   uint64
	tip     *big.Int
	bribe   *big.Int
}

func (f *intentFlags) params() (intentParams, error) {
	if strings.TrimSpace(f.engine) == "" {
		return intentParams{}, errors.New("-engine is required")
	}
	engine, err := crypto.ParseAddress(strings.TrimSpace(f.engine))
	if err != nil {
		return intentParams{}, fmt.Errorf("engine: %w", err)
	}
	tip, err := parseUnsigned("tip", f.tip)
	if err != nil {
		return intentParams{}, err
	}
	bribe, err := parseUnsigned("bribe", f.bribe)
	if err != nil {
		return intentParams{}, err
	}
	return intentParams{
		domain:  brokerage.IntentDomain(f.chainID, engine),
		chainID: f.chainID,
		nonce:   f.nonce,
		tip:     tip,
		bribe:   bribe,
	}, nil
}

func (p intentParams) envelope(signer [20]byte, sig []byte) rpc.IntentEnvelope {
	return rpc.IntentEnvelope{
		ChainID:    p.chainID,
		Nonce:      p.nonce,
		RelayerTip: p.tip.String(),
		Bribe:      p.bribe.String(),
		Signer:     crypto.FormatAddress(crypto.FundPrefix, signer),
		Signature:  "0x" + hex.EncodeToString(sig),
	}
}

func parseUnsigned(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || parsed.Sign() < 0 {
		return nil, fmt.Errorf("%s: %q is not a non-negative integer", field, value)
	}
	return parsed, nil
}

func readOrder(path string, stdin io.Reader, dst interface{}) error {
	var src io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		src = f
	}
	dec := json.NewDecoder(src)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode order: %w", err)
	}
	return nil
}

func loadSigner(path, passEnv string) (*crypto.PrivateKey, error) {
	pass, err := passphrase.NewSource(passEnv).Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("unlock keystore: %w", err)
	}
	return key, nil
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runSignDeposit(args []string, stdin io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet(signDepositCommand, flag.ContinueOnError)
	var flags intentFlags
	flags.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	params, err := flags.params()
	if err != nil {
		return err
	}
	var body rpc.DepositOrderBody
	if err := readOrder(flags.order, stdin, &body); err != nil {
		return err
	}
	key, err := loadSigner(flags.keystore, flags.passEnv)
	if err != nil {
		return err
	}
	req, err := signDeposit(key, params, body)
	if err != nil {
		return err
	}
	return writeJSON(out, req)
}

func runSignWithdraw(args []string, stdin io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet(signWithdrawCommand, flag.ContinueOnError)
	var flags intentFlags
	flags.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	params, err := flags.params()
	if err != nil {
		return err
	}
	var body rpc.WithdrawOrderBody
	if err := readOrder(flags.order, stdin, &body); err != nil {
		return err
	}
	key, err := loadSigner(flags.keystore, flags.passEnv)
	if err != nil {
		return err
	}
	req, err := signWithdraw(key, params, body)
	if err != nil {
		return err
	}
	return writeJSON(out, req)
}

// signDeposit returns the relay request for body signed by key.
func signDeposit(key *crypto.PrivateKey, params intentParams, body rpc.DepositOrderBody) (rpc.DepositIntentRequest, error) {
	order, err := body.Order()
	if err != nil {
		return rpc.DepositIntentRequest{}, err
	}
	in := brokerage.DepositIntent{Order: order, ChainID: params.chainID, Nonce: params.nonce, RelayerTip: params.tip, Bribe: params.bribe}
	sig, err := intent.Sign(key.PrivateKey, params.domain.Separator(), in.StructHash())
	if err != nil {
		return rpc.DepositIntentRequest{}, err
	}
	signer := key.PubKey().Address().Raw()
	return rpc.DepositIntentRequest{Order: body, IntentEnvelope: params.envelope(signer, sig)}, nil
}

// signWithdraw returns the relay request for body signed by key.
func signWithdraw(key *crypto.PrivateKey, params intentParams, body rpc.WithdrawOrderBody) (rpc.WithdrawIntentRequest, error) {
	order, err := body.Order()
	if err != nil {
		return rpc.WithdrawIntentRequest{}, err
	}
	in := brokerage.WithdrawIntent{Order: order, ChainID: params.chainID, Nonce: params.nonce, RelayerTip: params.tip, Bribe: params.bribe}
	sig, err := intent.Sign(key.PrivateKey, params.domain.Separator(), in.StructHash())
	if err != nil {
		return rpc.WithdrawIntentRequest{}, err
	}
	signer := key.PubKey().Address().Raw()
	return rpc.WithdrawIntentRequest{Order: body, IntentEnvelope: params.envelope(signer, sig)}, nil
}
