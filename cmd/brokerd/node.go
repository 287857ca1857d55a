package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"brokerfund/config"
	"brokerfund/core/events"
	"brokerfund/core/state"
	"brokerfund/native/brokerage"
	nativecommon "brokerfund/native/common"
	"brokerfund/native/intent"
	"brokerfund/native/vault"
	"brokerfund/observability"
	"brokerfund/rpc"
	"brokerfund/rpc/middleware"
	"brokerfund/storage"
	"brokerfund/storage/eventlog"
)

// node bundles the wired settlement stack.
type node struct {
	state   *state.Manager
	engine  *brokerage.Engine
	archive *eventlog.Archive
	server  *rpc.Server
}

// newNode wires state, vault, engine, archive and HTTP server over db.
func newNode(ctx context.Context, cfg *config.Config, db storage.Database, logger *slog.Logger) (*node, error) {
	addrs, err := cfg.DecodeAddresses()
	if err != nil {
		return nil, fmt.Errorf("decode addresses: %w", err)
	}
	prices, err := cfg.AssetPrices()
	if err != nil {
		return nil, fmt.Errorf("decode asset prices: %w", err)
	}

	mgr := state.NewManager(db)
	v, err := vault.New(mgr, vault.Config{
		ShareToken: addrs.ShareToken,
		Fund:       addrs.Fund,
		Operator:   addrs.Engine,
		Prices:     prices,
	})
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	authority := vault.NewAuthority(v.Ledger(), addrs.Engine)

	archive, err := eventlog.Open(cfg.EventLogPath, logger)
	if err != nil {
		return nil, fmt.Errorf("event log: %w", err)
	}

	pauses := new(nativecommon.StaticPauses)
	for _, module := range cfg.PausedModules {
		if module = strings.TrimSpace(module); module != "" {
			pauses.SetPaused(module, true)
		}
	}

	engine := brokerage.NewEngine()
	engine.SetState(mgr)
	engine.SetDepositModule(v)
	engine.SetTransferAuthority(authority)
	engine.SetTokenLedger(v.Ledger())
	engine.SetAddress(addrs.Engine)
	engine.SetDefaultProtocolFeeRecipient(addrs.ProtocolFeeRecipient)
	engine.SetIntentValidator(intent.NewValidator(brokerage.IntentDomain(cfg.ChainID, addrs.Engine), intent.NewMultiVerifier(mgr)))
	engine.SetPauses(pauses)
	engine.SetMetrics(observability.Settlement())
	engine.SetEmitter(events.Fanout{archive, observability.Events()})
	engine.SetLogger(logger)

	n := &node{state: mgr, engine: engine, archive: archive}
	if err := n.bootstrap(ctx, addrs.Admin, cfg.ManagementFeeRateBps); err != nil {
		archive.Close()
		return nil, err
	}

	server, err := rpc.NewServer(rpc.Config{
		Engine:     engine,
		Archive:    archive,
		Tokens:     vault.NewBook(v.Ledger(), authority).WithView(mgr.Committed()),
		Roles:      mgr,
		Signers:    mgr,
		Commitment: mgr.Committed(),
		Auth: middleware.AuthConfig{
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		},
		RateLimit: middleware.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		Quota: nativecommon.Quota{
			MaxRequestsPerEpoch: cfg.Quota.MaxRequestsPerEpoch,
			MaxVolumePerEpoch:   cfg.Quota.MaxVolumePerEpoch,
			EpochSeconds:        cfg.Quota.EpochSeconds,
		},
		Logger: logger,
		Now:    time.Now,
	})
	if err != nil {
		archive.Close()
		return nil, fmt.Errorf("rpc server: %w", err)
	}
	n.server = server
	return n, nil
}

// bootstrap grants the configured admin its role and applies the configured
// management fee rate the first time the store is opened.
func (n *node) bootstrap(ctx context.Context, admin [20]byte, feeRateBps uint64) error {
	if !n.state.HasRole(state.RoleAdmin, admin) {
		err := n.engine.Atomically(ctx, func(context.Context) error {
			return n.state.SetRole(state.RoleAdmin, admin, true)
		})
		if err != nil {
			return fmt.Errorf("grant admin role: %w", err)
		}
	}
	fee, err := n.engine.ManagementFee()
	if err != nil {
		return fmt.Errorf("load management fee: %w", err)
	}
	if fee.LastAccrual == 0 && fee.RateBps == 0 && feeRateBps > 0 {
		if err := n.engine.SetManagementFeeRateInBps(ctx, admin, feeRateBps); err != nil {
			return fmt.Errorf("set management fee rate: %w", err)
		}
	}
	return nil
}

func (n *node) Close() error {
	return n.archive.Close()
}
