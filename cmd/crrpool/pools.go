package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"curvePool/internal/chain"
	"curvePool/internal/config"
	"curvePool/internal/memledger"
	"curvePool/internal/model"
	"curvePool/internal/pool"
	"curvePool/internal/registry"
	"curvePool/internal/storage/postgres"
	"curvePool/internal/units"
)

type poolSummary struct {
	PoolID    string          `json:"pool_id"`
	Asset     string          `json:"asset"`
	Reserve   string          `json:"reserve"`
	Supply    string          `json:"supply"`
	SpotPrice string          `json:"spot_price"`
	Trade     model.TradeInfo `json:"trade"`
	Version   uint64          `json:"version"`
	LastSeq   uint64          `json:"last_seq"`

	AuditBlock     uint64 `json:"audit_block,omitempty"`
	OnChainBalance string `json:"on_chain_balance,omitempty"`
	CustodyOK      *bool  `json:"custody_ok,omitempty"`
}

func runPools(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadPools(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	records, err := store.LoadPools(ctx)
	if err != nil {
		return fmt.Errorf("load pools: %w", err)
	}

	// Restored pools are read-only here; the bank only satisfies construction.
	bank := memledger.NewBank()
	reg, err := registry.New(registry.Config{
		Factory: common.HexToAddress("0x00000000000000000000000000000000000000f0"),
		Backend: registry.Backend{
			Custodian: func(asset common.Address) pool.AssetCustodian { return bank.Custodian(asset) },
			Issuer:    func(id common.Hash) pool.TokenIssuer { return bank.Issuer(id) },
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	if err := reg.Restore(records); err != nil {
		return err
	}

	var (
		chainClient *chain.Client
		auditBlock  uint64
	)
	if cfg.RPCURL != "" {
		chainClient, err = chain.NewClient(ctx, cfg.RPCURL)
		if err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		defer chainClient.Close()
		auditBlock, err = chainClient.LatestBlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("get latest block: %w", err)
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, p := range reg.Pools() {
		st, err := p.State()
		if err != nil {
			return err
		}
		lastSeq, _, err := store.LoadState(ctx, "pool:"+p.ID().Hex())
		if err != nil {
			return fmt.Errorf("load state: %w", err)
		}
		d := p.Decimals()
		snap := p.Snapshot()
		summary := poolSummary{
			PoolID:    p.ID().Hex(),
			Asset:     p.Asset().Hex(),
			Reserve:   units.Format(st.Reserve, d.Reserve),
			Supply:    units.Format(st.Supply, d.Token),
			SpotPrice: units.FormatPrice(st.SpotPrice, 6),
			Trade:     p.TradeInfo(),
			Version:   snap.Version,
			LastSeq:   lastSeq,
		}
		if chainClient != nil {
			block := new(big.Int).SetUint64(auditBlock)
			token := chain.NewTokenBalances(chainClient, p.Asset(), block)
			onChainDecimals, err := token.Decimals(ctx)
			if err != nil {
				return fmt.Errorf("audit %s: %w", p.ID().Hex(), err)
			}
			if onChainDecimals != d.Reserve {
				logger.Warn("reserve decimals mismatch", zap.String("pool_id", p.ID().Hex()), zap.Uint8("pool", d.Reserve), zap.Uint8("token", onChainDecimals))
			}
			held, err := token.BalanceOf(ctx, p.Address())
			if err != nil {
				return fmt.Errorf("audit %s: %w", p.ID().Hex(), err)
			}
			required := new(uint256.Int).Add(snap.Reserve, snap.FeesOwedTreasury)
			required.Add(required, snap.FeesOwedProtocol)
			ok := !held.Lt(required)
			summary.AuditBlock = auditBlock
			summary.OnChainBalance = units.Format(held, d.Reserve)
			summary.CustodyOK = &ok
			if !ok {
				logger.Warn("custody shortfall", zap.String("pool_id", summary.PoolID), zap.String("held", held.Dec()), zap.String("required", required.Dec()))
			}
		}
		if err := enc.Encode(summary); err != nil {
			return err
		}
	}
	logger.Info("pools listed", zap.Int("count", len(records)))
	return nil
}
