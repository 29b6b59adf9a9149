package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"curvePool/internal/config"
	"curvePool/internal/pool"
	"curvePool/internal/pricing"
	"curvePool/internal/units"
)

type quoteOutput struct {
	Side            string `json:"side"`
	Amount          string `json:"amount"`
	Fee             string `json:"fee"`
	AmountOut       string `json:"amount_out"`
	SpotPrice       string `json:"spot_price"`
	SpotPriceAfter  string `json:"spot_price_after"`
	PriceImpactBps  uint64 `json:"price_impact_bps"`
	ExceedsMaxTrade bool   `json:"exceeds_max_trade"`
}

func runQuote(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadQuote(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	d := pricing.Decimals{Reserve: cfg.Pool.ReserveDecimals, Token: cfg.Pool.TokenDecimals}
	reserve, err := units.Parse(cfg.Reserve, d.Reserve)
	if err != nil {
		return fmt.Errorf("reserve: %w", err)
	}
	supply, err := units.Parse(cfg.Supply, d.Token)
	if err != nil {
		return fmt.Errorf("supply: %w", err)
	}
	curve := pricing.Curve{Reserve: reserve, Supply: supply, RatioPPM: cfg.Pool.RatioPPM}

	out, err := quote(curve, d, cfg)
	if err != nil {
		return err
	}
	logger.Debug("quote", zap.String("side", out.Side), zap.String("amount_out", out.AmountOut))

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal quote: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

// quote prices a trade the same way a pool would: buys pay the fee on the way in,
// sells pay it out of the proceeds.
func quote(curve pricing.Curve, d pricing.Decimals, cfg config.QuoteConfig) (quoteOutput, error) {
	params := pool.Params{
		RatioPPM:            curve.RatioPPM,
		TradeFeeBps:         cfg.Pool.TradeFeeBps,
		ProtocolFeeBps:      cfg.Pool.ProtocolFeeBps,
		MaxTradeFractionBps: cfg.Pool.MaxTradeFractionBps,
	}
	if err := params.Validate(); err != nil {
		return quoteOutput{}, fmt.Errorf("pool params: %w", err)
	}
	before, err := pricing.SpotPrice(curve, d)
	if err != nil {
		return quoteOutput{}, fmt.Errorf("spot price: %w", err)
	}

	out := quoteOutput{Side: cfg.Side, SpotPrice: units.FormatPrice(before, 6)}
	switch cfg.Side {
	case "buy":
		amount, err := units.Parse(cfg.Amount, d.Reserve)
		if err != nil {
			return quoteOutput{}, fmt.Errorf("amount: %w", err)
		}
		fee, netIn, err := pool.TradeFee(params.TradeFeeBps, amount)
		if err != nil {
			return quoteOutput{}, err
		}
		impact, err := pricing.BuyImpact(curve, d, netIn)
		if err != nil {
			return quoteOutput{}, fmt.Errorf("quote buy: %w", err)
		}
		limit, err := pool.MaxTrade(curve.Reserve, params.MaxTradeFractionBps)
		if err != nil {
			return quoteOutput{}, err
		}
		out.Amount = units.Format(amount, d.Reserve)
		out.Fee = units.Format(fee, d.Reserve)
		out.AmountOut = units.Format(impact.AmountOut, d.Token)
		out.SpotPriceAfter = units.FormatPrice(impact.NewSpotPrice, 6)
		out.PriceImpactBps = impact.PriceImpactBps
		out.ExceedsMaxTrade = amount.Gt(limit)
	case "sell":
		amount, err := units.Parse(cfg.Amount, d.Token)
		if err != nil {
			return quoteOutput{}, fmt.Errorf("amount: %w", err)
		}
		impact, err := pricing.SellImpact(curve, d, amount)
		if err != nil {
			return quoteOutput{}, fmt.Errorf("quote sell: %w", err)
		}
		fee, netOut, err := pool.TradeFee(params.TradeFeeBps, impact.AmountOut)
		if err != nil {
			return quoteOutput{}, err
		}
		limit, err := pool.MaxTrade(curve.Supply, params.MaxTradeFractionBps)
		if err != nil {
			return quoteOutput{}, err
		}
		out.Amount = units.Format(amount, d.Token)
		out.Fee = units.Format(fee, d.Reserve)
		out.AmountOut = units.Format(netOut, d.Reserve)
		out.SpotPriceAfter = units.FormatPrice(impact.NewSpotPrice, 6)
		out.PriceImpactBps = impact.PriceImpactBps
		out.ExceedsMaxTrade = amount.Gt(limit)
	default:
		return quoteOutput{}, fmt.Errorf("side must be buy or sell, got %q", cfg.Side)
	}
	return out, nil
}
