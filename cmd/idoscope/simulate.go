package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"idoScope/internal/config"
	"idoScope/internal/metrics"
	"idoScope/internal/scenario"
	"idoScope/internal/storage"
)

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadSimulate(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Scenario == "" {
		return fmt.Errorf("scenario path is required")
	}
	if cfg.Out == "" {
		return fmt.Errorf("output path is required")
	}

	sc, err := scenario.Load(cfg.Scenario)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	reg := newRegistry()
	defer serveMetrics(ctx, cfg.MetricsAddr, reg, logger)()

	logger.Info("simulate start",
		zap.String("scenario", cfg.Scenario),
		zap.String("out", cfg.Out),
		zap.Bool("append", cfg.Append),
	)

	report, runErr := scenario.NewRunner(logger, metrics.NewLedger(reg)).Run(ctx, sc)
	if report == nil {
		return runErr
	}
	if runErr != nil && !errors.Is(runErr, scenario.ErrExpectation) {
		return runErr
	}

	if !cfg.Append {
		if err := os.Remove(cfg.Out); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("truncate output: %w", err)
		}
	}
	if err := storage.NewJsonlStorage(cfg.Out).PutLogBatch(report.Logs); err != nil {
		return fmt.Errorf("write logs: %w", err)
	}

	for _, step := range report.Steps {
		fields := []zap.Field{
			zap.Int("step", step.Index),
			zap.String("action", step.Action),
			zap.String("from", step.From),
			zap.Uint64("ts", step.Timestamp),
		}
		if step.SaleAmount != "" {
			fields = append(fields, zap.String("base", step.BaseAmount), zap.String("sale", step.SaleAmount))
		}
		if step.Err != nil {
			fields = append(fields, zap.NamedError("revert", step.Err))
		}
		if step.Failure != "" {
			fields = append(fields, zap.String("failure", step.Failure))
		}
		logger.Info("step", fields...)
	}
	for _, pool := range report.Pools {
		logger.Info("pool",
			zap.Uint64("pid", pool.ID),
			zap.String("name", pool.Name),
			zap.Stringer("curve", pool.CurveType),
			zap.Stringer("sold", pool.Sold),
			zap.Stringer("offering", pool.OfferingAmount),
			zap.Stringer("remaining", pool.Remaining()),
		)
	}
	for _, bal := range report.Balances {
		logger.Info("balance", zap.String("account", bal.Account), zap.String("token", bal.Token), zap.String("amount", bal.Amount))
	}

	if cfg.Report != "" {
		if err := writeReport(cfg.Report, report); err != nil {
			return err
		}
	}

	logger.Info("simulate complete",
		zap.String("run_id", report.RunID),
		zap.String("contract", report.Contract.Hex()),
		zap.Int("logs", len(report.Logs)),
	)
	return runErr
}

type reportStep struct {
	Index      int    `json:"index"`
	Action     string `json:"action"`
	From       string `json:"from,omitempty"`
	Timestamp  uint64 `json:"timestamp"`
	BaseAmount string `json:"base_amount,omitempty"`
	SaleAmount string `json:"sale_amount,omitempty"`
	Revert     string `json:"revert,omitempty"`
	Failure    string `json:"failure,omitempty"`
}

type reportPool struct {
	ID        uint64 `json:"pid"`
	Name      string `json:"name"`
	Curve     string `json:"curve"`
	Sold      string `json:"sold"`
	Raised    string `json:"raised"`
	Offering  string `json:"offering"`
	Remaining string `json:"remaining"`
}

type reportFile struct {
	RunID    string             `json:"run_id"`
	Name     string             `json:"name"`
	Contract string             `json:"contract"`
	Steps    []reportStep       `json:"steps"`
	Pools    []reportPool       `json:"pools"`
	Balances []scenario.Balance `json:"balances"`
}

// writeReport stores a JSON summary. Pool amounts stay in base units since
// the report does not know every token's decimals.
func writeReport(path string, report *scenario.Report) error {
	out := reportFile{
		RunID:    report.RunID,
		Name:     report.Name,
		Contract: report.Contract.Hex(),
		Balances: report.Balances,
	}
	for _, step := range report.Steps {
		rs := reportStep{
			Index:      step.Index,
			Action:     step.Action,
			From:       step.From,
			Timestamp:  step.Timestamp,
			BaseAmount: step.BaseAmount,
			SaleAmount: step.SaleAmount,
			Failure:    step.Failure,
		}
		if step.Err != nil {
			rs.Revert = step.Err.Error()
		}
		out.Steps = append(out.Steps, rs)
	}
	for _, pool := range report.Pools {
		out.Pools = append(out.Pools, reportPool{
			ID:        pool.ID,
			Name:      pool.Name,
			Curve:     pool.CurveType.String(),
			Sold:      pool.Sold.String(),
			Raised:    pool.Raised.String(),
			Offering:  pool.OfferingAmount.String(),
			Remaining: pool.Remaining().String(),
		})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
