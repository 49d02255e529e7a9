package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"idoScope/internal/config"
	"idoScope/internal/ido"
	"idoScope/internal/metrics"
	"idoScope/internal/model"
	"idoScope/internal/storage"
)

func runDecode(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadDecode(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.In == "" {
		return fmt.Errorf("input path is required")
	}
	if cfg.Out == "" {
		return fmt.Errorf("output path is required")
	}
	if cfg.Errors == "" {
		return fmt.Errorf("errors path is required")
	}

	decoder, err := ido.NewEventDecoder(ido.DecoderConfig{Topic0Map: cfg.Topic0Map})
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	reg := newRegistry()
	defer serveMetrics(ctx, cfg.MetricsAddr, reg, logger)()

	inputFile, err := os.Open(cfg.In)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer inputFile.Close()

	outWriter, err := storage.NewJSONLWriter(cfg.Out, false)
	if err != nil {
		return err
	}
	defer outWriter.Close()

	errWriter, err := storage.NewJSONLWriter(cfg.Errors, false)
	if err != nil {
		return err
	}
	defer errWriter.Close()

	logger.Info("decode start",
		zap.String("in", cfg.In),
		zap.String("out", cfg.Out),
		zap.String("errors", cfg.Errors),
		zap.Int("topic0_aliases", len(cfg.Topic0Map)),
	)

	stats, err := decodeStream(ctx, inputFile, decoder, outWriter, errWriter, metrics.NewIndexer(reg).DecodeFails)
	if err != nil {
		return err
	}

	logger.Info("decode complete",
		zap.Int("total", stats.total),
		zap.Int("decoded", stats.decoded),
		zap.Int("skipped", stats.skipped),
		zap.Int("failed", stats.failed),
	)
	return nil
}

type jsonWriter interface {
	Write(value interface{}) error
}

type decodeStats struct {
	total, decoded, skipped, failed int
}

// decodeStream turns raw log lines into typed events. Logs with an unknown
// topic0 are skipped; malformed ones go to errs.
func decodeStream(ctx context.Context, r io.Reader, decoder *ido.EventDecoder, out, errs jsonWriter, fails prometheus.Counter) (decodeStats, error) {
	var stats decodeStats
	fail := func(rec model.DecodeError) error {
		stats.failed++
		if fails != nil {
			fails.Inc()
		}
		return errs.Write(rec)
	}

	err := storage.ScanJSONL(r, func(line []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.total++

		var record model.LogRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return fail(model.DecodeError{Stage: "parse", Error: err.Error()})
		}
		if len(record.Topics) == 0 {
			return fail(decodeErrorFromRecord(record, fmt.Errorf("missing topic0")))
		}
		if !decoder.CanDecode(record.Topics[0]) {
			stats.skipped++
			return nil
		}

		event, err := decoder.Decode(record)
		if err != nil {
			return fail(decodeErrorFromRecord(record, err))
		}
		if err := out.Write(event); err != nil {
			return err
		}
		stats.decoded++
		return nil
	})
	return stats, err
}

func decodeErrorFromRecord(record model.LogRecord, err error) model.DecodeError {
	topic0 := ""
	if len(record.Topics) > 0 {
		topic0 = record.Topics[0]
	}

	return model.DecodeError{
		Stage:       "decode",
		ChainID:     record.ChainID,
		BlockNumber: record.BlockNumber,
		TxHash:      record.TxHash,
		LogIndex:    record.LogIndex,
		Address:     record.Address,
		Topic0:      topic0,
		Error:       err.Error(),
	}
}
