package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Ledger counts sale ledger activity.
type Ledger struct {
	Calls      *prometheus.CounterVec
	Reverts    *prometheus.CounterVec
	Purchases  *prometheus.CounterVec
	SaleVolume *prometheus.CounterVec
}

// NewLedger registers ledger metrics on reg.
func NewLedger(reg prometheus.Registerer) *Ledger {
	factory := promauto.With(reg)
	return &Ledger{
		Calls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idoscope_ledger_calls_total",
				Help: "Ledger calls by method",
			},
			[]string{"method"},
		),
		Reverts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idoscope_ledger_reverts_total",
				Help: "Reverted ledger calls by method and reason",
			},
			[]string{"method", "reason"},
		),
		Purchases: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idoscope_ledger_purchases_total",
				Help: "Successful purchases by pool curve and payment asset",
			},
			[]string{"curve", "asset"},
		),
		SaleVolume: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idoscope_ledger_sale_tokens_sold",
				Help: "Whole sale tokens sold, by curve",
			},
			[]string{"curve"},
		),
	}
}

// Indexer counts log indexing progress.
type Indexer struct {
	Batches     prometheus.Counter
	Logs        prometheus.Counter
	Retries     *prometheus.CounterVec
	LastBlock   prometheus.Gauge
	DecodeFails prometheus.Counter
}

// NewIndexer registers indexer metrics on reg.
func NewIndexer(reg prometheus.Registerer) *Indexer {
	factory := promauto.With(reg)
	return &Indexer{
		Batches: factory.NewCounter(prometheus.CounterOpts{
			Name: "idoscope_indexer_batches_total",
			Help: "Block ranges fetched",
		}),
		Logs: factory.NewCounter(prometheus.CounterOpts{
			Name: "idoscope_indexer_logs_total",
			Help: "Logs written to storage",
		}),
		Retries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idoscope_indexer_rpc_retries_total",
			Help: "Retried RPC calls by operation",
		}, []string{"op"}),
		LastBlock: factory.NewGauge(prometheus.GaugeOpts{
			Name: "idoscope_indexer_last_block",
			Help: "Last block range end persisted",
		}),
		DecodeFails: factory.NewCounter(prometheus.CounterOpts{
			Name: "idoscope_decode_failures_total",
			Help: "Log lines that failed to decode",
		}),
	}
}

// Serve exposes gatherer on addr at /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
