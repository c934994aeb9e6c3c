// Package main runs the swap completion service:
// - a RabbitMQ consumer that executes accept/reject commands as sagas
// - a ledger confirmation watcher that patches audits whose append failed
// - a proposal expiry sweeper
// - a Prometheus /metrics endpoint
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"bookswap/internal/config"
	"bookswap/internal/faults"
	"bookswap/internal/ledger"
	"bookswap/internal/logging"
	"bookswap/internal/notify"
	"bookswap/internal/observability"
	"bookswap/internal/payment"
	"bookswap/internal/rollback"
	"bookswap/internal/saga"
	"bookswap/internal/storage"
	chstore "bookswap/internal/storage/clickhouse"
	"bookswap/internal/storage/memory"
	"bookswap/internal/storage/migrations"
	pgstore "bookswap/internal/storage/postgres"
	"bookswap/internal/validation"
)

// command is one accept/reject instruction consumed from the command queue.
type command struct {
	Type       string `json:"type"` // "proposal.accept" | "proposal.reject"
	ProposalID string `json:"proposal_id"`
	UserID     string `json:"user_id"`
}

type stores struct {
	proposals storage.ProposalStore
	swaps     storage.SwapStore
	bookings  storage.BookingStore
	payments  storage.PaymentStore
	audits    storage.AuditStore
	txm       storage.TransactionManager
	corrector storage.Corrector
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("load configuration")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open stores")
	}

	var sagaEvents storage.SagaEventStore
	if cfg.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("clickhouse migrations")
		}
		defer conn.Close()
		sagaEvents = chstore.NewSagaEventStore(conn)
	}

	metrics := observability.NewMetrics("")

	ledgerClient := ledger.NewHTTPClient(cfg.LedgerURL,
		ledger.WithTimeout(cfg.LedgerTimeout),
		ledger.WithMaxRetries(cfg.LedgerMaxRetries),
		ledger.WithRetryCounter(metrics.LedgerAppendRetries),
	)

	var gateway payment.Client
	if cfg.OmisePublicKey != "" && cfg.OmiseSecretKey != "" {
		gateway, err = payment.NewOmiseGateway(cfg.OmisePublicKey, cfg.OmiseSecretKey,
			payment.PrefixResolver{Prefix: cfg.OmiseCustomerPrefix}, cfg.PlatformFeeBps)
		if err != nil {
			logger.Fatal().Err(err).Msg("create payment gateway")
		}
	} else {
		logger.Warn().Msg("no payment gateway configured, cash proposals will fail")
	}

	var publisher notify.Publisher
	if cfg.RabbitURL != "" {
		amqpPub, err := notify.NewAMQPPublisher(cfg.RabbitURL, cfg.NotifyExchange)
		if err != nil {
			logger.Fatal().Err(err).Msg("create notification publisher")
		}
		defer amqpPub.Close()
		publisher = amqpPub
	}

	rbManager := rollback.NewManager(rollback.Options{
		TxManager:   st.txm,
		Payments:    gateway,
		Ledger:      ledgerClient,
		Logger:      logging.Component(logger, "rollback"),
		Metrics:     metrics,
		MaxAttempts: cfg.RollbackMaxAttempts,
		RegistryTTL: cfg.RollbackRegistryTTL,
	})
	rbManager.StartSweeper(ctx, 5*time.Minute)

	orch := saga.New(saga.Options{
		Proposals:  st.proposals,
		Swaps:      st.swaps,
		Bookings:   st.bookings,
		Payments:   st.payments,
		Audits:     st.audits,
		SagaEvents: sagaEvents,
		TxManager:  st.txm,
		Corrector:  st.corrector,
		Validator:  validation.NewValidator(st.proposals, st.swaps, st.bookings),
		Ledger:     ledgerClient,
		Gateway:    gateway,
		Rollback:   rbManager,
		Publisher:  publisher,
		Metrics:    metrics,
		Logger:     logging.Component(logger, "saga"),
	})

	// patch audits whose ledger append failed once the event is confirmed
	if cfg.LedgerWSURL != "" {
		watcher := ledger.NewWatcher(cfg.LedgerWSURL, ledger.DefaultWatcherConfig(),
			logging.Component(logger, "ledger-watcher"))
		go patchAudits(ctx, watcher, st.audits, logger)
		defer watcher.Close()
	}

	// expire pending proposals and refresh the missing-ledger gauge
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := orch.ExpirePendingProposals(ctx); err != nil {
					logger.Warn().Err(err).Msg("expiry sweep failed")
				} else if n > 0 {
					logger.Info().Int64("expired", n).Msg("expiry sweep")
				}
				if missing, err := st.audits.ListMissingLedger(ctx, 1000); err != nil {
					logger.Warn().Err(err).Msg("missing-ledger sweep failed")
				} else {
					metrics.LedgerMissing.Set(float64(len(missing)))
				}
			}
		}
	}()

	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: httpHandler()}
	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	if cfg.RabbitURL != "" {
		if err := consumeCommands(ctx, cfg, orch, logger); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("command consumer stopped")
		}
	} else {
		logger.Warn().Msg("no broker configured, running sweeper and watcher only")
		<-ctx.Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info().Msg("server stopped")
}

func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	if cfg.UseMemory {
		logger.Warn().Msg("using in-memory stores, state is not durable")
		proposals := memory.NewProposalStore()
		swaps := memory.NewSwapStore()
		bookings := memory.NewBookingStore()
		return &stores{
			proposals: proposals,
			swaps:     swaps,
			bookings:  bookings,
			payments:  memory.NewPaymentStore(),
			audits:    memory.NewAuditStore(),
			txm:       memory.NewTxManager(proposals, swaps, bookings),
			corrector: memory.NewCorrector(proposals, swaps, bookings),
		}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		return nil, err
	}
	return &stores{
		proposals: pgstore.NewProposalStore(pool),
		swaps:     pgstore.NewSwapStore(pool),
		bookings:  pgstore.NewBookingStore(pool),
		payments:  pgstore.NewPaymentStore(pool),
		audits:    pgstore.NewAuditStore(pool),
		txm:       pgstore.NewTxManager(pool),
		corrector: pgstore.NewCorrector(pool),
	}, nil
}

func consumeCommands(ctx context.Context, cfg *config.Config, orch *saga.Orchestrator, logger zerolog.Logger) error {
	consumer, err := notify.NewAMQPConsumer(cfg.RabbitURL, cfg.CommandExchange, cfg.CommandQueue, cfg.CommandRoutingKeys)
	if err != nil {
		return err
	}
	defer consumer.Close()

	deliveries, err := consumer.Deliveries(ctx)
	if err != nil {
		return err
	}

	logger.Info().Str("queue", cfg.CommandQueue).Msg("consuming completion commands")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			// the proposal row lock serializes concurrent runs on the same
			// proposal, so deliveries can be handled concurrently
			go handleDelivery(ctx, orch, logger, d)
		}
	}
}

func handleDelivery(ctx context.Context, orch *saga.Orchestrator, logger zerolog.Logger, d amqp.Delivery) {
	var cmd command
	if err := json.Unmarshal(d.Body, &cmd); err != nil {
		logger.Warn().Err(err).Msg("dropping malformed command")
		_ = d.Nack(false, false)
		return
	}

	var err error
	switch cmd.Type {
	case "proposal.accept":
		_, err = orch.AcceptProposal(ctx, cmd.ProposalID, cmd.UserID)
	case "proposal.reject":
		err = orch.RejectProposal(ctx, cmd.ProposalID, cmd.UserID)
	default:
		logger.Warn().Str("type", cmd.Type).Msg("dropping unknown command")
		_ = d.Nack(false, false)
		return
	}

	if err != nil {
		fe := faults.As(err)
		logger.Error().Err(err).
			Str("proposal_id", cmd.ProposalID).
			Str("code", fe.Code).
			Msg("command failed")
		// retryable infrastructure failures requeue once; terminal outcomes ack
		_ = d.Nack(false, !d.Redelivered && faults.Retryable(fe.Category))
		return
	}
	_ = d.Ack(false)
}

// patchAudits records confirmed ledger event ids on audits that are still
// missing one.
func patchAudits(ctx context.Context, watcher *ledger.Watcher, audits storage.AuditStore, logger zerolog.Logger) {
	for conf := range watcher.Watch(ctx) {
		audit, err := audits.GetByTransactionID(ctx, conf.TransactionID)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				logger.Warn().Err(err).Str("transaction_id", conf.TransactionID).Msg("audit lookup failed")
			}
			continue
		}
		if audit.LedgerTransactionID != nil {
			continue
		}
		if err := audits.SetLedgerTransactionID(ctx, audit.ID, conf.EventID); err != nil {
			logger.Warn().Err(err).Str("audit_id", audit.ID).Msg("patching audit failed")
			continue
		}
		logger.Info().
			Str("audit_id", audit.ID).
			Str("event_id", conf.EventID).
			Msg("reconciled missing ledger event")
	}
}

func httpHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
