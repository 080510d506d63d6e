package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	appsync "github.com/crmbridge/accountsync/internal/application/sync"
	"github.com/crmbridge/accountsync/internal/bootstrap"
	"github.com/crmbridge/accountsync/internal/domain/delivery"
	"github.com/crmbridge/accountsync/internal/infrastructure/crm"
	"github.com/crmbridge/accountsync/internal/infrastructure/gateway"
	"github.com/crmbridge/accountsync/internal/infrastructure/observability"
	"github.com/crmbridge/accountsync/internal/infrastructure/postgres"
	infraRedis "github.com/crmbridge/accountsync/internal/infrastructure/redis"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "accountsync-worker", "accountsync_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	workerCfg := app.Config.Worker

	// --- Pipeline collaborators ---
	ledger := infraRedis.NewLedger(app.Redis, workerCfg.IdempotencyTTL)
	locker := infraRedis.NewEntityLocker(app.Redis, workerCfg.EntityLockTTL)
	crmClient := crm.NewClient(&app.Config.CRM, app.Logger)
	targetGateway := gateway.NewHTTPGateway(&app.Config.Target, app.Metrics, app.Logger)
	deadLetterRepo := postgres.NewDeadLetterRepository(app.Pool)
	producer := infraRedis.NewStreamProducer(app.Redis)
	deadLetters := appsync.NewDeadLetterHandler(deadLetterRepo, producer, app.Logger)

	pipeline := appsync.NewPipeline(
		ledger,
		targetGateway,
		crmClient,
		locker,
		deadLetters,
		app.Logger,
		appsync.Config{
			FetchTimeout:    app.Config.CRM.FetchTimeout,
			ValidateTimeout: app.Config.Target.ValidateTimeout,
			SyncTimeout:     app.Config.Target.SyncTimeout,
			MaxDeliveries:   workerCfg.MaxDeliveries,
		},
	)

	// --- Account event consumer ---
	consumer := infraRedis.NewStreamConsumer(
		app.Redis,
		infraRedis.AccountEventStream,
		workerCfg.ConsumerGroup,
		app.Config.InstanceID,
		workerCfg.BatchSize,
		workerCfg.BlockDuration,
		workerCfg.ClaimMinIdle,
	)
	if err := consumer.CreateGroup(ctx); err != nil {
		app.Logger.Error().Err(err).Msg("Failed to create consumer group")
	}

	app.Logger.Info().
		Str("stream", infraRedis.AccountEventStream).
		Str("group", workerCfg.ConsumerGroup).
		Str("consumer", app.Config.InstanceID).
		Int("concurrency", workerCfg.Concurrency).
		Msg("Worker started, listening for messages...")

	// Signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runSyncLoop(gCtx, app, consumer, pipeline, workerCfg.Concurrency)
	})

	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		case <-quit:
			app.Logger.Info().Msg("Shutting down worker...")
			cancel()
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}

// runSyncLoop fetches batches from the stream and fans them out over a
// bounded worker pool. Messages that end in DecisionRetry stay pending and
// come back through XAUTOCLAIM with an incremented delivery count.
func runSyncLoop(
	ctx context.Context,
	app *bootstrap.App,
	consumer *infraRedis.StreamConsumer,
	pipeline *appsync.Pipeline,
	concurrency int,
) error {
	pool := &errgroup.Group{}
	pool.SetLimit(concurrency)

	for {
		select {
		case <-ctx.Done():
			// Drain in-flight messages before exiting.
			pool.Wait()
			return nil
		default:
		}

		deliveries, err := consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			app.Logger.Error().Err(err).Msg("Failed to fetch from stream")
			time.Sleep(1 * time.Second)
			continue
		}

		for _, d := range deliveries {
			pool.Go(func() error {
				// Shutdown cancels the fetch loop only. A message already
				// picked up finishes its pipeline run and gets acked on a
				// detached context, so the target never observes a sync
				// aborted halfway through.
				processDelivery(context.WithoutCancel(ctx), app, consumer, pipeline, d)
				return nil
			})
		}
	}
}

func processDelivery(
	ctx context.Context,
	app *bootstrap.App,
	consumer *infraRedis.StreamConsumer,
	pipeline *appsync.Pipeline,
	d delivery.Delivery,
) {
	app.Metrics.InFlightMessages.Inc()
	defer app.Metrics.InFlightMessages.Dec()

	ctx, span := observability.StartSpan(ctx, "pipeline.process",
		attribute.String("messaging.message.id", d.MessageID),
		attribute.Int("messaging.delivery.count", d.Count),
	)
	defer span.End()

	start := time.Now()
	res := pipeline.Process(ctx, d)

	span.SetAttributes(attribute.String("pipeline.outcome", res.Outcome))
	if res.Event != nil {
		span.SetAttributes(
			attribute.String("correlation.id", res.Event.CorrelationID),
			attribute.String("entity.id", res.Event.EntityID),
		)
	}

	recordOutcome(app.Metrics, res, time.Since(start))

	if res.Decision == appsync.DecisionAck {
		if err := consumer.Ack(ctx, d.MessageID); err != nil {
			// The redelivered message will hit the idempotency ledger or the
			// dead-letter dedupe path, so an ack failure is safe to log only.
			app.Logger.Error().Err(err).Str("message_id", d.MessageID).Msg("Failed to ack message")
		}
	}
}

func recordOutcome(m *observability.Metrics, res appsync.Result, elapsed time.Duration) {
	eventType := "unknown"
	if res.Event != nil {
		eventType = string(res.Event.EventType)
	}

	m.EventsProcessed.WithLabelValues(eventType, res.Outcome).Inc()
	m.PipelineDuration.WithLabelValues(res.Outcome).Observe(elapsed.Seconds())

	switch res.Outcome {
	case "duplicate":
		m.DuplicateSkips.Inc()
	case "dead_lettered":
		m.DeadLettersTotal.WithLabelValues(eventType).Inc()
	}
}
