package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/config"
	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/logger"
	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/order"
)

const (
	groupID       = "cargotrack-consumer-group"
	retryInterval = 5 * time.Second
)

func main() {
	config.LoadEnv()
	cfg, err := config.Load()
	if err != nil {
		logger.New("info").Fatal("Failed to load configuration", zap.Error(err))
	}

	log := logger.New(cfg.Logging.Level)
	defer func() { _ = log.Sync() }()

	if len(cfg.Kafka.Brokers) == 0 {
		log.Error("KAFKA_BROKERS is empty; nothing to consume")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("Starting Kafka consumer",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("events_topic", cfg.Kafka.EventsTopic),
		zap.String("audit_topic", cfg.Kafka.AuditTopic))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consume(gctx, cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, logEvent, log)
	})
	g.Go(func() error {
		return consume(gctx, cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, logAudit, log)
	})

	if err := g.Wait(); err != nil {
		log.Error("Consumer stopped with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("Consumer stopped")
}

func consume(ctx context.Context, brokers []string, topic string, handle func(*zap.Logger, kafka.Message), log *zap.Logger) error {
	l := log.With(zap.String("topic", topic))

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        groupID,
		Topic:          topic,
		MinBytes:       10e3,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		MaxWait:        3 * time.Second,
	})
	defer func() {
		l.Info("Closing Kafka reader...")
		if err := r.Close(); err != nil {
			l.Error("Error closing Kafka reader", zap.Error(err))
		}
	}()

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				l.Info("Context cancelled, exiting message loop")
				return nil
			}
			l.Error("Error reading message", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retryInterval):
			}
			continue
		}
		handle(l, m)
	}
}

func logEvent(l *zap.Logger, m kafka.Message) {
	var event order.Event
	if err := json.Unmarshal(m.Value, &event); err != nil {
		l.Warn("Undecodable order event", zap.ByteString("value", m.Value), zap.Error(err))
		return
	}
	l.Info("Order event",
		zap.Int("partition", m.Partition),
		zap.Int64("offset", m.Offset),
		zap.String("type", string(event.Type)),
		zap.String("order_id", event.OrderID),
		zap.String("tracking_number", event.TrackingNumber),
		zap.String("status", event.Status),
		zap.String("location", event.Location),
		zap.Time("timestamp", event.Timestamp))
}

func logAudit(l *zap.Logger, m kafka.Message) {
	l.Info("Audit entry",
		zap.Int("partition", m.Partition),
		zap.Int64("offset", m.Offset),
		zap.ByteString("key", m.Key),
		zap.ByteString("value", m.Value),
		zap.Time("time", m.Time))
}
