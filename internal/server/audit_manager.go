package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/kafka"
	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/metrics"
)

const sendTimeout = 5 * time.Second

type AuditConfig struct {
	Workers   int
	BatchSize int
	Timeout   time.Duration
	Topic     string
}

// AuditManager batches audit entries and ships them to the audit topic from
// a small worker pool. Entries that cannot be queued or sent are written to
// the log instead of being lost silently.
type AuditManager struct {
	workerCount int
	batchSize   int
	timeout     time.Duration
	topic       string
	producer    kafka.Producer
	logger      *zap.Logger

	inputChan  chan AuditLogEntry
	batchChan  chan []AuditLogEntry
	shutdownCh chan struct{}
	startOnce  sync.Once
	once       sync.Once

	wg           sync.WaitGroup
	pendingMu    sync.Mutex
	pendingCount int
}

func NewAuditManager(cfg AuditConfig, producer kafka.Producer, logger *zap.Logger) *AuditManager {
	if cfg.Workers < 1 {
		cfg.Workers = 2
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 500 * time.Millisecond
	}
	if cfg.Topic == "" {
		cfg.Topic = "audit_logs"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditManager{
		workerCount: cfg.Workers,
		batchSize:   cfg.BatchSize,
		timeout:     cfg.Timeout,
		topic:       cfg.Topic,
		producer:    producer,
		logger:      logger.With(zap.String("component", "audit_manager")),
		inputChan:   make(chan AuditLogEntry, cfg.Workers*cfg.BatchSize*2),
		batchChan:   make(chan []AuditLogEntry, cfg.Workers*2),
		shutdownCh:  make(chan struct{}),
	}
}

func (m *AuditManager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		m.logger.Info("Starting AuditManager", zap.Int("workers", m.workerCount), zap.Int("batch_size", m.batchSize))
		m.wg.Add(1)
		go m.runAggregator(ctx)

		for i := 0; i < m.workerCount; i++ {
			m.wg.Add(1)
			go m.runWorker(i)
		}
	})
}

// Shutdown flushes everything queued and waits for the workers, or for ctx.
func (m *AuditManager) Shutdown(ctx context.Context) {
	m.once.Do(func() {
		m.logger.Info("Initiating AuditManager shutdown")
		close(m.shutdownCh)

		done := make(chan struct{})
		go func() {
			m.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			m.logger.Info("AuditManager shutdown completed")
		case <-ctx.Done():
			m.logger.Warn("AuditManager shutdown interrupted", zap.Int("pending", m.Pending()))
		}
	})
}

func (m *AuditManager) LogEntry(ctx context.Context, entry AuditLogEntry) {
	m.updatePendingCount(1)

	select {
	case <-m.shutdownCh:
		m.emergencyLog(entry)
		return
	default:
	}

	select {
	case m.inputChan <- entry:
	case <-m.shutdownCh:
		m.emergencyLog(entry)
	case <-ctx.Done():
		m.emergencyLog(entry)
	}
}

func (m *AuditManager) Pending() int {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	return m.pendingCount
}

func (m *AuditManager) runAggregator(ctx context.Context) {
	defer m.wg.Done()

	var (
		batch    []AuditLogEntry
		timer    *time.Timer
		timeoutC <-chan time.Time
	)

	defer func() {
		if timer != nil {
			timer.Stop()
		}
		// Entries accepted before shutdown still go out.
	drain:
		for {
			select {
			case entry := <-m.inputChan:
				batch = append(batch, entry)
			default:
				break drain
			}
		}
		for len(batch) > 0 {
			n := min(len(batch), m.batchSize)
			m.dispatchBatch(batch[:n])
			batch = batch[n:]
		}
		close(m.batchChan)
	}()

	for {
		select {
		case entry := <-m.inputChan:
			batch = append(batch, entry)
			if len(batch) >= m.batchSize {
				m.dispatchBatch(batch)
				batch = nil
				timeoutC = nil
			} else if len(batch) == 1 {
				if timer != nil {
					timer.Stop()
				}
				timer = time.NewTimer(m.timeout)
				timeoutC = timer.C
			}

		case <-timeoutC:
			m.dispatchBatch(batch)
			batch = nil
			timeoutC = nil

		case <-ctx.Done():
			return

		case <-m.shutdownCh:
			return
		}
	}
}

// dispatchBatch hands a copy to the workers, or sends it inline when they
// are all busy.
func (m *AuditManager) dispatchBatch(batch []AuditLogEntry) {
	batchCopy := make([]AuditLogEntry, len(batch))
	copy(batchCopy, batch)

	select {
	case m.batchChan <- batchCopy:
	default:
		m.sendBatch(-1, batchCopy)
	}
}

func (m *AuditManager) runWorker(id int) {
	defer m.wg.Done()
	for batch := range m.batchChan {
		m.sendBatch(id, batch)
	}
	m.logger.Debug("Audit worker exiting", zap.Int("worker", id))
}

func (m *AuditManager) sendBatch(workerID int, batch []AuditLogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	for _, entry := range batch {
		payload, err := json.Marshal(entry)
		if err != nil {
			m.logger.Error("Failed to marshal audit entry", zap.Error(err))
			m.updatePendingCount(-1)
			continue
		}
		if err := m.producer.SendMessage(ctx, m.topic, entry.key(), payload); err != nil {
			m.logger.Error("Failed to send audit entry", zap.Int("worker", workerID), zap.Error(err))
			metrics.OperationErrorsTotal.WithLabelValues("audit_send").Inc()
			m.emergencyLog(entry)
			continue
		}
		m.updatePendingCount(-1)
	}
}

func (m *AuditManager) emergencyLog(entry AuditLogEntry) {
	m.logger.Warn("Audit entry not delivered",
		zap.Time("timestamp", entry.Timestamp),
		zap.String("handler", entry.Handler),
		zap.String("method", entry.Method),
		zap.String("path", entry.Path),
		zap.Int("status_code", entry.StatusCode),
		zap.String("admin_id", entry.AdminID),
		zap.String("order_id", entry.OrderID),
		zap.String("old_status", entry.OldStatus),
		zap.String("new_status", entry.NewStatus))
	m.updatePendingCount(-1)
}

func (m *AuditManager) updatePendingCount(delta int) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	m.pendingCount += delta
}
