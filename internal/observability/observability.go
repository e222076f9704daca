// Package observability turns ledger and order operation callbacks into structured
// logs and Prometheus metrics.
package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/mealcredits/pkg/ledger"
)

const metricsNamespace = "mealcredits"

// DeliveryStats is implemented by the notification dispatcher.
type DeliveryStats interface {
	Dropped() uint64
	Delivered() uint64
	Failed() uint64
}

// OperationRecorder implements ledger.OperationLogger.
type OperationRecorder struct {
	logger     *zap.Logger
	operations *prometheus.CounterVec
	credits    *prometheus.CounterVec
}

// NewOperationRecorder registers its collectors on registerer.
func NewOperationRecorder(logger *zap.Logger, registerer prometheus.Registerer) (*OperationRecorder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	recorder := &OperationRecorder{
		logger: logger,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "operations_total",
			Help:      "Ledger and order operations by outcome.",
		}, []string{"operation", "status"}),
		credits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "credits_moved_total",
			Help:      "Credits moved by committed operations, by reason.",
		}, []string{"reason"}),
	}
	if registerer != nil {
		for _, collector := range []prometheus.Collector{recorder.operations, recorder.credits} {
			if err := registerer.Register(collector); err != nil {
				return nil, err
			}
		}
	}
	return recorder, nil
}

// LogOperation records one operation outcome.
func (recorder *OperationRecorder) LogOperation(_ context.Context, entry ledger.OperationLog) {
	entry = entry.CompleteStatus()
	recorder.operations.WithLabelValues(entry.Operation, entry.Status).Inc()
	if entry.Error == nil && entry.Amount > 0 && entry.Reason != "" {
		recorder.credits.WithLabelValues(entry.Reason.String()).Add(float64(entry.Amount))
	}
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.String("account_id", entry.AccountID.String()),
	}
	if entry.OrderID != "" {
		fields = append(fields, zap.String("order_id", entry.OrderID))
	}
	if entry.TransactionID != "" {
		fields = append(fields, zap.String("transaction_id", entry.TransactionID))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount", entry.Amount))
	}
	if entry.Reason != "" {
		fields = append(fields, zap.String("reason", entry.Reason.String()))
	}
	if entry.PreviousStatus != "" || entry.NewStatus != "" {
		fields = append(fields, zap.String("previous_status", entry.PreviousStatus), zap.String("new_status", entry.NewStatus))
	}
	if entry.Error != nil {
		recorder.logger.Warn("operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	recorder.logger.Info("operation", fields...)
}

// RegisterDeliveryStats exposes dispatcher counters as Prometheus counters.
func RegisterDeliveryStats(registerer prometheus.Registerer, stats DeliveryStats) error {
	collectors := []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_dropped_total",
			Help:      "Events discarded because the notification queue was full or closed.",
		}, func() float64 { return float64(stats.Dropped()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_delivered_total",
			Help:      "Successful event deliveries across all sinks.",
		}, func() float64 { return float64(stats.Delivered()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_failed_total",
			Help:      "Failed event deliveries across all sinks.",
		}, func() float64 { return float64(stats.Failed()) }),
	}
	for _, collector := range collectors {
		if err := registerer.Register(collector); err != nil {
			return err
		}
	}
	return nil
}
