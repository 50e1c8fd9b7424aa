package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics содержит метрики транзакционного движка заказов и расписания.
// Все методы безопасны для nil-получателя: движок без метрик просто ничего не пишет.
type EngineMetrics struct {
	txRetries      prometheus.Counter
	reservations   *prometheus.CounterVec
	checkouts      *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	movements      *prometheus.CounterVec
	bulkItems      *prometheus.CounterVec
	opDuration     *prometheus.HistogramVec
	draftsExpired  prometheus.Counter
	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter
}

// NewEngineMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewEngineMetrics() *EngineMetrics {
	return NewEngineMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewEngineMetricsWithRegisterer регистрирует метрики в переданном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewEngineMetricsWithRegisterer(registerer prometheus.Registerer) *EngineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &EngineMetrics{
		txRetries: registerCounter(registerer, prometheus.CounterOpts{
			Name: "dms_transaction_retries_total",
			Help: "Total number of transaction bodies re-run after a conflict",
		}),
		reservations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "dms_reservations_total",
			Help: "Slot reservation attempts grouped by result",
		}, []string{"mode", "result"}),
		checkouts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "dms_checkouts_total",
			Help: "Checkout attempts grouped by result",
		}, []string{"result"}),
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "dms_order_transitions_total",
			Help: "Committed order status transitions grouped by target status",
		}, []string{"status"}),
		movements: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "dms_inventory_movements_total",
			Help: "Inventory ledger entries grouped by movement type",
		}, []string{"type"}),
		bulkItems: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "dms_bulk_items_total",
			Help: "Items processed by bulk admin operations grouped by operation and result",
		}, []string{"operation", "result"}),
		opDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "dms_operation_duration_seconds",
			Help:    "Duration of engine operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"operation"}),
		draftsExpired: registerCounter(registerer, prometheus.CounterOpts{
			Name: "dms_drafts_expired_total",
			Help: "Total number of draft orders expired by the reaper",
		}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "dms_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "dms_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordTxRetry увеличивает счётчик перезапусков тела транзакции.
func (m *EngineMetrics) RecordTxRetry() {
	if m == nil {
		return
	}
	m.txRetries.Inc()
}

// RecordReservation учитывает попытку бронирования.
func (m *EngineMetrics) RecordReservation(mode, result string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(mode, result).Inc()
}

// RecordCheckout учитывает попытку checkout.
func (m *EngineMetrics) RecordCheckout(result string) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(result).Inc()
}

// RecordTransition учитывает закоммиченный переход статуса.
func (m *EngineMetrics) RecordTransition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

// RecordMovements учитывает записи складского журнала.
func (m *EngineMetrics) RecordMovements(movementType string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.movements.WithLabelValues(movementType).Add(float64(count))
}

// RecordBulk учитывает итог bulk-операции.
func (m *EngineMetrics) RecordBulk(operation string, succeeded, failed int) {
	if m == nil {
		return
	}
	m.bulkItems.WithLabelValues(operation, "succeeded").Add(float64(succeeded))
	m.bulkItems.WithLabelValues(operation, "failed").Add(float64(failed))
}

// RecordDuration записывает время выполнения операции.
func (m *EngineMetrics) RecordDuration(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.opDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordDraftsExpired учитывает черновики, отменённые по TTL.
func (m *EngineMetrics) RecordDraftsExpired(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.draftsExpired.Add(float64(count))
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *EngineMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *EngineMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}
