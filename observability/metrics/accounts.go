package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type AccountsMetrics struct {
	messagesProcessed *prometheus.CounterVec
	messagesRejected  *prometheus.CounterVec
	accountsCreated   prometheus.Counter
	keysRotated       prometheus.Counter
}

var (
	accountsOnce     sync.Once
	accountsRegistry *AccountsMetrics
)

func Accounts() *AccountsMetrics {
	accountsOnce.Do(func() {
		accountsRegistry = &AccountsMetrics{
			messagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "accounts_messages_processed_total",
				Help: "Count of accepted messages by message type.",
			}, []string{"type"}),
			messagesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "accounts_messages_rejected_total",
				Help: "Count of rejected messages by rejection reason.",
			}, []string{"reason"}),
			accountsCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "accounts_created_total",
				Help: "Number of accounts created on first key contact.",
			}),
			keysRotated: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "accounts_keys_rotated_total",
				Help: "Number of successful public key rotations.",
			}),
		}
		prometheus.MustRegister(
			accountsRegistry.messagesProcessed,
			accountsRegistry.messagesRejected,
			accountsRegistry.accountsCreated,
			accountsRegistry.keysRotated,
		)
	})
	return accountsRegistry
}

func (m *AccountsMetrics) MessageProcessed(msgType string) {
	m.messagesProcessed.WithLabelValues(msgType).Inc()
}

func (m *AccountsMetrics) MessageRejected(reason string) {
	m.messagesRejected.WithLabelValues(reason).Inc()
}

func (m *AccountsMetrics) AccountCreated() {
	m.accountsCreated.Inc()
}

func (m *AccountsMetrics) KeyRotated() {
	m.keysRotated.Inc()
}
