package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EscrowMetrics tracks trade offer activity on the ledger.
type EscrowMetrics struct {
	offers   *prometheus.CounterVec
	failures *prometheus.CounterVec
	held     prometheus.Gauge
	height   prometheus.Gauge
}

var (
	escrowOnce     sync.Once
	escrowRegistry *EscrowMetrics
)

var weiPerEther = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// Escrow returns the process-wide escrow metrics registry.
func Escrow() *EscrowMetrics {
	escrowOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			offers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_offer_transitions_total",
				Help: "Count of trade offer state transitions by resulting status.",
			}, []string{"status"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_operation_failures_total",
				Help: "Count of aborted ledger operations by operation and reason.",
			}, []string{"operation", "reason"}),
			held: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "escrow_value_held_ether",
				Help: "Native value currently held by the escrow contract, in ether.",
			}),
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "escrow_ledger_height",
				Help: "Height of the last committed ledger transition.",
			}),
		}
		prometheus.MustRegister(
			escrowRegistry.offers,
			escrowRegistry.failures,
			escrowRegistry.held,
			escrowRegistry.height,
		)
	})
	return escrowRegistry
}

func (m *EscrowMetrics) ObserveTransition(status string) {
	if m == nil {
		return
	}
	if status == "" {
		status = "unknown"
	}
	m.offers.WithLabelValues(status).Inc()
}

func (m *EscrowMetrics) ObserveFailure(operation, reason string) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	if reason == "" {
		reason = "internal"
	}
	m.failures.WithLabelValues(operation, reason).Inc()
}

// SetValueHeld records the contract balance given in wei.
func (m *EscrowMetrics) SetValueHeld(wei *big.Int) {
	if m == nil || wei == nil {
		return
	}
	ether, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerEther).Float64()
	m.held.Set(ether)
}

func (m *EscrowMetrics) SetHeight(height uint64) {
	if m == nil {
		return
	}
	m.height.Set(float64(height))
}
