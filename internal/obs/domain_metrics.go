package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PricingRecalculationsTotal counts cart recalculations by owner kind and outcome.
	PricingRecalculationsTotal *prometheus.CounterVec
	// PricingLinesPriced records how many lines each recalculation priced.
	PricingLinesPriced prometheus.Histogram
	// DiscountLookupFailuresTotal counts discount lookups that degraded to list price.
	DiscountLookupFailuresTotal prometheus.Counter
	// VoucherOperationsTotal counts voucher apply/remove attempts by result.
	VoucherOperationsTotal *prometheus.CounterVec
	// CartMutationsTotal counts cart mutations by operation and result.
	CartMutationsTotal *prometheus.CounterVec
	// OrdersPlacedTotal counts order placements by result.
	OrdersPlacedTotal *prometheus.CounterVec
	// JobsProcessedTotal counts background tasks by type and result.
	JobsProcessedTotal *prometheus.CounterVec
	// DBQueryDuration observes pgx query latency by SQL verb.
	DBQueryDuration *prometheus.HistogramVec
	// RateLimitedTotal counts requests rejected by a named throttle.
	RateLimitedTotal *prometheus.CounterVec
)

func init() {
	// Unregistered until MustRegisterDomainMetrics runs.
	newDomainCollectors("toko")
}

func newDomainCollectors(namespace string) {
	PricingRecalculationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pricing_recalculations_total",
		Help:      "Count of cart pricing recalculations by owner kind and result.",
	}, []string{"owner", "result"})
	PricingLinesPriced = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "pricing_lines_per_recalculation",
		Help:      "Number of cart lines priced per recalculation.",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
	})
	DiscountLookupFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "discount_lookup_failures_total",
		Help:      "Discount lookups that failed and fell back to the original price.",
	})
	VoucherOperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "voucher_operations_total",
		Help:      "Voucher apply/remove outcomes.",
	}, []string{"operation", "result"})
	CartMutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cart_mutations_total",
		Help:      "Cart mutations by operation and result.",
	}, []string{"operation", "result"})
	OrdersPlacedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_placed_total",
		Help:      "Order placements by result.",
	}, []string{"result"})
	JobsProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_processed_total",
		Help:      "Background tasks processed by type and result.",
	}, []string{"type", "result"})
	DBQueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "db_query_duration_ms",
		Help:      "Postgres query latency in milliseconds.",
		Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 1000},
	}, []string{"operation", "result"})
	RateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Requests rejected with 429 by throttle name.",
	}, []string{"name"})
}

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		newDomainCollectors(namespace)

		PricingRecalculationsTotal = registerOrReuse(reg, PricingRecalculationsTotal)
		PricingLinesPriced = registerOrReuse(reg, PricingLinesPriced)
		DiscountLookupFailuresTotal = registerOrReuse(reg, DiscountLookupFailuresTotal)
		VoucherOperationsTotal = registerOrReuse(reg, VoucherOperationsTotal)
		CartMutationsTotal = registerOrReuse(reg, CartMutationsTotal)
		OrdersPlacedTotal = registerOrReuse(reg, OrdersPlacedTotal)
		JobsProcessedTotal = registerOrReuse(reg, JobsProcessedTotal)
		DBQueryDuration = registerOrReuse(reg, DBQueryDuration)
		RateLimitedTotal = registerOrReuse(reg, RateLimitedTotal)
	})
}

// Result maps an error to the "ok"/"error" metric label.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
