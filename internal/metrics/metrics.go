package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 协议操作计数
	OperationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agreement_operation_count",
			Help: "Total number of agreement operations",
		},
		[]string{"operation", "result"}, // result: ok 或错误码
	)

	// 协议操作耗时（秒）
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agreement_operation_duration_seconds",
			Help:    "Agreement operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation"},
	)

	// 累计存入金库金额
	FundedAmount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vault_funded_amount_total",
			Help: "Total amount deposited into agreement vaults",
		},
	)

	// 累计释放金额
	ReleasedAmount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vault_released_amount_total",
			Help: "Total amount released from agreement vaults",
		},
	)

	// 逾期未完成的里程碑数量
	OverdueMilestones = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "milestone_overdue_count",
			Help: "Number of milestones past their due date and not completed",
		},
	)

	// 金库对账异常计数
	AuditViolationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_audit_violation_count",
			Help: "Total number of vault invariant violations found by the audit job",
		},
		[]string{"kind"},
	)

	// 审计事件投递计数
	EventDeliveryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_event_delivery_count",
			Help: "Total number of audit event deliveries per sink",
		},
		[]string{"sink", "status"}, // status: success, failed
	)
)

// RecordOperation 记录一次协议操作
func RecordOperation(operation, result string, duration time.Duration) {
	OperationCount.WithLabelValues(operation, result).Inc()
	OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// AddFunded 累加存入金额
func AddFunded(amount uint64) {
	FundedAmount.Add(float64(amount))
}

// AddReleased 累加释放金额
func AddReleased(amount uint64) {
	ReleasedAmount.Add(float64(amount))
}

// SetOverdueMilestones 设置逾期里程碑数量
func SetOverdueMilestones(n int) {
	OverdueMilestones.Set(float64(n))
}

// IncrementAuditViolation 增加对账异常计数
func IncrementAuditViolation(kind string) {
	AuditViolationCount.WithLabelValues(kind).Inc()
}

// IncrementEventDelivery 增加事件投递计数
func IncrementEventDelivery(sink, status string) {
	EventDeliveryCount.WithLabelValues(sink, status).Inc()
}
