package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 任务指标
	tasksTotal   *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	taskRetries  *prometheus.CounterVec

	// 工作者池指标
	spawnBatches       prometheus.Counter
	spawnBatchSize     prometheus.Histogram
	spawnBatchDuration prometheus.Histogram
	workers            *prometheus.GaugeVec

	// 路由缓存指标
	routingCache *prometheus.CounterVec

	// 共识与蜂群指标
	consensusRounds *prometheus.CounterVec
	swarmsActive    prometheus.Gauge
	swarmsFinished  *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	c.httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	c.tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_total",
		Help:      "Tasks reaching a terminal status",
	}, []string{"swarm_id", "capability", "status"})

	c.taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Task execution duration in seconds",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 30, 120, 300, 600},
	}, []string{"capability"})

	c.taskRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "task_retries_total",
		Help:      "Recoverable task failures scheduled for retry",
	}, []string{"capability"})

	c.spawnBatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "worker_spawn_batches_total",
		Help:      "Worker spawn batches dispatched",
	})

	c.spawnBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "worker_spawn_batch_size",
		Help:      "Workers per spawn batch",
		Buckets:   []float64{1, 2, 3, 4, 5, 8, 16},
	})

	c.spawnBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "worker_spawn_batch_duration_seconds",
		Help:      "Elapsed time of a spawn batch",
		Buckets:   prometheus.DefBuckets,
	})

	c.workers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "workers",
		Help:      "Workers by status",
	}, []string{"swarm_id", "status"})

	c.routingCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "routing_cache_lookups_total",
		Help:      "Worker routing cache lookups",
	}, []string{"result"})

	c.consensusRounds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "swarm_decisions_total",
		Help:      "Consensus decisions taken by swarms",
	}, []string{"algorithm", "outcome"})

	c.swarmsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "swarms_active",
		Help:      "Swarms currently running",
	})

	c.swarmsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "swarms_finished_total",
		Help:      "Swarms that finished, by status",
	}, []string{"status"})

	c.dbConnectionsOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_connections_open",
		Help:      "Number of open database connections",
	}, []string{"database"})

	c.dbConnectionsIdle = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_connections_idle",
		Help:      "Number of idle database connections",
	}, []string{"database"})

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🐝 蜂群指标记录
// =============================================================================

// RecordDecision 记录一次共识决策
func (c *Collector) RecordDecision(algorithm string, reached bool) {
	c.consensusRounds.WithLabelValues(algorithm, strconv.FormatBool(reached)).Inc()
}

// SwarmStarted 活跃蜂群数加一
func (c *Collector) SwarmStarted() {
	c.swarmsActive.Inc()
}

// SwarmFinished 活跃蜂群数减一并按状态计数
func (c *Collector) SwarmFinished(status string) {
	c.swarmsActive.Dec()
	c.swarmsFinished.WithLabelValues(status).Inc()
}

// ForSwarm 返回绑定蜂群 ID 的调度指标记录器
func (c *Collector) ForSwarm(swarmID string) *SwarmRecorder {
	return &SwarmRecorder{c: c, swarmID: swarmID}
}

// SwarmRecorder 单个蜂群的调度指标
type SwarmRecorder struct {
	c       *Collector
	swarmID string
}

// RecordTask 记录任务终态与耗时
func (r *SwarmRecorder) RecordTask(capability, status string, d time.Duration) {
	r.c.tasksTotal.WithLabelValues(r.swarmID, capability, status).Inc()
	r.c.taskDuration.WithLabelValues(capability).Observe(d.Seconds())
}

// RecordTaskRetry 记录一次重试
func (r *SwarmRecorder) RecordTaskRetry(capability string) {
	r.c.taskRetries.WithLabelValues(capability).Inc()
}

// RecordSpawnBatch 记录一批工作者的创建
func (r *SwarmRecorder) RecordSpawnBatch(count int, d time.Duration) {
	r.c.spawnBatches.Inc()
	r.c.spawnBatchSize.Observe(float64(count))
	r.c.spawnBatchDuration.Observe(d.Seconds())
}

// SetWorkers 更新各状态工作者数量
func (r *SwarmRecorder) SetWorkers(idle, busy, offline int) {
	r.c.workers.WithLabelValues(r.swarmID, "idle").Set(float64(idle))
	r.c.workers.WithLabelValues(r.swarmID, "busy").Set(float64(busy))
	r.c.workers.WithLabelValues(r.swarmID, "offline").Set(float64(offline))
}

// RecordRoutingCache 记录路由缓存命中
func (r *SwarmRecorder) RecordRoutingCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.c.routingCache.WithLabelValues(result).Inc()
}

// Release 删除该蜂群的带标签序列
func (r *SwarmRecorder) Release() {
	r.c.workers.DeletePartialMatch(prometheus.Labels{"swarm_id": r.swarmID})
	r.c.tasksTotal.DeletePartialMatch(prometheus.Labels{"swarm_id": r.swarmID})
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// statusClass 将 HTTP 状态码归类
func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
