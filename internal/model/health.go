package model

// HealthStatus represents the health state of an analysis database instance
type HealthStatus struct {
	InstanceID string        `json:"instance_id"`
	Status     NodeStatus    `json:"status"`
	Timestamp  int64         `json:"timestamp"`
	Metrics    HealthMetrics `json:"metrics"`
}

// NodeStatus defines the operational status of an instance
type NodeStatus string

const (
	NodeStatusHealthy   NodeStatus = "healthy"
	NodeStatusDegraded  NodeStatus = "degraded"
	NodeStatusUnhealthy NodeStatus = "unhealthy"
)

// HealthMetrics contains the figures the health checks are based on
type HealthMetrics struct {
	Revision       RevisionID `json:"revision"`
	HeapBytes      uint64     `json:"heap_bytes"`
	MemoBytes      int64      `json:"memo_bytes"`
	SecondsSinceGC float64    `json:"seconds_since_gc"`
}
