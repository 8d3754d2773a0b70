// Package stats tracks process statistics for the agent.
package stats

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/vietanhdev/kirapilot-app-sub001/pkg/protocol"
)

// Collector accumulates chain and tool counters. It is safe for
// concurrent use.
type Collector struct {
	startTime time.Time

	chains        atomic.Int64
	degraded      atomic.Int64
	failedChains  atomic.Int64
	iterations    atomic.Int64
	toolCalls     atomic.Int64
	toolFailures  atomic.Int64
	errorCount    atomic.Int64
	totalDuration atomic.Int64 // nanoseconds
}

// NewCollector creates a new stats collector.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// Stats represents system statistics at a point in time.
type Stats struct {
	// System resources
	MemoryStats MemoryStats `json:"memory"`
	Goroutines  int         `json:"goroutines"`
	Uptime      string      `json:"uptime"`

	// Agent metrics
	ChainCount      int64   `json:"chain_count"`
	DegradedChains  int64   `json:"degraded_chains"`
	FailedChains    int64   `json:"failed_chains"`
	AvgIterations   float64 `json:"avg_iterations"`
	ToolCalls       int64   `json:"tool_calls"`
	ToolFailures    int64   `json:"tool_failures"`
	ToolSuccessRate float64 `json:"tool_success_rate"`
	ErrorCount      int64   `json:"error_count"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`

	// Database info
	DBSize   int64   `json:"db_size_bytes"`
	DBSizeMB float64 `json:"db_size_mb"`
	DBPath   string  `json:"db_path,omitempty"`
}

// MemoryStats represents memory usage statistics.
type MemoryStats struct {
	HeapAlloc   int64   `json:"heap_alloc_bytes"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	HeapSys     int64   `json:"heap_sys_bytes"`
	HeapSysMB   float64 `json:"heap_sys_mb"`
	HeapObjects uint64  `json:"heap_objects"`

	StackInuseMB float64 `json:"stack_inuse_mb"`

	NumGC        uint32        `json:"num_gc"`
	GCPauseTotal time.Duration `json:"gc_pause_total"`
}

// Collect returns current system statistics.
func (c *Collector) Collect(dbSize int64, dbPath string) *Stats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	chains := c.chains.Load()
	calls := c.toolCalls.Load()
	failures := c.toolFailures.Load()

	s := &Stats{
		MemoryStats: MemoryStats{
			HeapAlloc:    int64(m.HeapAlloc),
			HeapAllocMB:  bytesToMB(int64(m.HeapAlloc)),
			HeapSys:      int64(m.HeapSys),
			HeapSysMB:    bytesToMB(int64(m.HeapSys)),
			HeapObjects:  m.HeapObjects,
			StackInuseMB: bytesToMB(int64(m.StackInuse)),
			NumGC:        m.NumGC,
			GCPauseTotal: time.Duration(m.PauseTotalNs),
		},
		Goroutines:     runtime.NumGoroutine(),
		Uptime:         time.Since(c.startTime).Round(time.Second).String(),
		ChainCount:     chains,
		DegradedChains: c.degraded.Load(),
		FailedChains:   c.failedChains.Load(),
		ToolCalls:      calls,
		ToolFailures:   failures,
		ErrorCount:     c.errorCount.Load(),
		DBSize:         dbSize,
		DBSizeMB:       bytesToMB(dbSize),
		DBPath:         dbPath,
	}
	if chains > 0 {
		s.AvgIterations = float64(c.iterations.Load()) / float64(chains)
		s.AvgLatencyMs = float64(c.totalDuration.Load()) / float64(chains) / 1e6
	}
	if calls > 0 {
		s.ToolSuccessRate = float64(calls-failures) / float64(calls)
	}
	return s
}

// RecordChain records a finished chain.
func (c *Collector) RecordChain(chain *protocol.ReActChain) {
	if chain == nil {
		return
	}
	c.chains.Add(1)
	c.iterations.Add(int64(chain.Iterations))
	c.totalDuration.Add(chain.TotalDurationMs * int64(time.Millisecond))

	if chain.Failed() {
		c.failedChains.Add(1)
		c.errorCount.Add(1)
	} else if degraded, _ := chain.Metadata["degraded"].(bool); degraded {
		c.degraded.Add(1)
	}

	for _, r := range chain.ToolResults() {
		c.toolCalls.Add(1)
		if !r.Success {
			c.toolFailures.Add(1)
		}
	}
}

// RecordError records an error outside a chain.
func (c *Collector) RecordError() {
	c.errorCount.Add(1)
}

// StartTime returns when the collector started.
func (c *Collector) StartTime() time.Time {
	return c.startTime
}

// MemoryUsageMB returns the current heap allocation in megabytes.
func MemoryUsageMB() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return bytesToMB(int64(m.HeapAlloc))
}

func bytesToMB(b int64) float64 {
	return float64(b) / 1024 / 1024
}
