// Package monitor publishes periodic supervisor statistics to NATS.
package monitor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/macomeau/Artifacts-sub001/internal/model"
	"github.com/macomeau/Artifacts-sub001/internal/supervisor"
)

const statsSubject = "supervisor.stats"

// Stats is one published sample.
type Stats struct {
	Timestamp   time.Time `json:"timestamp"`
	LiveWorkers int       `json:"live_workers"`
	Stopped     int       `json:"stopped_workers"`
	CPUUsage    float64   `json:"cpu_usage"`
	MemoryUsage float64   `json:"memory_usage"`
}

// StatsCollector samples worker counts and host load on an interval.
type StatsCollector struct {
	logger   *zap.Logger
	nc       *nats.Conn
	sup      *supervisor.Supervisor
	interval time.Duration
	stop     chan struct{}
}

// NewStatsCollector creates a collector.
func NewStatsCollector(nc *nats.Conn, sup *supervisor.Supervisor, interval time.Duration, logger *zap.Logger) *StatsCollector {
	return &StatsCollector{
		logger:   logger.Named("stats"),
		nc:       nc,
		sup:      sup,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start begins the collection loop.
func (c *StatsCollector) Start(ctx context.Context) {
	go c.collectLoop(ctx)
}

// Stop halts the collection loop.
func (c *StatsCollector) Stop() {
	close(c.stop)
}

func (c *StatsCollector) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.collect(ctx)
		}
	}
}

func (c *StatsCollector) collect(ctx context.Context) {
	stats := Stats{Timestamp: time.Now()}

	workers, err := c.sup.List(ctx)
	if err != nil {
		c.logger.Error("Failed to list workers", zap.Error(err))
	} else {
		for _, w := range workers {
			if w.Source != model.WorkerSourceMemory {
				continue
			}
			if w.Live {
				stats.LiveWorkers++
			} else {
				stats.Stopped++
			}
		}
	}

	if cpuPercent, err := cpu.Percent(0, false); err != nil {
		c.logger.Error("Failed to get CPU usage", zap.Error(err))
	} else if len(cpuPercent) > 0 {
		stats.CPUUsage = cpuPercent[0]
	}

	if memInfo, err := mem.VirtualMemory(); err != nil {
		c.logger.Error("Failed to get memory usage", zap.Error(err))
	} else {
		stats.MemoryUsage = memInfo.UsedPercent
	}

	data, err := json.Marshal(stats)
	if err != nil {
		c.logger.Error("Failed to marshal stats", zap.Error(err))
		return
	}
	if err := c.nc.Publish(statsSubject, data); err != nil {
		c.logger.Error("Failed to publish stats", zap.Error(err))
	}

	c.logger.Debug("Stats collected",
		zap.Int("live_workers", stats.LiveWorkers),
		zap.Float64("cpu_usage", stats.CPUUsage))
}
