package main

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StageThresholds are the expected upper bounds per stage. Exceeding one logs
// a warning but never fails the stage.
var StageThresholds = map[int]time.Duration{
	1: 5 * time.Second,
	2: 5 * time.Second,
	3: 7 * time.Second,
}

type activeTimer struct {
	stage int
	start time.Time
}

// PercentileStats holds aggregate timing statistics for one stage or model.
// Durations are in seconds.
type PercentileStats struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// MonitorStatistics is the aggregate view of all recorded samples.
type MonitorStatistics struct {
	StageStats  map[int]PercentileStats    `json:"stage_stats"`
	ModelStats  map[string]PercentileStats `json:"model_stats"`
	TotalStages int                        `json:"total_stages"`
}

// PerformanceMonitor records stage and per-model call durations and computes
// percentile statistics on demand. Samples are append-only; one monitor is
// shared by all concurrent sessions.
type PerformanceMonitor struct {
	mu           sync.Mutex
	activeTimers map[string]activeTimer
	stageSamples map[int][]float64
	modelSamples map[string][]float64
	totalStages  int
}

// NewPerformanceMonitor creates an empty performance monitor.
func NewPerformanceMonitor() *PerformanceMonitor {
	return &PerformanceMonitor{
		activeTimers: make(map[string]activeTimer),
		stageSamples: make(map[int][]float64),
		modelSamples: make(map[string][]float64),
	}
}

// StartStage starts timing a stage and returns the timer id for EndStage.
func (m *PerformanceMonitor) StartStage(stage int) string {
	timerID := uuid.New().String()

	m.mu.Lock()
	m.activeTimers[timerID] = activeTimer{stage: stage, start: time.Now()}
	m.mu.Unlock()

	return timerID
}

// EndStage stops the timer, records the sample and returns the elapsed time.
func (m *PerformanceMonitor) EndStage(timerID string) (time.Duration, error) {
	m.mu.Lock()
	timer, ok := m.activeTimers[timerID]
	if !ok {
		m.mu.Unlock()
		return 0, fmt.Errorf("timer %s not found", timerID)
	}
	delete(m.activeTimers, timerID)

	elapsed := time.Since(timer.start)
	m.stageSamples[timer.stage] = append(m.stageSamples[timer.stage], elapsed.Seconds())
	m.totalStages++
	m.mu.Unlock()

	log.Printf("Stage %d completed in %.2fs", timer.stage, elapsed.Seconds())

	if threshold, ok := StageThresholds[timer.stage]; ok && elapsed > threshold {
		log.Printf("Warning: stage %d exceeded threshold: %.2fs > %.2fs",
			timer.stage, elapsed.Seconds(), threshold.Seconds())
	}

	return elapsed, nil
}

// RecordModelCall records one model call duration.
func (m *PerformanceMonitor) RecordModelCall(model string, elapsed time.Duration) {
	m.mu.Lock()
	m.modelSamples[model] = append(m.modelSamples[model], elapsed.Seconds())
	m.mu.Unlock()
}

// Statistics computes percentile statistics over all recorded samples.
func (m *PerformanceMonitor) Statistics() MonitorStatistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := MonitorStatistics{
		StageStats:  make(map[int]PercentileStats),
		ModelStats:  make(map[string]PercentileStats),
		TotalStages: m.totalStages,
	}

	for stage, samples := range m.stageSamples {
		stats.StageStats[stage] = calculatePercentiles(samples)
	}
	for model, samples := range m.modelSamples {
		stats.ModelStats[model] = calculatePercentiles(samples)
	}

	return stats
}

// calculatePercentiles computes count/mean/p50/p90/p95/p99 using the
// nearest-rank method.
func calculatePercentiles(values []float64) PercentileStats {
	if len(values) == 0 {
		return PercentileStats{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	count := len(sorted)
	sum := 0.0
	for _, v := range values {
		sum += v
	}

	percentile := func(p float64) float64 {
		index := int(float64(count) * p)
		if index >= count {
			index = count - 1
		}
		return sorted[index]
	}

	return PercentileStats{
		Count: count,
		Mean:  sum / float64(count),
		P50:   percentile(0.50),
		P90:   percentile(0.90),
		P95:   percentile(0.95),
		P99:   percentile(0.99),
	}
}

// Summary returns a human-readable summary of the recorded statistics.
func (m *PerformanceMonitor) Summary() string {
	stats := m.Statistics()

	var b strings.Builder
	b.WriteString("Performance Summary:\n")
	fmt.Fprintf(&b, "  Total stages: %d\n", stats.TotalStages)

	if len(stats.StageStats) > 0 {
		b.WriteString("\n  Stage Statistics:\n")
		stages := make([]int, 0, len(stats.StageStats))
		for stage := range stats.StageStats {
			stages = append(stages, stage)
		}
		sort.Ints(stages)
		for _, stage := range stages {
			s := stats.StageStats[stage]
			fmt.Fprintf(&b, "    Stage %d: mean=%.2fs, p50=%.2fs, p90=%.2fs, p95=%.2fs (%d samples)\n",
				stage, s.Mean, s.P50, s.P90, s.P95, s.Count)
		}
	}

	if len(stats.ModelStats) > 0 {
		b.WriteString("\n  Model Statistics:\n")
		models := make([]string, 0, len(stats.ModelStats))
		for model := range stats.ModelStats {
			models = append(models, model)
		}
		// Most-called models first
		sort.Slice(models, func(i, j int) bool {
			ci, cj := stats.ModelStats[models[i]].Count, stats.ModelStats[models[j]].Count
			if ci != cj {
				return ci > cj
			}
			return models[i] < models[j]
		})
		for _, model := range models {
			s := stats.ModelStats[model]
			fmt.Fprintf(&b, "    %s: mean=%.2fs, p90=%.2fs (%d calls)\n",
				model, s.Mean, s.P90, s.Count)
		}
	}

	return b.String()
}
