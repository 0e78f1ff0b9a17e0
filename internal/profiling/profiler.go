// Package profiling records per-stage timings for retrieval requests.
//
// It writes a JSON-lines timing log (one line per measurement,
// fire-and-forget, gated by a global level) and additionally accumulates
// per-request timings in memory so the result assembler can surface them
// as the response's stageTimingsMs.
package profiling

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ProfilingLevel determines how detailed the profiling is.
type ProfilingLevel string

const (
	LevelOff      ProfilingLevel = "off"      // No profiling
	LevelMinimal  ProfilingLevel = "minimal"  // L1: pipeline stages only
	LevelDetailed ProfilingLevel = "detailed" // L2: substages included
	LevelTrace    ProfilingLevel = "trace"    // L3: every function
)

// StageTiming is a single timing measurement for one request/stage pair.
type StageTiming struct {
	RequestID  string                 `json:"request_id"`
	Stage      string                 `json:"stage"`
	StartTime  time.Time              `json:"start_time"`
	DurationMs float64                `json:"duration_ms"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// inFlightCap bounds the number of concurrently-tracked requests so a
// caller that forgets to Collect can't leak memory indefinitely.
const inFlightCap = 4096

// Profiler handles timing measurements for request processing.
type Profiler struct {
	enabled bool
	level   ProfilingLevel
	logPath string

	mu      sync.Mutex
	logFile *os.File
	encoder *json.Encoder

	byRequest *lru.Cache[string, map[string]float64]
}

var globalProfiler *Profiler
var once sync.Once

// Init initializes the global profiler.
func Init(level ProfilingLevel, logPath string) error {
	var err error
	once.Do(func() {
		cache, _ := lru.New[string, map[string]float64](inFlightCap)
		globalProfiler = &Profiler{
			enabled:   level != LevelOff,
			level:     level,
			logPath:   logPath,
			byRequest: cache,
		}

		if globalProfiler.enabled && logPath != "" {
			err = globalProfiler.openLogFile()
		}
	})
	return err
}

// Get returns the global profiler instance, defaulting to off.
func Get() *Profiler {
	if globalProfiler == nil {
		_ = Init(LevelOff, "")
	}
	return globalProfiler
}

func (p *Profiler) openLogFile() error {
	var err error
	p.logFile, err = os.OpenFile(p.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open profiling log: %w", err)
	}
	p.encoder = json.NewEncoder(p.logFile)
	return nil
}

// Close closes the profiler and its log file.
func (p *Profiler) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.logFile != nil {
		return p.logFile.Close()
	}
	return nil
}

// Start begins timing a stage for a request and returns a function to call
// when the stage completes.
func (p *Profiler) Start(requestID, stage string) func() {
	if !p.enabled {
		return func() {}
	}

	start := time.Now()
	return func() {
		p.Record(requestID, stage, time.Since(start), nil)
	}
}

// Record records a timing measurement, both to the JSON-lines log (if one
// is open) and into the in-memory per-request accumulator.
func (p *Profiler) Record(requestID, stage string, duration time.Duration, metadata map[string]interface{}) {
	if !p.enabled {
		return
	}

	durationMs := float64(duration.Nanoseconds()) / 1e6

	p.mu.Lock()
	if p.encoder != nil {
		timing := StageTiming{
			RequestID:  requestID,
			Stage:      stage,
			StartTime:  time.Now().Add(-duration),
			DurationMs: durationMs,
			Metadata:   metadata,
		}
		_ = p.encoder.Encode(timing)
	}
	p.mu.Unlock()

	if p.byRequest == nil {
		return
	}
	stages, ok := p.byRequest.Get(requestID)
	if !ok {
		stages = make(map[string]float64)
	}
	stages[stage] = durationMs
	p.byRequest.Add(requestID, stages)
}

// Collect returns the accumulated stage timings for a request and forgets
// them. Used by the result assembler to populate stageTimingsMs.
func (p *Profiler) Collect(requestID string) map[string]float64 {
	if p.byRequest == nil {
		return nil
	}
	stages, ok := p.byRequest.Get(requestID)
	if !ok {
		return nil
	}
	p.byRequest.Remove(requestID)
	return stages
}

// ShouldProfile returns true if the given level should be profiled.
func (p *Profiler) ShouldProfile(level ProfilingLevel) bool {
	if !p.enabled {
		return false
	}

	switch p.level {
	case LevelTrace:
		return true
	case LevelDetailed:
		return level == LevelMinimal || level == LevelDetailed
	case LevelMinimal:
		return level == LevelMinimal
	default:
		return false
	}
}

// IsEnabled returns true if profiling is enabled.
func (p *Profiler) IsEnabled() bool {
	return p.enabled
}

// GetLevel returns the current profiling level.
func (p *Profiler) GetLevel() ProfilingLevel {
	return p.level
}
