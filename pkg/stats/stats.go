// Package stats periodically logs figures about the running process and
// the components it registers.
package stats

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

const megabyte = 1 << 20

// ErrInvalidInterval ...
var ErrInvalidInterval = errors.New("stats interval must be positive")

// Collector returns the figures describing a component at the time of the call.
type Collector func(ctx context.Context) (log.Fields, error)

// Runtime reports the memory usage and the goroutines of the process.
func Runtime(context.Context) (log.Fields, error) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return log.Fields{
		"heapMB":       fmt.Sprintf("%.3f", float64(memStats.HeapAlloc)/megabyte),
		"totalAllocMB": fmt.Sprintf("%.3f", float64(memStats.TotalAlloc)/megabyte),
		"gcCycles":     memStats.NumGC,
		"goroutines":   runtime.NumGoroutine(),
	}, nil
}

// Reporter logs the figures of its collectors at every interval. When stopped,
// the metrics of its gatherer are appended to the dump file, if any.
type Reporter struct {
	interval   time.Duration
	gatherer   prometheus.Gatherer
	dumpPath   string
	names      []string
	collectors map[string]Collector

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReporter ...
func NewReporter(
	interval time.Duration, gatherer prometheus.Gatherer, dumpPath string,
	collectors map[string]Collector,
) (*Reporter, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}
	names := make([]string, 0, len(collectors))
	for name := range collectors {
		names = append(names, name)
	}
	sort.Strings(names)

	return &Reporter{
		interval:   interval,
		gatherer:   gatherer,
		dumpPath:   dumpPath,
		names:      names,
		collectors: collectors,
	}, nil
}

// Start spawns the reporting loop.
func (r *Reporter) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Report(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop waits for the loop to return, then dumps the metrics.
func (r *Reporter) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.wg.Wait()
	r.cancel = nil

	if r.dumpPath == "" || r.gatherer == nil {
		return
	}
	if err := DumpMetrics(r.gatherer, r.dumpPath); err != nil {
		log.WithError(err).Warn("failed to dump metrics")
	}
}

// Report logs one line per collector. A failing collector does not prevent the
// others from being reported.
func (r *Reporter) Report(ctx context.Context) {
	for _, name := range r.names {
		fields, err := r.collectors[name](ctx)
		if err != nil {
			log.WithError(err).Warnf("failed to collect %s stats", name)
			continue
		}
		log.WithFields(fields).Infof("%s stats", name)
	}
}

// DumpMetrics appends the metrics gathered by gatherer to the given file.
func DumpMetrics(gatherer prometheus.Gatherer, path string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	metricFamilies, err := gatherer.Gather()
	if err != nil {
		return err
	}

	writer := bufio.NewWriter(file)
	for _, v := range metricFamilies {
		if _, err := writer.WriteString(v.String() + "\n"); err != nil {
			return err
		}
	}
	return writer.Flush()
}
