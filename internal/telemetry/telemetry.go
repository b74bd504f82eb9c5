// Package telemetry builds the process logger and the in-memory metrics sink.
package telemetry

import (
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
)

// NewLogger returns the root logger at the given level ("trace" ... "error").
func NewLogger(level string, out io.Writer) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "chaindb",
		Level:  hclog.LevelFromString(level),
		Output: out,
	})
}

// NewMetrics installs a global go-metrics instance reporting into an in-memory
// sink that keeps one minute of 10 second intervals.
func NewMetrics(service string) (*metrics.InmemSink, error) {
	sink := metrics.NewInmemSink(10*time.Second, time.Minute)
	conf := metrics.DefaultConfig(service)
	conf.EnableHostname = false
	conf.EnableRuntimeMetrics = false
	if _, err := metrics.NewGlobal(conf, sink); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return sink, nil
}
