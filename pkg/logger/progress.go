package logger

import (
	"fmt"
	"sync"
	"time"
)

// ProgressTracker counts units of a long-running operation, such as files
// imported, and logs at most once per interval.
type ProgressTracker struct {
	logger      Logger
	operation   string
	total       int64
	current     int64
	failed      int64
	startTime   time.Time
	lastLogTime time.Time
	logInterval time.Duration
	mutex       sync.Mutex
}

// ProgressConfig configures a ProgressTracker.
type ProgressConfig struct {
	Operation   string
	Total       int64
	LogInterval time.Duration
	Logger      Logger
}

// NewProgressTracker starts tracking and logs the operation start.
func NewProgressTracker(config ProgressConfig) *ProgressTracker {
	if config.Logger == nil {
		config.Logger = GetGlobalLogger()
	}
	if config.LogInterval == 0 {
		config.LogInterval = 5 * time.Second
	}

	now := time.Now()
	p := &ProgressTracker{
		logger:      config.Logger.WithComponent("progress"),
		operation:   config.Operation,
		total:       config.Total,
		startTime:   now,
		lastLogTime: now,
		logInterval: config.LogInterval,
	}
	p.logger.WithFields(Fields{"operation": p.operation, "total": p.total}).Info("Starting operation")
	return p
}

// Increment records one finished unit.
func (p *ProgressTracker) Increment() {
	p.add(1, false)
}

// Fail records one unit that finished with an error.
func (p *ProgressTracker) Fail() {
	p.add(1, true)
}

func (p *ProgressTracker) add(delta int64, failed bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.current += delta
	if failed {
		p.failed += delta
	}
	now := time.Now()
	if now.Sub(p.lastLogTime) >= p.logInterval {
		p.logger.WithFields(p.fields(now)).Info("Progress update")
		p.lastLogTime = now
	}
}

// Complete logs the final counts.
func (p *ProgressTracker) Complete() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.logger.WithFields(p.fields(time.Now())).Info("Operation completed")
}

// Stats returns a snapshot of the counters.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return ProgressStats{
		Operation: p.operation,
		Total:     p.total,
		Current:   p.current,
		Failed:    p.failed,
		Duration:  time.Since(p.startTime),
	}
}

func (p *ProgressTracker) fields(now time.Time) Fields {
	f := Fields{
		"operation": p.operation,
		"processed": p.current,
		"failed":    p.failed,
		"duration":  now.Sub(p.startTime).String(),
	}
	if p.total > 0 {
		f["total"] = p.total
		f["percentage"] = fmt.Sprintf("%.1f%%", float64(p.current)/float64(p.total)*100)
	}
	return f
}

// ProgressStats is a point-in-time view of a ProgressTracker.
type ProgressStats struct {
	Operation string        `json:"operation"`
	Total     int64         `json:"total"`
	Current   int64         `json:"current"`
	Failed    int64         `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

func (ps ProgressStats) String() string {
	if ps.Total > 0 {
		return fmt.Sprintf("%s: %d/%d (%d failed) in %v", ps.Operation, ps.Current, ps.Total, ps.Failed, ps.Duration)
	}
	return fmt.Sprintf("%s: %d processed (%d failed) in %v", ps.Operation, ps.Current, ps.Failed, ps.Duration)
}

// OperationLogger logs the steps of one operation with shared fields and total duration.
type OperationLogger struct {
	logger    Logger
	operation string
	fields    Fields
	startTime time.Time
}

// NewOperationLogger logs the operation start and returns the step logger.
func NewOperationLogger(operation string, logger Logger) *OperationLogger {
	if logger == nil {
		logger = GetGlobalLogger()
	}
	ol := &OperationLogger{
		logger:    logger,
		operation: operation,
		fields:    Fields{},
		startTime: time.Now(),
	}
	ol.logger.WithField("operation", operation).Info("Starting operation")
	return ol
}

// WithField attaches a field to every later entry of the operation.
func (ol *OperationLogger) WithField(key string, value interface{}) *OperationLogger {
	ol.fields[key] = value
	return ol
}

// Step logs a named pipeline step with step-specific fields.
func (ol *OperationLogger) Step(step string, extra Fields) {
	f := ol.merged(Fields{"step": step})
	for k, v := range extra {
		f[k] = v
	}
	ol.logger.WithFields(f).Debug("Operation step")
}

// Warning logs a recoverable anomaly within the operation.
func (ol *OperationLogger) Warning(message string, extra Fields) {
	f := ol.merged(nil)
	for k, v := range extra {
		f[k] = v
	}
	ol.logger.WithFields(f).Warn(message)
}

// Success logs completion with the elapsed time.
func (ol *OperationLogger) Success(message string, extra Fields) {
	f := ol.merged(Fields{"duration": time.Since(ol.startTime).String(), "status": "success"})
	for k, v := range extra {
		f[k] = v
	}
	ol.logger.WithFields(f).Info(message)
}

// Error logs failure with the elapsed time.
func (ol *OperationLogger) Error(err error, message string) {
	f := ol.merged(Fields{"duration": time.Since(ol.startTime).String(), "status": "error"})
	ol.logger.WithError(err).WithFields(f).Error(message)
}

// Elapsed returns the time since the operation started.
func (ol *OperationLogger) Elapsed() time.Duration {
	return time.Since(ol.startTime)
}

func (ol *OperationLogger) merged(extra Fields) Fields {
	f := Fields{"operation": ol.operation}
	for k, v := range ol.fields {
		f[k] = v
	}
	for k, v := range extra {
		f[k] = v
	}
	return f
}

// TimedOperation runs fn and logs its outcome and duration.
func TimedOperation(operation string, logger Logger, fn func() error) error {
	ol := NewOperationLogger(operation, logger)
	if err := fn(); err != nil {
		ol.Error(err, "Operation failed")
		return err
	}
	ol.Success("Operation completed", nil)
	return nil
}
