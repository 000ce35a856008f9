// Package tracking records OpenTelemetry metrics for cache round trips, cache-aside
// lookups and invalidations.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	cacheMeterName = "go-coherence/cache"

	metricCacheOperationDuration = "db.client.operation.duration"
	metricCacheHit               = "cache.hit"
	metricCacheMiss              = "cache.miss"
	metricInvalidationGroups     = "cache.invalidation.groups"
	metricInvalidationFailures   = "cache.invalidation.failures"

	attrDBSystem    = "db.system.name"
	attrDBOperation = "db.operation.name"
	attrDBNamespace = "db.namespace"
	attrErrorType   = "error.type"
)

// Cache operation names.
const (
	OpGet     = "hget"
	OpMGet    = "hmget"
	OpSet     = "hset"
	OpMSet    = "hmset"
	OpMDelete = "mdelete"
	OpHealth  = "ping"
	OpPrune   = "hdel_expired"
)

var (
	meterInitMu   sync.Mutex
	meterOnce     sync.Once
	cacheMeter    metric.Meter
	metricsInited bool

	operationDuration   metric.Float64Histogram
	hitCounter          metric.Int64Counter
	missCounter         metric.Int64Counter
	invalidationCounter metric.Int64Counter
	failureCounter      metric.Int64Counter
)

func logMetricError(name string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: Failed to initialize cache metric %s: %v\n", name, err)
	}
}

func initCacheMeter() {
	meterInitMu.Lock()
	defer meterInitMu.Unlock()

	if cacheMeter != nil {
		return
	}
	cacheMeter = otel.Meter(cacheMeterName)

	var err error
	operationDuration, err = cacheMeter.Float64Histogram(metricCacheOperationDuration,
		metric.WithDescription("Duration of cache server round trips"), metric.WithUnit("s"))
	logMetricError(metricCacheOperationDuration, err)

	hitCounter, err = cacheMeter.Int64Counter(metricCacheHit,
		metric.WithDescription("Number of cache-aside hits"), metric.WithUnit("{hit}"))
	logMetricError(metricCacheHit, err)

	missCounter, err = cacheMeter.Int64Counter(metricCacheMiss,
		metric.WithDescription("Number of cache-aside misses"), metric.WithUnit("{miss}"))
	logMetricError(metricCacheMiss, err)

	invalidationCounter, err = cacheMeter.Int64Counter(metricInvalidationGroups,
		metric.WithDescription("Number of key groups deleted by invalidation"), metric.WithUnit("{group}"))
	logMetricError(metricInvalidationGroups, err)

	failureCounter, err = cacheMeter.Int64Counter(metricInvalidationFailures,
		metric.WithDescription("Number of failed invalidation batches"), metric.WithUnit("{batch}"))
	logMetricError(metricInvalidationFailures, err)

	metricsInited = true
}

func ensureInitialized() {
	meterOnce.Do(initCacheMeter)
}

// Label trims a namespace to `{system}:{entity}` so that query fingerprints and index
// values never become metric attributes.
func Label(namespace string) string {
	parts := strings.SplitN(namespace, ":", 3)
	if len(parts) < 2 {
		return namespace
	}
	return parts[0] + ":" + parts[1]
}

// RecordCacheOperation records the duration of one cache server round trip.
func RecordCacheOperation(ctx context.Context, operation string, duration time.Duration, err error, namespace string) {
	ensureInitialized()

	attrs := []attribute.KeyValue{
		attribute.String(attrDBSystem, "redis"),
		attribute.String(attrDBOperation, operation),
	}
	if namespace != "" {
		attrs = append(attrs, attribute.String(attrDBNamespace, Label(namespace)))
	}
	if err != nil {
		attrs = append(attrs, attribute.String(attrErrorType, classifyError(err)))
	}

	if operationDuration != nil {
		operationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}
}

// RecordLookup records the outcome of a cache-aside read.
func RecordLookup(ctx context.Context, namespace string, hits, misses int) {
	ensureInitialized()

	opt := metric.WithAttributes(attribute.String(attrDBNamespace, Label(namespace)))
	if hits > 0 && hitCounter != nil {
		hitCounter.Add(ctx, int64(hits), opt)
	}
	if misses > 0 && missCounter != nil {
		missCounter.Add(ctx, int64(misses), opt)
	}
}

// RecordInvalidation records one invalidation batch of the given size.
func RecordInvalidation(ctx context.Context, groups int, err error) {
	ensureInitialized()

	if err != nil {
		if failureCounter != nil {
			failureCounter.Add(ctx, 1, metric.WithAttributes(attribute.String(attrErrorType, classifyError(err))))
		}
		return
	}
	if invalidationCounter != nil {
		invalidationCounter.Add(ctx, int64(groups))
	}
}

func classifyError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection"):
		return "connection_error"
	case strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "closed"):
		return "closed"
	default:
		return "error"
	}
}

// IsInitialized reports whether the instruments have been created.
func IsInitialized() bool {
	meterInitMu.Lock()
	defer meterInitMu.Unlock()
	return metricsInited
}

// ResetForTesting drops the cached meter so the next record call binds to the current
// global MeterProvider.
func ResetForTesting() {
	meterInitMu.Lock()
	defer meterInitMu.Unlock()

	cacheMeter = nil
	operationDuration = nil
	hitCounter = nil
	missCounter = nil
	invalidationCounter = nil
	failureCounter = nil
	metricsInited = false
	meterOnce = sync.Once{}
}
