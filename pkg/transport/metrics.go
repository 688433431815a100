package transport

import (
	"context"
	"time"

	"github.com/hualong-shen/mcp-go/pkg/observability"
)

// MetricsMiddleware records per-method request counts, latencies and
// notification counts on a Metrics provider.
type MetricsMiddleware struct {
	metrics *observability.Metrics
}

// NewMetricsMiddleware builds the middleware.
func NewMetricsMiddleware(metrics *observability.Metrics) Middleware {
	return &MetricsMiddleware{metrics: metrics}
}

// Wrap implements Middleware.
func (mm *MetricsMiddleware) Wrap(next Transport) Transport {
	return &metricsTransport{passthrough: passthrough{next: next}, metrics: mm.metrics}
}

type metricsTransport struct {
	passthrough
	metrics *observability.Metrics
}

func (mt *metricsTransport) SendRequest(ctx context.Context, method string, params, result interface{}) error {
	start := time.Now()
	err := mt.passthrough.SendRequest(ctx, method, params, result)
	mt.metrics.RecordRequest(method, err, time.Since(start))
	return err
}

func (mt *metricsTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	err := mt.passthrough.SendNotification(ctx, method, params)
	if err == nil {
		mt.metrics.RecordNotification(method)
	}
	return err
}
