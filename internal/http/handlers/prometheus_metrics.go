package handlers

import (
	"bytes"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/valyala/fasthttp"

	"anomalyd/internal/metrics"
)

// PrometheusMetrics serves the process metrics in the text exposition
// format. With ?service=NAME, series labelled with another service are
// left out.
func PrometheusMetrics(g prometheus.Gatherer) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		families, err := g.Gather()
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to gather metrics")
			return
		}
		if service := string(ctx.QueryArgs().Peek("service")); service != "" {
			families = metrics.FilterByLabel(families, "service", service)
		}

		var buf bytes.Buffer
		if err := metrics.Encode(&buf, families); err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to encode metrics")
			return
		}

		ctx.SetContentType(string(expfmt.FmtText))
		ctx.Response.Header.Set("Cache-Control", "no-store")
		ctx.SetBody(buf.Bytes())
	}
}
