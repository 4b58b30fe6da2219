package handlers

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	httpctx "anomalyd/internal/http/ctx"
	"anomalyd/internal/metrics"
)

// parseRange reads "hours" (float, e.g. 0.5 or 1) or "days" (int) from the
// query and returns the matching cutoff. The default range is one day.
func parseRange(ctx *fasthttp.RequestCtx, now time.Time) time.Time {
	if h := string(ctx.QueryArgs().Peek("hours")); h != "" {
		if f, err := strconv.ParseFloat(h, 64); err == nil && f > 0 {
			return now.Add(-time.Duration(f * float64(time.Hour)))
		}
	}
	days := 0
	if d := string(ctx.QueryArgs().Peek("days")); d != "" {
		if n, err := strconv.Atoi(d); err == nil && n > 0 {
			days = n
		}
	}
	if days == 0 {
		days = 1
	}
	return now.Add(-time.Duration(days) * 24 * time.Hour)
}

// Named tags requests served by h with route, for logs and metrics.
func Named(route string, h fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		httpctx.SetRoute(ctx, route)
		h(ctx)
	}
}

// RequestLogger returns fasthttp middleware that logs method, path, status
// and duration, and counts the request by route and status.
func RequestLogger(log *zap.Logger, rec *metrics.ServerRecorder) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()
			next(ctx)

			route, ok := httpctx.RouteFromCtx(ctx)
			if !ok {
				route = "unmatched"
			}
			status := ctx.Response.StatusCode()
			rec.ObserveAPIRequest(route, strconv.Itoa(status))

			requestID, _ := httpctx.RequestIDFromCtx(ctx)
			log.Info("request",
				zap.ByteString("method", ctx.Method()),
				zap.ByteString("path", ctx.Path()),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)),
				zap.String("ip", ctx.RemoteIP().String()),
				zap.String("request_id", requestID),
			)
		}
	}
}

func jsonResponse(ctx *fasthttp.RequestCtx, data map[string]any) {
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(data)
	ctx.SetBody(body)
}

func errResponse(ctx *fasthttp.RequestCtx, code int, msg string) {
	ctx.SetStatusCode(code)
	ctx.SetBodyString(msg)
}
