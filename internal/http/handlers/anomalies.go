package handlers

import (
	"errors"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	dbpkg "anomalyd/internal/db"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// ListAnomalies serves GET /v1/anomalies. Query parameters: hours or days
// (default one day), host, service, limit (default 100, at most 1000).
func ListAnomalies(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		args := ctx.QueryArgs()

		limit := defaultListLimit
		if l := string(args.Peek("limit")); l != "" {
			n, err := strconv.Atoi(l)
			if err != nil || n <= 0 {
				errResponse(ctx, fasthttp.StatusBadRequest, "invalid limit")
				return
			}
			limit = min(n, maxListLimit)
		}

		since := parseRange(ctx, time.Now())
		filter := dbpkg.AnomalyFilter{
			Since:   since,
			Host:    string(args.Peek("host")),
			Service: string(args.Peek("service")),
			Limit:   limit,
		}

		anomalies, err := dbpkg.ListAnomalies(ctx, db, filter)
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to load anomalies")
			return
		}
		if anomalies == nil {
			anomalies = []dbpkg.Anomaly{}
		}

		jsonResponse(ctx, map[string]any{
			"since":     since.UTC().Format(time.RFC3339),
			"count":     len(anomalies),
			"anomalies": anomalies,
		})
	}
}

// GetAnomaly serves GET /v1/anomalies/{id}.
func GetAnomaly(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		idVal := ctx.UserValue("id")
		if idVal == nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "id required")
			return
		}
		idStr, ok := idVal.(string)
		if !ok {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid id")
			return
		}
		id, err := strconv.ParseUint(idStr, 10, 64)
		if err != nil || id == 0 {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid id")
			return
		}

		a, err := dbpkg.GetAnomaly(ctx, db, uint(id))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				errResponse(ctx, fasthttp.StatusNotFound, "anomaly not found")
				return
			}
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to load anomaly")
			return
		}

		jsonResponse(ctx, map[string]any{"anomaly": a})
	}
}
