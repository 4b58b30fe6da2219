package handlers

import (
	"github.com/valyala/fasthttp"
	"gorm.io/gorm"
)

// Healthz reports whether the store answers a ping.
func Healthz(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			errResponse(ctx, fasthttp.StatusServiceUnavailable, "store unavailable")
			return
		}
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	}
}
