package ctx

import (
	"github.com/valyala/fasthttp"
)

const (
	RequestIDKey = "requestID"
	RouteKey     = "route"
)

func SetRequestID(ctx *fasthttp.RequestCtx, id string) {
	ctx.SetUserValue(RequestIDKey, id)
}

func RequestIDFromCtx(ctx *fasthttp.RequestCtx) (string, bool) {
	return stringValue(ctx, RequestIDKey)
}

// SetRoute records the route pattern that matched, so request metrics are
// labelled by pattern rather than by raw path.
func SetRoute(ctx *fasthttp.RequestCtx, route string) {
	ctx.SetUserValue(RouteKey, route)
}

func RouteFromCtx(ctx *fasthttp.RequestCtx) (string, bool) {
	return stringValue(ctx, RouteKey)
}

func stringValue(ctx *fasthttp.RequestCtx, key string) (string, bool) {
	v := ctx.UserValue(key)
	if v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
