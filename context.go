package xcorr

import (
	"context"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

type ctxKey string

const (
	codecCtxKey   ctxKey = "xcorr:codec"
	loggerCtxKey  ctxKey = "xcorr:logger"
	clockCtxKey   ctxKey = "xcorr:clock"
	entryIDCtxKey ctxKey = "xcorr:entry_id"
)

func injectCodec(ctx context.Context, c Codec) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, codecCtxKey, c)
}

// CodecFromContext returns the codec a Responder attached to a handler context.
func CodecFromContext(ctx context.Context) (Codec, bool) {
	c, ok := ctx.Value(codecCtxKey).(Codec)
	return c, ok && c != nil
}

func injectLogger(ctx context.Context, l *xlog.Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerCtxKey, l)
}

// LoggerFromContext returns the request-scoped logger, carrying the correlation id.
func LoggerFromContext(ctx context.Context) (*xlog.Logger, bool) {
	l, ok := ctx.Value(loggerCtxKey).(*xlog.Logger)
	return l, ok && l != nil
}

func injectClock(ctx context.Context, c xclock.Clock) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, clockCtxKey, c)
}

func ClockFromContext(ctx context.Context) (xclock.Clock, bool) {
	c, ok := ctx.Value(clockCtxKey).(xclock.Clock)
	return c, ok && c != nil
}

// EntryIDFromContext returns the request stream entry id being handled.
func EntryIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(entryIDCtxKey).(string)
	return id, ok && id != ""
}

// InjectAll attaches codec, logger and clock in one call. Useful when testing handlers directly.
func InjectAll(ctx context.Context, codec Codec, logger *xlog.Logger, clock xclock.Clock) context.Context {
	ctx = injectCodec(ctx, codec)
	ctx = injectLogger(ctx, logger)
	ctx = injectClock(ctx, clock)
	return ctx
}
