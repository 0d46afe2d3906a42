package logger

import "context"

type contextKey struct{}

// LogContext carries request-scoped fields attached to every *Ctx log line.
type LogContext struct {
	RequestID string
	Principal string
	ClientIP  string
}

// WithContext attaches a LogContext to ctx.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, contextKey{}, lc)
}

// FromContext extracts the LogContext from ctx, or nil.
func FromContext(ctx context.Context) *LogContext {
	lc, _ := ctx.Value(contextKey{}).(*LogContext)
	return lc
}

// WithPrincipal returns a copy of lc with the authenticated principal set.
func (lc *LogContext) WithPrincipal(principal string) *LogContext {
	out := *lc
	out.Principal = principal
	return &out
}

func appendContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}
	if lc.RequestID != "" {
		args = append(args, "request_id", lc.RequestID)
	}
	if lc.Principal != "" {
		args = append(args, "principal", lc.Principal)
	}
	if lc.ClientIP != "" {
		args = append(args, "client_ip", lc.ClientIP)
	}
	return args
}
