package goIdentity

import "context"

type requestKey uint8

const (
	keyClientIP requestKey = iota
	keyUserAgent
)

// WithClientIP attaches the caller's IP address to ctx. It fills
// LoginRequest.IPAddress when that is empty and tags audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, keyClientIP, ip)
}

// WithUserAgent is WithClientIP for the User-Agent header.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, keyUserAgent, userAgent)
}

func requestValue(ctx context.Context, key requestKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

func clientIPFromContext(ctx context.Context) string { return requestValue(ctx, keyClientIP) }

func userAgentFromContext(ctx context.Context) string { return requestValue(ctx, keyUserAgent) }
