package logging

import (
	"context"

	"github.com/google/uuid"
)

type debugKeyCtx struct{}

// EnableDebugMode marks ctx so that C* logging calls under it are written at debug level. An empty
// key is replaced with a short random one, which lets the lines of one operation be grepped out.
func EnableDebugMode(ctx context.Context, key string) context.Context {
	if key == "" {
		key = uuid.NewString()[:8]
	}
	return context.WithValue(ctx, debugKeyCtx{}, key)
}

// IsDebugMode reports whether ctx was marked with EnableDebugMode.
func IsDebugMode(ctx context.Context) bool {
	return GetName(ctx) != ""
}

// GetName returns the debug key of ctx, or "" outside debug mode.
func GetName(ctx context.Context) string {
	key, _ := ctx.Value(debugKeyCtx{}).(string)
	return key
}
