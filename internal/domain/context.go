package domain

import "context"

type assetScopeKey struct{}

// WithAssetScope sets the blob key prefix that stage adapters store
// per-run assets (cropped figures) under.
func WithAssetScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, assetScopeKey{}, scope)
}

// AssetScope returns the prefix set by WithAssetScope, or def.
func AssetScope(ctx context.Context, def string) string {
	if s, ok := ctx.Value(assetScopeKey{}).(string); ok && s != "" {
		return s
	}
	return def
}
