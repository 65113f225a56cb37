package dcontext

import "context"

type registryURLKey struct{}

func (registryURLKey) String() string { return "registry.url" }

// WithRegistryURL attaches the registry base URL a fetch is using, so
// logging and error messages downstream of registryfetch.Fetcher can report
// which registry a tarball came from without threading it through every
// call.
func WithRegistryURL(ctx context.Context, url string) context.Context {
	return context.WithValue(ctx, registryURLKey{}, url)
}

// GetRegistryURL returns the registry base URL attached to ctx, or "" if
// none was attached.
func GetRegistryURL(ctx context.Context) string {
	v, _ := ctx.Value(registryURLKey{}).(string)
	return v
}
