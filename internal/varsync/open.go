package varsync

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// Open builds a Source from a location string:
//
//	memory                      in-process source (returned as *MemorySource)
//	grpc://host:port            remote VariableService
//	http://host:port            HTTP variable endpoint
//	redis://host:port[/prefix]  shared Redis snapshot, DefaultRedisPrefix if unset
//
// The returned closer releases any connection; it is never nil.
func Open(ctx context.Context, location string) (Source, io.Closer, error) {
	if location == "" || location == "memory" {
		return NewMemorySource(), nopCloser{}, nil
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid variable source %q: %w", location, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "grpc":
		src, err := DialGRPCSource(u.Host)
		if err != nil {
			return nil, nil, err
		}
		return src, src, nil
	case "http", "https":
		return NewHTTPSource(strings.TrimSuffix(location, "/"), nil), nopCloser{}, nil
	case "redis":
		prefix := strings.TrimPrefix(u.Path, "/")
		if prefix == "" {
			prefix = DefaultRedisPrefix
		}
		src, err := DialRedisSource(ctx, u.Host, prefix)
		if err != nil {
			return nil, nil, err
		}
		return src, src, nil
	default:
		return nil, nil, fmt.Errorf("unsupported variable source scheme %q", u.Scheme)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
