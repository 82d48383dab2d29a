package casesync

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildStoreFromDSN selects a store implementation by DSN scheme. An empty
// DSN yields the in-memory store.
func BuildStoreFromDSN(dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewMemoryStore(), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	switch scheme {
	case "memory", "mem", "inmem":
		return NewMemoryStore(), nil
	case "postgres", "postgresql":
		return NewPostgresStore(dsn)
	case "", "file", "sqlite":
		return NewSQLiteStore(dsnPath(parsed, dsn))
	case "mysql", "mongodb":
		return nil, fmt.Errorf("%w: store backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported store backend scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) string {
	if parsed.Opaque != "" {
		return parsed.Opaque
	}
	if parsed.Host != "" || parsed.Path != "" {
		return parsed.Host + parsed.Path
	}
	return raw
}
