package store

import (
	"fmt"
	"net/url"
	"strings"
)

// OpenPrimary builds the primary backend from a DSN.
// postgres:// and postgresql:// URLs select Postgres; sqlite:// URLs and bare
// paths select SQLite. An empty DSN returns nil, meaning no primary tier.
func OpenPrimary(dsn string) (Backend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse primary dsn: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return NewPostgres(dsn)
	case "sqlite", "file":
		path := parsed.Opaque
		if path == "" {
			path = parsed.Host + parsed.Path
		}
		if path == "" {
			return nil, fmt.Errorf("sqlite dsn %q has no path", dsn)
		}
		return NewSQLite(path)
	case "":
		return NewSQLite(dsn)
	default:
		return nil, fmt.Errorf("unsupported primary store scheme: %s", parsed.Scheme)
	}
}
