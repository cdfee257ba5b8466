package factory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/loykin/taskvisor/internal/store"
	"github.com/loykin/taskvisor/internal/store/file"
	pg "github.com/loykin/taskvisor/internal/store/postgres"
	rd "github.com/loykin/taskvisor/internal/store/redis"
	sq "github.com/loykin/taskvisor/internal/store/sqlite"
)

// Open selects a store implementation based on DSN.
// Supported:
//   - memory:   "memory://"
//   - file:     "file:///<path>" or a bare path (.yaml/.yml select YAML, otherwise JSON)
//   - sqlite:   "sqlite:///<path>"
//   - postgres: DSN starting with "postgres://" or "postgresql://"
//   - redis:    "redis://host:port/db?key=<name>"
//
// Any other scheme is rejected.
func Open(dsn string) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	switch {
	case ld == "":
		return nil, errors.New("empty DSN")
	case strings.HasPrefix(ld, "memory://"):
		return store.NewMemory(), nil
	case strings.HasPrefix(ld, "postgres://"), strings.HasPrefix(ld, "postgresql://"):
		return pg.New(d)
	case strings.HasPrefix(ld, "redis://"), strings.HasPrefix(ld, "rediss://"):
		return rd.New(d)
	case strings.HasPrefix(ld, "sqlite://"):
		return sq.New(d[len("sqlite://"):])
	case strings.HasPrefix(ld, "file://"):
		return file.New(d[len("file://"):])
	case strings.Contains(ld, "://"):
		return nil, fmt.Errorf("unsupported store DSN scheme %q", d[:strings.Index(d, "://")])
	}
	return file.New(d)
}
