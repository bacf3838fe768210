// Package db implements the Connection Broker: a mapping from logical
// database name (as used in a recipe's "database" field) to a pooled
// *sql.DB plus the LooseTypes/Encoding attributes the solver and coerce
// packages need. Grounded on ecommerce.db's getConnection()/_init()
// (db/__init__.py) for the config shape, and on the teacher's
// pkg/storage/sql.New / pkg/builtins/sqlsend.go's databasePool for the Go
// connection-pooling idiom (sql.Open is cheap and returns a pool; a
// process-wide map keyed by logical name avoids re-opening per request).
package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/MGDevelopment/dataset-engine/pkg/dataset/config"
	"github.com/MGDevelopment/dataset-engine/pkg/dataset/keychain"
)

// Conn is a handle to a logical database: its connection pool plus the
// attributes the solver needs to decide whether to run the loose-typed
// coercion pass, matching "db.<name>.loosetypes"/"db.<name>.encoding" in
// the original configuration.
type Conn struct {
	DB         *sql.DB
	LooseTypes bool
	Encoding   string
}

// Broker resolves logical database names to pooled connections. One
// Broker is shared process-wide, matching the module-level _databases
// cache in the original ecommerce.db.
type Broker struct {
	cfg      *config.Config
	keychain keychain.Keychain

	mu    sync.Mutex
	conns map[string]*Conn
}

// New creates a Broker over cfg (rooted so that "db.<name>.*" keys
// resolve) and kc, used to resolve "password" entries, matching
// config.keychain.fetch(dbconf["password"]) in the original source.
func New(cfg *config.Config, kc keychain.Keychain) *Broker {
	if kc == nil {
		kc = keychain.Empty()
	}
	return &Broker{cfg: cfg, keychain: kc, conns: map[string]*Conn{}}
}

// Get returns the pooled connection for name, opening and caching it on
// first use. name == "" resolves to "db.default", matching
// getConnection(dbname=None) defaulting to _defaultDB.
func (b *Broker) Get(ctx context.Context, name string) (*Conn, error) {
	if name == "" {
		name = b.cfg.GetString("db.default", "")
		if name == "" {
			return nil, fmt.Errorf("db: no database name given and no db.default configured")
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.conns[name]; ok {
		return c, nil
	}

	c, err := b.open(ctx, name)
	if err != nil {
		return nil, err
	}
	b.conns[name] = c
	return c, nil
}

func (b *Broker) open(ctx context.Context, name string) (*Conn, error) {
	sub := b.cfg.Sub("db." + name)
	driver := sub.GetString("driver", "")
	if driver == "" {
		return nil, fmt.Errorf("db: database %q has no driver configured", name)
	}

	dsn, err := b.buildDSN(driver, sub)
	if err != nil {
		return nil, fmt.Errorf("db: database %q: %w", name, err)
	}

	sqlDriver, err := driverName(driver)
	if err != nil {
		return nil, fmt.Errorf("db: database %q: %w", name, err)
	}

	sqlDB, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("db: database %q: open: %w", name, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("db: database %q: ping: %w", name, err)
	}

	return &Conn{
		DB:         sqlDB,
		LooseTypes: sub.GetBool("loosetypes", false),
		Encoding:   sub.GetString("encoding", "UTF-8"),
	}, nil
}

// driverName maps the three supported logical driver names to the
// database/sql driver name registered via blank import, matching the
// three drivers the teacher itself blank-imports (lib/pq,
// go-sql-driver/mysql, modernc.org/sqlite).
func driverName(logical string) (string, error) {
	switch logical {
	case "postgres", "postgresql":
		return "postgres", nil
	case "mysql":
		return "mysql", nil
	case "sqlite", "sqlite3":
		return "sqlite", nil
	default:
		return "", fmt.Errorf("unsupported driver %q", logical)
	}
}

// buildDSN assembles a data source name from the database's config
// subtree, resolving "password" through the keychain exactly as
// params[key] = config.keychain.fetch(dbconf[key]) does for the
// "password" key in the original _init().
func (b *Broker) buildDSN(driver string, sub *config.Config) (string, error) {
	if dsn := sub.GetString("dsn", ""); dsn != "" {
		return dsn, nil
	}

	host := sub.GetString("host", "localhost")
	port := sub.GetString("port", "")
	database := sub.GetString("database", "")
	user := sub.GetString("user", "")
	rawPassword := sub.GetString("password", "")
	password := rawPassword
	if rawPassword != "" {
		resolved, err := b.keychain.Fetch(rawPassword)
		if err != nil {
			return "", fmt.Errorf("resolving password: %w", err)
		}
		password = resolved
	}

	switch driver {
	case "postgres", "postgresql":
		dsn := fmt.Sprintf("host=%s dbname=%s user=%s", host, database, user)
		if port != "" {
			dsn += " port=" + port
		}
		if password != "" {
			dsn += " password=" + password
		}
		return dsn, nil
	case "mysql":
		portPart := port
		if portPart == "" {
			portPart = "3306"
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s", user, password, host, portPart, database), nil
	case "sqlite", "sqlite3":
		if database == "" {
			return "", fmt.Errorf("sqlite database requires 'database' (path)")
		}
		return database, nil
	default:
		return "", fmt.Errorf("unsupported driver %q", driver)
	}
}

// QueryContext resolves name via Get and runs query against its pool,
// satisfying codetable.Querier and letting the code-table cache share
// the broker without depending on its full API.
func (b *Broker) QueryContext(ctx context.Context, name, query string, args ...interface{}) (*sql.Rows, error) {
	c, err := b.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return c.DB.QueryContext(ctx, query, args...)
}

// Close closes every pooled connection the broker has opened.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for name, c := range b.conns {
		if err := c.DB.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing %q: %w", name, err)
		}
	}
	return firstErr
}
