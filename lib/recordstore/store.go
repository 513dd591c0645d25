// Package recordstore persists fetched company records, their grade rows and
// the failures met while fetching them.
package recordstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"tradereg/lib/registry"

	_ "embed"

	_ "github.com/lib/pq"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	_ "modernc.org/sqlite"
)

var tracer = otel.Tracer("lib/recordstore")

var (
	ErrUnknownDialect = errors.New("unknown store dialect")
	ErrNotFound       = errors.New("record not found")
)

type Dialect string

const (
	DIALECT_POSTGRES Dialect = "postgres"
	DIALECT_SQLITE   Dialect = "sqlite"
	// DIALECT_LIBSQL is a remote libsql server, it shares the sqlite schema.
	DIALECT_LIBSQL Dialect = "libsql"
)

// width of the company_id columns
const subjectWidth = 10

//go:embed schema_postgres.sql
var schemaPostgres string

//go:embed schema_sqlite.sql
var schemaSqlite string

type Config struct {
	Dialect Dialect `json:"dialect"`
	// DSN is used as is when set, otherwise postgres connections are built
	// from the fields below.
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	User     string `json:"user"`
	Password string `json:"password"`
	SSLMode  string `json:"sslmode"`

	// AuthToken is appended to libsql urls.
	AuthToken string `json:"auth_token"`
}

func (c Config) driver() (string, error) {
	switch c.Dialect {
	case DIALECT_POSTGRES:
		return "postgres", nil
	case DIALECT_SQLITE:
		return "sqlite", nil
	case DIALECT_LIBSQL:
		return "libsql", nil
	}
	return "", fmt.Errorf("%w: '%s'", ErrUnknownDialect, c.Dialect)
}

// ConnString is the data source name handed to the sql driver.
func (c Config) ConnString() string {
	if c.Dialect == DIALECT_LIBSQL && c.AuthToken != "" && c.DSN != "" {
		u, err := url.Parse(c.DSN)
		if err != nil {
			return c.DSN
		}
		q := u.Query()
		q.Set("authToken", c.AuthToken)
		u.RawQuery = q.Encode()
		return u.String()
	}
	if c.DSN != "" || c.Dialect != DIALECT_POSTGRES {
		return c.DSN
	}

	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     fmt.Sprintf("%s:%d", host, port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {sslmode}}.Encode(),
	}
	if c.User != "" {
		u.User = url.UserPassword(c.User, c.Password)
	}
	return u.String()
}

type Store struct {
	db      *sql.DB
	dialect Dialect
}

func wrapOpen(err error) error {
	return fmt.Errorf("open record store: %w", err)
}

func Open(ctx context.Context, cfg Config) (*Store, error) {
	ctx, span := tracer.Start(ctx, "store:Open")
	defer span.End()
	span.SetAttributes(attribute.String("dialect", string(cfg.Dialect)))

	driver, err := cfg.driver()
	if err != nil {
		return nil, wrapOpen(err)
	}
	dsn := cfg.ConnString()
	if dsn == "" {
		return nil, wrapOpen(fmt.Errorf("no data source configured for %s", cfg.Dialect))
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open db")
		return nil, wrapOpen(err)
	}
	if cfg.Dialect == DIALECT_SQLITE {
		// an in-memory database lives and dies with its connection, and
		// sqlite serializes writers anyway
		db.SetMaxOpenConns(1)
		_, err = db.ExecContext(ctx, "PRAGMA foreign_keys = ON")
		if err != nil {
			db.Close()
			return nil, wrapOpen(err)
		}
	}
	err = db.PingContext(ctx)
	if err != nil {
		db.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to reach db")
		return nil, wrapOpen(err)
	}
	return NewStore(db, cfg.Dialect), nil
}

// NewStore wraps an already opened database.
func NewStore(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders into $n for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != DIALECT_POSTGRES {
		return query
	}
	var out strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			out.WriteString("$" + strconv.Itoa(n))
			continue
		}
		out.WriteRune(c)
	}
	return out.String()
}

func (s *Store) schema() string {
	if s.dialect == DIALECT_POSTGRES {
		return schemaPostgres
	}
	return schemaSqlite
}

func statements(schema string) []string {
	var out []string
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "store:EnsureSchema")
	defer span.End()

	for _, stmt := range statements(s.schema()) {
		_, err := s.db.ExecContext(ctx, stmt)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to apply schema")
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// timeArg is how a timestamp is written, sqlite keeps RFC3339 text.
func (s *Store) timeArg(t time.Time) any {
	if s.dialect == DIALECT_POSTGRES {
		return t
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// timestamp scans the timestamp columns of every dialect.
type timestamp struct {
	time.Time
}

func (t *timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	}
	return fmt.Errorf("cannot scan %T into timestamp", src)
}

func (t *timestamp) parse(s string) error {
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

func truncateSubject(id registry.SubjectID) string {
	runes := []rune(id.String())
	if len(runes) > subjectWidth {
		runes = runes[:subjectWidth]
	}
	return string(runes)
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = fn(tx)
	if err != nil {
		return err
	}
	return tx.Commit()
}
