package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vietddude/syncd/internal/core/domain"
	"github.com/vietddude/syncd/internal/sync/source"
)

const defaultFetchSize = 500

var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

// Adapter streams rows from a PostgreSQL table as records, paginated
// by keyset on the id column so large tables stream in bounded memory.
type Adapter struct {
	db        *sqlx.DB
	table     string
	idColumn  string
	where     string
	fetchSize int
}

// New creates an uninitialized PostgreSQL source adapter. Register it
// under the "postgres" handle.
func New() source.Adapter {
	return &Adapter{}
}

// Init connects to the source database. Required config: url, table.
// Optional: id_column (default "id"), where, fetch_size.
func (a *Adapter) Init(ctx context.Context, cfg source.Config) error {
	url, _ := cfg["url"].(string)
	if url == "" {
		return fmt.Errorf("postgres source: url is required")
	}
	a.table, _ = cfg["table"].(string)
	if a.table == "" {
		return fmt.Errorf("postgres source: table is required")
	}
	a.idColumn, _ = cfg["id_column"].(string)
	if a.idColumn == "" {
		a.idColumn = "id"
	}
	if !identPattern.MatchString(a.table) || !identPattern.MatchString(a.idColumn) {
		return fmt.Errorf("postgres source: invalid table or id_column identifier")
	}
	a.where, _ = cfg["where"].(string)

	a.fetchSize = defaultFetchSize
	if v, ok := cfg["fetch_size"]; ok {
		switch n := v.(type) {
		case int:
			a.fetchSize = n
		case float64:
			a.fetchSize = int(n)
		}
	}

	db, err := sqlx.ConnectContext(ctx, "pgx", url)
	if err != nil {
		return fmt.Errorf("postgres source: connect: %w", err)
	}
	a.db = db
	return nil
}

// Stream opens a keyset-paginated cursor over the table.
func (a *Adapter) Stream(ctx context.Context) (source.RecordCursor, error) {
	if a.db == nil {
		return nil, fmt.Errorf("postgres source: adapter not initialized")
	}
	return &rowCursor{adapter: a}, nil
}

// ValidateConnection pings the source database.
func (a *Adapter) ValidateConnection(ctx context.Context) error {
	if a.db == nil {
		return fmt.Errorf("postgres source: adapter not initialized")
	}
	return a.db.PingContext(ctx)
}

// TotalCount counts matching rows for progress estimation.
func (a *Adapter) TotalCount(ctx context.Context) (int, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", a.table)
	if a.where != "" {
		query += " WHERE " + a.where
	}
	var n int
	if err := a.db.GetContext(ctx, &n, query); err != nil {
		return 0, fmt.Errorf("postgres source: count: %w", err)
	}
	return n, nil
}

// rowCursor pulls one keyset page at a time.
type rowCursor struct {
	adapter *Adapter
	lastID  any
	buf     []map[string]any
	pos     int
	done    bool
}

func (c *rowCursor) Next(ctx context.Context) (*domain.Record, error) {
	for c.pos >= len(c.buf) {
		if c.done {
			return nil, source.ErrEndOfStream
		}
		if err := c.fetch(ctx); err != nil {
			return nil, err
		}
		if len(c.buf) == 0 {
			return nil, source.ErrEndOfStream
		}
	}

	row := c.buf[c.pos]
	c.pos++

	id := ""
	if v, ok := row[c.adapter.idColumn]; ok {
		id = fmt.Sprintf("%v", v)
		c.lastID = v
	}
	return &domain.Record{ID: id, Fields: row}, nil
}

func (c *rowCursor) fetch(ctx context.Context) error {
	a := c.adapter

	var clauses []string
	var args []any
	if a.where != "" {
		clauses = append(clauses, "("+a.where+")")
	}
	if c.lastID != nil {
		args = append(args, c.lastID)
		clauses = append(clauses, fmt.Sprintf("%s > $%d", a.idColumn, len(args)))
	}

	query := fmt.Sprintf("SELECT * FROM %s", a.table)
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY %s LIMIT %d", a.idColumn, a.fetchSize)

	rows, err := a.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres source: fetch: %w", err)
	}
	defer rows.Close()

	c.buf = c.buf[:0]
	c.pos = 0
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return fmt.Errorf("postgres source: scan: %w", err)
		}
		// sqlx returns []byte for text columns via MapScan
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		c.buf = append(c.buf, row)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres source: rows: %w", err)
	}
	if len(c.buf) < a.fetchSize {
		c.done = true
	}
	return nil
}

func (c *rowCursor) Close() error {
	if c.adapter.db != nil {
		return c.adapter.db.Close()
	}
	return nil
}
