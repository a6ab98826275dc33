package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

// PostgresEngine executes generated SQL against Postgres data sources.
// Connections are pooled per DSN so many workflow instances targeting the
// same source share one *sql.DB.
type PostgresEngine struct {
	mu    sync.Mutex
	pools map[string]*sql.DB

	queryTimeout time.Duration
}

// NewPostgresEngine creates the engine with a per-query timeout.
func NewPostgresEngine(queryTimeout time.Duration) *PostgresEngine {
	if queryTimeout <= 0 {
		queryTimeout = 2 * time.Minute
	}
	return &PostgresEngine{
		pools:        make(map[string]*sql.DB),
		queryTimeout: queryTimeout,
	}
}

func (p *PostgresEngine) db(src DataSource) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if db, ok := p.pools[src.DSN]; ok {
		return db, nil
	}
	db, err := sql.Open("postgres", src.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	p.pools[src.DSN] = db
	return db, nil
}

// Execute runs the query and materializes the result set as column list plus
// row maps.
func (p *PostgresEngine) Execute(ctx context.Context, query string, src DataSource) (Result, error) {
	db, err := p.db(src)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("read columns: %w", err)
	}

	result := Result{Columns: cols}
	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return Result{}, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			row[col] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

// FetchSchema introspects information_schema and renders a prompt-friendly
// description of tables and columns.
func (p *PostgresEngine) FetchSchema(ctx context.Context, src DataSource) (string, error) {
	db, err := p.db(src)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, `
		SELECT table_name, column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = 'public'
		ORDER BY table_name, ordinal_position`)
	if err != nil {
		return "", fmt.Errorf("introspect schema: %w", err)
	}
	defer rows.Close()

	type column struct {
		name, dataType string
		nullable       bool
	}
	tables := make(map[string][]column)
	var order []string
	for rows.Next() {
		var table, name, dataType, nullable string
		if err := rows.Scan(&table, &name, &dataType, &nullable); err != nil {
			return "", fmt.Errorf("scan schema row: %w", err)
		}
		if _, seen := tables[table]; !seen {
			order = append(order, table)
		}
		tables[table] = append(tables[table], column{name: name, dataType: dataType, nullable: nullable == "YES"})
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate schema rows: %w", err)
	}
	if len(order) == 0 {
		return "", fmt.Errorf("no tables found in schema")
	}

	var b strings.Builder
	for _, table := range order {
		fmt.Fprintf(&b, "TABLE %s (\n", table)
		for _, col := range tables[table] {
			null := "NOT NULL"
			if col.nullable {
				null = "NULL"
			}
			fmt.Fprintf(&b, "  %s %s %s\n", col.name, col.dataType, null)
		}
		b.WriteString(")\n")
	}
	return b.String(), nil
}

// normalizeValue makes driver values JSON-friendly.
func normalizeValue(v interface{}) interface{} {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return v
	}
}
