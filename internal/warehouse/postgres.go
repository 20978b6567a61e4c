// Package warehouse mediates all reads and writes to the Postgres
// reporting warehouse. Table schemas are discovered from the catalog
// rather than declared here, and writes keep only the fields a table
// actually knows about.
package warehouse

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MaterializedViews are the reporting views refreshed after every load.
var MaterializedViews = []string{"event_aggregates", "members_view", "participants"}

// Record is one entity as a flat field → value mapping. Fields that do
// not exist as columns on the destination table are dropped on write.
type Record map[string]any

// Querier is the subset of pgxpool.Pool the warehouse needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Warehouse is the storage gateway for the warehouse tables.
//
// Column names are cached per instance after the first catalog lookup.
// The cache is never invalidated implicitly; call InvalidateColumns after
// a schema change.
type Warehouse struct {
	db     Querier
	schema string

	mu      sync.Mutex
	columns map[string][]string
}

// New creates a connection pool and fails fast if the database is
// unreachable.
func New(dbURL, schema string) (*Warehouse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &Warehouse{
		db:      pool,
		schema:  schema,
		columns: map[string][]string{},
	}, nil
}

// Ping reports whether the database is reachable.
func (w *Warehouse) Ping(ctx context.Context) error {
	if p, ok := w.db.(*pgxpool.Pool); ok {
		return p.Ping(ctx)
	}
	_, err := w.db.Exec(ctx, "SELECT 1")
	return err
}

// Close shuts down the connection pool.
func (w *Warehouse) Close() {
	if p, ok := w.db.(*pgxpool.Pool); ok {
		p.Close()
	}
}

// Exec runs an arbitrary statement. Each statement commits on its own;
// driver failures propagate unmodified.
func (w *Warehouse) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := w.db.Exec(ctx, sql, args...)
	return err
}

// qualified returns the quoted schema-qualified name for a table or view.
func (w *Warehouse) qualified(name string) string {
	return pgx.Identifier{w.schema, name}.Sanitize()
}

// RefreshView refreshes a single materialized view. The name must be one
// of MaterializedViews; an invalid view definition is a fatal
// administrative error and is not retried.
func (w *Warehouse) RefreshView(ctx context.Context, view string) error {
	known := false
	for _, v := range MaterializedViews {
		if v == view {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown materialized view %q", view)
	}
	return w.Exec(ctx, "REFRESH MATERIALIZED VIEW "+w.qualified(view))
}

// RefreshViews refreshes every configured materialized view.
func (w *Warehouse) RefreshViews(ctx context.Context) error {
	for _, view := range MaterializedViews {
		if err := w.RefreshView(ctx, view); err != nil {
			return err
		}
	}
	return nil
}

// BackupTable snapshots a table into <table>_backup, unconditionally
// dropping any previous backup.
func (w *Warehouse) BackupTable(ctx context.Context, table string) error {
	backup := w.qualified(table + "_backup")
	if err := w.Exec(ctx, "DROP TABLE IF EXISTS "+backup); err != nil {
		return err
	}
	return w.Exec(ctx, fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s",
		backup, w.qualified(table)))
}

// RevertTable drops a table and recreates it from its backup snapshot.
// Fails if no backup exists.
func (w *Warehouse) RevertTable(ctx context.Context, table string) error {
	if err := w.Exec(ctx, "DROP TABLE IF EXISTS "+w.qualified(table)); err != nil {
		return err
	}
	return w.Exec(ctx, fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s",
		w.qualified(table), w.qualified(table+"_backup")))
}

// TruncateTable removes every row from a table. Irreversible.
func (w *Warehouse) TruncateTable(ctx context.Context, table string) error {
	return w.Exec(ctx, "TRUNCATE "+w.qualified(table))
}

// Columns returns the distinct column names of a table from the schema
// catalog. The result is cached; the cache does not observe schema
// changes until InvalidateColumns is called.
func (w *Warehouse) Columns(ctx context.Context, table string) ([]string, error) {
	w.mu.Lock()
	cached, ok := w.columns[table]
	w.mu.Unlock()
	if ok {
		return cached, nil
	}

	rows, err := w.db.Query(ctx, `
		SELECT DISTINCT column_name
		FROM information_schema.columns
		WHERE table_schema = $1
		  AND table_name = $2
	`, w.schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		columns = append(columns, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	w.columns[table] = columns
	w.mu.Unlock()
	return columns, nil
}

// InvalidateColumns drops the cached column set for a table so the next
// write re-reads the catalog.
func (w *Warehouse) InvalidateColumns(table string) {
	w.mu.Lock()
	delete(w.columns, table)
	w.mu.Unlock()
}

// intersect returns the record's field names that exist as table
// columns, sorted for deterministic statements.
func intersect(fields map[string]bool, columns []string) []string {
	set := make(map[string]bool, len(columns))
	for _, c := range columns {
		set[c] = true
	}
	var keep []string
	for f := range fields {
		if set[f] {
			keep = append(keep, f)
		}
	}
	sort.Strings(keep)
	return keep
}

// insertPrefix builds "INSERT INTO schema.table (a, b, c) VALUES ".
func (w *Warehouse) insertPrefix(table string, cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES ",
		w.qualified(table), strings.Join(quoted, ", "))
}

// placeholders builds "($1, $2, ...)" starting at the given ordinal.
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// LoadItem inserts a single record. Fields without a matching table
// column are silently dropped; remaining values are parameter-bound.
func (w *Warehouse) LoadItem(ctx context.Context, record Record, table string) error {
	columns, err := w.Columns(ctx, table)
	if err != nil {
		return err
	}

	fields := make(map[string]bool, len(record))
	for f := range record {
		fields[f] = true
	}
	cols := intersect(fields, columns)
	if len(cols) == 0 {
		return fmt.Errorf("record has no columns in common with table %q", table)
	}

	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = record[c]
	}

	sql := w.insertPrefix(table, cols) + placeholders(1, len(cols))
	return w.Exec(ctx, sql, args...)
}

// LoadItems inserts a batch of records with one multi-row statement,
// which is faster than LoadItem in a loop because it reduces the number
// of server round trips.
//
// The insertable column set is the table's columns intersected with the
// union of all records' fields; a record missing one of those fields
// inserts NULL for it.
func (w *Warehouse) LoadItems(ctx context.Context, records []Record, table string) error {
	if len(records) == 0 {
		return nil
	}
	columns, err := w.Columns(ctx, table)
	if err != nil {
		return err
	}

	fields := map[string]bool{}
	for _, r := range records {
		for f := range r {
			fields[f] = true
		}
	}
	cols := intersect(fields, columns)
	if len(cols) == 0 {
		return fmt.Errorf("records have no columns in common with table %q", table)
	}

	var sb strings.Builder
	sb.WriteString(w.insertPrefix(table, cols))
	args := make([]any, 0, len(records)*len(cols))
	for i, r := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(placeholders(len(args)+1, len(cols)))
		for _, c := range cols {
			args = append(args, r[c]) // absent field → nil → NULL
		}
	}

	return w.Exec(ctx, sb.String(), args...)
}

// DeleteItem deletes rows matching id, optionally further constrained by
// exact-match secondary filters. Filter values are always bound, never
// interpolated.
func (w *Warehouse) DeleteItem(ctx context.Context, table, id string, secondary Record) error {
	sql, args := w.whereClause("DELETE FROM "+w.qualified(table), id, secondary)
	return w.Exec(ctx, sql, args...)
}

// GetItem returns the first row matching id (and secondary filters) as a
// Record, or nil when no row matches.
func (w *Warehouse) GetItem(ctx context.Context, table, id string, secondary Record) (Record, error) {
	sql, args := w.whereClause("SELECT * FROM "+w.qualified(table), id, secondary)
	rows, err := w.db.Query(ctx, sql+" LIMIT 1", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	values, err := rows.Values()
	if err != nil {
		return nil, err
	}
	record := Record{}
	for i, fd := range rows.FieldDescriptions() {
		record[fd.Name] = values[i]
	}
	return record, rows.Err()
}

// whereClause appends "WHERE id = $1 AND k = $n ..." to a statement
// prefix, binding every value. Secondary keys are sorted so statements
// are deterministic.
func (w *Warehouse) whereClause(prefix, id string, secondary Record) (string, []any) {
	sql := prefix + " WHERE id = $1"
	args := []any{id}
	keys := make([]string, 0, len(secondary))
	for k := range secondary {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, secondary[k])
		sql += fmt.Sprintf(" AND %s = $%d", pgx.Identifier{k}.Sanitize(), len(args))
	}
	return sql, args
}

// UpdateColumn sets a single column's value for the row matching id.
func (w *Warehouse) UpdateColumn(ctx context.Context, table, id, column string, value any) error {
	sql := fmt.Sprintf("UPDATE %s SET %s = $1 WHERE id = $2",
		w.qualified(table), pgx.Identifier{column}.Sanitize())
	return w.Exec(ctx, sql, value, id)
}

// LastEventLoadDate returns the most recent load_datetime among events
// with a non-null start time. ok is false when no such event exists.
func (w *Warehouse) LastEventLoadDate(ctx context.Context) (last time.Time, ok bool, err error) {
	var max *time.Time
	err = w.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT max(load_datetime)
		FROM %s
		WHERE start_datetime IS NOT NULL
	`, w.qualified("events"))).Scan(&max)
	if err != nil || max == nil {
		return time.Time{}, false, err
	}
	return *max, true, nil
}
