// Package sqlstep provides database-backed steps for pipe: extractors that
// select rows into the store and loaders that insert, update or delete rows
// from it.
//
// Queries are built with squirrel and executed through an explicitly
// managed Session. The session is acquired by the caller and released by
// the caller; steps never open or close connections behind the scenes.
//
// Example:
//
//	sess, err := sqlstep.Open("postgres", dsn)
//	if err != nil { ... }
//	defer sess.Close()
//
//	users := sqlstep.Select("users", sess, sqlstep.Config{Table: "users"}, nil)
//	save := sqlstep.Insert("save-user", sess, sqlstep.Config{Table: "users"})
package sqlstep

import (
	"context"
	"fmt"
	"maps"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/pipeframe/pipe"
)

// Store keys written by the loader steps.
const (
	// KeyInsertedID holds the id returned by an Insert step.
	KeyInsertedID = "inserted_id"
	// KeyAffected holds the row count returned by Update and Delete steps.
	KeyAffected = "affected"
)

// Where is a single comparison predicate.
type Where struct {
	Column string
	Op     string
	Value  any
}

// Join describes a join clause.
type Join struct {
	Table string
	On    string
}

// Config binds a step to a table and shapes its queries.
type Config struct {
	// Table is the table the step operates on. Required.
	Table string
	// PKField is the primary key column. Defaults to "id".
	PKField string
	// DataField is the store key rows are read from (loaders) or written to
	// (extractors). Defaults to "data".
	DataField string
	// Columns restricts selected columns. Defaults to "*".
	Columns []string
	// Where adds predicates to Select, Update and Delete queries.
	Where []Where
	// Joins adds join clauses to Select queries.
	Joins []Join
	// Placeholder selects the bind-parameter style. Defaults to question
	// marks; use sq.Dollar for PostgreSQL.
	Placeholder sq.PlaceholderFormat
}

func (c Config) withDefaults() Config {
	if c.PKField == "" {
		c.PKField = "id"
	}
	if c.DataField == "" {
		c.DataField = "data"
	}
	if len(c.Columns) == 0 {
		c.Columns = []string{"*"}
	}
	if c.Placeholder == nil {
		c.Placeholder = sq.Question
	}
	return c
}

// Session wraps a database handle with an explicit lifecycle: the caller
// opens it, passes it to steps, and closes it when the pipes using it are
// done. Nothing here is lazily created.
type Session struct {
	db *sqlx.DB
}

// Open connects to the database and verifies the connection.
func Open(driver, dsn string) (*Session, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstep: open %s: %w", driver, err)
	}
	return &Session{db: db}, nil
}

// NewSession wraps an existing handle. The caller keeps ownership.
func NewSession(db *sqlx.DB) *Session {
	return &Session{db: db}
}

// DB exposes the underlying handle for steps with needs beyond the built-in
// query shapes.
func (s *Session) DB() *sqlx.DB {
	return s.db
}

// Close releases the underlying handle.
func (s *Session) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// buildSelect renders the SELECT for cfg, optionally narrowed to one pk.
func buildSelect(cfg Config, pk any) (string, []any, error) {
	q := sq.Select(cfg.Columns...).From(cfg.Table).PlaceholderFormat(cfg.Placeholder)
	for _, j := range cfg.Joins {
		q = q.Join(fmt.Sprintf("%s ON %s", j.Table, j.On))
	}
	for _, w := range cfg.Where {
		q = q.Where(fmt.Sprintf("%s %s ?", w.Column, w.Op), w.Value)
	}
	if pk != nil {
		q = q.Where(sq.Eq{cfg.PKField: pk})
	}
	return q.ToSql()
}

// buildInsert renders the INSERT for one row.
func buildInsert(cfg Config, row map[string]any) (string, []any, error) {
	return sq.Insert(cfg.Table).
		PlaceholderFormat(cfg.Placeholder).
		SetMap(row).
		ToSql()
}

// buildUpdate renders the UPDATE for one row keyed by cfg.PKField. The pk
// column is stripped from the SET list and used as the predicate.
func buildUpdate(cfg Config, row map[string]any) (string, []any, error) {
	pk, ok := row[cfg.PKField]
	if !ok {
		return "", nil, fmt.Errorf("sqlstep: update row missing pk field %q", cfg.PKField)
	}
	values := make(map[string]any, len(row))
	maps.Copy(values, row)
	delete(values, cfg.PKField)

	q := sq.Update(cfg.Table).
		PlaceholderFormat(cfg.Placeholder).
		SetMap(values).
		Where(sq.Eq{cfg.PKField: pk})
	for _, w := range cfg.Where {
		q = q.Where(fmt.Sprintf("%s %s ?", w.Column, w.Op), w.Value)
	}
	return q.ToSql()
}

// buildDelete renders the DELETE. Configured predicates win over the pk;
// with no predicates the pk is required.
func buildDelete(cfg Config, pk any) (string, []any, error) {
	q := sq.Delete(cfg.Table).PlaceholderFormat(cfg.Placeholder)
	if len(cfg.Where) > 0 {
		for _, w := range cfg.Where {
			q = q.Where(fmt.Sprintf("%s %s ?", w.Column, w.Op), w.Value)
		}
		return q.ToSql()
	}
	if pk == nil {
		return "", nil, fmt.Errorf("sqlstep: delete needs a pk or a where clause")
	}
	return q.Where(sq.Eq{cfg.PKField: pk}).ToSql()
}

// rowData extracts the loader payload from the store.
func rowData(store pipe.Store, field string) (map[string]any, error) {
	value := store.Value(field)
	row, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("sqlstep: store key %q holds %T, want map[string]any", field, value)
	}
	return row, nil
}

// Select creates an extractor that reads rows from cfg.Table into the store
// under cfg.DataField. With a non-nil pk the result is a single row map;
// otherwise it is a slice of row maps filtered by cfg.Where.
func Select(name pipe.Name, sess *Session, cfg Config, pk any) pipe.Step {
	cfg = cfg.withDefaults()
	return pipe.Extract(name, func(ctx context.Context, store pipe.Store) (pipe.Store, error) {
		query, args, err := buildSelect(cfg, pk)
		if err != nil {
			return store, err
		}

		if pk != nil {
			row := map[string]any{}
			if err := sess.db.QueryRowxContext(ctx, query, args...).MapScan(row); err != nil {
				return store, fmt.Errorf("sqlstep: select %s: %w", cfg.Table, err)
			}
			return store.With(cfg.DataField, row), nil
		}

		rows, err := sess.db.QueryxContext(ctx, query, args...)
		if err != nil {
			return store, fmt.Errorf("sqlstep: select %s: %w", cfg.Table, err)
		}
		defer rows.Close() //nolint:errcheck

		var result []map[string]any
		for rows.Next() {
			row := map[string]any{}
			if err := rows.MapScan(row); err != nil {
				return store, fmt.Errorf("sqlstep: scan %s: %w", cfg.Table, err)
			}
			result = append(result, row)
		}
		if err := rows.Err(); err != nil {
			return store, fmt.Errorf("sqlstep: select %s: %w", cfg.Table, err)
		}
		return store.With(cfg.DataField, result), nil
	}, pipe.WithField("table", cfg.Table))
}

// Insert creates a loader that inserts the row held under cfg.DataField and
// records the driver-reported id under KeyInsertedID. The data field is
// validated as required before the step body runs.
func Insert(name pipe.Name, sess *Session, cfg Config) pipe.Step {
	cfg = cfg.withDefaults()
	return pipe.Load(name, func(ctx context.Context, store pipe.Store) (pipe.Store, error) {
		row, err := rowData(store, cfg.DataField)
		if err != nil {
			return store, err
		}
		query, args, err := buildInsert(cfg, row)
		if err != nil {
			return store, err
		}
		res, err := sess.db.ExecContext(ctx, query, args...)
		if err != nil {
			return store, fmt.Errorf("sqlstep: insert %s: %w", cfg.Table, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			// Drivers without LastInsertId support still performed the
			// insert; record the absence rather than failing the load.
			return store.With(KeyInsertedID, nil), nil
		}
		return store.With(KeyInsertedID, id), nil
	},
		pipe.WithField("data_field", cfg.DataField),
		pipe.WithRequiredFields(pipe.Fields{"+{data_field}": ""}),
	)
}

// Update creates a loader that updates the row held under cfg.DataField,
// keyed by cfg.PKField, and records the affected row count under
// KeyAffected.
func Update(name pipe.Name, sess *Session, cfg Config) pipe.Step {
	cfg = cfg.withDefaults()
	return pipe.Load(name, func(ctx context.Context, store pipe.Store) (pipe.Store, error) {
		row, err := rowData(store, cfg.DataField)
		if err != nil {
			return store, err
		}
		query, args, err := buildUpdate(cfg, row)
		if err != nil {
			return store, err
		}
		res, err := sess.db.ExecContext(ctx, query, args...)
		if err != nil {
			return store, fmt.Errorf("sqlstep: update %s: %w", cfg.Table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return store.With(KeyAffected, nil), nil
		}
		return store.With(KeyAffected, n), nil
	},
		pipe.WithField("data_field", cfg.DataField),
		pipe.WithRequiredFields(pipe.Fields{"+{data_field}": ""}),
	)
}

// Delete creates a loader that deletes by pk, or by cfg.Where when
// predicates are configured, recording the affected row count under
// KeyAffected.
func Delete(name pipe.Name, sess *Session, cfg Config, pk any) pipe.Step {
	cfg = cfg.withDefaults()
	return pipe.Load(name, func(ctx context.Context, store pipe.Store) (pipe.Store, error) {
		query, args, err := buildDelete(cfg, pk)
		if err != nil {
			return store, err
		}
		res, err := sess.db.ExecContext(ctx, query, args...)
		if err != nil {
			return store, fmt.Errorf("sqlstep: delete %s: %w", cfg.Table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return store.With(KeyAffected, nil), nil
		}
		return store.With(KeyAffected, n), nil
	})
}
