package sqlstep

import (
	"context"
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipeframe/pipe"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Table: "users"}.withDefaults()

	assert.Equal(t, "id", cfg.PKField)
	assert.Equal(t, "data", cfg.DataField)
	assert.Equal(t, []string{"*"}, cfg.Columns)
	assert.NotNil(t, cfg.Placeholder)
}

func TestBuildSelect(t *testing.T) {
	t.Run("plain list", func(t *testing.T) {
		query, args, err := buildSelect(Config{Table: "users"}.withDefaults(), nil)
		require.NoError(t, err)
		assert.Equal(t, "SELECT * FROM users", query)
		assert.Empty(t, args)
	})

	t.Run("by pk", func(t *testing.T) {
		query, args, err := buildSelect(Config{Table: "users"}.withDefaults(), int64(7))
		require.NoError(t, err)
		assert.Equal(t, "SELECT * FROM users WHERE id = ?", query)
		assert.Equal(t, []any{int64(7)}, args)
	})

	t.Run("columns where and join", func(t *testing.T) {
		cfg := Config{
			Table:   "users",
			Columns: []string{"id", "name"},
			Where:   []Where{{Column: "age", Op: ">=", Value: 21}},
			Joins:   []Join{{Table: "accounts", On: "accounts.user_id = users.id"}},
		}.withDefaults()

		query, args, err := buildSelect(cfg, nil)
		require.NoError(t, err)
		assert.Equal(t,
			"SELECT id, name FROM users JOIN accounts ON accounts.user_id = users.id WHERE age >= ?",
			query)
		assert.Equal(t, []any{21}, args)
	})

	t.Run("dollar placeholders", func(t *testing.T) {
		cfg := Config{Table: "users", Placeholder: sq.Dollar}.withDefaults()
		query, _, err := buildSelect(cfg, 1)
		require.NoError(t, err)
		assert.Equal(t, "SELECT * FROM users WHERE id = $1", query)
	})
}

func TestBuildInsert(t *testing.T) {
	query, args, err := buildInsert(Config{Table: "users"}.withDefaults(), map[string]any{"name": "kate"})
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO users (name) VALUES (?)", query)
	assert.Equal(t, []any{"kate"}, args)
}

func TestBuildUpdate(t *testing.T) {
	t.Run("pk moves to predicate", func(t *testing.T) {
		query, args, err := buildUpdate(Config{Table: "users"}.withDefaults(),
			map[string]any{"id": 7, "name": "kate"})
		require.NoError(t, err)
		assert.Equal(t, "UPDATE users SET name = ? WHERE id = ?", query)
		assert.Equal(t, []any{"kate", 7}, args)
	})

	t.Run("missing pk rejected", func(t *testing.T) {
		_, _, err := buildUpdate(Config{Table: "users"}.withDefaults(), map[string]any{"name": "kate"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"id"`)
	})
}

func TestBuildDelete(t *testing.T) {
	t.Run("by pk", func(t *testing.T) {
		query, args, err := buildDelete(Config{Table: "users"}.withDefaults(), 7)
		require.NoError(t, err)
		assert.Equal(t, "DELETE FROM users WHERE id = ?", query)
		assert.Equal(t, []any{7}, args)
	})

	t.Run("where wins over pk", func(t *testing.T) {
		cfg := Config{Table: "users", Where: []Where{{Column: "age", Op: "<", Value: 18}}}.withDefaults()
		query, args, err := buildDelete(cfg, 7)
		require.NoError(t, err)
		assert.Equal(t, "DELETE FROM users WHERE age < ?", query)
		assert.Equal(t, []any{18}, args)
	})

	t.Run("neither pk nor where rejected", func(t *testing.T) {
		_, _, err := buildDelete(Config{Table: "users"}.withDefaults(), nil)
		require.Error(t, err)
	})
}

func TestLoaderValidation(t *testing.T) {
	// Validation runs before the step body, so a session is never touched
	// when the data field is absent.
	t.Run("insert requires data field", func(t *testing.T) {
		step := Insert("save", nil, Config{Table: "users"})

		_, err := step.Run(context.Background(), pipe.NewStore(nil))
		require.Error(t, err)

		var verr *pipe.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, pipe.Name("save"), verr.Step)
	})

	t.Run("insert resolves custom data field", func(t *testing.T) {
		step := Insert("save", nil, Config{Table: "users", DataField: "payload"})

		_, err := step.Run(context.Background(), pipe.NewStore(map[string]any{"data": map[string]any{}}))
		require.Error(t, err, "wrong key must fail validation")

		fields := step.(pipe.FieldReader).RequiredFields()
		assert.Contains(t, fields, "payload")
		assert.NotContains(t, fields, "+{data_field}")
	})

	t.Run("update rejects non-map payload", func(t *testing.T) {
		step := Update("save", nil, Config{Table: "users"})

		_, err := step.Run(context.Background(), pipe.NewStore(map[string]any{"data": "oops"}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "map[string]any")
	})
}
