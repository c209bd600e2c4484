package dataset

import (
	"fmt"
	"regexp"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func init() {
	// modernc registers as "sqlite", which sqlx does not know.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// SQLStore keeps labeled examples in a relational table
// (id, str, attack). Rows are served in id order.
type SQLStore struct {
	db     *sqlx.DB
	table  string
	logger *zap.Logger
}

// OpenSQLStore connects with driver "sqlite" or "postgres" and makes sure the
// examples table exists.
func OpenSQLStore(driver, dsn, table string, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if table == "" {
		table = "examples"
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	switch driver {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLStore{db: db, table: table, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	var schema string
	switch s.db.DriverName() {
	case "postgres":
		schema = `CREATE TABLE IF NOT EXISTS ` + s.table + ` (
			id BIGSERIAL PRIMARY KEY,
			str TEXT NOT NULL,
			attack SMALLINT NOT NULL CHECK (attack IN (0, 1))
		)`
	default:
		schema = `CREATE TABLE IF NOT EXISTS ` + s.table + ` (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			str TEXT NOT NULL,
			attack INTEGER NOT NULL CHECK (attack IN (0, 1))
		)`
	}
	_, err := s.db.Exec(schema)
	return err
}

// Load returns every stored example in insertion order.
func (s *SQLStore) Load() ([]LabeledExample, error) {
	var rows []Record
	if err := s.db.Select(&rows, `SELECT str, attack FROM `+s.table+` ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to select examples: %w", err)
	}
	out := make([]LabeledExample, 0, len(rows))
	for i, r := range rows {
		ex, err := r.Example()
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, ex)
	}
	s.logger.Debug("Loaded examples", zap.String("table", s.table), zap.Int("count", len(out)))
	return out, nil
}

// Save appends examples in order inside one transaction.
func (s *SQLStore) Save(examples []LabeledExample) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	query := tx.Rebind(`INSERT INTO ` + s.table + ` (str, attack) VALUES (?, ?)`)
	for _, ex := range examples {
		r := RecordOf(ex)
		if _, err := tx.Exec(query, r.Str, r.Attack); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert example: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit examples: %w", err)
	}
	s.logger.Info("Saved examples", zap.String("table", s.table), zap.Int("count", len(examples)))
	return nil
}

// Close releases the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
