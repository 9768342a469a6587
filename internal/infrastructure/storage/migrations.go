package storage

import (
	"database/sql"
	"fmt"
)

// Migration is a versioned schema change. DDL that differs between dialects
// is built from the helpers below.
type Migration struct {
	Version int
	Name    string
	Up      func(*sql.Tx, dialect) error
}

var allMigrations = []Migration{
	{
		Version: 1,
		Name:    "record_tables",
		Up:      migration001RecordTables,
	},
	{
		Version: 2,
		Name:    "link_ledger",
		Up:      migration002LinkLedger,
	},
	{
		Version: 3,
		Name:    "recon_runs",
		Up:      migration003ReconRuns,
	},
	{
		Version: 4,
		Name:    "unlinked_partial_indexes",
		Up:      migration004UnlinkedPartialIndexes,
	},
}

// runMigrations executes all pending migrations, each in its own
// transaction.
func (s *Storage) runMigrations() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	applied, err := s.appliedMigrations()
	if err != nil {
		return fmt.Errorf("read applied migrations: %w", err)
	}

	for _, m := range allMigrations {
		if applied[m.Version] {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if err := m.Up(tx, s.dialect); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}

		if _, err := tx.Exec(s.rebind(
			`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`,
		), m.Version, m.Name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func (s *Storage) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	return err
}

func (s *Storage) appliedMigrations() (map[int]bool, error) {
	applied := make(map[int]bool)

	rows, err := s.db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}

	return applied, rows.Err()
}

// ---- dialect DDL helpers ----

func (d dialect) serialPK() string {
	if d == dialectPostgres {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

func (d dialect) dateType() string {
	if d == dialectPostgres {
		return "DATE"
	}
	return "TEXT"
}

func (d dialect) moneyType() string {
	if d == dialectPostgres {
		return "NUMERIC(14,2)"
	}
	return "NUMERIC"
}

func (d dialect) boolFalse() string {
	if d == dialectPostgres {
		return "BOOLEAN NOT NULL DEFAULT FALSE"
	}
	return "BOOLEAN NOT NULL DEFAULT 0"
}

func (d dialect) falseLiteral() string {
	if d == dialectPostgres {
		return "FALSE"
	}
	return "0"
}

// ---- migrations ----

func migration001RecordTables(tx *sql.Tx, d dialect) error {
	queries := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS receipts (
			id %s,
			receipt_date %s,
			amount %s,
			vendor TEXT NOT NULL DEFAULT '',
			entry_source TEXT NOT NULL DEFAULT 'import',
			linked %s
		)`, d.serialPK(), d.dateType(), d.moneyType(), d.boolFalse()),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS banking_transactions (
			id %s,
			txn_date %s,
			debit %s NOT NULL DEFAULT 0,
			credit %s NOT NULL DEFAULT 0,
			description TEXT NOT NULL DEFAULT '',
			linked %s
		)`, d.serialPK(), d.dateType(), d.moneyType(), d.moneyType(), d.boolFalse()),

		`CREATE INDEX IF NOT EXISTS idx_receipts_date
		 ON receipts(receipt_date)`,

		`CREATE INDEX IF NOT EXISTS idx_banking_date
		 ON banking_transactions(txn_date)`,
	}

	for _, q := range queries {
		if _, err := tx.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// migration002LinkLedger creates the append-only link ledger. The UNIQUE
// constraints on receipt_id and banking_id are what make double-claiming
// impossible at the database level, whatever the matching code does.
func migration002LinkLedger(tx *sql.Tx, d dialect) error {
	queries := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS receipt_banking_links (
			id %s,
			receipt_id BIGINT NOT NULL UNIQUE,
			banking_id BIGINT NOT NULL UNIQUE,
			confidence DOUBLE PRECISION NOT NULL,
			method TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`, d.serialPK()),

		`CREATE INDEX IF NOT EXISTS idx_links_created
		 ON receipt_banking_links(created_at DESC)`,
	}

	for _, q := range queries {
		if _, err := tx.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func migration003ReconRuns(tx *sql.Tx, d dialect) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS recon_runs (
		id %s,
		direction TEXT NOT NULL,
		date_start %s,
		date_end %s,
		dry_run %s,
		started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP,
		sources_found INTEGER NOT NULL DEFAULT 0,
		linked INTEGER NOT NULL DEFAULT 0,
		created INTEGER NOT NULL DEFAULT 0,
		deferred INTEGER NOT NULL DEFAULT 0,
		errored INTEGER NOT NULL DEFAULT 0,
		skipped_existing INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'running'
	)`, d.serialPK(), d.dateType(), d.dateType(), d.boolFalse())

	_, err := tx.Exec(query)
	return err
}

func migration004UnlinkedPartialIndexes(tx *sql.Tx, d dialect) error {
	queries := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_receipts_unlinked
		 ON receipts(receipt_date) WHERE linked = %s`, d.falseLiteral()),

		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_banking_unlinked
		 ON banking_transactions(txn_date) WHERE linked = %s`, d.falseLiteral()),
	}

	for _, q := range queries {
		if _, err := tx.Exec(q); err != nil {
			return err
		}
	}
	return nil
}
