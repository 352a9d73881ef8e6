package alias

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// SQLStore persists aliases in a MariaDB/MySQL ("mysql") or SQLite
// ("sqlite") database. Save keeps the table a bijection.
type SQLStore struct {
	db     *sql.DB
	driver string
}

func OpenSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	switch driver {
	case "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported alias store driver: %s", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize alias schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS cfg_alias (
		alias_name VARCHAR(255) NOT NULL PRIMARY KEY,
		address VARCHAR(64) NOT NULL UNIQUE
	)`)
	return err
}

// Load returns every stored alias ordered by name.
func (s *SQLStore) Load(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT alias_name, address FROM cfg_alias ORDER BY alias_name ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Name, &e.Address); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Save stores name -> address, replacing any row that shares either value.
func (s *SQLStore) Save(ctx context.Context, name, address string) error {
	name = NormalizeName(name)
	if name == "" {
		return ErrEmptyName
	}
	if address == "" {
		return ErrEmptyAddress
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM cfg_alias WHERE alias_name = ? OR address = ?", name, address); err != nil {
		return fmt.Errorf("failed to clear stale aliases: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO cfg_alias (alias_name, address) VALUES (?, ?)", name, address); err != nil {
		return fmt.Errorf("failed to insert alias %q: %w", name, err)
	}
	return tx.Commit()
}

// Delete removes the alias bound to address.
func (s *SQLStore) Delete(ctx context.Context, address string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM cfg_alias WHERE address = ?", address)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
