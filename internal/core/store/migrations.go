package store

import (
	"database/sql"
	"strconv"

	"github.com/fenv-org/mementor/internal/core/merr"
)

// latestSchemaVersion tracks the schema via SQLite's user_version pragma. A
// fresh database applies schemaDDL and stamps this version directly; an
// existing database applies each numbered migration between its current
// version and this one.
const latestSchemaVersion = 2

// migrate applies schemaDDL to a fresh database, or any missing numbered
// migrations to an existing one, then stamps user_version. A failing step
// returns KindStorage immediately, and user_version is stamped only after
// every step succeeds. The steps run directly on the connection with no
// enclosing transaction, so a failure partway through does not roll back
// steps that already ran.
func (s *Store) migrate() error {
	var current int
	if err := s.db.QueryRow(`PRAGMA user_version`).Scan(&current); err != nil {
		return merr.Wrap(merr.KindStorage, "read schema version", err)
	}

	if current == 0 {
		if _, err := s.db.Exec(schemaDDL); err != nil {
			return merr.Wrap(merr.KindStorage, "apply schema snapshot", err)
		}
	} else if current < latestSchemaVersion {
		if err := s.applyIncremental(current); err != nil {
			return merr.Wrap(merr.KindStorage, "apply migrations", err)
		}
	}

	if current != latestSchemaVersion {
		if _, err := s.db.Exec("PRAGMA user_version = " + strconv.Itoa(latestSchemaVersion)); err != nil {
			return merr.Wrap(merr.KindStorage, "stamp schema version", err)
		}
	}

	return nil
}

// applyIncremental runs numbered migrations from > from up to
// latestSchemaVersion. Each migration checks sqlite_master/
// pragma_table_info before altering, so it is safe to re-run against a
// database that already has the column or table.
func (s *Store) applyIncremental(from int) error {
	if from < 2 {
		if err := s.migration002(); err != nil {
			return err
		}
	}
	return nil
}

// migration002 adds the session_access_vectors vec0 table (so
// find-related-sessions can go through a k-NN scan instead of an
// in-memory one), the sessions_ad trigger that keeps it from
// accumulating orphaned rows, and the chunks_ad trigger that does the
// same for chunk_vectors on a chunk delete or INSERT OR REPLACE.
func (s *Store) migration002() error {
	haveVectors, err := tableExists(s.db, "session_access_vectors")
	if err != nil {
		return err
	}
	if !haveVectors {
		if _, err := s.db.Exec(`
			CREATE VIRTUAL TABLE session_access_vectors USING vec0(
				embedding float[768] distance_metric=cosine
			)
		`); err != nil {
			return err
		}
	}

	haveSessionsTrigger, err := triggerExists(s.db, "sessions_ad")
	if err != nil {
		return err
	}
	if !haveSessionsTrigger {
		if _, err := s.db.Exec(`
			CREATE TRIGGER sessions_ad AFTER DELETE ON sessions BEGIN
				DELETE FROM session_access_vectors WHERE rowid = old.id;
			END
		`); err != nil {
			return err
		}
	}

	haveChunksTrigger, err := triggerExists(s.db, "chunks_ad")
	if err != nil {
		return err
	}
	if !haveChunksTrigger {
		if _, err := s.db.Exec(`
			CREATE TRIGGER chunks_ad AFTER DELETE ON chunks BEGIN
				DELETE FROM chunk_vectors WHERE rowid = old.id;
			END
		`); err != nil {
			return err
		}
	}

	return nil
}

// triggerExists reports whether name is a trigger in the current database.
func triggerExists(db *sql.DB, name string) (bool, error) {
	var got string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'trigger' AND name = ?`, name).Scan(&got)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return got == name, nil
}

// tableExists reports whether name is a table or virtual table in the
// current database.
func tableExists(db *sql.DB, name string) (bool, error) {
	var got string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type IN ('table','view') AND name = ?`, name).Scan(&got)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return got == name, nil
}

// columnExists reports whether table has a column named column.
func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
