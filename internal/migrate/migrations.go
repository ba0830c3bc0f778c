package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
)

//go:embed sql/*.sql
var schemaFS embed.FS

// Revision filenames are NNNN_name.sql; the numeric prefix orders them and
// becomes the schema_version value once applied.
var revisionName = regexp.MustCompile(`^(\d+)_[a-z0-9_]+\.sql$`)

type revision struct {
	version int
	name    string
	stmts   string
}

func revisions() ([]revision, error) {
	entries, err := fs.ReadDir(schemaFS, "sql")
	if err != nil {
		return nil, err
	}
	var revs []revision
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := revisionName.FindStringSubmatch(e.Name())
		if m == nil {
			return nil, fmt.Errorf("unrecognized migration file %s", e.Name())
		}
		v, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("migration version %s: %w", e.Name(), err)
		}
		data, err := schemaFS.ReadFile("sql/" + e.Name())
		if err != nil {
			return nil, err
		}
		revs = append(revs, revision{version: v, name: e.Name(), stmts: string(data)})
	}
	sort.Slice(revs, func(i, j int) bool { return revs[i].version < revs[j].version })
	return revs, nil
}

// Migrate brings the schema up to the newest embedded revision. All pending
// revisions apply inside one transaction, so a failure leaves the schema at
// the previously recorded version. Running against an up-to-date database
// is a no-op.
func Migrate(db *sql.DB) error {
	revs, err := revisions()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	current, err := currentVersion(tx)
	if err != nil {
		return err
	}
	for _, r := range revs {
		if r.version <= current {
			continue
		}
		if _, err := tx.Exec(r.stmts); err != nil {
			return fmt.Errorf("apply %s: %w", r.name, err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version=?`, r.version); err != nil {
			return fmt.Errorf("record %s: %w", r.name, err)
		}
		current = r.version
	}
	return tx.Commit()
}

func currentVersion(tx *sql.Tx) (int, error) {
	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL)`); err != nil {
		return 0, fmt.Errorf("create schema_version: %w", err)
	}
	var v int
	err := tx.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&v)
	if err == sql.ErrNoRows {
		if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return 0, fmt.Errorf("init schema_version: %w", err)
		}
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	return v, nil
}
