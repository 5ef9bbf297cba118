package storage

import "database/sql"

// migrateV002 indexes kv.updated_at, which status reads as last activity.
func migrateV002(tx *sql.Tx) error {
	_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_kv_updated_at ON kv(updated_at)`)
	return err
}
