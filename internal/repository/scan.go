package repository

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
