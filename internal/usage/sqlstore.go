package usage

import (
	"context"
	"database/sql"
)

// SQLStore keeps usage in the provider_usage table.
type SQLStore struct{ db *sql.DB }

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

func (s *SQLStore) Record(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provider_usage(owner_id, date, operation, success) VALUES(?,?,?,?)`,
		r.OwnerID, r.Date, r.Operation, r.Success,
	)
	return err
}

func (s *SQLStore) CountSince(ctx context.Context, ownerID, fromDate string) (int, error) {
	var cnt int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM provider_usage WHERE owner_id=? AND date>=?`,
		ownerID, fromDate,
	).Scan(&cnt)
	return cnt, err
}

func (s *SQLStore) Daily(ctx context.Context, ownerID, fromDate string) ([]DayCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, COUNT(1) FROM provider_usage
WHERE owner_id=? AND date>=?
GROUP BY date
ORDER BY date DESC`, ownerID, fromDate,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DayCount
	for rows.Next() {
		var d DayCount
		if err := rows.Scan(&d.Date, &d.Requests); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLStore) Claim(ctx context.Context, fromOwner, toOwner string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE provider_usage SET owner_id=? WHERE owner_id=?`,
		toOwner, fromOwner,
	)
	return err
}
