package usage

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(db), mock
}

func TestSQLStoreRecord(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO provider_usage(owner_id, date, operation, success)`)).
		WithArgs("u1", "2024-06-01", OpAnalyze, true).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := st.Record(context.Background(), Record{OwnerID: "u1", Date: "2024-06-01", Operation: OpAnalyze, Success: true})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreCountSince(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(1) FROM provider_usage WHERE owner_id=? AND date>=?`)).
		WithArgs("u1", "2024-06-01").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	n, err := st.CountSince(context.Background(), "u1", "2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, 42, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreDaily(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT date, COUNT(1) FROM provider_usage`)).
		WithArgs("u1", "2024-06-01").
		WillReturnRows(sqlmock.NewRows([]string{"date", "count"}).
			AddRow("2024-06-03", 5).
			AddRow("2024-06-01", 2))

	days, err := st.Daily(context.Background(), "u1", "2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, []DayCount{{Date: "2024-06-03", Requests: 5}, {Date: "2024-06-01", Requests: 2}}, days)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreClaim(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE provider_usage SET owner_id=? WHERE owner_id=?`)).
		WithArgs("u1", "anon-1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, st.Claim(context.Background(), "anon-1", "u1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
