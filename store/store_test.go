package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/etnz/backtest"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var january = backtest.NewRange(backtest.NewDate(2024, time.January, 1), backtest.NewDate(2024, time.January, 31))

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "postgres"), mock
}

// unused fails the test if the store reaches its next provider.
func unused(t *testing.T) backtest.Provider {
	return backtest.ProviderFunc(func(context.Context, []string, backtest.Range) (*backtest.MarketData, error) {
		assert.Fail(t, "next provider must not be called")
		return nil, errors.New("unexpected")
	})
}

func TestStore_Migrate(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS prices").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS dividends").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS coverage").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, New(db, nil).Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_MigrateError(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS prices").WillReturnError(errors.New("permission denied"))

	err := New(db, nil).Migrate(context.Background())
	assert.ErrorContains(t, err, "permission denied")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FetchCovered(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("SPY", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("FROM prices").
		WithArgs("SPY", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"day", "value"}).
			AddRow(time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC), "472.65").
			AddRow(time.Date(2024, time.January, 3, 0, 0, 0, 0, time.UTC), "468.79"))
	mock.ExpectQuery("FROM dividends").
		WillReturnRows(sqlmock.NewRows([]string{"day", "value"}).
			AddRow(time.Date(2024, time.January, 3, 0, 0, 0, 0, time.UTC), "1.90"))

	data, err := New(db, unused(t)).Fetch(context.Background(), []string{"SPY"}, january)
	require.NoError(t, err)

	p, ok := data.PriceOn("SPY", backtest.NewDate(2024, time.January, 3))
	require.True(t, ok)
	assert.True(t, p.Equal(backtest.M(468.79, "")))
	divs := data.DividendsIn("SPY", january)
	require.Len(t, divs, 1)
	assert.True(t, divs[0].PerShare.Equal(backtest.M(1.9, "")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FetchReadsThrough(t *testing.T) {
	db, mock := newMock(t)
	market := backtest.NewMarketData()
	market.AddPrice("SPY", backtest.NewDate(2024, time.January, 2), decimal.RequireFromString("472.65"))
	market.AddPrice("SPY", backtest.NewDate(2024, time.January, 3), decimal.RequireFromString("468.79"))
	market.AddDividend("SPY", backtest.NewDate(2024, time.January, 3), decimal.RequireFromString("1.90"))

	mock.ExpectQuery("SELECT EXISTS").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO prices").WithArgs("SPY", sqlmock.AnyArg(), sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO prices").WithArgs("SPY", sqlmock.AnyArg(), sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO dividends").WithArgs("SPY", sqlmock.AnyArg(), sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO coverage").WithArgs("SPY", sqlmock.AnyArg(), sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	data, err := New(db, backtest.StaticProvider{Data: market}).Fetch(context.Background(), []string{"SPY"}, january)
	require.NoError(t, err)
	assert.Len(t, data.TradingDays("SPY", january), 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SaveFailureDoesNotFailTheFetch(t *testing.T) {
	db, mock := newMock(t)
	market := backtest.NewMarketData()
	market.AddPrice("SPY", backtest.NewDate(2024, time.January, 2), decimal.RequireFromString("472.65"))

	mock.ExpectQuery("SELECT EXISTS").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin().WillReturnError(errors.New("connection reset"))

	data, err := New(db, backtest.StaticProvider{Data: market}).Fetch(context.Background(), []string{"SPY"}, january)
	require.NoError(t, err)
	assert.True(t, data.Has("SPY"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FetchWithoutNext(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("SELECT EXISTS").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := New(db, nil).Fetch(context.Background(), []string{"QQQ"}, january)
	require.Error(t, err)
	assert.ErrorIs(t, err, backtest.ErrDataUnavailable)
	var de *backtest.DataError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "QQQ", de.Symbol)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CoverageQueryError(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("SELECT EXISTS").WillReturnError(errors.New("relation \"coverage\" does not exist"))

	_, err := New(db, unused(t)).Fetch(context.Background(), []string{"SPY"}, january)
	assert.ErrorContains(t, err, "coverage")
	assert.NoError(t, mock.ExpectationsWereMet())
}
