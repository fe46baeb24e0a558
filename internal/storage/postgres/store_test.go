package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock, "", "")
	require.NoError(t, err)
	return store, mock
}

// TestUpsertListingWritesOneStatement verifies the upsert is a single keyed statement.
func TestUpsertListingWritesOneStatement(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	price := 12500.0
	now := time.Unix(1700000000, 0).UTC()
	listing := crawler.Listing{
		URL:        "https://example.com/item/1",
		SourceID:   3,
		SourceName: "cars",
		Title:      "2019 Civic",
		Price:      &price,
		Currency:   "USD",
		Attributes: map[string]string{"mileage": "42000"},
		Photos:     []string{"https://example.com/a.jpg"},
		ScrapedAt:  now,
	}

	mock.ExpectExec("(?s)INSERT INTO listings .* ON CONFLICT \\(url\\) DO UPDATE").
		WithArgs(
			listing.URL,
			listing.SourceID,
			listing.SourceName,
			listing.Title,
			listing.Price,
			listing.Currency,
			"",
			"",
			[]byte(`{"mileage":"42000"}`),
			[]byte(`["https://example.com/a.jpg"]`),
			now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertListing(context.Background(), listing))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertListingWrapsErrors(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO listings").WillReturnError(errors.New("connection refused"))

	err := store.UpsertListing(context.Background(), crawler.Listing{URL: "https://example.com/x", Title: "x"})
	require.ErrorContains(t, err, "upsert listing: connection refused")
	require.Error(t, store.UpsertListing(context.Background(), crawler.Listing{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSourceReturnsStoredRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("(?s)INSERT INTO sources .* RETURNING id, active").
		WithArgs("cars", "Cars", "https://cars.example").
		WillReturnRows(pgxmock.NewRows([]string{"id", "active"}).AddRow(int64(7), false))

	src, err := store.EnsureSource(context.Background(), crawler.Source{
		Name:        "cars",
		DisplayName: "Cars",
		BaseURL:     "https://cars.example",
		Active:      true,
	})
	require.NoError(t, err)
	require.EqualValues(t, 7, src.ID)
	require.False(t, src.Active)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetSourceActive(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE sources SET active").
		WithArgs("cars", false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE sources SET active").
		WithArgs("planes", true).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.SetSourceActive(context.Background(), "cars", false))
	err := store.SetSourceActive(context.Background(), "planes", true)
	require.ErrorIs(t, err, crawler.ErrSourceNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListSources(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, name, display_name, base_url, active FROM sources").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "display_name", "base_url", "active"}).
			AddRow(int64(1), "cars", "Cars", "https://cars.example", true).
			AddRow(int64(2), "boats", "", "", false))

	sources, err := store.ListSources(context.Background())
	require.NoError(t, err)
	require.Equal(t, []crawler.Source{
		{ID: 1, Name: "cars", DisplayName: "Cars", BaseURL: "https://cars.example", Active: true},
		{ID: 2, Name: "boats"},
	}, sources)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateAndTableValidation(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS sources").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())

	_, err := NewWithPool(mock, "listings; DROP", "")
	require.Error(t, err)
	_, err = NewWithPool(nil, "", "")
	require.Error(t, err)
	_, err = New(context.Background(), Config{})
	require.Error(t, err)
}
