package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/promo-price-index/internal/core/domain"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return db, mock, func() { _ = db.Close() }
}

func TestEnsureSchemaTakesAdvisoryLock(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(schemaLockID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS stores").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListSnapshotsFiltersByCityAndWindow(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	from := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"product_id", "store_id", "observed_on", "price"}).
		AddRow("p1", "s1", time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC), 11.5).
		AddRow("p2", "s1", time.Date(2026, time.March, 3, 0, 0, 0, 0, time.UTC), 4.99)

	mock.ExpectQuery("FROM price_snapshots s\\s+JOIN stores st").
		WithArgs("recife", from, to).
		WillReturnRows(rows)

	snapshots, err := NewSnapshotRepository(db).ListSnapshots(context.Background(), "recife", from, to)
	if err != nil {
		t.Fatalf("ListSnapshots() error = %v", err)
	}
	if len(snapshots) != 2 || snapshots[1].ProductID != "p2" || snapshots[1].Price != 4.99 || snapshots[1].DayKey() != "2026-03-03" {
		t.Fatalf("unexpected snapshots: %+v", snapshots)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveSnapshotsRollsBackOnError(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	snapshots := []domain.PriceSnapshot{
		{ProductID: "p1", StoreID: "s1", Date: time.Date(2026, time.March, 2, 15, 0, 0, 0, time.UTC), Price: 11.5},
		{ProductID: "p2", StoreID: "s1", Date: time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC), Price: 4.99},
	}
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO price_snapshots").
		WithArgs("p1", "s1", "2026-03-02", 11.5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO price_snapshots").
		WithArgs("p2", "s1", "2026-03-02", 4.99).
		WillReturnError(errors.New("fk violation"))
	mock.ExpectRollback()

	if err := NewSnapshotRepository(db).SaveSnapshots(context.Background(), snapshots); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveStoresCommits(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO stores").
		WithArgs("s1", "Atacadão Boa Viagem", "recife").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := NewSnapshotRepository(db).SaveStores(context.Background(), []domain.Store{{ID: "s1", Name: "Atacadão Boa Viagem", City: "recife"}})
	if err != nil {
		t.Fatalf("SaveStores() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListProductsMapsNullReferencePrice(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	rows := sqlmock.NewRows([]string{"id", "name", "category_id", "reference_price"}).
		AddRow("p1", "Arroz 5kg", "cat_alimentos", 20.0).
		AddRow("p2", "Detergente 500ml", "cat_limpeza", nil)
	mock.ExpectQuery("FROM products").WillReturnRows(rows)

	products, err := NewProductRepository(db).ListProducts(context.Background())
	if err != nil {
		t.Fatalf("ListProducts() error = %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(products))
	}
	if products[0].ReferencePrice == nil || *products[0].ReferencePrice != 20 {
		t.Fatalf("unexpected reference price: %v", products[0].ReferencePrice)
	}
	if products[1].ReferencePrice != nil || products[1].HasReferencePrice() {
		t.Fatalf("expected missing reference price for p2")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetIndexResultReturnsDomainNotFound(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	mock.ExpectQuery("FROM index_results").
		WithArgs("recife", "2026-02").
		WillReturnError(sql.ErrNoRows)

	_, err := NewIndexRepository(db).GetIndexResult(context.Background(), "recife", "2026-02")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestIndexResultRoundTripsThroughPayload(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	mom := 1.25
	result := &domain.IndexResult{
		ID:             "idx-1",
		City:           "recife",
		Period:         "2026-03",
		IndexValue:     101.25,
		QualityScore:   72,
		MonthOverMonth: &mom,
		ComputedAt:     time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC),
	}
	payload, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	mock.ExpectExec("INSERT INTO index_results").
		WithArgs("idx-1", "recife", "2026-03", 101.25, 72, sqlmock.AnyArg(), result.ComputedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM index_results").
		WithArgs("recife", "2026-03").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))

	repo := NewIndexRepository(db)
	if err := repo.SaveIndexResult(context.Background(), result); err != nil {
		t.Fatalf("SaveIndexResult() error = %v", err)
	}
	got, err := repo.GetIndexResult(context.Background(), "recife", "2026-03")
	if err != nil {
		t.Fatalf("GetIndexResult() error = %v", err)
	}
	if got.IndexValue != 101.25 || got.MonthOverMonth == nil || *got.MonthOverMonth != 1.25 || got.YearOverYear != nil {
		t.Fatalf("unexpected result: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetImportReturnsDomainNotFound(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	mock.ExpectQuery("FROM flyer_imports").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := NewImportRepository(db).GetImport(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetImportDecodesConsensus(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	createdAt := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	consensus := `{"products":[{"name":"Arroz 5kg","normalized_name":"arroz 5kg","price":22.9,"unit":null,"validity":null,"agreement_count":3,"agreement":1,"low_agreement":false,"supporting_passes":[0,1,2],"disagreeing_passes":[],"prices":[22.9,22.9,22.9]}],"insufficient_data":false,"total_passes":3,"successful_passes":3}`
	rows := sqlmock.NewRows([]string{"id", "filename", "mime_type", "storage_path", "pass_count", "consensus", "created_at"}).
		AddRow("imp-1", "flyer.pdf", "application/pdf", "imp-1_flyer.pdf", 3, []byte(consensus), createdAt)
	mock.ExpectQuery("FROM flyer_imports").
		WithArgs("imp-1").
		WillReturnRows(rows)

	got, err := NewImportRepository(db).GetImport(context.Background(), "imp-1")
	if err != nil {
		t.Fatalf("GetImport() error = %v", err)
	}
	if got.PassCount != 3 || len(got.Consensus.Products) != 1 || got.Consensus.Products[0].AgreementCount != 3 {
		t.Fatalf("unexpected import: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
