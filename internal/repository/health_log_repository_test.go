package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"arbitrage-core/internal/domain"
)

func TestHealthLogRepositoryInsertHealthTransition(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	mock.ExpectExec(`INSERT INTO health_log`).
		WithArgs(domain.VenueA, domain.HealthDegraded, "latency above threshold", now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	repo := NewHealthLogRepository(db)
	err = repo.InsertHealthTransition(domain.VenueA, domain.HealthDegraded, "latency above threshold", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHealthLogRepositoryListRecent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"venue", "status", "reason", "at"}).
		AddRow(domain.VenueA, domain.HealthDegraded, "stale quotes", now)

	mock.ExpectQuery(`SELECT venue, status, reason, at FROM health_log WHERE venue = \$1 ORDER BY at DESC LIMIT \$2`).
		WithArgs(domain.VenueA, 10).
		WillReturnRows(rows)

	repo := NewHealthLogRepository(db)
	got, err := repo.ListRecent(context.Background(), domain.VenueA, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Reason != "stale quotes" {
		t.Fatalf("unexpected result: %+v", got)
	}
}
