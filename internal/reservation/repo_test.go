package reservation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/HaoranTong/inventory-engine/pkg/db/models"
	"github.com/HaoranTong/inventory-engine/pkg/enums"
)

func newTestRepo(t *testing.T) Repository {
	t.Helper()
	dsn := "file:reservation_repo_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.Reservation{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewRepository(conn)
}

func createActive(t *testing.T, repo Repository, skuID, referenceID string, expiresAt time.Time) *models.Reservation {
	t.Helper()
	reservation := &models.Reservation{
		SKUID:       skuID,
		Kind:        enums.ReservationKindCart,
		ReferenceID: referenceID,
		Qty:         1,
		ExpiresAt:   expiresAt,
	}
	if err := repo.Create(context.Background(), reservation); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return reservation
}

func TestCreateDefaultsToActive(t *testing.T) {
	repo := newTestRepo(t)
	reservation := createActive(t, repo, "sku-001", "cart-1", time.Now().Add(time.Hour))

	if reservation.ID == uuid.Nil {
		t.Fatal("expected generated id")
	}
	if reservation.Status != enums.ReservationStatusActive {
		t.Fatalf("expected active status, got %s", reservation.Status)
	}
}

func TestCASStatusSingleWinner(t *testing.T) {
	repo := newTestRepo(t)
	reservation := createActive(t, repo, "sku-001", "cart-1", time.Now().Add(time.Hour))

	won, err := repo.CASStatus(context.Background(), reservation.ID, enums.ReservationStatusActive, enums.ReservationStatusConsumed)
	if err != nil {
		t.Fatalf("CASStatus: %v", err)
	}
	if !won {
		t.Fatal("expected first transition to win")
	}

	// A competing transition from the same starting status must lose.
	won, err = repo.CASStatus(context.Background(), reservation.ID, enums.ReservationStatusActive, enums.ReservationStatusExpired)
	if err != nil {
		t.Fatalf("CASStatus second: %v", err)
	}
	if won {
		t.Fatal("expected second transition to lose")
	}

	loaded, err := repo.Find(context.Background(), reservation.ID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if loaded.Status != enums.ReservationStatusConsumed {
		t.Fatalf("expected consumed, got %s", loaded.Status)
	}
}

func TestFindExpiredOrdersByDeadline(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now().UTC()

	newest := createActive(t, repo, "sku-a", "cart-1", now.Add(-time.Minute))
	oldest := createActive(t, repo, "sku-b", "cart-2", now.Add(-time.Hour))
	createActive(t, repo, "sku-c", "cart-3", now.Add(time.Hour))

	expired, err := repo.FindExpired(context.Background(), now, 10)
	if err != nil {
		t.Fatalf("FindExpired: %v", err)
	}
	if len(expired) != 2 {
		t.Fatalf("expected 2 expired reservations, got %d", len(expired))
	}
	if expired[0].ID != oldest.ID || expired[1].ID != newest.ID {
		t.Fatal("expected oldest deadline first")
	}

	limited, err := repo.FindExpired(context.Background(), now, 1)
	if err != nil {
		t.Fatalf("FindExpired limited: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != oldest.ID {
		t.Fatalf("expected only the oldest, got %+v", limited)
	}
}

func TestFindExpiredSkipsTerminalRows(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now().UTC()

	reservation := createActive(t, repo, "sku-a", "cart-1", now.Add(-time.Hour))
	if _, err := repo.CASStatus(context.Background(), reservation.ID, enums.ReservationStatusActive, enums.ReservationStatusReleased); err != nil {
		t.Fatalf("CASStatus: %v", err)
	}

	expired, err := repo.FindExpired(context.Background(), now, 10)
	if err != nil {
		t.Fatalf("FindExpired: %v", err)
	}
	if len(expired) != 0 {
		t.Fatalf("expected no expired rows, got %d", len(expired))
	}
}

func TestUpdateExpiryRequiresActive(t *testing.T) {
	repo := newTestRepo(t)
	reservation := createActive(t, repo, "sku-001", "cart-1", time.Now().Add(time.Hour))

	if _, err := repo.CASStatus(context.Background(), reservation.ID, enums.ReservationStatusActive, enums.ReservationStatusExpired); err != nil {
		t.Fatalf("CASStatus: %v", err)
	}
	err := repo.UpdateExpiry(context.Background(), reservation.ID, time.Now().Add(2*time.Hour))
	if err != gorm.ErrRecordNotFound {
		t.Fatalf("expected gorm.ErrRecordNotFound, got %v", err)
	}
}
