package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"mejaku/backend/internal/domain"
	"mejaku/backend/internal/store"
)

func TestCreateBillEnforcesOnePerSession(t *testing.T) {
	s := New()
	ctx := context.Background()

	first := domain.Bill{ID: "bill-1", BillNumber: "BILL-000001", SessionID: "dsn-1", CreatedAt: time.Now().UTC()}
	if _, err := s.CreateBill(ctx, first); err != nil {
		t.Fatalf("first bill failed: %v", err)
	}

	dup := domain.Bill{ID: "bill-2", BillNumber: "BILL-000002", SessionID: "dsn-1"}
	if _, err := s.CreateBill(ctx, dup); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for second session bill, got %v", err)
	}
}

func TestCreateBillEnforcesOnePerOrder(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.CreateBill(ctx, domain.Bill{ID: "bill-1", BillNumber: "BILL-000001", OrderID: "ord-1"}); err != nil {
		t.Fatalf("first bill failed: %v", err)
	}
	if _, err := s.CreateBill(ctx, domain.Bill{ID: "bill-2", BillNumber: "BILL-000002", OrderID: "ord-1"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for second order bill, got %v", err)
	}
}

func TestDeleteBillReleasesScope(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.CreateBill(ctx, domain.Bill{ID: "bill-1", BillNumber: "BILL-000001", SessionID: "dsn-1"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := s.DeleteBill(ctx, "bill-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	// The compensation path frees the scope for a retry.
	if _, err := s.CreateBill(ctx, domain.Bill{ID: "bill-2", BillNumber: "BILL-000002", SessionID: "dsn-1"}); err != nil {
		t.Fatalf("expected retry to succeed after delete, got %v", err)
	}
}

func TestRoleNormalizedOnRead(t *testing.T) {
	s := NewSeeded()

	user, err := s.GetUserByID(context.Background(), "user-kitchen")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	// Stored with a legacy role name, surfaced canonical.
	if user.Role != domain.RoleKitchen {
		t.Fatalf("expected KITCHEN, got %q", user.Role)
	}
}

func TestListOrdersBySessionFiltersBilled(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i, billed := range []bool{false, true, false} {
		order := domain.Order{
			ID:        "ord-" + string(rune('a'+i)),
			SessionID: "dsn-1",
			Status:    domain.OrderStatusPending,
			Billed:    billed,
			Items:     []domain.OrderItem{{MenuItemID: "item-esteh", Qty: 1, UnitPriceCents: 8000}},
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		if _, err := s.CreateOrder(ctx, order); err != nil {
			t.Fatalf("seed order failed: %v", err)
		}
	}

	all, err := s.ListOrdersBySession(ctx, "dsn-1", false)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(all))
	}

	unbilled, err := s.ListOrdersBySession(ctx, "dsn-1", true)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(unbilled) != 2 {
		t.Fatalf("expected 2 unbilled orders, got %d", len(unbilled))
	}
	if !unbilled[0].CreatedAt.Before(unbilled[1].CreatedAt) {
		t.Fatalf("expected oldest-first ordering")
	}
}

func TestMarkOrdersBilledRequiresAllPresent(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.CreateOrder(ctx, domain.Order{
		ID:     "ord-1",
		Status: domain.OrderStatusPending,
		Items:  []domain.OrderItem{{MenuItemID: "item-esteh", Qty: 1, UnitPriceCents: 8000}},
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if err := s.MarkOrdersBilled(ctx, []string{"ord-1", "ord-missing"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for partial set, got %v", err)
	}
	if err := s.MarkOrdersBilled(ctx, []string{"ord-1"}); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	order, err := s.GetOrderByID(ctx, "ord-1")
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if !order.Billed {
		t.Fatalf("expected billed flag set")
	}
}

func TestNextBillSequenceIncrements(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, err := s.NextBillSequence(ctx)
	if err != nil {
		t.Fatalf("sequence failed: %v", err)
	}
	second, err := s.NextBillSequence(ctx)
	if err != nil {
		t.Fatalf("sequence failed: %v", err)
	}
	if second != first+1 {
		t.Fatalf("expected monotonic sequence, got %d then %d", first, second)
	}
}
