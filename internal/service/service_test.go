package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"mejaku/backend/internal/domain"
	"mejaku/backend/internal/store"
	"mejaku/backend/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	svc := New(repo, nil, nil, 30*time.Second, 120*time.Second)
	return svc, repo
}

func staffContext() context.Context {
	return WithActor(context.Background(), domain.Actor{
		UserID: "user-staff",
		Role:   domain.RoleStaff,
		Source: "token",
	})
}

func adminContext() context.Context {
	return WithActor(context.Background(), domain.Actor{
		UserID: "user-admin",
		Role:   domain.RoleAdmin,
		Source: "token",
	})
}

func kitchenContext() context.Context {
	return WithActor(context.Background(), domain.Actor{
		UserID: "user-kitchen",
		Role:   domain.RoleKitchen,
		Source: "token",
	})
}

func guestContext() context.Context {
	return WithActor(context.Background(), domain.Actor{
		Role:   domain.RoleOutsider,
		Source: "anonymous",
	})
}

func checkinGuest(t *testing.T, svc *Service, phone string) domain.DiningSession {
	t.Helper()
	resp, err := svc.Checkin(guestContext(), domain.CheckinRequest{
		GuestName:  "Budi",
		GuestPhone: phone,
		TableName:  "T1",
		GuestCount: 2,
	})
	if err != nil {
		t.Fatalf("checkin failed: %v", err)
	}
	return resp.Session
}

func placeSessionOrder(t *testing.T, svc *Service, sessionID string, items []domain.OrderItemInput) domain.Order {
	t.Helper()
	resp, err := svc.PlaceOrder(guestContext(), domain.PlaceOrderRequest{
		SessionID: sessionID,
		Items:     items,
	})
	if err != nil {
		t.Fatalf("place order failed: %v", err)
	}
	return resp.Order
}

func TestMenuReturnsAllSections(t *testing.T) {
	svc, _ := newTestService()

	view, err := svc.Menu(context.Background())
	if err != nil {
		t.Fatalf("menu failed: %v", err)
	}
	if len(view.Categories) == 0 || len(view.Items) == 0 || len(view.Specials) == 0 {
		t.Fatalf("expected seeded menu sections, got %d/%d/%d", len(view.Categories), len(view.Items), len(view.Specials))
	}
}

func TestCheckinReturnsExistingSessionForSamePhone(t *testing.T) {
	svc, _ := newTestService()

	first := checkinGuest(t, svc, "0811999001")
	second := checkinGuest(t, svc, "0811999001")
	if first.ID != second.ID {
		t.Fatalf("expected repeat checkin to reuse session %s, got %s", first.ID, second.ID)
	}
}

func TestCheckinRequiresTable(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Checkin(guestContext(), domain.CheckinRequest{
		GuestName:  "Budi",
		GuestPhone: "0811999002",
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestPlaceOrderPricesFromMenu(t *testing.T) {
	svc, _ := newTestService()
	session := checkinGuest(t, svc, "0811999003")

	order := placeSessionOrder(t, svc, session.ID, []domain.OrderItemInput{
		{MenuItemID: "item-nasigoreng", Qty: 2},
		{MenuItemID: "item-esteh", Qty: 1},
	})

	if order.TotalCents != 2*32000+8000 {
		t.Fatalf("expected server-side pricing, got total %d", order.TotalCents)
	}
	if order.TableName != "T1" {
		t.Fatalf("expected table name from session, got %q", order.TableName)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending status, got %q", order.Status)
	}
}

func TestPlaceOrderNamesUnavailableItem(t *testing.T) {
	svc, repo := newTestService()
	session := checkinGuest(t, svc, "0811999004")

	items, err := repo.GetMenuItemsByIDs(context.Background(), []string{"item-ayambakar"})
	if err != nil {
		t.Fatalf("menu lookup failed: %v", err)
	}
	item := items["item-ayambakar"]
	item.Available = false
	if _, err := repo.UpdateMenuItem(context.Background(), item); err != nil {
		t.Fatalf("update item failed: %v", err)
	}

	_, err = svc.PlaceOrder(guestContext(), domain.PlaceOrderRequest{
		SessionID: session.ID,
		Items:     []domain.OrderItemInput{{MenuItemID: "item-ayambakar", Qty: 1}},
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if !strings.Contains(err.Error(), "Ayam Bakar") {
		t.Fatalf("expected error to name the unavailable item, got %q", err.Error())
	}
}

func seedOrderAt(t *testing.T, repo *memory.Store, userID string, createdAt time.Time) domain.Order {
	t.Helper()
	order, err := repo.CreateOrder(context.Background(), domain.Order{
		ID:         "ord-test-" + createdAt.Format("150405.000000000"),
		UserID:     userID,
		Status:     domain.OrderStatusPending,
		TotalCents: 8000,
		CreatedAt:  createdAt,
		Items:      []domain.OrderItem{{MenuItemID: "item-esteh", Qty: 1, UnitPriceCents: 8000}},
	})
	if err != nil {
		t.Fatalf("seed order failed: %v", err)
	}
	return *order
}

func TestUpdateOrderInsideWindowRecomputesTotal(t *testing.T) {
	svc, repo := newTestService()
	order := seedOrderAt(t, repo, "user-staff", time.Now().UTC().Add(-119*time.Second))

	resp, err := svc.UpdateOrder(staffContext(), domain.UpdateOrderRequest{
		OrderID: order.ID,
		Items: []domain.OrderItemInput{
			{MenuItemID: "item-esteh", Qty: 3},
		},
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if resp.TotalCents != 3*8000 {
		t.Fatalf("expected recomputed total 24000, got %d", resp.TotalCents)
	}

	reloaded, err := repo.GetOrderByID(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if len(reloaded.Items) != 1 || reloaded.Items[0].Qty != 3 {
		t.Fatalf("expected replaced line items, got %+v", reloaded.Items)
	}
}

func TestUpdateOrderAfterWindowIsRejected(t *testing.T) {
	svc, repo := newTestService()
	order := seedOrderAt(t, repo, "user-staff", time.Now().UTC().Add(-121*time.Second))

	_, err := svc.UpdateOrder(staffContext(), domain.UpdateOrderRequest{
		OrderID: order.ID,
		Items:   []domain.OrderItemInput{{MenuItemID: "item-esteh", Qty: 2}},
	})
	if !errors.Is(err, ErrEditWindowClosed) {
		t.Fatalf("expected edit window error, got %v", err)
	}
}

func TestUpdateOrderMasksForeignOrdersAsNotFound(t *testing.T) {
	svc, repo := newTestService()
	order := seedOrderAt(t, repo, "user-admin", time.Now().UTC())

	_, err := svc.UpdateOrder(staffContext(), domain.UpdateOrderRequest{
		OrderID: order.ID,
		Items:   []domain.OrderItemInput{{MenuItemID: "item-esteh", Qty: 2}},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for foreign order, got %v", err)
	}
}

func TestOrderStatusTransitions(t *testing.T) {
	svc, _ := newTestService()
	session := checkinGuest(t, svc, "0811999005")
	order := placeSessionOrder(t, svc, session.ID, []domain.OrderItemInput{
		{MenuItemID: "item-esteh", Qty: 1},
	})

	ctx := kitchenContext()

	if _, err := svc.SetOrderStatus(ctx, domain.OrderStatusRequest{OrderID: order.ID, Status: domain.OrderStatusReady}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected pending->ready to be rejected, got %v", err)
	}

	resp, err := svc.SetOrderStatus(ctx, domain.OrderStatusRequest{OrderID: order.ID, Status: domain.OrderStatusPreparing})
	if err != nil {
		t.Fatalf("pending->preparing failed: %v", err)
	}
	if resp.Order.Status != domain.OrderStatusPreparing {
		t.Fatalf("unexpected status %q", resp.Order.Status)
	}

	if _, err := svc.SetOrderStatus(ctx, domain.OrderStatusRequest{OrderID: order.ID, Status: domain.OrderStatusReady}); err != nil {
		t.Fatalf("preparing->ready failed: %v", err)
	}
	if _, err := svc.SetOrderStatus(ctx, domain.OrderStatusRequest{OrderID: order.ID, Status: domain.OrderStatusServed}); err != nil {
		t.Fatalf("ready->served failed: %v", err)
	}
	if _, err := svc.SetOrderStatus(ctx, domain.OrderStatusRequest{OrderID: order.ID, Status: domain.OrderStatusPending}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected served to be terminal, got %v", err)
	}
}

func TestKitchenOrdersRequiresKitchenRole(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.KitchenOrders(guestContext()); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denial for guest, got %v", err)
	}
	if _, err := svc.KitchenOrders(kitchenContext()); err != nil {
		t.Fatalf("kitchen listing failed: %v", err)
	}
}

func TestGenerateBillForSessionIsIdempotent(t *testing.T) {
	svc, _ := newTestService()
	session := checkinGuest(t, svc, "0811999006")
	placeSessionOrder(t, svc, session.ID, []domain.OrderItemInput{
		{MenuItemID: "item-nasigoreng", Qty: 1},
		{MenuItemID: "item-esteh", Qty: 2},
	})
	placeSessionOrder(t, svc, session.ID, []domain.OrderItemInput{
		{MenuItemID: "item-esteh", Qty: 1},
	})

	ctx := staffContext()
	first, err := svc.GenerateBillForSession(ctx, domain.GenerateBillRequest{SessionID: session.ID})
	if err != nil {
		t.Fatalf("bill generation failed: %v", err)
	}
	if first.Existing {
		t.Fatalf("first bill must not be marked existing")
	}
	if first.Bill.FinalTotalCents != 32000+3*8000 {
		t.Fatalf("unexpected total %d", first.Bill.FinalTotalCents)
	}
	if first.Bill.OrderCount != 2 {
		t.Fatalf("expected 2 source orders, got %d", first.Bill.OrderCount)
	}
	// Es Teh lines from both orders merge into one.
	if len(first.Bill.Items) != 2 {
		t.Fatalf("expected 2 consolidated lines, got %d", len(first.Bill.Items))
	}

	second, err := svc.GenerateBillForSession(ctx, domain.GenerateBillRequest{SessionID: session.ID})
	if err != nil {
		t.Fatalf("repeat bill generation failed: %v", err)
	}
	if !second.Existing || second.Bill.ID != first.Bill.ID {
		t.Fatalf("expected the existing bill back, got %+v", second)
	}

	closed, err := svc.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("session reload failed: %v", err)
	}
	if closed.Session.Status != domain.SessionStatusEnded {
		t.Fatalf("expected session ended after billing, got %q", closed.Session.Status)
	}
	if closed.Session.TotalCents != first.Bill.FinalTotalCents {
		t.Fatalf("expected session total %d, got %d", first.Bill.FinalTotalCents, closed.Session.TotalCents)
	}
}

func TestGenerateBillForOrderRejectsRepeat(t *testing.T) {
	svc, repo := newTestService()
	order := seedOrderAt(t, repo, "user-staff", time.Now().UTC())

	ctx := staffContext()
	first, err := svc.GenerateBillForOrder(ctx, domain.GenerateBillRequest{OrderID: order.ID})
	if err != nil {
		t.Fatalf("bill generation failed: %v", err)
	}
	if first.Bill.OrderID != order.ID {
		t.Fatalf("expected bill linked to order, got %+v", first.Bill)
	}

	if _, err := svc.GenerateBillForOrder(ctx, domain.GenerateBillRequest{OrderID: order.ID}); !errors.Is(err, ErrAlreadyBilled) {
		t.Fatalf("expected already billed, got %v", err)
	}
}

// unflaggedOrders simulates a store where the billed flag never lands, so
// only the bill lookup can stop a repeat.
type unflaggedOrders struct {
	store.Repository
}

func (unflaggedOrders) MarkOrdersBilled(_ context.Context, _ []string) error {
	return nil
}

func TestGenerateBillForOrderGuardKeysOnExistingBill(t *testing.T) {
	repo := memory.NewSeeded()
	svc := New(unflaggedOrders{repo}, nil, nil, 30*time.Second, 120*time.Second)
	order := seedOrderAt(t, repo, "user-staff", time.Now().UTC())

	ctx := staffContext()
	if _, err := svc.GenerateBillForOrder(ctx, domain.GenerateBillRequest{OrderID: order.ID}); err != nil {
		t.Fatalf("bill generation failed: %v", err)
	}

	reloaded, err := repo.GetOrderByID(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.Billed {
		t.Fatalf("expected billed flag untouched by the wrapper")
	}

	if _, err := svc.GenerateBillForOrder(ctx, domain.GenerateBillRequest{OrderID: order.ID}); !errors.Is(err, ErrAlreadyBilled) {
		t.Fatalf("expected already billed from the bill lookup, got %v", err)
	}
}

func TestGenerateBillForUserEmptyScope(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.GenerateBillForUser(staffContext(), domain.GenerateBillRequest{UserID: "user-admin"})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty scope, got %v", err)
	}
}

func TestGenerateBillRequiresPermission(t *testing.T) {
	svc, repo := newTestService()
	order := seedOrderAt(t, repo, "user-staff", time.Now().UTC())

	rider := WithActor(context.Background(), domain.Actor{UserID: "user-rider", Role: domain.RoleRider})
	if _, err := svc.GenerateBillForOrder(rider, domain.GenerateBillRequest{OrderID: order.ID}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denial, got %v", err)
	}
}

// failingBillItems simulates a write failure after the bill header exists,
// forcing the compensation path.
type failingBillItems struct {
	store.Repository
}

func (f failingBillItems) InsertBillItems(_ context.Context, _ string, _ []domain.BillItem) error {
	return errors.New("disk full")
}

func TestBillItemFailureRollsBackHeader(t *testing.T) {
	repo := memory.NewSeeded()
	broken := New(failingBillItems{repo}, nil, nil, 30*time.Second, 120*time.Second)
	working := New(repo, nil, nil, 30*time.Second, 120*time.Second)

	session := checkinGuest(t, working, "0811999007")
	placeSessionOrder(t, working, session.ID, []domain.OrderItemInput{
		{MenuItemID: "item-esteh", Qty: 1},
	})

	ctx := staffContext()
	if _, err := broken.GenerateBillForSession(ctx, domain.GenerateBillRequest{SessionID: session.ID}); err == nil {
		t.Fatalf("expected bill generation to fail")
	}

	if _, err := repo.FindBillBySession(context.Background(), session.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected bill header to be rolled back, got %v", err)
	}

	// The scope is untouched, so a retry against a healthy store succeeds.
	resp, err := working.GenerateBillForSession(ctx, domain.GenerateBillRequest{SessionID: session.ID})
	if err != nil {
		t.Fatalf("retry after rollback failed: %v", err)
	}
	if resp.Existing {
		t.Fatalf("retry must create a fresh bill")
	}
}

// noSequence simulates a store without the central bill counter.
type noSequence struct {
	store.Repository
}

func (noSequence) NextBillSequence(_ context.Context) (int64, error) {
	return 0, store.ErrUnsupported
}

func TestBillNumberFallsBackWithoutSequence(t *testing.T) {
	repo := memory.NewSeeded()
	svc := New(noSequence{repo}, nil, nil, 30*time.Second, 120*time.Second)

	session := checkinGuest(t, svc, "0811999008")
	placeSessionOrder(t, svc, session.ID, []domain.OrderItemInput{
		{MenuItemID: "item-esteh", Qty: 1},
	})

	resp, err := svc.GenerateBillForSession(staffContext(), domain.GenerateBillRequest{SessionID: session.ID})
	if err != nil {
		t.Fatalf("bill generation failed: %v", err)
	}
	if !strings.HasPrefix(resp.Bill.BillNumber, "BILL-T") {
		t.Fatalf("expected time-based bill number, got %q", resp.Bill.BillNumber)
	}
}

func TestRequestBillFlagsSessionWithoutEndingIt(t *testing.T) {
	svc, _ := newTestService()
	session := checkinGuest(t, svc, "0811999009")

	resp, err := svc.RequestBill(guestContext(), domain.RequestBillRequest{SessionID: session.ID})
	if err != nil {
		t.Fatalf("request bill failed: %v", err)
	}
	if !resp.Session.BillRequested || resp.Session.BillRequestedAt == nil {
		t.Fatalf("expected bill requested flag, got %+v", resp.Session)
	}
	if resp.Session.Status != domain.SessionStatusActive {
		t.Fatalf("requesting the bill must not end the session")
	}

	// Ordering continues after the request.
	placeSessionOrder(t, svc, session.ID, []domain.OrderItemInput{
		{MenuItemID: "item-esteh", Qty: 1},
	})
}

func TestCreateUserNormalizesRole(t *testing.T) {
	svc, repo := newTestService()

	created, err := svc.CreateUser(adminContext(), domain.UserCreateRequest{
		Phone: "0811999010",
		Name:  "Anak Baru",
		PIN:   "135791",
		Role:  "kitchen_manager",
	})
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	if created.Role != domain.RoleKitchen {
		t.Fatalf("expected legacy role to normalize, got %q", created.Role)
	}

	stored, err := repo.GetUserByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if stored.PINHash == "" || stored.PINHash == "135791" {
		t.Fatalf("expected hashed pin, got %q", stored.PINHash)
	}
}

func TestMenuWriteInvalidatesAndRequiresAdmin(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.CreateMenuItem(staffContext(), domain.MenuItemCreateRequest{
		CategoryID: "cat-makanan",
		Name:       "Sate Ayam",
		PriceCents: 25000,
	}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected staff to be denied menu writes, got %v", err)
	}

	item, err := svc.CreateMenuItem(adminContext(), domain.MenuItemCreateRequest{
		CategoryID: "cat-makanan",
		Name:       "Sate Ayam",
		PriceCents: 25000,
	})
	if err != nil {
		t.Fatalf("create menu item failed: %v", err)
	}
	if !item.Available {
		t.Fatalf("new items start available")
	}

	view, err := svc.Menu(context.Background())
	if err != nil {
		t.Fatalf("menu failed: %v", err)
	}
	found := false
	for _, it := range view.Items {
		if it.ID == item.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected new item in menu view")
	}
}

func TestAuditTrailRecordsBilling(t *testing.T) {
	svc, _ := newTestService()
	session := checkinGuest(t, svc, "0811999011")
	placeSessionOrder(t, svc, session.ID, []domain.OrderItemInput{
		{MenuItemID: "item-esteh", Qty: 1},
	})
	if _, err := svc.GenerateBillForSession(staffContext(), domain.GenerateBillRequest{SessionID: session.ID}); err != nil {
		t.Fatalf("bill generation failed: %v", err)
	}

	logs, err := svc.ListAuditLogs(adminContext(), "", 50)
	if err != nil {
		t.Fatalf("audit listing failed: %v", err)
	}
	var actions []string
	for _, entry := range logs {
		actions = append(actions, entry.Action)
	}
	joined := strings.Join(actions, ",")
	for _, want := range []string{"session_checkin", "order_place", "bill_generate"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %s in audit trail, got %s", want, joined)
		}
	}
}
