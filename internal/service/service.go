package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"mejaku/backend/internal/billing"
	"mejaku/backend/internal/cache"
	"mejaku/backend/internal/domain"
	"mejaku/backend/internal/notify"
	"mejaku/backend/internal/store"
	"mejaku/backend/internal/xid"
)

var (
	// ErrPermissionDenied maps to 403 at the HTTP layer.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrEditWindowClosed is returned when an order edit arrives after the
	// edit window has elapsed.
	ErrEditWindowClosed = errors.New("order can no longer be edited")
	// ErrAlreadyBilled is returned when a bill already exists for the scope.
	ErrAlreadyBilled = errors.New("already billed")
)

const menuCacheKey = "menu:view"

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo       store.Repository
	menu       cache.MenuCache
	events     *notify.Dispatcher
	menuTTL    time.Duration
	editWindow time.Duration
}

func New(repo store.Repository, menu cache.MenuCache, events *notify.Dispatcher, menuTTL time.Duration, editWindow time.Duration) *Service {
	if menu == nil {
		menu = cache.NoopMenuCache{}
	}
	if events == nil {
		events = notify.NewDispatcher()
	}
	if menuTTL < 1 {
		menuTTL = 30 * time.Second
	}
	if editWindow < 1 {
		editWindow = 120 * time.Second
	}

	return &Service{
		repo:       repo,
		menu:       menu,
		events:     events,
		menuTTL:    menuTTL,
		editWindow: editWindow,
	}
}

func (s *Service) requirePermission(ctx context.Context, permission string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, ErrPermissionDenied
	}
	if !domain.HasPermission(actor.Role, permission) {
		return domain.Actor{}, fmt.Errorf("%w: role %s lacks %s", ErrPermissionDenied, actor.Role, permission)
	}
	return actor, nil
}

// Menu assembles the guest-facing menu view. The three reads run
// concurrently and the result is cached between menu writes.
func (s *Service) Menu(ctx context.Context) (domain.MenuView, error) {
	if cached, ok, err := s.menu.Get(ctx, menuCacheKey); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		log.Warn().Err(err).Msg("menu cache read failed")
	}

	var view domain.MenuView
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		categories, err := s.repo.ListMenuCategories(gctx)
		if err != nil {
			return err
		}
		view.Categories = categories
		return nil
	})
	g.Go(func() error {
		items, err := s.repo.ListMenuItems(gctx)
		if err != nil {
			return err
		}
		view.Items = items
		return nil
	})
	g.Go(func() error {
		specials, err := s.repo.ListSpecials(gctx)
		if err != nil {
			return err
		}
		view.Specials = specials
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.MenuView{}, err
	}

	if err := s.menu.Set(ctx, menuCacheKey, &view, s.menuTTL); err != nil {
		log.Warn().Err(err).Msg("menu cache write failed")
	}
	return view, nil
}

func (s *Service) invalidateMenuCache(ctx context.Context) {
	if err := s.menu.Invalidate(ctx, menuCacheKey); err != nil {
		log.Warn().Err(err).Msg("menu cache invalidation failed")
	}
}

func (s *Service) CreateMenuCategory(ctx context.Context, category domain.MenuCategory) (domain.MenuCategory, error) {
	_, err := s.requirePermission(ctx, domain.PermMenuWrite)
	if err != nil {
		return domain.MenuCategory{}, err
	}

	category.Name = strings.TrimSpace(category.Name)
	if category.Name == "" {
		return domain.MenuCategory{}, store.ErrInvalidInput
	}
	if category.ID == "" {
		category.ID = xid.New("cat")
	}

	created, err := s.repo.CreateMenuCategory(ctx, category)
	if err != nil {
		return domain.MenuCategory{}, err
	}

	s.invalidateMenuCache(ctx)
	s.logAudit(ctx, "menu_category_create", "menu_category", created.ID, created.Name)
	return *created, nil
}

func (s *Service) CreateMenuItem(ctx context.Context, req domain.MenuItemCreateRequest) (domain.MenuItem, error) {
	_, err := s.requirePermission(ctx, domain.PermMenuWrite)
	if err != nil {
		return domain.MenuItem{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.CategoryID == "" || req.Name == "" || req.PriceCents < 1 {
		return domain.MenuItem{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateMenuItem(ctx, domain.MenuItem{
		ID:         xid.New("item"),
		CategoryID: req.CategoryID,
		Name:       req.Name,
		PriceCents: req.PriceCents,
		Available:  true,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return domain.MenuItem{}, err
	}

	s.invalidateMenuCache(ctx)
	s.logAudit(ctx, "menu_item_create", "menu_item", created.ID, fmt.Sprintf("name=%s,price=%d", created.Name, created.PriceCents))
	return *created, nil
}

func (s *Service) UpdateMenuItem(ctx context.Context, itemID string, req domain.MenuItemUpdateRequest) (domain.MenuItem, error) {
	_, err := s.requirePermission(ctx, domain.PermMenuWrite)
	if err != nil {
		return domain.MenuItem{}, err
	}

	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return domain.MenuItem{}, store.ErrInvalidInput
	}

	items, err := s.repo.GetMenuItemsByIDs(ctx, []string{itemID})
	if err != nil {
		return domain.MenuItem{}, err
	}
	existing, ok := items[itemID]
	if !ok {
		return domain.MenuItem{}, store.ErrNotFound
	}

	updated := existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.MenuItem{}, store.ErrInvalidInput
		}
		updated.Name = name
	}
	if req.PriceCents != nil {
		if *req.PriceCents < 1 {
			return domain.MenuItem{}, store.ErrInvalidInput
		}
		updated.PriceCents = *req.PriceCents
	}
	if req.Available != nil {
		updated.Available = *req.Available
	}

	saved, err := s.repo.UpdateMenuItem(ctx, updated)
	if err != nil {
		return domain.MenuItem{}, err
	}

	s.invalidateMenuCache(ctx)
	s.logAudit(ctx, "menu_item_update", "menu_item", saved.ID, fmt.Sprintf("price=%d,available=%t", saved.PriceCents, saved.Available))
	return *saved, nil
}

// Checkin opens a dining session. Checking in while a session is already
// active for the same user or guest phone returns the existing session.
func (s *Service) Checkin(ctx context.Context, req domain.CheckinRequest) (domain.SessionResponse, error) {
	if _, err := s.requirePermission(ctx, domain.PermSessionCheckin); err != nil {
		return domain.SessionResponse{}, err
	}

	req.TableName = strings.TrimSpace(req.TableName)
	req.GuestName = strings.TrimSpace(req.GuestName)
	req.GuestPhone = strings.TrimSpace(req.GuestPhone)
	if req.TableName == "" {
		return domain.SessionResponse{}, store.ErrInvalidInput
	}
	if req.GuestCount < 1 {
		req.GuestCount = 1
	}

	if req.UserID != "" {
		user, err := s.repo.GetUserByID(ctx, req.UserID)
		if err != nil {
			return domain.SessionResponse{}, err
		}
		if existing, err := s.repo.FindActiveSessionByUser(ctx, user.ID); err == nil {
			return domain.SessionResponse{Session: *existing}, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return domain.SessionResponse{}, err
		}
		if req.GuestName == "" {
			req.GuestName = user.Name
		}
		if req.GuestPhone == "" {
			req.GuestPhone = user.Phone
		}
	} else {
		if req.GuestName == "" || req.GuestPhone == "" {
			return domain.SessionResponse{}, store.ErrInvalidInput
		}
		if existing, err := s.repo.FindActiveSessionByPhone(ctx, req.GuestPhone); err == nil {
			return domain.SessionResponse{Session: *existing}, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return domain.SessionResponse{}, err
		}
	}

	created, err := s.repo.CreateSession(ctx, domain.DiningSession{
		ID:         xid.New("dsn"),
		UserID:     req.UserID,
		GuestName:  req.GuestName,
		GuestPhone: req.GuestPhone,
		TableName:  req.TableName,
		GuestCount: req.GuestCount,
		Status:     domain.SessionStatusActive,
		StartedAt:  time.Now().UTC(),
	})
	if err != nil {
		return domain.SessionResponse{}, err
	}

	s.logAudit(ctx, "session_checkin", "session", created.ID, fmt.Sprintf("table=%s,guests=%d", created.TableName, created.GuestCount))
	return domain.SessionResponse{Session: *created}, nil
}

func (s *Service) GetSession(ctx context.Context, sessionID string) (domain.SessionResponse, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.SessionResponse{}, store.ErrInvalidInput
	}
	session, err := s.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		return domain.SessionResponse{}, err
	}
	return domain.SessionResponse{Session: *session}, nil
}

// RequestBill flags the session; it does not end it. Guests keep ordering
// until staff generates the bill.
func (s *Service) RequestBill(ctx context.Context, req domain.RequestBillRequest) (domain.SessionResponse, error) {
	actor, err := s.requirePermission(ctx, domain.PermBillRequest)
	if err != nil {
		return domain.SessionResponse{}, err
	}
	if req.SessionID == "" {
		return domain.SessionResponse{}, store.ErrInvalidInput
	}

	session, err := s.repo.GetSessionByID(ctx, req.SessionID)
	if err != nil {
		return domain.SessionResponse{}, err
	}
	if session.Status != domain.SessionStatusActive {
		return domain.SessionResponse{}, fmt.Errorf("%w: session not active", store.ErrNotFound)
	}
	if session.UserID != "" && session.UserID != actor.UserID && !domain.HasPermission(actor.Role, domain.PermSessionManage) {
		return domain.SessionResponse{}, fmt.Errorf("%w: session belongs to another user", ErrPermissionDenied)
	}

	now := time.Now().UTC()
	if err := s.repo.MarkBillRequested(ctx, session.ID, now); err != nil {
		return domain.SessionResponse{}, err
	}
	session.BillRequested = true
	session.BillRequestedAt = &now

	s.logAudit(ctx, "bill_request", "session", session.ID, "table="+session.TableName)
	s.events.Publish(notify.Event{
		Kind:    "bill_requested",
		Subject: session.TableName,
		Body:    fmt.Sprintf("Table %s requested the bill", session.TableName),
	})
	return domain.SessionResponse{Session: *session}, nil
}

// resolveOrderLines validates requested lines against the menu and snapshots
// the current unit price per line. Unknown or unavailable items name the
// offending item in the error.
func (s *Service) resolveOrderLines(ctx context.Context, inputs []domain.OrderItemInput) ([]domain.OrderItem, int64, error) {
	if len(inputs) == 0 {
		return nil, 0, fmt.Errorf("%w: order has no items", store.ErrInvalidInput)
	}

	ids := make([]string, 0, len(inputs))
	for _, input := range inputs {
		if input.MenuItemID == "" || input.Qty < 1 {
			return nil, 0, store.ErrInvalidInput
		}
		ids = append(ids, input.MenuItemID)
	}

	menuItems, err := s.repo.GetMenuItemsByIDs(ctx, ids)
	if err != nil {
		return nil, 0, err
	}

	lines := make([]domain.OrderItem, 0, len(inputs))
	total := int64(0)
	for _, input := range inputs {
		item, exists := menuItems[input.MenuItemID]
		if !exists {
			return nil, 0, fmt.Errorf("%w: menu item %s not found", store.ErrInvalidInput, input.MenuItemID)
		}
		if !item.Available {
			return nil, 0, fmt.Errorf("%w: %s is unavailable", store.ErrInvalidInput, item.Name)
		}
		lines = append(lines, domain.OrderItem{
			MenuItemID:     item.ID,
			Qty:            input.Qty,
			UnitPriceCents: item.PriceCents,
		})
		total += int64(input.Qty) * item.PriceCents
	}
	return lines, total, nil
}

func (s *Service) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (domain.OrderResponse, error) {
	actor, err := s.requirePermission(ctx, domain.PermOrderPlace)
	if err != nil {
		return domain.OrderResponse{}, err
	}

	userID := actor.UserID
	if userID == "" {
		userID = req.UserID
	}

	tableName := strings.TrimSpace(req.TableName)
	if req.SessionID != "" {
		session, err := s.repo.GetSessionByID(ctx, req.SessionID)
		if err != nil {
			return domain.OrderResponse{}, err
		}
		if session.Status != domain.SessionStatusActive {
			return domain.OrderResponse{}, fmt.Errorf("%w: session not active", store.ErrInvalidInput)
		}
		if tableName == "" {
			tableName = session.TableName
		}
	}

	lines, total, err := s.resolveOrderLines(ctx, req.Items)
	if err != nil {
		return domain.OrderResponse{}, err
	}

	created, err := s.repo.CreateOrder(ctx, domain.Order{
		ID:         xid.New("ord"),
		UserID:     userID,
		SessionID:  req.SessionID,
		TableName:  tableName,
		Status:     domain.OrderStatusPending,
		TotalCents: total,
		Notes:      strings.TrimSpace(req.Notes),
		CreatedAt:  time.Now().UTC(),
		Items:      lines,
	})
	if err != nil {
		return domain.OrderResponse{}, err
	}

	s.logAudit(ctx, "order_place", "order", created.ID, fmt.Sprintf("total=%d,items=%d", created.TotalCents, len(created.Items)))
	return domain.OrderResponse{Order: *created}, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.OrderResponse, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.OrderResponse{}, store.ErrInvalidInput
	}
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return domain.OrderResponse{}, err
	}
	return domain.OrderResponse{Order: *order}, nil
}

// UpdateOrder replaces the order's lines inside the edit window. Editing an
// order that belongs to someone else reports not-found rather than
// forbidden, so callers cannot probe for other users' order ids. Prices are
// recomputed from the menu; client-supplied prices are never trusted.
func (s *Service) UpdateOrder(ctx context.Context, req domain.UpdateOrderRequest) (domain.UpdateOrderResponse, error) {
	actor, err := s.requirePermission(ctx, domain.PermOrderUpdate)
	if err != nil {
		return domain.UpdateOrderResponse{}, err
	}

	if req.OrderID == "" {
		return domain.UpdateOrderResponse{}, store.ErrInvalidInput
	}
	callerID := actor.UserID
	if callerID == "" {
		callerID = req.UserID
	}
	if callerID == "" {
		return domain.UpdateOrderResponse{}, store.ErrInvalidInput
	}

	order, err := s.repo.GetOrderByID(ctx, req.OrderID)
	if err != nil {
		return domain.UpdateOrderResponse{}, err
	}
	if order.UserID != callerID {
		return domain.UpdateOrderResponse{}, store.ErrNotFound
	}
	if order.Billed {
		return domain.UpdateOrderResponse{}, ErrAlreadyBilled
	}
	if time.Now().UTC().Sub(order.CreatedAt) > s.editWindow {
		return domain.UpdateOrderResponse{}, ErrEditWindowClosed
	}

	lines, total, err := s.resolveOrderLines(ctx, req.Items)
	if err != nil {
		return domain.UpdateOrderResponse{}, err
	}

	if err := s.repo.ReplaceOrderItems(ctx, order.ID, lines, total, req.Notes); err != nil {
		return domain.UpdateOrderResponse{}, err
	}

	s.logAudit(ctx, "order_update", "order", order.ID, fmt.Sprintf("total=%d,items=%d", total, len(lines)))
	return domain.UpdateOrderResponse{OrderID: order.ID, TotalCents: total}, nil
}

func (s *Service) KitchenOrders(ctx context.Context) ([]domain.Order, error) {
	if _, err := s.requirePermission(ctx, domain.PermKitchenOrders); err != nil {
		return nil, err
	}
	return s.repo.ListOpenOrders(ctx)
}

// validStatusTransitions is the kitchen flow. Served is terminal.
var validStatusTransitions = map[string]string{
	domain.OrderStatusPending:   domain.OrderStatusPreparing,
	domain.OrderStatusPreparing: domain.OrderStatusReady,
	domain.OrderStatusReady:     domain.OrderStatusServed,
}

func (s *Service) SetOrderStatus(ctx context.Context, req domain.OrderStatusRequest) (domain.OrderResponse, error) {
	if _, err := s.requirePermission(ctx, domain.PermOrderStatus); err != nil {
		return domain.OrderResponse{}, err
	}
	if req.OrderID == "" || req.Status == "" {
		return domain.OrderResponse{}, store.ErrInvalidInput
	}

	order, err := s.repo.GetOrderByID(ctx, req.OrderID)
	if err != nil {
		return domain.OrderResponse{}, err
	}
	if validStatusTransitions[order.Status] != req.Status {
		return domain.OrderResponse{}, fmt.Errorf("%w: cannot move order from %s to %s", store.ErrInvalidInput, order.Status, req.Status)
	}

	updated, err := s.repo.UpdateOrderStatus(ctx, order.ID, req.Status)
	if err != nil {
		return domain.OrderResponse{}, err
	}

	s.logAudit(ctx, "order_status", "order", updated.ID, updated.Status)
	if updated.Status == domain.OrderStatusReady {
		s.events.Publish(notify.Event{
			Kind:    "order_ready",
			Subject: updated.TableName,
			Body:    fmt.Sprintf("Order %s is ready", updated.ID),
		})
	}
	return domain.OrderResponse{Order: *updated}, nil
}

func (s *Service) nextBillNumber(ctx context.Context) string {
	seq, err := s.repo.NextBillSequence(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("bill sequence unavailable, using time-based number")
		return billing.FallbackBillNumber(time.Now())
	}
	return billing.FormatBillNumber(seq)
}

func (s *Service) itemNamesFor(ctx context.Context, orders []domain.Order) (map[string]string, error) {
	idSet := make(map[string]struct{}, 16)
	for _, order := range orders {
		for _, item := range order.Items {
			idSet[item.MenuItemID] = struct{}{}
		}
	}
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}

	menuItems, err := s.repo.GetMenuItemsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(menuItems))
	for id, item := range menuItems {
		names[id] = item.Name
	}
	return names, nil
}

// writeBill persists the bill header, then its lines. A line failure
// deletes the header again so no half-written bill survives.
func (s *Service) writeBill(ctx context.Context, bill domain.Bill, items []domain.BillItem) (*domain.Bill, error) {
	created, err := s.repo.CreateBill(ctx, bill)
	if err != nil {
		return nil, err
	}

	if err := s.repo.InsertBillItems(ctx, created.ID, items); err != nil {
		if delErr := s.repo.DeleteBill(ctx, created.ID); delErr != nil {
			log.Error().Err(delErr).Str("bill_id", created.ID).Msg("failed to roll back bill after item write failure")
		}
		return nil, err
	}

	created.Items = make([]domain.BillItem, 0, len(items))
	for _, item := range items {
		item.BillID = created.ID
		created.Items = append(created.Items, item)
	}
	return created, nil
}

// GenerateBillForOrder bills a single order. A second call for the same
// order reports already-billed.
func (s *Service) GenerateBillForOrder(ctx context.Context, req domain.GenerateBillRequest) (domain.BillResponse, error) {
	if _, err := s.requirePermission(ctx, domain.PermBillGenerate); err != nil {
		return domain.BillResponse{}, err
	}
	if req.OrderID == "" {
		return domain.BillResponse{}, store.ErrInvalidInput
	}

	order, err := s.repo.GetOrderByID(ctx, req.OrderID)
	if err != nil {
		return domain.BillResponse{}, err
	}
	if _, err := s.repo.FindBillByOrder(ctx, order.ID); err == nil {
		return domain.BillResponse{}, ErrAlreadyBilled
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.BillResponse{}, err
	}
	if order.Billed {
		return domain.BillResponse{}, ErrAlreadyBilled
	}

	orders := []domain.Order{*order}
	names, err := s.itemNamesFor(ctx, orders)
	if err != nil {
		return domain.BillResponse{}, err
	}
	consolidated := billing.Consolidate(orders, names)

	bill := domain.Bill{
		ID:              xid.New("bill"),
		BillNumber:      s.nextBillNumber(ctx),
		OrderID:         order.ID,
		ItemsTotalCents: consolidated.ItemsTotalCents,
		DiscountCents:   consolidated.DiscountCents,
		FinalTotalCents: consolidated.FinalTotalCents,
		PaymentMethod:   defaultPaymentMethod(req.PaymentMethod),
		PaymentStatus:   domain.PaymentStatusUnpaid,
		TableName:       order.TableName,
		OrderCount:      1,
		SourceStartedAt: &order.CreatedAt,
		CreatedAt:       time.Now().UTC(),
	}

	created, err := s.writeBill(ctx, bill, consolidated.Items)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.BillResponse{}, ErrAlreadyBilled
		}
		return domain.BillResponse{}, err
	}

	if err := s.repo.MarkOrdersBilled(ctx, consolidated.OrderIDs); err != nil {
		return domain.BillResponse{}, err
	}

	s.logAudit(ctx, "bill_generate", "bill", created.ID, fmt.Sprintf("scope=order,order=%s,total=%d", order.ID, created.FinalTotalCents))
	return domain.BillResponse{Bill: *created}, nil
}

// GenerateBillForSession consolidates all unbilled orders of a session into
// one bill and closes the session. Re-billing an already billed session
// returns the existing bill unchanged.
func (s *Service) GenerateBillForSession(ctx context.Context, req domain.GenerateBillRequest) (domain.BillResponse, error) {
	if _, err := s.requirePermission(ctx, domain.PermBillGenerate); err != nil {
		return domain.BillResponse{}, err
	}
	if req.SessionID == "" {
		return domain.BillResponse{}, store.ErrInvalidInput
	}

	session, err := s.repo.GetSessionByID(ctx, req.SessionID)
	if err != nil {
		return domain.BillResponse{}, err
	}

	if existing, err := s.repo.FindBillBySession(ctx, session.ID); err == nil {
		return domain.BillResponse{Bill: *existing, Existing: true}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.BillResponse{}, err
	}

	orders, err := s.repo.ListOrdersBySession(ctx, session.ID, true)
	if err != nil {
		return domain.BillResponse{}, err
	}
	if len(orders) == 0 {
		return domain.BillResponse{}, fmt.Errorf("%w: session has no unbilled orders", store.ErrInvalidInput)
	}

	names, err := s.itemNamesFor(ctx, orders)
	if err != nil {
		return domain.BillResponse{}, err
	}
	consolidated := billing.Consolidate(orders, names)

	bill := domain.Bill{
		ID:              xid.New("bill"),
		BillNumber:      s.nextBillNumber(ctx),
		SessionID:       session.ID,
		ItemsTotalCents: consolidated.ItemsTotalCents,
		DiscountCents:   consolidated.DiscountCents,
		FinalTotalCents: consolidated.FinalTotalCents,
		PaymentMethod:   defaultPaymentMethod(req.PaymentMethod),
		PaymentStatus:   domain.PaymentStatusUnpaid,
		GuestName:       session.GuestName,
		TableName:       session.TableName,
		OrderCount:      len(orders),
		SourceStartedAt: &session.StartedAt,
		CreatedAt:       time.Now().UTC(),
	}

	created, err := s.writeBill(ctx, bill, consolidated.Items)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Lost the race: another caller billed the session first.
			if existing, findErr := s.repo.FindBillBySession(ctx, session.ID); findErr == nil {
				return domain.BillResponse{Bill: *existing, Existing: true}, nil
			}
			return domain.BillResponse{}, ErrAlreadyBilled
		}
		return domain.BillResponse{}, err
	}

	if err := s.repo.MarkOrdersBilled(ctx, consolidated.OrderIDs); err != nil {
		return domain.BillResponse{}, err
	}
	if err := s.repo.CloseSession(ctx, session.ID, created.FinalTotalCents, time.Now().UTC()); err != nil {
		return domain.BillResponse{}, err
	}

	s.logAudit(ctx, "bill_generate", "bill", created.ID, fmt.Sprintf("scope=session,session=%s,orders=%d,total=%d", session.ID, len(orders), created.FinalTotalCents))
	return domain.BillResponse{Bill: *created}, nil
}

// GenerateBillForUser consolidates all of a user's unbilled orders. Billed
// flags on the orders make repeat calls report an empty scope.
func (s *Service) GenerateBillForUser(ctx context.Context, req domain.GenerateBillRequest) (domain.BillResponse, error) {
	if _, err := s.requirePermission(ctx, domain.PermBillGenerate); err != nil {
		return domain.BillResponse{}, err
	}
	if req.UserID == "" {
		return domain.BillResponse{}, store.ErrInvalidInput
	}

	user, err := s.repo.GetUserByID(ctx, req.UserID)
	if err != nil {
		return domain.BillResponse{}, err
	}

	orders, err := s.repo.ListUnbilledOrdersByUser(ctx, user.ID)
	if err != nil {
		return domain.BillResponse{}, err
	}
	if len(orders) == 0 {
		return domain.BillResponse{}, fmt.Errorf("%w: user has no unbilled orders", store.ErrInvalidInput)
	}

	names, err := s.itemNamesFor(ctx, orders)
	if err != nil {
		return domain.BillResponse{}, err
	}
	consolidated := billing.Consolidate(orders, names)

	bill := domain.Bill{
		ID:              xid.New("bill"),
		BillNumber:      s.nextBillNumber(ctx),
		UserID:          user.ID,
		ItemsTotalCents: consolidated.ItemsTotalCents,
		DiscountCents:   consolidated.DiscountCents,
		FinalTotalCents: consolidated.FinalTotalCents,
		PaymentMethod:   defaultPaymentMethod(req.PaymentMethod),
		PaymentStatus:   domain.PaymentStatusUnpaid,
		GuestName:       user.Name,
		OrderCount:      len(orders),
		SourceStartedAt: &orders[0].CreatedAt,
		CreatedAt:       time.Now().UTC(),
	}

	created, err := s.writeBill(ctx, bill, consolidated.Items)
	if err != nil {
		return domain.BillResponse{}, err
	}
	if err := s.repo.MarkOrdersBilled(ctx, consolidated.OrderIDs); err != nil {
		return domain.BillResponse{}, err
	}

	s.logAudit(ctx, "bill_generate", "bill", created.ID, fmt.Sprintf("scope=user,user=%s,orders=%d,total=%d", user.ID, len(orders), created.FinalTotalCents))
	return domain.BillResponse{Bill: *created}, nil
}

func (s *Service) GetBill(ctx context.Context, billID string) (domain.BillResponse, error) {
	billID = strings.TrimSpace(billID)
	if billID == "" {
		return domain.BillResponse{}, store.ErrInvalidInput
	}
	bill, err := s.repo.GetBillByID(ctx, billID)
	if err != nil {
		return domain.BillResponse{}, err
	}
	return domain.BillResponse{Bill: *bill}, nil
}

func (s *Service) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.UserSummary, error) {
	_, err := s.requirePermission(ctx, domain.PermUserManage)
	if err != nil {
		return domain.UserSummary{}, err
	}

	req.Phone = strings.TrimSpace(req.Phone)
	req.Name = strings.TrimSpace(req.Name)
	req.PIN = strings.TrimSpace(req.PIN)
	if req.Phone == "" || req.Name == "" || len(req.PIN) < 4 {
		return domain.UserSummary{}, store.ErrInvalidInput
	}

	role := domain.NormalizeRole(req.Role)
	if role == "" {
		role = domain.RoleRider
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.PIN), bcrypt.DefaultCost)
	if err != nil {
		return domain.UserSummary{}, err
	}

	created, err := s.repo.CreateUser(ctx, domain.User{
		ID:        xid.New("usr"),
		Phone:     req.Phone,
		Email:     strings.TrimSpace(req.Email),
		Name:      req.Name,
		Role:      role,
		Position:  strings.TrimSpace(req.Position),
		PINHash:   string(hash),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.UserSummary{}, err
	}

	s.logAudit(ctx, "user_create", "user", created.ID, fmt.Sprintf("role=%s", created.Role))
	return created.Summary(), nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.UserSummary, error) {
	if _, err := s.requirePermission(ctx, domain.PermUserManage); err != nil {
		return nil, err
	}

	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]domain.UserSummary, 0, len(users))
	for _, user := range users {
		summaries = append(summaries, user.Summary())
	}
	return summaries, nil
}

func (s *Service) CreateAnnouncement(ctx context.Context, req domain.AnnouncementCreateRequest) (domain.Announcement, error) {
	actor, err := s.requirePermission(ctx, domain.PermAnnounce)
	if err != nil {
		return domain.Announcement{}, err
	}

	req.Title = strings.TrimSpace(req.Title)
	req.Body = strings.TrimSpace(req.Body)
	if req.Title == "" {
		return domain.Announcement{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateAnnouncement(ctx, domain.Announcement{
		ID:        xid.New("ann"),
		Title:     req.Title,
		Body:      req.Body,
		CreatedBy: actor.UserID,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.Announcement{}, err
	}

	s.logAudit(ctx, "announcement_create", "announcement", created.ID, created.Title)
	s.events.Publish(notify.Event{
		Kind:    "announcement",
		Subject: created.Title,
		Body:    created.Body,
	})
	return *created, nil
}

func (s *Service) ListAnnouncements(ctx context.Context, activeOnly bool) ([]domain.Announcement, error) {
	return s.repo.ListAnnouncements(ctx, activeOnly)
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if _, err := s.requirePermission(ctx, domain.PermAuditRead); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, store.ErrInvalidInput
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

// logAudit records the action best-effort; an audit write failure never
// fails the operation it describes.
func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{UserID: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("audit"),
		Action:     action,
		ActorID:    actor.UserID,
		Phone:      actor.Phone,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		log.Warn().Err(err).Str("action", action).Str("entity", entityType+"/"+entityID).Msg("failed to write audit log")
	}
}

func defaultPaymentMethod(method string) string {
	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" {
		return "cash"
	}
	return method
}
