package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"mejaku/backend/internal/domain"
	"mejaku/backend/internal/store"
)

// Store is the in-memory Repository used for development and tests. All
// reads return copies; role values are normalized on every user read path.
type Store struct {
	mu              sync.RWMutex
	usersByID       map[string]domain.User
	userIDByPhone   map[string]string
	categoriesByID  map[string]domain.MenuCategory
	menuItemsByID   map[string]domain.MenuItem
	specialsByID    map[string]domain.Special
	sessionsByID    map[string]domain.DiningSession
	ordersByID      map[string]domain.Order
	billsByID       map[string]domain.Bill
	billIDBySession map[string]string
	billIDByOrder   map[string]string
	billItems       map[string][]domain.BillItem
	announcements   map[string]domain.Announcement
	auditLogs       []domain.AuditLog
	billSeq         int64
}

func New() *Store {
	return &Store{
		usersByID:       make(map[string]domain.User),
		userIDByPhone:   make(map[string]string),
		categoriesByID:  make(map[string]domain.MenuCategory),
		menuItemsByID:   make(map[string]domain.MenuItem),
		specialsByID:    make(map[string]domain.Special),
		sessionsByID:    make(map[string]domain.DiningSession),
		ordersByID:      make(map[string]domain.Order),
		billsByID:       make(map[string]domain.Bill),
		billIDBySession: make(map[string]string),
		billIDByOrder:   make(map[string]string),
		billItems:       make(map[string][]domain.BillItem),
		announcements:   make(map[string]domain.Announcement),
		auditLogs:       make([]domain.AuditLog, 0, 128),
	}
}

// NewSeeded returns a store preloaded with a demo menu and staff accounts.
// Seed PINs come from SEED_ADMIN_PIN / SEED_STAFF_PIN style env handling in
// main; here they are fixed dev values and never used in production (the
// backend uses PostgreSQL when DATABASE_URL is set).
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	categories := []domain.MenuCategory{
		{ID: "cat-makanan", Name: "Makanan", SortOrder: 1},
		{ID: "cat-minuman", Name: "Minuman", SortOrder: 2},
		{ID: "cat-camilan", Name: "Camilan", SortOrder: 3},
	}
	items := []domain.MenuItem{
		{ID: "item-nasigoreng", CategoryID: "cat-makanan", Name: "Nasi Goreng Spesial", PriceCents: 32000, Available: true, CreatedAt: now},
		{ID: "item-ayambakar", CategoryID: "cat-makanan", Name: "Ayam Bakar", PriceCents: 38000, Available: true, CreatedAt: now},
		{ID: "item-miegoreng", CategoryID: "cat-makanan", Name: "Mie Goreng", PriceCents: 28000, Available: true, CreatedAt: now},
		{ID: "item-esteh", CategoryID: "cat-minuman", Name: "Es Teh Manis", PriceCents: 8000, Available: true, CreatedAt: now},
		{ID: "item-kopisusu", CategoryID: "cat-minuman", Name: "Kopi Susu", PriceCents: 15000, Available: true, CreatedAt: now},
		{ID: "item-pisanggoreng", CategoryID: "cat-camilan", Name: "Pisang Goreng", PriceCents: 12000, Available: true, CreatedAt: now},
	}
	specials := []domain.Special{
		{ID: "sp-1", MenuItemID: "item-ayambakar", Label: "Paket Makan Siang", SpecialPriceCents: 33000, Active: true},
	}

	for _, c := range categories {
		s.categoriesByID[c.ID] = c
	}
	for _, it := range items {
		s.menuItemsByID[it.ID] = it
	}
	for _, sp := range specials {
		s.specialsByID[sp.ID] = sp
	}

	seedUsers := []struct {
		id    string
		phone string
		name  string
		role  string
		pin   string
	}{
		{"user-admin", "0811000001", "Admin Resto", "ADMIN", "248163"},
		{"user-kitchen", "0811000002", "Dapur Utama", "kitchen_manager", "359270"},
		{"user-staff", "0811000003", "Pelayan Satu", "STAFF", "461385"},
	}
	for _, u := range seedUsers {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.pin), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("user", u.name).Msg("failed to hash seed pin")
		}
		s.usersByID[u.id] = domain.User{
			ID:        u.id,
			Phone:     u.phone,
			Name:      u.name,
			Role:      u.role,
			PINHash:   string(hash),
			CreatedAt: now,
		}
		s.userIDByPhone[u.phone] = u.id
	}
	log.Warn().Msg("memory store seeded with dev accounts; set DATABASE_URL for production")

	return s
}

func (s *Store) copyUser(u domain.User) *domain.User {
	out := u
	out.Role = domain.NormalizeRole(u.Role)
	return &out
}

func (s *Store) CreateUser(_ context.Context, user domain.User) (*domain.User, error) {
	if user.Phone == "" || user.Name == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.userIDByPhone[user.Phone]; exists {
		return nil, store.ErrConflict
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByID[user.ID] = user
	s.userIDByPhone[user.Phone] = user.ID
	return s.copyUser(user), nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.copyUser(user), nil
}

func (s *Store) GetUserByPhone(_ context.Context, phone string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.userIDByPhone[phone]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.copyUser(s.usersByID[id]), nil
}

func (s *Store) GetUserBySessionToken(_ context.Context, token string) (*domain.User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.usersByID {
		if user.SessionToken != "" && user.SessionToken == token {
			return s.copyUser(user), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListUsers(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.User, 0, len(s.usersByID))
	for _, user := range s.usersByID {
		users = append(users, *s.copyUser(user))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	return users, nil
}

func (s *Store) UpdatePINHash(_ context.Context, userID string, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByID[userID]
	if !ok {
		return store.ErrNotFound
	}
	user.PINHash = hash
	user.PIN = ""
	s.usersByID[userID] = user
	return nil
}

// VerifyLegacyDigest is inconclusive in memory: there is no database-side
// digest function to consult.
func (s *Store) VerifyLegacyDigest(_ context.Context, _ string, _ string) (bool, error) {
	return false, store.ErrUnsupported
}

func (s *Store) SetSessionToken(_ context.Context, userID string, token string, expiresAt time.Time, lastLogin time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByID[userID]
	if !ok {
		return store.ErrNotFound
	}
	user.SessionToken = token
	exp := expiresAt
	user.SessionExpiresAt = &exp
	ll := lastLogin
	user.LastLoginAt = &ll
	s.usersByID[userID] = user
	return nil
}

func (s *Store) ExtendSession(_ context.Context, userID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByID[userID]
	if !ok {
		return store.ErrNotFound
	}
	exp := expiresAt
	user.SessionExpiresAt = &exp
	s.usersByID[userID] = user
	return nil
}

func (s *Store) ClearSessionToken(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByID[userID]
	if !ok {
		return store.ErrNotFound
	}
	user.SessionToken = ""
	user.SessionExpiresAt = nil
	s.usersByID[userID] = user
	return nil
}

func (s *Store) UpdateLoginFailure(_ context.Context, userID string, attempts int, lockedUntil *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByID[userID]
	if !ok {
		return store.ErrNotFound
	}
	user.FailedLoginAttempts = attempts
	user.LockedUntil = lockedUntil
	s.usersByID[userID] = user
	return nil
}

func (s *Store) ClearLoginFailure(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByID[userID]
	if !ok {
		return store.ErrNotFound
	}
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	s.usersByID[userID] = user
	return nil
}

func (s *Store) ListMenuCategories(_ context.Context) ([]domain.MenuCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := make([]domain.MenuCategory, 0, len(s.categoriesByID))
	for _, c := range s.categoriesByID {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i].SortOrder < categories[j].SortOrder })
	return categories, nil
}

func (s *Store) ListMenuItems(_ context.Context) ([]domain.MenuItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.MenuItem, 0, len(s.menuItemsByID))
	for _, it := range s.menuItemsByID {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CategoryID == items[j].CategoryID {
			return items[i].Name < items[j].Name
		}
		return items[i].CategoryID < items[j].CategoryID
	})
	return items, nil
}

func (s *Store) ListSpecials(_ context.Context) ([]domain.Special, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	specials := make([]domain.Special, 0, len(s.specialsByID))
	for _, sp := range s.specialsByID {
		if sp.Active {
			specials = append(specials, sp)
		}
	}
	sort.Slice(specials, func(i, j int) bool { return specials[i].ID < specials[j].ID })
	return specials, nil
}

func (s *Store) GetMenuItemsByIDs(_ context.Context, ids []string) (map[string]domain.MenuItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.MenuItem, len(ids))
	for _, id := range ids {
		if it, ok := s.menuItemsByID[id]; ok {
			result[id] = it
		}
	}
	return result, nil
}

func (s *Store) CreateMenuCategory(_ context.Context, category domain.MenuCategory) (*domain.MenuCategory, error) {
	if category.Name == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if category.ID == "" {
		category.ID = uuid.NewString()
	}
	s.categoriesByID[category.ID] = category
	created := category
	return &created, nil
}

func (s *Store) CreateMenuItem(_ context.Context, item domain.MenuItem) (*domain.MenuItem, error) {
	if item.Name == "" || item.PriceCents < 1 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	s.menuItemsByID[item.ID] = item
	created := item
	return &created, nil
}

func (s *Store) UpdateMenuItem(_ context.Context, item domain.MenuItem) (*domain.MenuItem, error) {
	if item.ID == "" || item.Name == "" || item.PriceCents < 1 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.menuItemsByID[item.ID]; !ok {
		return nil, store.ErrNotFound
	}
	s.menuItemsByID[item.ID] = item
	updated := item
	return &updated, nil
}

func (s *Store) CreateSession(_ context.Context, session domain.DiningSession) (*domain.DiningSession, error) {
	if session.TableName == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}
	if session.Status == "" {
		session.Status = domain.SessionStatusActive
	}
	s.sessionsByID[session.ID] = session
	created := session
	return &created, nil
}

func (s *Store) GetSessionByID(_ context.Context, id string) (*domain.DiningSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copySession := session
	return &copySession, nil
}

func (s *Store) FindActiveSessionByPhone(_ context.Context, phone string) (*domain.DiningSession, error) {
	if phone == "" {
		return nil, store.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, session := range s.sessionsByID {
		if session.Status == domain.SessionStatusActive && session.GuestPhone == phone {
			copySession := session
			return &copySession, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) FindActiveSessionByUser(_ context.Context, userID string) (*domain.DiningSession, error) {
	if userID == "" {
		return nil, store.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, session := range s.sessionsByID {
		if session.Status == domain.SessionStatusActive && session.UserID == userID {
			copySession := session
			return &copySession, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) MarkBillRequested(_ context.Context, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessionsByID[sessionID]
	if !ok {
		return store.ErrNotFound
	}
	session.BillRequested = true
	ts := at
	session.BillRequestedAt = &ts
	s.sessionsByID[sessionID] = session
	return nil
}

func (s *Store) CloseSession(_ context.Context, sessionID string, totalCents int64, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessionsByID[sessionID]
	if !ok {
		return store.ErrNotFound
	}
	session.Status = domain.SessionStatusEnded
	ts := endedAt
	session.EndedAt = &ts
	session.TotalCents = totalCents
	s.sessionsByID[sessionID] = session
	return nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	if len(order.Items) == 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}
	order.Items = append([]domain.OrderItem(nil), order.Items...)
	s.ordersByID[order.ID] = order
	created := order
	created.Items = append([]domain.OrderItem(nil), order.Items...)
	return &created, nil
}

func (s *Store) GetOrderByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.ordersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyOrder := order
	copyOrder.Items = append([]domain.OrderItem(nil), order.Items...)
	return &copyOrder, nil
}

func (s *Store) ReplaceOrderItems(_ context.Context, orderID string, items []domain.OrderItem, totalCents int64, notes *string) error {
	if len(items) == 0 {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.ordersByID[orderID]
	if !ok {
		return store.ErrNotFound
	}
	order.Items = append([]domain.OrderItem(nil), items...)
	order.TotalCents = totalCents
	if notes != nil {
		order.Notes = *notes
	}
	s.ordersByID[orderID] = order
	return nil
}

func (s *Store) sortedOrders(filter func(domain.Order) bool) []domain.Order {
	orders := make([]domain.Order, 0, 16)
	for _, order := range s.ordersByID {
		if !filter(order) {
			continue
		}
		copyOrder := order
		copyOrder.Items = append([]domain.OrderItem(nil), order.Items...)
		orders = append(orders, copyOrder)
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	return orders
}

func (s *Store) ListOrdersBySession(_ context.Context, sessionID string, unbilledOnly bool) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sortedOrders(func(o domain.Order) bool {
		if o.SessionID != sessionID {
			return false
		}
		return !unbilledOnly || !o.Billed
	}), nil
}

func (s *Store) ListUnbilledOrdersByUser(_ context.Context, userID string) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sortedOrders(func(o domain.Order) bool {
		return o.UserID == userID && !o.Billed
	}), nil
}

func (s *Store) ListOpenOrders(_ context.Context) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sortedOrders(func(o domain.Order) bool {
		return o.Status == domain.OrderStatusPending || o.Status == domain.OrderStatusPreparing || o.Status == domain.OrderStatusReady
	}), nil
}

func (s *Store) UpdateOrderStatus(_ context.Context, orderID string, status string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.ordersByID[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	order.Status = status
	s.ordersByID[orderID] = order
	copyOrder := order
	copyOrder.Items = append([]domain.OrderItem(nil), order.Items...)
	return &copyOrder, nil
}

func (s *Store) MarkOrdersBilled(_ context.Context, orderIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range orderIDs {
		if _, ok := s.ordersByID[id]; !ok {
			return store.ErrNotFound
		}
	}
	for _, id := range orderIDs {
		order := s.ordersByID[id]
		order.Billed = true
		s.ordersByID[id] = order
	}
	return nil
}

func (s *Store) CreateBill(_ context.Context, bill domain.Bill) (*domain.Bill, error) {
	if bill.BillNumber == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The single write lock makes check-then-insert atomic here; postgres
	// relies on unique indexes for the same guarantee.
	if bill.SessionID != "" {
		if _, exists := s.billIDBySession[bill.SessionID]; exists {
			return nil, store.ErrConflict
		}
	}
	if bill.OrderID != "" {
		if _, exists := s.billIDByOrder[bill.OrderID]; exists {
			return nil, store.ErrConflict
		}
	}

	if bill.ID == "" {
		bill.ID = uuid.NewString()
	}
	if bill.CreatedAt.IsZero() {
		bill.CreatedAt = time.Now().UTC()
	}
	bill.Items = nil
	s.billsByID[bill.ID] = bill
	if bill.SessionID != "" {
		s.billIDBySession[bill.SessionID] = bill.ID
	}
	if bill.OrderID != "" {
		s.billIDByOrder[bill.OrderID] = bill.ID
	}
	created := bill
	return &created, nil
}

func (s *Store) InsertBillItems(_ context.Context, billID string, items []domain.BillItem) error {
	if len(items) == 0 {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.billsByID[billID]; !ok {
		return store.ErrNotFound
	}
	stored := make([]domain.BillItem, 0, len(items))
	for _, item := range items {
		item.BillID = billID
		stored = append(stored, item)
	}
	s.billItems[billID] = stored
	return nil
}

func (s *Store) DeleteBill(_ context.Context, billID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bill, ok := s.billsByID[billID]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.billsByID, billID)
	delete(s.billItems, billID)
	if bill.SessionID != "" {
		delete(s.billIDBySession, bill.SessionID)
	}
	if bill.OrderID != "" {
		delete(s.billIDByOrder, bill.OrderID)
	}
	return nil
}

func (s *Store) billWithItems(bill domain.Bill) *domain.Bill {
	copyBill := bill
	copyBill.Items = append([]domain.BillItem(nil), s.billItems[bill.ID]...)
	return &copyBill
}

func (s *Store) GetBillByID(_ context.Context, id string) (*domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bill, ok := s.billsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.billWithItems(bill), nil
}

func (s *Store) FindBillBySession(_ context.Context, sessionID string) (*domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.billIDBySession[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.billWithItems(s.billsByID[id]), nil
}

func (s *Store) FindBillByOrder(_ context.Context, orderID string) (*domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.billIDByOrder[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.billWithItems(s.billsByID[id]), nil
}

func (s *Store) NextBillSequence(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.billSeq++
	return s.billSeq, nil
}

func (s *Store) CreateAnnouncement(_ context.Context, announcement domain.Announcement) (*domain.Announcement, error) {
	if announcement.Title == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if announcement.ID == "" {
		announcement.ID = uuid.NewString()
	}
	if announcement.CreatedAt.IsZero() {
		announcement.CreatedAt = time.Now().UTC()
	}
	s.announcements[announcement.ID] = announcement
	created := announcement
	return &created, nil
}

func (s *Store) ListAnnouncements(_ context.Context, activeOnly bool) ([]domain.Announcement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]domain.Announcement, 0, len(s.announcements))
	for _, a := range s.announcements {
		if activeOnly && !a.Active {
			continue
		}
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || entry.CreatedAt.After(to) {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}
