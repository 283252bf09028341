package store

import (
	"context"
	"errors"
	"time"

	"mejaku/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
	// ErrUnsupported marks an optional facility the backing store does not
	// provide (legacy digest check, bill number sequence). Callers treat it
	// as inconclusive and fall back.
	ErrUnsupported = errors.New("unsupported")
)

// Repository is the single persistence contract. Implementations must
// normalize the user role field on every read path (domain.NormalizeRole)
// so consumers only ever see canonical roles.
type Repository interface {
	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByPhone(ctx context.Context, phone string) (*domain.User, error)
	GetUserBySessionToken(ctx context.Context, token string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	UpdatePINHash(ctx context.Context, userID string, hash string) error
	VerifyLegacyDigest(ctx context.Context, userID string, candidate string) (bool, error)
	SetSessionToken(ctx context.Context, userID string, token string, expiresAt time.Time, lastLogin time.Time) error
	ExtendSession(ctx context.Context, userID string, expiresAt time.Time) error
	ClearSessionToken(ctx context.Context, userID string) error
	UpdateLoginFailure(ctx context.Context, userID string, attempts int, lockedUntil *time.Time) error
	ClearLoginFailure(ctx context.Context, userID string) error

	ListMenuCategories(ctx context.Context) ([]domain.MenuCategory, error)
	ListMenuItems(ctx context.Context) ([]domain.MenuItem, error)
	ListSpecials(ctx context.Context) ([]domain.Special, error)
	GetMenuItemsByIDs(ctx context.Context, ids []string) (map[string]domain.MenuItem, error)
	CreateMenuCategory(ctx context.Context, category domain.MenuCategory) (*domain.MenuCategory, error)
	CreateMenuItem(ctx context.Context, item domain.MenuItem) (*domain.MenuItem, error)
	UpdateMenuItem(ctx context.Context, item domain.MenuItem) (*domain.MenuItem, error)

	CreateSession(ctx context.Context, session domain.DiningSession) (*domain.DiningSession, error)
	GetSessionByID(ctx context.Context, id string) (*domain.DiningSession, error)
	FindActiveSessionByPhone(ctx context.Context, phone string) (*domain.DiningSession, error)
	FindActiveSessionByUser(ctx context.Context, userID string) (*domain.DiningSession, error)
	MarkBillRequested(ctx context.Context, sessionID string, at time.Time) error
	CloseSession(ctx context.Context, sessionID string, totalCents int64, endedAt time.Time) error

	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrderByID(ctx context.Context, id string) (*domain.Order, error)
	ReplaceOrderItems(ctx context.Context, orderID string, items []domain.OrderItem, totalCents int64, notes *string) error
	ListOrdersBySession(ctx context.Context, sessionID string, unbilledOnly bool) ([]domain.Order, error)
	ListUnbilledOrdersByUser(ctx context.Context, userID string) ([]domain.Order, error)
	ListOpenOrders(ctx context.Context) ([]domain.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status string) (*domain.Order, error)
	MarkOrdersBilled(ctx context.Context, orderIDs []string) error

	CreateBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error)
	InsertBillItems(ctx context.Context, billID string, items []domain.BillItem) error
	DeleteBill(ctx context.Context, billID string) error
	GetBillByID(ctx context.Context, id string) (*domain.Bill, error)
	FindBillBySession(ctx context.Context, sessionID string) (*domain.Bill, error)
	FindBillByOrder(ctx context.Context, orderID string) (*domain.Bill, error)
	NextBillSequence(ctx context.Context) (int64, error)

	CreateAnnouncement(ctx context.Context, announcement domain.Announcement) (*domain.Announcement, error)
	ListAnnouncements(ctx context.Context, activeOnly bool) ([]domain.Announcement, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}
