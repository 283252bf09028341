package domain

import "time"

// User is the credential and identity record. PIN is the legacy plain-text
// field kept only until the first successful login upgrades it to PINHash.
type User struct {
	ID                  string     `json:"id"`
	Phone               string     `json:"phone"`
	Email               string     `json:"email,omitempty"`
	Name                string     `json:"name"`
	Role                string     `json:"role"`
	Position            string     `json:"position,omitempty"`
	ParentName          string     `json:"parent_name,omitempty"`
	PIN                 string     `json:"-"`
	PINHash             string     `json:"-"`
	SessionToken        string     `json:"-"`
	SessionExpiresAt    *time.Time `json:"-"`
	FailedLoginAttempts int        `json:"-"`
	LockedUntil         *time.Time `json:"-"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

// UserSummary is the safe projection returned to clients.
type UserSummary struct {
	ID       string `json:"id"`
	Phone    string `json:"phone"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Position string `json:"position,omitempty"`
}

func (u User) Summary() UserSummary {
	return UserSummary{
		ID:       u.ID,
		Phone:    u.Phone,
		Email:    u.Email,
		Name:     u.Name,
		Role:     u.Role,
		Position: u.Position,
	}
}

// DiningSession represents one seated visit. At most one active session
// exists per guest phone or per user id; callers check before creating.
type DiningSession struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id,omitempty"`
	GuestName       string     `json:"guest_name,omitempty"`
	GuestPhone      string     `json:"guest_phone,omitempty"`
	TableName       string     `json:"table_name"`
	GuestCount      int        `json:"guest_count"`
	Status          string     `json:"status"`
	BillRequested   bool       `json:"bill_requested"`
	BillRequestedAt *time.Time `json:"bill_requested_at,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	TotalCents      int64      `json:"total_cents,omitempty"`
}

type Order struct {
	ID            string      `json:"id"`
	UserID        string      `json:"user_id,omitempty"`
	SessionID     string      `json:"session_id,omitempty"`
	TableName     string      `json:"table_name,omitempty"`
	Status        string      `json:"status"`
	TotalCents    int64       `json:"total_cents"`
	DiscountCents int64       `json:"discount_cents"`
	Billed        bool        `json:"billed"`
	Notes         string      `json:"notes,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	Items         []OrderItem `json:"items"`
}

// OrderItem snapshots the unit price at the time the line was written.
// It is never recomputed from the menu except during an explicit edit.
type OrderItem struct {
	MenuItemID     string `json:"menu_item_id"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type MenuCategory struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SortOrder int    `json:"sort_order"`
}

type MenuItem struct {
	ID         string    `json:"id"`
	CategoryID string    `json:"category_id"`
	Name       string    `json:"name"`
	PriceCents int64     `json:"price_cents"`
	Available  bool      `json:"available"`
	CreatedAt  time.Time `json:"created_at"`
}

type Special struct {
	ID                string `json:"id"`
	MenuItemID        string `json:"menu_item_id"`
	Label             string `json:"label"`
	SpecialPriceCents int64  `json:"special_price_cents"`
	Active            bool   `json:"active"`
}

// MenuView is the joined read model served to guests; its three parts are
// fetched concurrently.
type MenuView struct {
	Categories []MenuCategory `json:"categories"`
	Items      []MenuItem     `json:"items"`
	Specials   []Special      `json:"specials"`
}

// Bill is the consolidated invoice. Exactly one of OrderID / SessionID /
// UserID links back to the billed scope. Guest and table fields are a
// denormalized snapshot for receipt rendering.
type Bill struct {
	ID              string     `json:"id"`
	BillNumber      string     `json:"bill_number"`
	OrderID         string     `json:"order_id,omitempty"`
	SessionID       string     `json:"session_id,omitempty"`
	UserID          string     `json:"user_id,omitempty"`
	ItemsTotalCents int64      `json:"items_total_cents"`
	DiscountCents   int64      `json:"discount_cents"`
	FinalTotalCents int64      `json:"final_total_cents"`
	PaymentMethod   string     `json:"payment_method"`
	PaymentStatus   string     `json:"payment_status"`
	GuestName       string     `json:"guest_name,omitempty"`
	TableName       string     `json:"table_name,omitempty"`
	OrderCount      int        `json:"order_count"`
	SourceStartedAt *time.Time `json:"source_started_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	Items           []BillItem `json:"items"`
}

// BillItem is one consolidated line per distinct (name, unit price) pair.
type BillItem struct {
	BillID         string `json:"bill_id"`
	ItemName       string `json:"item_name"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	SubtotalCents  int64  `json:"subtotal_cents"`
}

type Announcement struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedBy string    `json:"created_by"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	ActorID    string    `json:"actor_id,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	EntityType string    `json:"entity_type,omitempty"`
	EntityID   string    `json:"entity_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Actor is the resolved caller identity carried on the request context.
// Source records which credential resolved it: "token" or "user_id".
type Actor struct {
	UserID string
	Phone  string
	Role   string
	Source string
}

type SignupRequest struct {
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name"`
	PIN   string `json:"pin"`
}

type LoginRequest struct {
	Phone string `json:"phone"`
	PIN   string `json:"pin"`
}

type LoginResponse struct {
	User         UserSummary `json:"user"`
	SessionToken string      `json:"session_token"`
	ExpiresAt    string      `json:"expires_at"`
}

type LogoutRequest struct {
	UserID string `json:"user_id,omitempty"`
}

type CheckinRequest struct {
	UserID     string `json:"user_id,omitempty"`
	GuestName  string `json:"guest_name,omitempty"`
	GuestPhone string `json:"guest_phone,omitempty"`
	TableName  string `json:"table_name"`
	GuestCount int    `json:"guest_count"`
}

type SessionResponse struct {
	Session DiningSession `json:"session"`
}

type RequestBillRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
}

type OrderItemInput struct {
	MenuItemID string `json:"menu_item_id"`
	Qty        int    `json:"qty"`
}

type PlaceOrderRequest struct {
	UserID    string           `json:"user_id,omitempty"`
	SessionID string           `json:"session_id,omitempty"`
	TableName string           `json:"table_name,omitempty"`
	Items     []OrderItemInput `json:"items"`
	Notes     string           `json:"notes,omitempty"`
}

type OrderResponse struct {
	Order Order `json:"order"`
}

type UpdateOrderRequest struct {
	OrderID string           `json:"order_id"`
	UserID  string           `json:"user_id"`
	Items   []OrderItemInput `json:"items"`
	Notes   *string          `json:"notes,omitempty"`
}

type UpdateOrderResponse struct {
	OrderID    string `json:"order_id"`
	TotalCents int64  `json:"total_cents"`
}

type OrderStatusRequest struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type GenerateBillRequest struct {
	OrderID       string `json:"order_id,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	UserID        string `json:"user_id,omitempty"`
	PaymentMethod string `json:"payment_method,omitempty"`
}

type BillResponse struct {
	Bill     Bill `json:"bill"`
	Existing bool `json:"existing,omitempty"`
}

type MenuItemCreateRequest struct {
	CategoryID string `json:"category_id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
}

type MenuItemUpdateRequest struct {
	Name       *string `json:"name,omitempty"`
	PriceCents *int64  `json:"price_cents,omitempty"`
	Available  *bool   `json:"available,omitempty"`
}

type UserCreateRequest struct {
	Phone    string `json:"phone"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name"`
	PIN      string `json:"pin"`
	Role     string `json:"role"`
	Position string `json:"position,omitempty"`
}

type AnnouncementCreateRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

const (
	SessionStatusActive = "active"
	SessionStatusEnded  = "ended"
)

const (
	OrderStatusPending   = "pending"
	OrderStatusPreparing = "preparing"
	OrderStatusReady     = "ready"
	OrderStatusServed    = "served"
)

const (
	PaymentStatusUnpaid = "unpaid"
	PaymentStatusPaid   = "paid"
)

// UnknownItemName is used on bill lines whose menu item has been deleted.
const UnknownItemName = "Unknown Item"
