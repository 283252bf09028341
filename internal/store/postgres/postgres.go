package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"mejaku/backend/internal/domain"
	"mejaku/backend/internal/store"
	"mejaku/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const userColumns = `
	id, phone, COALESCE(email,''), name, role, COALESCE(position,''), COALESCE(parent_name,''),
	COALESCE(pin,''), COALESCE(pin_hash,''), COALESCE(session_token,''), session_expires_at,
	failed_login_attempts, locked_until, last_login_at, created_at
`

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var user domain.User
	var sessionExpires sql.NullTime
	var lockedUntil sql.NullTime
	var lastLogin sql.NullTime
	err := row.Scan(
		&user.ID,
		&user.Phone,
		&user.Email,
		&user.Name,
		&user.Role,
		&user.Position,
		&user.ParentName,
		&user.PIN,
		&user.PINHash,
		&user.SessionToken,
		&sessionExpires,
		&user.FailedLoginAttempts,
		&lockedUntil,
		&lastLogin,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if sessionExpires.Valid {
		at := sessionExpires.Time.UTC()
		user.SessionExpiresAt = &at
	}
	if lockedUntil.Valid {
		at := lockedUntil.Time.UTC()
		user.LockedUntil = &at
	}
	if lastLogin.Valid {
		at := lastLogin.Time.UTC()
		user.LastLoginAt = &at
	}
	user.CreatedAt = user.CreatedAt.UTC()
	user.Role = domain.NormalizeRole(user.Role)
	return &user, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	user.Phone = strings.TrimSpace(user.Phone)
	if user.Phone == "" || strings.TrimSpace(user.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, phone, email, name, role, position, parent_name, pin_hash, failed_login_attempts, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,0,$9)
	`, user.ID, user.Phone, nullIfEmpty(user.Email), user.Name, user.Role, nullIfEmpty(user.Position), nullIfEmpty(user.ParentName), nullIfEmpty(user.PINHash), user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := user
	created.Role = domain.NormalizeRole(created.Role)
	return &created, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *Store) GetUserByPhone(ctx context.Context, phone string) (*domain.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE phone = $1`, phone))
}

func (s *Store) GetUserBySessionToken(ctx context.Context, token string) (*domain.User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, store.ErrInvalidInput
	}
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE session_token = $1`, token))
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0, 32)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdatePINHash(ctx context.Context, userID string, hash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET pin_hash = $2, pin = NULL
		WHERE id = $1
	`, userID, hash)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// VerifyLegacyDigest checks the candidate against the crypt() digest stored
// by the old importer. Errors are returned as-is so the caller can treat the
// tier as inconclusive rather than a mismatch.
func (s *Store) VerifyLegacyDigest(ctx context.Context, userID string, candidate string) (bool, error) {
	var matched bool
	err := s.db.QueryRowContext(ctx, `
		SELECT pin_digest IS NOT NULL AND pin_digest = crypt($2, pin_digest)
		FROM users
		WHERE id = $1
	`, userID, candidate).Scan(&matched)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, store.ErrNotFound
		}
		return false, err
	}
	return matched, nil
}

func (s *Store) SetSessionToken(ctx context.Context, userID string, token string, expiresAt time.Time, lastLogin time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET session_token = $2, session_expires_at = $3, last_login_at = $4
		WHERE id = $1
	`, userID, token, expiresAt, lastLogin)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ExtendSession(ctx context.Context, userID string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET session_expires_at = $2
		WHERE id = $1
	`, userID, expiresAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ClearSessionToken(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET session_token = NULL, session_expires_at = NULL
		WHERE id = $1
	`, userID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateLoginFailure(ctx context.Context, userID string, attempts int, lockedUntil *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET failed_login_attempts = $2, locked_until = $3
		WHERE id = $1
	`, userID, attempts, nullTime(lockedUntil))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ClearLoginFailure(ctx context.Context, userID string) error {
	return s.UpdateLoginFailure(ctx, userID, 0, nil)
}

func (s *Store) ListMenuCategories(ctx context.Context) ([]domain.MenuCategory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, sort_order
		FROM menu_categories
		ORDER BY sort_order ASC, name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.MenuCategory, 0, 16)
	for rows.Next() {
		var c domain.MenuCategory
		if err := rows.Scan(&c.ID, &c.Name, &c.SortOrder); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

func (s *Store) ListMenuItems(ctx context.Context) ([]domain.MenuItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category_id, name, price_cents, available, created_at
		FROM menu_items
		ORDER BY category_id ASC, name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.MenuItem, 0, 64)
	for rows.Next() {
		var it domain.MenuItem
		if err := rows.Scan(&it.ID, &it.CategoryID, &it.Name, &it.PriceCents, &it.Available, &it.CreatedAt); err != nil {
			return nil, err
		}
		it.CreatedAt = it.CreatedAt.UTC()
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListSpecials(ctx context.Context) ([]domain.Special, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, menu_item_id, label, special_price_cents, active
		FROM menu_specials
		WHERE active = true
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	specials := make([]domain.Special, 0, 8)
	for rows.Next() {
		var sp domain.Special
		if err := rows.Scan(&sp.ID, &sp.MenuItemID, &sp.Label, &sp.SpecialPriceCents, &sp.Active); err != nil {
			return nil, err
		}
		specials = append(specials, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return specials, nil
}

func (s *Store) GetMenuItemsByIDs(ctx context.Context, ids []string) (map[string]domain.MenuItem, error) {
	result := make(map[string]domain.MenuItem, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category_id, name, price_cents, available, created_at
		FROM menu_items
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var it domain.MenuItem
		if err := rows.Scan(&it.ID, &it.CategoryID, &it.Name, &it.PriceCents, &it.Available, &it.CreatedAt); err != nil {
			return nil, err
		}
		it.CreatedAt = it.CreatedAt.UTC()
		result[it.ID] = it
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateMenuCategory(ctx context.Context, category domain.MenuCategory) (*domain.MenuCategory, error) {
	category.Name = strings.TrimSpace(category.Name)
	if category.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if category.ID == "" {
		category.ID = xid.New("cat")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO menu_categories (id, name, sort_order)
		VALUES ($1,$2,$3)
	`, category.ID, category.Name, category.SortOrder)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	created := category
	return &created, nil
}

func (s *Store) CreateMenuItem(ctx context.Context, item domain.MenuItem) (*domain.MenuItem, error) {
	item.Name = strings.TrimSpace(item.Name)
	if item.Name == "" || item.PriceCents < 1 {
		return nil, store.ErrInvalidInput
	}
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO menu_items (id, category_id, name, price_cents, available, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, item.ID, item.CategoryID, item.Name, item.PriceCents, item.Available, item.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	created := item
	return &created, nil
}

func (s *Store) UpdateMenuItem(ctx context.Context, item domain.MenuItem) (*domain.MenuItem, error) {
	item.Name = strings.TrimSpace(item.Name)
	if item.ID == "" || item.Name == "" || item.PriceCents < 1 {
		return nil, store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE menu_items
		SET name = $2, price_cents = $3, available = $4
		WHERE id = $1
	`, item.ID, item.Name, item.PriceCents, item.Available)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	updated := item
	return &updated, nil
}

func scanSession(row interface{ Scan(...any) error }) (*domain.DiningSession, error) {
	var session domain.DiningSession
	var billRequestedAt sql.NullTime
	var endedAt sql.NullTime
	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.GuestName,
		&session.GuestPhone,
		&session.TableName,
		&session.GuestCount,
		&session.Status,
		&session.BillRequested,
		&billRequestedAt,
		&session.StartedAt,
		&endedAt,
		&session.TotalCents,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	session.StartedAt = session.StartedAt.UTC()
	if billRequestedAt.Valid {
		at := billRequestedAt.Time.UTC()
		session.BillRequestedAt = &at
	}
	if endedAt.Valid {
		at := endedAt.Time.UTC()
		session.EndedAt = &at
	}
	return &session, nil
}

const sessionColumns = `
	id, COALESCE(user_id,''), COALESCE(guest_name,''), COALESCE(guest_phone,''), table_name,
	guest_count, status, bill_requested, bill_requested_at, started_at, ended_at, COALESCE(total_cents,0)
`

func (s *Store) CreateSession(ctx context.Context, session domain.DiningSession) (*domain.DiningSession, error) {
	session.TableName = strings.TrimSpace(session.TableName)
	if session.TableName == "" {
		return nil, store.ErrInvalidInput
	}
	if session.ID == "" {
		session.ID = xid.New("dsn")
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}
	if session.Status == "" {
		session.Status = domain.SessionStatusActive
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dining_sessions (
			id, user_id, guest_name, guest_phone, table_name, guest_count,
			status, bill_requested, started_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,false,$8)
	`, session.ID, nullIfEmpty(session.UserID), nullIfEmpty(session.GuestName), nullIfEmpty(session.GuestPhone),
		session.TableName, session.GuestCount, session.Status, session.StartedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	created := session
	return &created, nil
}

func (s *Store) GetSessionByID(ctx context.Context, id string) (*domain.DiningSession, error) {
	return scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM dining_sessions WHERE id = $1`, id))
}

func (s *Store) FindActiveSessionByPhone(ctx context.Context, phone string) (*domain.DiningSession, error) {
	if phone == "" {
		return nil, store.ErrNotFound
	}
	return scanSession(s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM dining_sessions
		WHERE guest_phone = $1 AND status = $2
		ORDER BY started_at DESC
		LIMIT 1
	`, phone, domain.SessionStatusActive))
}

func (s *Store) FindActiveSessionByUser(ctx context.Context, userID string) (*domain.DiningSession, error) {
	if userID == "" {
		return nil, store.ErrNotFound
	}
	return scanSession(s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM dining_sessions
		WHERE user_id = $1 AND status = $2
		ORDER BY started_at DESC
		LIMIT 1
	`, userID, domain.SessionStatusActive))
}

func (s *Store) MarkBillRequested(ctx context.Context, sessionID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE dining_sessions
		SET bill_requested = true, bill_requested_at = $2
		WHERE id = $1
	`, sessionID, at)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CloseSession(ctx context.Context, sessionID string, totalCents int64, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE dining_sessions
		SET status = $2, ended_at = $3, total_cents = $4
		WHERE id = $1
	`, sessionID, domain.SessionStatusEnded, endedAt, totalCents)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if len(order.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, user_id, session_id, table_name, status, total_cents,
			discount_cents, billed, notes, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,false,$8,$9)
	`, order.ID, nullIfEmpty(order.UserID), nullIfEmpty(order.SessionID), nullIfEmpty(order.TableName),
		order.Status, order.TotalCents, order.DiscountCents, strings.TrimSpace(order.Notes), order.CreatedAt)
	if err != nil {
		return nil, err
	}

	for _, item := range order.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, menu_item_id, qty, unit_price_cents)
			VALUES ($1,$2,$3,$4)
		`, order.ID, item.MenuItemID, item.Qty, item.UnitPriceCents)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := order
	return &created, nil
}

const orderColumns = `
	id, COALESCE(user_id,''), COALESCE(session_id,''), COALESCE(table_name,''), status,
	total_cents, discount_cents, billed, COALESCE(notes,''), created_at
`

func scanOrder(row interface{ Scan(...any) error }) (*domain.Order, error) {
	var order domain.Order
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.SessionID,
		&order.TableName,
		&order.Status,
		&order.TotalCents,
		&order.DiscountCents,
		&order.Billed,
		&order.Notes,
		&order.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	order.CreatedAt = order.CreatedAt.UTC()
	return &order, nil
}

func (s *Store) loadOrderItems(ctx context.Context, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, 0, len(orders))
	for _, order := range orders {
		ids = append(ids, order.ID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, menu_item_id, qty, unit_price_cents
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY id ASC
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	itemMap := make(map[string][]domain.OrderItem, len(ids))
	for rows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := rows.Scan(&orderID, &item.MenuItemID, &item.Qty, &item.UnitPriceCents); err != nil {
			return err
		}
		itemMap[orderID] = append(itemMap[orderID], item)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i := range orders {
		orders[i].Items = itemMap[orders[i].ID]
	}
	return nil
}

func (s *Store) GetOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	order, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}

	single := []domain.Order{*order}
	if err := s.loadOrderItems(ctx, single); err != nil {
		return nil, err
	}
	return &single[0], nil
}

func (s *Store) ReplaceOrderItems(ctx context.Context, orderID string, items []domain.OrderItem, totalCents int64, notes *string) error {
	if len(items) == 0 {
		return store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var res sql.Result
	if notes != nil {
		res, err = tx.ExecContext(ctx, `
			UPDATE orders
			SET total_cents = $2, notes = $3
			WHERE id = $1
		`, orderID, totalCents, strings.TrimSpace(*notes))
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE orders
			SET total_cents = $2
			WHERE id = $1
		`, orderID, totalCents)
	}
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID)
	if err != nil {
		return err
	}
	for _, item := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, menu_item_id, qty, unit_price_cents)
			VALUES ($1,$2,$3,$4)
		`, orderID, item.MenuItemID, item.Qty, item.UnitPriceCents)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) queryOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, 16)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadOrderItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) ListOrdersBySession(ctx context.Context, sessionID string, unbilledOnly bool) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE session_id = $1`
	if unbilledOnly {
		query += ` AND billed = false`
	}
	query += ` ORDER BY created_at ASC, id ASC`
	return s.queryOrders(ctx, query, sessionID)
}

func (s *Store) ListUnbilledOrdersByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	return s.queryOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1 AND billed = false
		ORDER BY created_at ASC, id ASC
	`, userID)
}

func (s *Store) ListOpenOrders(ctx context.Context) ([]domain.Order, error) {
	return s.queryOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = ANY($1)
		ORDER BY created_at ASC, id ASC
	`, []string{domain.OrderStatusPending, domain.OrderStatusPreparing, domain.OrderStatusReady})
}

func (s *Store) UpdateOrderStatus(ctx context.Context, orderID string, status string) (*domain.Order, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $2
		WHERE id = $1
	`, orderID, status)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetOrderByID(ctx, orderID)
}

func (s *Store) MarkOrdersBilled(ctx context.Context, orderIDs []string) error {
	if len(orderIDs) == 0 {
		return nil
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET billed = true
		WHERE id = ANY($1)
	`, orderIDs)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != int64(len(orderIDs)) {
		return store.ErrNotFound
	}
	return nil
}

// CreateBill relies on the partial unique indexes on bills(session_id) and
// bills(order_id) to reject a second bill for the same scope.
func (s *Store) CreateBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error) {
	if bill.BillNumber == "" {
		return nil, store.ErrInvalidInput
	}
	if bill.ID == "" {
		bill.ID = xid.New("bill")
	}
	if bill.CreatedAt.IsZero() {
		bill.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bills (
			id, bill_number, order_id, session_id, user_id, items_total_cents,
			discount_cents, final_total_cents, payment_method, payment_status,
			guest_name, table_name, order_count, source_started_at, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, bill.ID, bill.BillNumber, nullIfEmpty(bill.OrderID), nullIfEmpty(bill.SessionID), nullIfEmpty(bill.UserID),
		bill.ItemsTotalCents, bill.DiscountCents, bill.FinalTotalCents, bill.PaymentMethod, bill.PaymentStatus,
		nullIfEmpty(bill.GuestName), nullIfEmpty(bill.TableName), bill.OrderCount, nullTime(bill.SourceStartedAt), bill.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	created := bill
	created.Items = nil
	return &created, nil
}

func (s *Store) InsertBillItems(ctx context.Context, billID string, items []domain.BillItem) error {
	if len(items) == 0 {
		return store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, item := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO bill_items (bill_id, item_name, qty, unit_price_cents, subtotal_cents)
			VALUES ($1,$2,$3,$4,$5)
		`, billID, item.ItemName, item.Qty, item.UnitPriceCents, item.SubtotalCents)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) DeleteBill(ctx context.Context, billID string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `DELETE FROM bill_items WHERE bill_id = $1`, billID)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM bills WHERE id = $1`, billID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	return tx.Commit()
}

const billColumns = `
	id, bill_number, COALESCE(order_id,''), COALESCE(session_id,''), COALESCE(user_id,''),
	items_total_cents, discount_cents, final_total_cents, payment_method, payment_status,
	COALESCE(guest_name,''), COALESCE(table_name,''), order_count, source_started_at, created_at
`

func scanBill(row interface{ Scan(...any) error }) (*domain.Bill, error) {
	var bill domain.Bill
	var sourceStartedAt sql.NullTime
	err := row.Scan(
		&bill.ID,
		&bill.BillNumber,
		&bill.OrderID,
		&bill.SessionID,
		&bill.UserID,
		&bill.ItemsTotalCents,
		&bill.DiscountCents,
		&bill.FinalTotalCents,
		&bill.PaymentMethod,
		&bill.PaymentStatus,
		&bill.GuestName,
		&bill.TableName,
		&bill.OrderCount,
		&sourceStartedAt,
		&bill.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	bill.CreatedAt = bill.CreatedAt.UTC()
	if sourceStartedAt.Valid {
		at := sourceStartedAt.Time.UTC()
		bill.SourceStartedAt = &at
	}
	return &bill, nil
}

func (s *Store) loadBillItems(ctx context.Context, bill *domain.Bill) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bill_id, item_name, qty, unit_price_cents, subtotal_cents
		FROM bill_items
		WHERE bill_id = $1
		ORDER BY id ASC
	`, bill.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	items := make([]domain.BillItem, 0, 8)
	for rows.Next() {
		var item domain.BillItem
		if err := rows.Scan(&item.BillID, &item.ItemName, &item.Qty, &item.UnitPriceCents, &item.SubtotalCents); err != nil {
			return err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	bill.Items = items
	return nil
}

func (s *Store) findBill(ctx context.Context, query string, arg string) (*domain.Bill, error) {
	bill, err := scanBill(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		return nil, err
	}
	if err := s.loadBillItems(ctx, bill); err != nil {
		return nil, err
	}
	return bill, nil
}

func (s *Store) GetBillByID(ctx context.Context, id string) (*domain.Bill, error) {
	return s.findBill(ctx, `SELECT `+billColumns+` FROM bills WHERE id = $1`, id)
}

func (s *Store) FindBillBySession(ctx context.Context, sessionID string) (*domain.Bill, error) {
	return s.findBill(ctx, `SELECT `+billColumns+` FROM bills WHERE session_id = $1`, sessionID)
}

func (s *Store) FindBillByOrder(ctx context.Context, orderID string) (*domain.Bill, error) {
	return s.findBill(ctx, `SELECT `+billColumns+` FROM bills WHERE order_id = $1`, orderID)
}

func (s *Store) NextBillSequence(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT nextval('bill_number_seq')`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func (s *Store) CreateAnnouncement(ctx context.Context, announcement domain.Announcement) (*domain.Announcement, error) {
	announcement.Title = strings.TrimSpace(announcement.Title)
	if announcement.Title == "" {
		return nil, store.ErrInvalidInput
	}
	if announcement.ID == "" {
		announcement.ID = xid.New("ann")
	}
	if announcement.CreatedAt.IsZero() {
		announcement.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO announcements (id, title, body, created_by, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, announcement.ID, announcement.Title, announcement.Body, nullIfEmpty(announcement.CreatedBy), announcement.Active, announcement.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := announcement
	return &created, nil
}

func (s *Store) ListAnnouncements(ctx context.Context, activeOnly bool) ([]domain.Announcement, error) {
	query := `
		SELECT id, title, body, COALESCE(created_by,''), active, created_at
		FROM announcements
	`
	if activeOnly {
		query += ` WHERE active = true`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]domain.Announcement, 0, 16)
	for rows.Next() {
		var a domain.Announcement
		if err := rows.Scan(&a.ID, &a.Title, &a.Body, &a.CreatedBy, &a.Active, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.CreatedAt = a.CreatedAt.UTC()
		list = append(list, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, action, actor_id, phone, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.Action, nullIfEmpty(entry.ActorID), nullIfEmpty(entry.Phone), entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, COALESCE(actor_id,''), COALESCE(phone,''), entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.Action, &entry.ActorID, &entry.Phone, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
