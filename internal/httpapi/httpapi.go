package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"mejaku/backend/internal/domain"
	"mejaku/backend/internal/service"
	"mejaku/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	repo          store.Repository
	allowedOrigin string
	loginLimiter  *attemptLimiter
	signupLimiter *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, repo store.Repository, allowedOrigin string) *API {
	return &API{
		service:       svc,
		auth:          auth,
		repo:          repo,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(10, time.Minute),
		signupLimiter: newAttemptLimiter(5, time.Minute),
	}
}

// attemptLimiter is a per-client sliding-window counter used on the
// credential endpoints. It complements the per-account lockout: the lockout
// protects one account, the limiter protects the endpoint.
type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	return &attemptLimiter{
		max:     max,
		window:  window,
		entries: make(map[string][]time.Time),
	}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/signup", a.handleSignup)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/refresh", a.handleRefresh)
	mux.HandleFunc("/api/v1/auth/logout", a.handleLogout)

	mux.HandleFunc("/api/v1/menu", a.withCaller(a.handleMenu))
	mux.HandleFunc("/api/v1/announcements", a.withCaller(a.handleAnnouncements))

	mux.HandleFunc("/api/v1/sessions/checkin", a.withCaller(a.handleCheckin))
	mux.HandleFunc("/api/v1/sessions/request-bill", a.withCaller(a.handleRequestBill))
	mux.HandleFunc("/api/v1/sessions/", a.withCaller(a.handleSessionByID))

	mux.HandleFunc("/api/v1/orders", a.withCaller(a.handleOrders))
	mux.HandleFunc("/api/v1/orders/update", a.withCaller(a.handleOrderUpdate))
	mux.HandleFunc("/api/v1/orders/", a.withCaller(a.handleOrderByID))

	mux.HandleFunc("/api/v1/kitchen/orders", a.withCaller(a.handleKitchenOrders))
	mux.HandleFunc("/api/v1/kitchen/orders/status", a.withCaller(a.handleOrderStatus))

	mux.HandleFunc("/api/v1/bills/order", a.withCaller(a.handleBillForOrder))
	mux.HandleFunc("/api/v1/bills/session", a.withCaller(a.handleBillForSession))
	mux.HandleFunc("/api/v1/bills/user", a.withCaller(a.handleBillForUser))
	mux.HandleFunc("/api/v1/bills/", a.withCaller(a.handleBillByID))

	mux.HandleFunc("/api/v1/admin/menu-categories", a.withCaller(a.handleMenuCategories))
	mux.HandleFunc("/api/v1/admin/menu-items", a.withCaller(a.handleMenuItems))
	mux.HandleFunc("/api/v1/admin/menu-items/", a.withCaller(a.handleMenuItemByID))
	mux.HandleFunc("/api/v1/admin/users", a.withCaller(a.handleUsers))
	mux.HandleFunc("/api/v1/admin/audit-logs", a.withCaller(a.handleAuditLogs))

	return a.withMiddleware(mux)
}

// resolveCaller maps request credentials to an actor. A bearer token always
// wins; an X-User-ID header is accepted as a weaker fallback for in-store
// tablets that have no login flow. With neither, the caller is an anonymous
// walk-in guest.
func (a *API) resolveCaller(r *http.Request) (domain.Actor, error) {
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
		token := strings.TrimSpace(authorization[len("Bearer "):])
		return a.auth.ResolveToken(r.Context(), token)
	}

	if userID := strings.TrimSpace(r.Header.Get("X-User-ID")); userID != "" {
		user, err := a.repo.GetUserByID(r.Context(), userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.Actor{}, ErrTokenInvalid
			}
			return domain.Actor{}, err
		}
		return domain.Actor{UserID: user.ID, Phone: user.Phone, Role: user.Role, Source: "user_id"}, nil
	}

	return domain.Actor{Role: domain.RoleOutsider, Source: "anonymous"}, nil
}

func (a *API) withCaller(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := a.resolveCaller(r)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.signupLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many signup attempts"))
		return
	}

	var req domain.SignupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := a.auth.Signup(r.Context(), req)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
		return
	}

	actor, err := a.auth.ResolveToken(r.Context(), token)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	user, err := a.repo.GetUserByID(r.Context(), actor.UserID)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	resp := map[string]any{"user": user.Summary()}
	if user.SessionExpiresAt != nil {
		resp["expires_at"] = user.SessionExpiresAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLogout is best-effort: revocation problems are logged, never
// surfaced, so a client can always discard its token.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	if token := bearerToken(r); token != "" {
		if err := a.auth.Revoke(r.Context(), token); err != nil {
			log.Warn().Err(err).Msg("token revocation failed")
		}
	} else {
		var req domain.LogoutRequest
		if err := decodeJSON(r, &req); err == nil && req.UserID != "" {
			if err := a.repo.ClearSessionToken(r.Context(), req.UserID); err != nil && !errors.Is(err, store.ErrNotFound) {
				log.Warn().Err(err).Str("user_id", req.UserID).Msg("session clear failed")
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleMenu(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	view, err := a.service.Menu(r.Context())
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleCheckin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.CheckinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.Checkin(r.Context(), req)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleRequestBill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.RequestBillRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.RequestBill(r.Context(), req)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	sessionID := pathTail(r.URL.Path, "/api/v1/sessions/")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, errors.New("session id required"))
		return
	}

	resp, err := a.service.GetSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.PlaceOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.PlaceOrder(r.Context(), req)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleOrderUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.UpdateOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.UpdateOrder(r.Context(), req)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleOrderByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	orderID := pathTail(r.URL.Path, "/api/v1/orders/")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, errors.New("order id required"))
		return
	}

	resp, err := a.service.GetOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleKitchenOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	orders, err := a.service.KitchenOrders(r.Context())
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (a *API) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.OrderStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.SetOrderStatus(r.Context(), req)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleBillForOrder(w http.ResponseWriter, r *http.Request) {
	a.generateBill(w, r, a.service.GenerateBillForOrder)
}

func (a *API) handleBillForSession(w http.ResponseWriter, r *http.Request) {
	a.generateBill(w, r, a.service.GenerateBillForSession)
}

func (a *API) handleBillForUser(w http.ResponseWriter, r *http.Request) {
	a.generateBill(w, r, a.service.GenerateBillForUser)
}

func (a *API) generateBill(w http.ResponseWriter, r *http.Request, generate func(context.Context, domain.GenerateBillRequest) (domain.BillResponse, error)) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.GenerateBillRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := generate(r.Context(), req)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	status := http.StatusCreated
	if resp.Existing {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (a *API) handleBillByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	billID := pathTail(r.URL.Path, "/api/v1/bills/")
	if billID == "" {
		writeError(w, http.StatusBadRequest, errors.New("bill id required"))
		return
	}

	resp, err := a.service.GetBill(r.Context(), billID)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleMenuCategories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var category domain.MenuCategory
	if err := decodeJSON(r, &category); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	created, err := a.service.CreateMenuCategory(r.Context(), category)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"category": created})
}

func (a *API) handleMenuItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.MenuItemCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	item, err := a.service.CreateMenuItem(r.Context(), req)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"item": item})
}

func (a *API) handleMenuItemByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		writeMethodNotAllowed(w)
		return
	}

	itemID := pathTail(r.URL.Path, "/api/v1/admin/menu-items/")
	if itemID == "" {
		writeError(w, http.StatusBadRequest, errors.New("menu item id required"))
		return
	}

	var req domain.MenuItemUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	item, err := a.service.UpdateMenuItem(r.Context(), itemID, req)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		users, err := a.service.ListUsers(r.Context())
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})
	case http.MethodPost:
		var req domain.UserCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		user, err := a.service.CreateUser(r.Context(), req)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"user": user})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleAnnouncements(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		activeOnly := r.URL.Query().Get("all") == ""
		announcements, err := a.service.ListAnnouncements(r.Context(), activeOnly)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"announcements": announcements})
	case http.MethodPost:
		var req domain.AnnouncementCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		created, err := a.service.CreateAnnouncement(r.Context(), req)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"announcement": created})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), r.URL.Query().Get("date"), limit)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(startedAt)).
			Msg("request")
	})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest
	// Clients treat re-billing as a validation failure, not a conflict.
	case errors.Is(err, service.ErrAlreadyBilled):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrPermissionDenied), errors.Is(err, service.ErrEditWindowClosed):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrTokenInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, ErrAccountLocked):
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

func bearerToken(r *http.Request) string {
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
		return ""
	}
	return strings.TrimSpace(authorization[len("Bearer "):])
}

func pathTail(path string, prefix string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimPrefix(path, prefix), "/"))
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError returns the original message for 4xx responses and a generic
// one for 5xx so internal details never reach clients.
func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		log.Error().Err(err).Int("status", status).Msg("internal error")
		msg = "internal server error"
	}
	encode(w, status, map[string]any{"success": false, "error": msg})
}

// Every response carries a success flag alongside either data or an error
// string.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	encode(w, status, map[string]any{"success": true, "data": payload})
}

func encode(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
