package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/brokerage/internal/auth"
	"github.com/xtrntr/brokerage/internal/db"
	"github.com/xtrntr/brokerage/internal/engine"
	"github.com/xtrntr/brokerage/internal/metrics"
	"github.com/xtrntr/brokerage/internal/oracle"
)

// QuoteProvider serves the current market snapshot for the instruments
// endpoint.
type QuoteProvider interface {
	Quotes() []oracle.Quote
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Store       db.Store
	Engine      *engine.Engine
	AuthService *auth.AuthService
	Quotes      QuoteProvider
	Log         *zap.SugaredLogger
}

// NewHandler creates a new handler
func NewHandler(store db.Store, eng *engine.Engine, authService *auth.AuthService, quotes QuoteProvider, log *zap.SugaredLogger) *Handler {
	return &Handler{Store: store, Engine: eng, AuthService: authService, Quotes: quotes, Log: log}
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}

	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "username and password required")
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		h.Log.Errorw("registration failed", "username", req.Username, "err", err)
		writeError(w, http.StatusInternalServerError, "REGISTER_ERROR", "failed to register user")
		return
	}

	writeSuccess(w, http.StatusCreated, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials")
		return
	}

	writeSuccess(w, http.StatusOK, map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authorization header required")
			return
		}

		// Remove "Bearer " prefix if present
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		userID, err := h.AuthService.GetUserFromToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
			return
		}

		// Add user_id to context
		ctx := context.WithValue(r.Context(), "user_id", userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PlaceOrder executes a market order at the current oracle price
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	var req struct {
		Symbol   string          `json:"symbol"`
		Side     string          `json:"side"`
		Quantity decimal.Decimal `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "symbol required")
		return
	}

	start := time.Now()
	order, err := h.Engine.Execute(r.Context(), userID, req.Symbol, req.Side, req.Quantity)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.OrdersTotal.WithLabelValues(order.Side).Inc()
	metrics.OrderLatency.WithLabelValues(order.Side).Observe(time.Since(start).Seconds())

	writeSuccess(w, http.StatusCreated, order)
}

// GetUserOrders retrieves a user's order history, newest first
func (h *Handler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	orders, err := h.Engine.Orders(r.Context(), userID)
	if err != nil {
		h.Log.Errorw("failed to retrieve orders", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "ORDER_FETCH_ERROR", "failed to retrieve orders")
		return
	}

	writeSuccess(w, http.StatusOK, orders)
}

// GetBalance returns the user's cash balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	balance, err := h.Engine.Balance(r.Context(), userID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"balance": balance,
	})
}

// UpdateBalance deposits to or withdraws from the user's cash balance.
// One endpoint for both directions, selected by the operation field.
func (h *Handler) UpdateBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	var req struct {
		Operation string          `json:"operation"`
		Amount    decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}

	var balance decimal.Decimal
	var err error
	switch req.Operation {
	case "deposit":
		balance, err = h.Engine.Deposit(r.Context(), userID, req.Amount)
	case "withdraw":
		balance, err = h.Engine.Withdraw(r.Context(), userID, req.Amount)
	default:
		writeError(w, http.StatusBadRequest, "INVALID_OPERATION", `operation must be "deposit" or "withdraw"`)
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"balance": balance,
	})
}

// GetPortfolio returns the user's cash balance, positions and total value
// at current prices
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	valuation, err := h.Engine.Valuation(r.Context(), userID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, valuation)
}

// GetInstruments returns current quotes for the monitored instruments
func (h *Handler) GetInstruments(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, h.Quotes.Quotes())
}

// AddFavorite marks a symbol as watched
func (h *Handler) AddFavorite(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	var req struct {
		Symbol string `json:"symbol"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "symbol required")
		return
	}

	fav, err := h.Store.AddFavorite(r.Context(), userID, req.Symbol)
	if err != nil {
		h.Log.Errorw("failed to add favorite", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "FAVORITE_ERROR", "failed to add favorite")
		return
	}

	writeSuccess(w, http.StatusCreated, fav)
}

// RemoveFavorite unmarks a watched symbol
func (h *Handler) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	symbol := chi.URLParam(r, "symbol")
	if err := h.Store.RemoveFavorite(r.Context(), userID, symbol); err != nil {
		h.Log.Errorw("failed to remove favorite", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "FAVORITE_ERROR", "failed to remove favorite")
		return
	}

	writeSuccess(w, http.StatusOK, map[string]string{"message": "favorite removed"})
}

// GetFavorites retrieves the user's watched symbols
func (h *Handler) GetFavorites(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	favorites, err := h.Store.GetFavorites(r.Context(), userID)
	if err != nil {
		h.Log.Errorw("failed to retrieve favorites", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "FAVORITE_ERROR", "failed to retrieve favorites")
		return
	}

	writeSuccess(w, http.StatusOK, favorites)
}
