// Package api provides the HTTP handlers for quoting and executing trades,
// reading securities, portfolios and the ledger, ingesting stats, and
// running season transitions.
//
// All monetary values use shopspring/decimal and travel as JSON strings.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fsm/market-engine/internal/catalog"
	"github.com/fsm/market-engine/internal/engine"
	"github.com/fsm/market-engine/internal/metrics"
	"github.com/fsm/market-engine/internal/model"
)

// Service serves the market API on top of an engine.
type Service struct {
	engine  *engine.Engine
	limiter *AccountLimiter
	wsHub   *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates the API service. limiter and hub may be nil.
func NewService(eng *engine.Engine, limiter *AccountLimiter, hub *WSHub) *Service {
	return &Service{engine: eng, limiter: limiter, wsHub: hub}
}

// Routes mounts the /api/v1 endpoints on r.
func (s *Service) Routes(r chi.Router) {
	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}

	r.Get("/securities", s.ListSecurities)
	r.Post("/securities", s.CreateSecurity)
	r.Get("/securities/{securityID}", s.GetSecurity)
	r.Get("/securities/{securityID}/history", s.GetPriceHistory)
	r.Post("/securities/{securityID}/listing", s.SetListing)
	r.Get("/movers", s.GetMovers)

	r.Post("/quote/{side}", s.Quote)
	r.Post("/trade/{side}", s.ExecuteTrade)

	r.Post("/accounts", s.CreateAccount)
	r.Get("/portfolio/{accountID}", s.GetPortfolio)
	r.Get("/accounts/{accountID}/transactions", s.ListTransactions)
	r.Post("/accounts/{accountID}/margin", s.EnforceMargin)

	r.Post("/stats", s.RecordStat)

	r.Post("/seasons/{season}/close", s.CloseSeason)
	r.Post("/seasons/{season}/reset", s.ResetSeason)
}

// --- Request/Response types ---

// TradeRequest is the JSON body for POST /quote/{side} and /trade/{side}.
type TradeRequest struct {
	AccountID  string          `json:"account_id"`
	SecurityID string          `json:"security_id"`
	Shares     decimal.Decimal `json:"shares"`
}

// CreateAccountRequest is the JSON body for POST /accounts.
type CreateAccountRequest struct {
	Username string `json:"username"`
}

// CreateSecurityRequest is the JSON body for POST /securities.
type CreateSecurityRequest struct {
	catalog.Listing
	Listed *bool `json:"listed,omitempty"` // defaults to true
}

// ListingRequest is the JSON body for POST /securities/{id}/listing.
type ListingRequest struct {
	Listed bool `json:"listed"`
	Season *int `json:"season,omitempty"`
}

// StatRequest is the JSON body for POST /stats.
type StatRequest struct {
	SecurityID string          `json:"security_id"`
	Week       int             `json:"week"`
	Points     decimal.Decimal `json:"fantasy_points"`
	Live       *model.Live     `json:"live,omitempty"`
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error   string          `json:"error"`
	Code    engine.Code     `json:"code"`
	Details *engine.Details `json:"details,omitempty"`
}

// --- HTTP Handlers ---

func parseSide(r *http.Request) (model.Side, bool) {
	side := model.Side(chi.URLParam(r, "side"))
	switch side {
	case model.SideBuy, model.SideSell, model.SideShort, model.SideCover:
		return side, true
	}
	return "", false
}

func decodeTrade(w http.ResponseWriter, r *http.Request) (model.Side, TradeRequest, bool) {
	side, ok := parseSide(r)
	if !ok {
		writeError(w, "side must be one of buy, sell, short, cover", http.StatusBadRequest)
		return "", TradeRequest{}, false
	}
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return "", TradeRequest{}, false
	}
	if req.AccountID == "" || req.SecurityID == "" {
		writeError(w, "account_id and security_id are required", http.StatusBadRequest)
		return "", TradeRequest{}, false
	}
	return side, req, true
}

// Quote handles POST /api/v1/quote/{side}
func (s *Service) Quote(w http.ResponseWriter, r *http.Request) {
	side, req, ok := decodeTrade(w, r)
	if !ok {
		return
	}
	q, err := s.engine.Quote(r.Context(), side, req.AccountID, req.SecurityID, req.Shares)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// ExecuteTrade handles POST /api/v1/trade/{side}
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	side, req, ok := decodeTrade(w, r)
	if !ok {
		return
	}
	if !s.limiter.Allow(req.AccountID) {
		metrics.TradeRejections.WithLabelValues(string(side), "RateLimited").Inc()
		writeError(w, "too many trades, slow down", http.StatusTooManyRequests)
		return
	}
	res, err := s.engine.Trade(r.Context(), side, req.AccountID, req.SecurityID, req.Shares)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListSecurities handles GET /api/v1/securities?account_id=
func (s *Service) ListSecurities(w http.ResponseWriter, r *http.Request) {
	views, err := s.engine.ListSecurities(r.Context(), r.URL.Query().Get("account_id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if views == nil {
		views = []model.SecurityView{}
	}
	writeJSON(w, http.StatusOK, views)
}

// GetSecurity handles GET /api/v1/securities/{securityID}?account_id=
func (s *Service) GetSecurity(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.GetSecurity(r.Context(), chi.URLParam(r, "securityID"), r.URL.Query().Get("account_id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// CreateSecurity handles POST /api/v1/securities
func (s *Service) CreateSecurity(w http.ResponseWriter, r *http.Request) {
	var req CreateSecurityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	listed := true
	if req.Listed != nil {
		listed = *req.Listed
	}
	sec, err := s.engine.CreateSecurity(r.Context(), req.Listing, listed)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sec)
}

// SetListing handles POST /api/v1/securities/{securityID}/listing
func (s *Service) SetListing(w http.ResponseWriter, r *http.Request) {
	var req ListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	sec, err := s.engine.SetListing(r.Context(), chi.URLParam(r, "securityID"), req.Listed, req.Season)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sec)
}

// GetPriceHistory handles GET /api/v1/securities/{securityID}/history
// Optional ?since=<RFC3339>&limit=<n>.
func (s *Service) GetPriceHistory(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, "since must be an RFC3339 timestamp", http.StatusBadRequest)
			return
		}
		since = t
	}
	limit, ok := queryInt(w, r, "limit", 0)
	if !ok {
		return
	}
	points, err := s.engine.PriceHistory(r.Context(), chi.URLParam(r, "securityID"), since, limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if points == nil {
		points = []model.PricePoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

// GetMovers handles GET /api/v1/movers?window=24h&limit=5
func (s *Service) GetMovers(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			writeError(w, "window must be a duration such as 1h or 30m", http.StatusBadRequest)
			return
		}
		window = d
	}
	limit, ok := queryInt(w, r, "limit", 5)
	if !ok {
		return
	}
	movers, err := s.engine.MarketMovers(r.Context(), window, limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if movers.Gainers == nil {
		movers.Gainers = []model.Mover{}
	}
	if movers.Losers == nil {
		movers.Losers = []model.Mover{}
	}
	writeJSON(w, http.StatusOK, movers)
}

// CreateAccount handles POST /api/v1/accounts
func (s *Service) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	acct, err := s.engine.CreateAccount(r.Context(), req.Username)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

// GetPortfolio handles GET /api/v1/portfolio/{accountID}
// Returns equity, exposure and margin figures marked to the curve.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Portfolio(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ListTransactions handles GET /api/v1/accounts/{accountID}/transactions?limit=
func (s *Service) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 0)
	if !ok {
		return
	}
	txs, err := s.engine.Transactions(r.Context(), chi.URLParam(r, "accountID"), limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// EnforceMargin handles POST /api/v1/accounts/{accountID}/margin
func (s *Service) EnforceMargin(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.EnforceMargin(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// RecordStat handles POST /api/v1/stats
func (s *Service) RecordStat(w http.ResponseWriter, r *http.Request) {
	var req StatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	point, err := s.engine.RecordWeeklyStat(r.Context(), model.WeeklyStat{
		SecurityID: req.SecurityID,
		Week:       req.Week,
		Points:     req.Points,
	}, req.Live)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.StatsIngested.WithLabelValues("http").Inc()
	writeJSON(w, http.StatusOK, point)
}

func seasonParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	season, err := strconv.Atoi(chi.URLParam(r, "season"))
	if err != nil {
		writeError(w, "season must be an integer", http.StatusBadRequest)
		return 0, false
	}
	return season, true
}

// CloseSeason handles POST /api/v1/seasons/{season}/close
func (s *Service) CloseSeason(w http.ResponseWriter, r *http.Request) {
	season, ok := seasonParam(w, r)
	if !ok {
		return
	}
	res, err := s.engine.CloseSeason(r.Context(), season)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ResetSeason handles POST /api/v1/seasons/{season}/reset
func (s *Service) ResetSeason(w http.ResponseWriter, r *http.Request) {
	season, ok := seasonParam(w, r)
	if !ok {
		return
	}
	res, err := s.engine.ResetSeason(r.Context(), season)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- helpers ---

func queryInt(w http.ResponseWriter, r *http.Request, key string, def int) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		writeError(w, key+" must be a non-negative integer", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

// StatusOf maps an engine error code to its HTTP status.
func StatusOf(code engine.Code) int {
	switch code {
	case engine.CodeNotFound:
		return http.StatusNotFound
	case engine.CodeForbidden:
		return http.StatusForbidden
	case engine.CodeInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeEngineError writes an engine failure with its code and retry details.
// Fatal errors hide their cause from the client.
func writeEngineError(w http.ResponseWriter, err error) {
	code := engine.CodeOf(err)
	resp := ErrorResponse{Error: "service unavailable", Code: code}
	var e *engine.Error
	if errors.As(err, &e) && code != engine.CodeFatal {
		resp.Error = e.Message
		if e.Details != (engine.Details{}) {
			details := e.Details
			resp.Details = &details
		}
	}
	writeJSON(w, StatusOf(code), resp)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	code := engine.CodeInvalidArgument
	switch {
	case status == http.StatusTooManyRequests:
		code = "RateLimited"
	case status >= 500:
		code = engine.CodeFatal
	}
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}
