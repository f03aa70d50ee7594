package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"

	"github.com/lottolabs/sollotto/internal/lottery"
	"github.com/lottolabs/sollotto/internal/metrics"
	"github.com/lottolabs/sollotto/internal/session"
	"github.com/lottolabs/sollotto/internal/sol"
	"github.com/lottolabs/sollotto/internal/wallet"
)

type statusResponse struct {
	Cadence       lottery.Cadence `json:"cadence"`
	NextDraw      time.Time       `json:"next_draw"`
	PotLamports   int64           `json:"pot_lamports"`
	PotSOL        float64         `json:"pot_sol"`
	Chances       int64           `json:"chances"`
	TicketPrice   int64           `json:"ticket_price_lamports"`
	TicketPriceIn float64         `json:"ticket_price_sol"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cadence, ok := s.cadenceParam(w, r)
	if !ok {
		return
	}

	window := lottery.NextDrawTime(cadence, s.cfg.Rules, s.cfg.Clock.Now())
	chances, pot, err := s.cfg.Store.WindowStats(r.Context(), cadence, window)
	if err != nil {
		s.log.Error("http: failed to load window stats", "cadence", cadence, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load status")
		return
	}
	price, err := s.cfg.Store.TicketPrice(r.Context(), cadence)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load ticket price")
		return
	}

	metrics.PotLamports.WithLabelValues(cadence.String()).Set(float64(pot))
	s.writeJSON(w, http.StatusOK, statusResponse{
		Cadence:       cadence,
		NextDraw:      window,
		PotLamports:   pot,
		PotSOL:        sol.LamportsToSOL(pot),
		Chances:       chances,
		TicketPrice:   price,
		TicketPriceIn: sol.LamportsToSOL(price),
	})
}

type quoteRequest struct {
	Owner    string          `json:"owner"`
	Cadence  lottery.Cadence `json:"cadence"`
	Quantity int             `json:"quantity"`
}

type quoteResponse struct {
	QuoteID   string          `json:"quote_id"`
	Cadence   lottery.Cadence `json:"cadence"`
	Window    time.Time       `json:"window"`
	Quantity  int             `json:"quantity"`
	Total     int64           `json:"total_lamports"`
	TotalSOL  float64         `json:"total_sol"`
	ExpiresAt time.Time       `json:"expires_at"`
}

func (s *Server) handlePurchaseQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Owner == "" {
		s.writeError(w, http.StatusBadRequest, "owner is required")
		return
	}
	if !req.Cadence.Valid() {
		s.writeError(w, http.StatusBadRequest, "cadence must be hourly, daily or weekly")
		return
	}
	if req.Quantity <= 0 {
		s.writeError(w, http.StatusBadRequest, "quantity must be positive")
		return
	}

	wlt, err := s.cfg.Wallets.Get(r.Context(), req.Owner)
	if err != nil {
		if errors.Is(err, wallet.ErrWalletNotFound) {
			s.writeError(w, http.StatusNotFound, "no wallet registered for owner")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to load wallet")
		return
	}

	price, err := s.cfg.Store.TicketPrice(r.Context(), req.Cadence)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load ticket price")
		return
	}

	// Reject an unaffordable quote up front. The confirm step re-checks when
	// the transfer executes, so a failed lookup here is not fatal.
	total := price * int64(req.Quantity)
	if balance, err := s.cfg.Payments.Balance(r.Context(), wlt.Address); err == nil {
		if balance < total {
			s.writeError(w, http.StatusPaymentRequired, "wallet balance does not cover the purchase")
			return
		}
	} else {
		s.log.Warn("http: failed to check balance for quote", "owner", req.Owner, "error", err)
	}

	window := lottery.NextDrawTime(req.Cadence, s.cfg.Rules, s.cfg.Clock.Now())
	p := s.cfg.Sessions.Begin(req.Owner, req.Cadence, window, req.Quantity, price)

	s.writeJSON(w, http.StatusOK, toQuoteResponse(p))
}

func toQuoteResponse(p *session.PendingPurchase) quoteResponse {
	return quoteResponse{
		QuoteID:   p.ID.String(),
		Cadence:   p.Cadence,
		Window:    p.Window,
		Quantity:  p.Quantity,
		Total:     p.Total,
		TotalSOL:  sol.LamportsToSOL(p.Total),
		ExpiresAt: p.ExpiresAt,
	}
}

// handlePurchaseStatus returns the owner's open quote without consuming it.
func (s *Server) handlePurchaseStatus(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	if owner == "" {
		s.writeError(w, http.StatusBadRequest, "owner is required")
		return
	}

	p, err := s.cfg.Sessions.Get(owner)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "no pending purchase")
		return
	}
	s.writeJSON(w, http.StatusOK, toQuoteResponse(p))
}

type ownerRequest struct {
	Owner string `json:"owner"`
}

type ticketResponse struct {
	ID          string          `json:"id"`
	Owner       string          `json:"owner"`
	Cadence     lottery.Cadence `json:"cadence"`
	Window      time.Time       `json:"window"`
	Quantity    int             `json:"quantity"`
	AmountPaid  int64           `json:"amount_paid_lamports"`
	PrizeWon    int64           `json:"prize_won_lamports"`
	Settled     bool            `json:"settled"`
	PurchasedAt time.Time       `json:"purchased_at"`
}

func toTicketResponse(t lottery.Ticket) ticketResponse {
	return ticketResponse{
		ID:          t.ID.String(),
		Owner:       t.Owner,
		Cadence:     t.Cadence,
		Window:      t.DrawWindow,
		Quantity:    t.Quantity,
		AmountPaid:  t.AmountPaid,
		PrizeWon:    t.PrizeWon,
		Settled:     t.Settled,
		PurchasedAt: t.PurchasedAt,
	}
}

func (s *Server) handlePurchaseConfirm(w http.ResponseWriter, r *http.Request) {
	var req ownerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Owner == "" {
		s.writeError(w, http.StatusBadRequest, "owner is required")
		return
	}

	p, err := s.cfg.Sessions.Take(req.Owner)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "no pending purchase to confirm")
		return
	}

	// The quote pins its draw window: a confirm after the window closed must
	// not slide the tickets into the next draw.
	if !s.cfg.Clock.Now().Before(p.Window) {
		s.writeError(w, http.StatusConflict, "the quoted draw window has closed, request a new quote")
		return
	}

	secretKey, err := s.cfg.Wallets.ExportKey(r.Context(), req.Owner)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "no wallet registered for owner")
		return
	}
	key, err := solana.PrivateKeyFromBase58(secretKey)
	if err != nil {
		s.log.Error("http: stored wallet key is invalid", "owner", req.Owner, "error", err)
		s.writeError(w, http.StatusInternalServerError, "wallet key is invalid")
		return
	}

	receipt, err := s.cfg.Payments.TransferFrom(r.Context(), key, s.cfg.OperatorAddress, p.Total)
	if err != nil {
		if errors.Is(err, lottery.ErrInsufficientFunds) {
			s.writeError(w, http.StatusPaymentRequired, "wallet balance does not cover the purchase")
			return
		}
		s.log.Error("http: ticket payment failed", "owner", req.Owner, "error", err)
		s.writeError(w, http.StatusBadGateway, "payment failed")
		return
	}

	ticket, err := s.cfg.Store.RecordPurchase(r.Context(), req.Owner, p.Cadence, p.Window, p.Total, p.Quantity)
	if err != nil {
		// The payment went through but the ledger write failed. Surface it
		// loudly; the transfer signature is the recovery handle.
		s.log.Error("http: failed to record paid purchase",
			"owner", req.Owner, "signature", receipt.Signature, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to record purchase")
		return
	}

	metrics.PurchasesTotal.WithLabelValues(p.Cadence.String()).Inc()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ticket":    toTicketResponse(*ticket),
		"signature": receipt.Signature,
	})
}

func (s *Server) handlePurchaseCancel(w http.ResponseWriter, r *http.Request) {
	var req ownerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.cfg.Sessions.Cancel(req.Owner); err != nil {
		if errors.Is(err, session.ErrNoPendingPurchase) {
			s.writeError(w, http.StatusNotFound, "no pending purchase to cancel")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to cancel")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	if owner == "" {
		s.writeError(w, http.StatusBadRequest, "owner is required")
		return
	}

	page := ParsePagination(r, DefaultLimit)
	tickets, total, err := s.cfg.Store.OwnerTickets(r.Context(), owner, page.Limit, page.Offset)
	if err != nil {
		s.log.Error("http: failed to load ticket history", "owner", owner, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	items := make([]ticketResponse, 0, len(tickets))
	for _, t := range tickets {
		items = append(items, toTicketResponse(t))
	}
	s.writeJSON(w, http.StatusOK, PaginatedResponse[ticketResponse]{
		Items:  items,
		Total:  total,
		Limit:  page.Limit,
		Offset: page.Offset,
	})
}

func (s *Server) handleRecentDraws(w http.ResponseWriter, r *http.Request) {
	cadence, ok := s.cadenceParam(w, r)
	if !ok {
		return
	}

	page := ParsePagination(r, 10)
	results, err := s.cfg.Store.RecentDraws(r.Context(), cadence, page.Limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load draws")
		return
	}
	if results == nil {
		results = []lottery.DrawResult{}
	}
	s.writeJSON(w, http.StatusOK, results)
}

type walletResponse struct {
	Owner                 string    `json:"owner"`
	Address               string    `json:"address"`
	Username              string    `json:"username,omitempty"`
	NotificationFrequency string    `json:"notification_frequency"`
	BalanceLamports       *int64    `json:"balance_lamports,omitempty"`
	BalanceSOL            *float64  `json:"balance_sol,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

func toWalletResponse(wlt *wallet.Wallet) walletResponse {
	return walletResponse{
		Owner:                 wlt.Owner,
		Address:               wlt.Address,
		Username:              wlt.Username,
		NotificationFrequency: string(wlt.NotificationFrequency),
		CreatedAt:             wlt.CreatedAt,
	}
}

func (s *Server) handleWalletCreate(w http.ResponseWriter, r *http.Request) {
	var req ownerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Owner == "" {
		s.writeError(w, http.StatusBadRequest, "owner is required")
		return
	}

	wlt, err := s.cfg.Wallets.Create(r.Context(), req.Owner)
	if err != nil {
		if errors.Is(err, wallet.ErrWalletExists) {
			s.writeError(w, http.StatusConflict, "owner already has a wallet")
			return
		}
		s.log.Error("http: failed to create wallet", "owner", req.Owner, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create wallet")
		return
	}
	s.writeJSON(w, http.StatusCreated, toWalletResponse(wlt))
}

func (s *Server) handleWalletDelete(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	if err := s.cfg.Wallets.Delete(r.Context(), owner); err != nil {
		if errors.Is(err, wallet.ErrWalletNotFound) {
			s.writeError(w, http.StatusNotFound, "no wallet registered for owner")
			return
		}
		s.log.Error("http: failed to delete wallet", "owner", owner, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete wallet")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type importRequest struct {
	Owner     string `json:"owner"`
	SecretKey string `json:"secret_key"`
}

func (s *Server) handleWalletImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Owner == "" || req.SecretKey == "" {
		s.writeError(w, http.StatusBadRequest, "owner and secret_key are required")
		return
	}

	wlt, err := s.cfg.Wallets.Import(r.Context(), req.Owner, req.SecretKey)
	if err != nil {
		if errors.Is(err, wallet.ErrWalletExists) {
			s.writeError(w, http.StatusConflict, "owner already has a wallet")
			return
		}
		s.writeError(w, http.StatusBadRequest, "invalid secret key")
		return
	}
	s.writeJSON(w, http.StatusCreated, toWalletResponse(wlt))
}

func (s *Server) handleWalletGet(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	wlt, err := s.cfg.Wallets.Get(r.Context(), owner)
	if err != nil {
		if errors.Is(err, wallet.ErrWalletNotFound) {
			s.writeError(w, http.StatusNotFound, "no wallet registered for owner")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to load wallet")
		return
	}

	resp := toWalletResponse(wlt)
	if balance, err := s.cfg.Payments.Balance(r.Context(), wlt.Address); err == nil {
		balanceSOL := sol.LamportsToSOL(balance)
		resp.BalanceLamports = &balance
		resp.BalanceSOL = &balanceSOL
	} else {
		s.log.Warn("http: failed to load wallet balance", "owner", owner, "error", err)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type preferencesRequest struct {
	Username              *string `json:"username"`
	NotificationFrequency *string `json:"notification_frequency"`
}

func (s *Server) handleWalletPreferences(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	var req preferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if req.Username != nil {
		if err := s.cfg.Wallets.SetUsername(r.Context(), owner, *req.Username); err != nil {
			if errors.Is(err, wallet.ErrWalletNotFound) {
				s.writeError(w, http.StatusNotFound, "no wallet registered for owner")
				return
			}
			s.writeError(w, http.StatusInternalServerError, "failed to update username")
			return
		}
	}
	if req.NotificationFrequency != nil {
		freq := wallet.NotificationFrequency(*req.NotificationFrequency)
		if err := s.cfg.Wallets.SetNotificationFrequency(r.Context(), owner, freq); err != nil {
			if errors.Is(err, wallet.ErrWalletNotFound) {
				s.writeError(w, http.StatusNotFound, "no wallet registered for owner")
				return
			}
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type withdrawRequest struct {
	Destination string `json:"destination"`
	Lamports    int64  `json:"lamports"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !wallet.ValidAddress(req.Destination) {
		s.writeError(w, http.StatusBadRequest, "destination is not a valid address")
		return
	}
	if req.Lamports <= 0 {
		s.writeError(w, http.StatusBadRequest, "lamports must be positive")
		return
	}

	secretKey, err := s.cfg.Wallets.ExportKey(r.Context(), owner)
	if err != nil {
		if errors.Is(err, wallet.ErrWalletNotFound) {
			s.writeError(w, http.StatusNotFound, "no wallet registered for owner")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to load wallet")
		return
	}
	key, err := solana.PrivateKeyFromBase58(secretKey)
	if err != nil {
		s.log.Error("http: stored wallet key is invalid", "owner", owner, "error", err)
		s.writeError(w, http.StatusInternalServerError, "wallet key is invalid")
		return
	}

	receipt, err := s.cfg.Payments.TransferFrom(r.Context(), key, req.Destination, req.Lamports)
	if err != nil {
		if errors.Is(err, lottery.ErrInsufficientFunds) {
			s.writeError(w, http.StatusPaymentRequired, "wallet balance does not cover the withdrawal")
			return
		}
		s.log.Error("http: withdrawal failed", "owner", owner, "error", err)
		s.writeError(w, http.StatusBadGateway, "withdrawal failed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"signature": receipt.Signature,
		"lamports":  receipt.Lamports,
	})
}

// cadenceParam parses the required cadence query parameter.
func (s *Server) cadenceParam(w http.ResponseWriter, r *http.Request) (lottery.Cadence, bool) {
	cadence := lottery.Cadence(r.URL.Query().Get("cadence"))
	if !cadence.Valid() {
		s.writeError(w, http.StatusBadRequest, "cadence must be hourly, daily or weekly")
		return "", false
	}
	return cadence, true
}
