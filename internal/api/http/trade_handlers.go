package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	appTrade "github.com/escrow-hub/escrow-hub/internal/application/trade"
	domainTrade "github.com/escrow-hub/escrow-hub/internal/domain/trade"
)

type createTradeRequest struct {
	ListingID string `json:"listing_id"`
	VendorID  string `json:"vendor_id"`
	OnChain   bool   `json:"on_chain"`
}

func (s *Server) createTrade(w http.ResponseWriter, r *http.Request) {
	caller := authUserFromContext(r.Context())
	var req createTradeRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	listingID, err := uuid.Parse(req.ListingID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid listing_id")
		return
	}
	vendorID, err := uuid.Parse(req.VendorID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid vendor_id")
		return
	}
	session, err := s.tradeSvc.CreateSession(r.Context(), appTrade.CreateSessionInput{
		ListingID:  listingID,
		VendorID:   vendorID,
		CustomerID: caller.UserID,
		OnChain:    req.OnChain,
	})
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	view, err := s.tradeSvc.GetSession(r.Context(), session.SessionID, caller.UserID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, view)
}

func (s *Server) getTrade(w http.ResponseWriter, r *http.Request) {
	tradeID, err := parseUUIDParam(r, "tradeId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid trade id")
		return
	}
	view, err := s.tradeSvc.GetSession(r.Context(), tradeID, authUserFromContext(r.Context()).UserID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

type confirmationRequest struct {
	Role string `json:"role"`
}

func (s *Server) setConfirmation(w http.ResponseWriter, r *http.Request) {
	tradeID, err := parseUUIDParam(r, "tradeId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid trade id")
		return
	}
	var req confirmationRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	role, err := domainTrade.ParseRole(req.Role)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	view, err := s.tradeSvc.SetConfirmation(r.Context(), tradeID, authUserFromContext(r.Context()).UserID, role)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

type walletRequest struct {
	Role    string `json:"role"`
	Address string `json:"address"`
}

func (s *Server) setWallet(w http.ResponseWriter, r *http.Request) {
	tradeID, err := parseUUIDParam(r, "tradeId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid trade id")
		return
	}
	var req walletRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	role, err := domainTrade.ParseRole(req.Role)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	view, err := s.tradeSvc.SetWallet(r.Context(), tradeID, authUserFromContext(r.Context()).UserID, role, req.Address)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

type stageRequest struct {
	TargetStage      string `json:"target_stage"`
	PaymentReference string `json:"payment_reference,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

// details builds the stage-scoped payload. Fields meant for another stage
// are rejected rather than ignored.
func (req stageRequest) details(target domainTrade.Stage) (domainTrade.Details, error) {
	if req.PaymentReference != "" && target != domainTrade.StageReleaseFunds {
		return nil, fmt.Errorf("%w: payment_reference only applies to %s", domainTrade.ErrInvalidInput, domainTrade.StageReleaseFunds)
	}
	if req.Reason != "" && target != domainTrade.StageCancelled {
		return nil, fmt.Errorf("%w: reason only applies to %s", domainTrade.ErrInvalidInput, domainTrade.StageCancelled)
	}
	switch target {
	case domainTrade.StageReleaseFunds:
		return domainTrade.FiatPayment{Reference: strings.TrimSpace(req.PaymentReference)}, nil
	case domainTrade.StageCancelled:
		return domainTrade.Cancellation{Reason: strings.TrimSpace(req.Reason)}, nil
	}
	return nil, nil
}

func (s *Server) setStage(w http.ResponseWriter, r *http.Request) {
	tradeID, err := parseUUIDParam(r, "tradeId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid trade id")
		return
	}
	var req stageRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	target, err := domainTrade.ParseStage(req.TargetStage)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	details, err := req.details(target)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	view, err := s.tradeSvc.SetStage(r.Context(), appTrade.SetStageInput{
		SessionID: tradeID,
		CallerID:  authUserFromContext(r.Context()).UserID,
		Target:    target,
		Details:   details,
	})
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

type lockFundsRequest struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

func (s *Server) lockFunds(w http.ResponseWriter, r *http.Request) {
	tradeID, err := parseUUIDParam(r, "tradeId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid trade id")
		return
	}
	var req lockFundsRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	amount, err := uint256.FromDecimal(strings.TrimSpace(req.Amount))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "amount must be a base-10 integer")
		return
	}
	handle, err := s.tradeSvc.LockFunds(r.Context(), appTrade.LockFundsInput{
		SessionID: tradeID,
		CallerID:  authUserFromContext(r.Context()).UserID,
		Token:     req.Token,
		Amount:    amount,
	})
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, handle)
}

func (s *Server) releaseFunds(w http.ResponseWriter, r *http.Request) {
	tradeID, err := parseUUIDParam(r, "tradeId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid trade id")
		return
	}
	handle, err := s.tradeSvc.ReleaseFunds(r.Context(), tradeID, authUserFromContext(r.Context()).UserID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, handle)
}

func (s *Server) listTradeEvents(w http.ResponseWriter, r *http.Request) {
	tradeID, err := parseUUIDParam(r, "tradeId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid trade id")
		return
	}
	limit, offset := parseLimitOffset(r, 100, 500)
	timeline, err := s.tradeSvc.ListEvents(r.Context(), tradeID, authUserFromContext(r.Context()).UserID, limit, offset)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, timeline)
}

// streamTrade pushes every committed change of one session as server-sent
// events until the client disconnects.
func (s *Server) streamTrade(w http.ResponseWriter, r *http.Request) {
	tradeID, err := parseUUIDParam(r, "tradeId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid trade id")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming not supported")
		return
	}
	caller := authUserFromContext(r.Context())
	client, err := s.tradeSvc.Subscribe(r.Context(), tradeID, caller.UserID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	defer s.tradeSvc.Unsubscribe(client.ClientID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case msg, open := <-client.MessageChan:
			if !open || msg == nil {
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", msg.ID, msg.Event, payload)
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}
