package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/getanswer"
	"github.com/xraph/getanswer/id"
	"github.com/xraph/getanswer/query"
)

// ─── Requests and responses ─────────────────────────────────────────────────

type addCreditsRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

type creditResponse struct {
	TransactionID string `json:"transaction_id"`
	Balance       int64  `json:"balance"`
}

type queryRequest struct {
	ImageRef    string `json:"image_ref"`
	ImageBase64 string `json:"image_base64"`
	MIMEType    string `json:"mime_type"`
}

type questionRequest struct {
	Text     string  `json:"text"`
	ImageRef *string `json:"image_ref"`
}

type queryResponse struct {
	RunID         string                 `json:"run_id"`
	Entry         getanswer.HistoryEntry `json:"entry"`
	Balance       int64                  `json:"balance"`
	TransactionID string                 `json:"transaction_id"`
	Warning       string                 `json:"warning,omitempty"`
}

func newQueryResponse(res *getanswer.Result) queryResponse {
	resp := queryResponse{
		RunID:         res.Run.ID.String(),
		Entry:         res.Entry,
		Balance:       res.Balance,
		TransactionID: res.Run.ChargedTransactionID.String(),
	}
	if res.Warning != nil {
		resp.Warning = res.Warning.Error()
	}
	return resp
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}, limit int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", getanswer.ErrInvalidInput, err)
	}
	return nil
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Store().Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ─── Credits ────────────────────────────────────────────────────────────────

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{
		"balance": s.engine.Ledger().Balance(r.Context()),
	})
}

func (s *Server) handleAddCredits(w http.ResponseWriter, r *http.Request) {
	var req addCreditsRequest
	if err := decode(w, r, &req, 1<<16); err != nil {
		s.writeErr(w, r, err)
		return
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}

	l := s.engine.Ledger()
	txID, err := l.Add(r.Context(), req.Amount, req.Reason)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, creditResponse{
		TransactionID: txID.String(),
		Balance:       l.Balance(r.Context()),
	})
}

func (s *Server) handleListGrants(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"grants": s.engine.Ledger().Catalog().List(),
	})
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	l := s.engine.Ledger()
	txID, err := l.Grant(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, creditResponse{
		TransactionID: txID.String(),
		Balance:       l.Balance(r.Context()),
	})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	l := s.engine.Ledger()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"opening_balance": l.OpeningBalance(r.Context()),
		"balance":         l.Balance(r.Context()),
		"transactions":    l.Transactions(r.Context()),
	})
}

// ─── Queries ────────────────────────────────────────────────────────────────

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decode(w, r, &req, maxImageBytes); err != nil {
		s.writeErr(w, r, err)
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		s.writeErr(w, r, fmt.Errorf("%w: image_base64: %v", getanswer.ErrInvalidInput, err))
		return
	}
	if len(data) == 0 {
		s.writeErr(w, r, fmt.Errorf("%w: image_base64 is required", getanswer.ErrInvalidInput))
		return
	}

	res, err := s.engine.Pipeline().RunQuery(r.Context(), query.Image{
		Ref:      req.ImageRef,
		Data:     data,
		MIMEType: req.MIMEType,
	})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newQueryResponse(res))
}

func (s *Server) handleQuestion(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if err := decode(w, r, &req, 1<<16); err != nil {
		s.writeErr(w, r, err)
		return
	}

	res, err := s.engine.Pipeline().Ask(r.Context(), req.Text, req.ImageRef)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newQueryResponse(res))
}

// ─── History ────────────────────────────────────────────────────────────────

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.History().List(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseHistoryID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, r, fmt.Errorf("%w: %v", getanswer.ErrInvalidInput, err))
		return
	}

	e, err := s.engine.History().Get(r.Context(), entryID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseHistoryID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, r, fmt.Errorf("%w: %v", getanswer.ErrInvalidInput, err))
		return
	}

	if err := s.engine.History().Remove(r.Context(), entryID); err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.History().Clear(r.Context()); err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"cleared_at": time.Now().UTC().Format(time.RFC3339),
	})
}
