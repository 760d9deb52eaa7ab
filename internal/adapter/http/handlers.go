package http

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alextavares/aichat-sub001/internal/domain/chat"
	"github.com/alextavares/aichat-sub001/internal/domain/credit"
	"github.com/alextavares/aichat-sub001/internal/domain/quota"
	"github.com/alextavares/aichat-sub001/internal/service"
)

const defaultTransactionLimit = 50

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Gateway   *service.Gateway
	BodyLimit int64 // 0 means maxRequestBodySize
	Version   string
}

func (h *Handlers) bodyLimit() int64 {
	if h.BodyLimit > 0 {
		return h.BodyLimit
	}
	return maxRequestBodySize
}

// chatRequest is the body of the chat and stream endpoints.
type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chat.Message `json:"messages"`
	chat.Options
}

// chatResponse is a completed buffered chat. AccountingError is set when
// the content was produced but usage or credits could not be written.
type chatResponse struct {
	*chat.Outcome
	AccountingError string `json:"accounting_error,omitempty"`
}

// Chat handles POST /api/v1/chat.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[chatRequest](w, r, h.bodyLimit())
	if !ok || !requireField(w, req.Model, "model") {
		return
	}

	out, err := h.Gateway.Dispatch(r.Context(), caller, req.Messages, req.Model, req.Options)
	if out == nil {
		writeDomainError(w, r, err)
		return
	}
	resp := chatResponse{Outcome: out}
	if err != nil {
		resp.AccountingError = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListModels handles GET /api/v1/models.
func (h *Handlers) ListModels(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.Gateway.ListModelsForPlan(caller.Plan))
}

// CheckAdmission handles GET /api/v1/quota/admission?model=.
func (h *Handlers) CheckAdmission(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	model := r.URL.Query().Get("model")
	if !requireField(w, model, "model") {
		return
	}

	d, err := h.Gateway.CheckAdmission(r.Context(), caller, model)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// UsageHistory handles GET /api/v1/usage?days=.
func (h *Handlers) UsageHistory(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	days, ok := queryInt(w, r, "days", 30)
	if !ok {
		return
	}

	to := quota.Day(time.Now()).AddDate(0, 0, 1)
	counters, err := h.Gateway.UsageHistory(r.Context(), caller.UserID, to.AddDate(0, 0, -days), to)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counters)
}

type recordUsageRequest struct {
	UserID       string          `json:"user_id"`
	Model        string          `json:"model"`
	InputTokens  int             `json:"input_tokens"`
	OutputTokens int             `json:"output_tokens"`
	Cost         decimal.Decimal `json:"cost"`
}

// RecordUsage handles POST /api/v1/usage. Service role only.
func (h *Handlers) RecordUsage(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[recordUsageRequest](w, r, h.bodyLimit())
	if !ok || !requireField(w, req.UserID, "user_id") || !requireField(w, req.Model, "model") {
		return
	}

	counter, err := h.Gateway.RecordUsage(r.Context(), req.UserID, req.Model,
		chat.NewUsage(req.InputTokens, req.OutputTokens), req.Cost)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counter)
}

// GetBalance handles GET /api/v1/credits.
func (h *Handlers) GetBalance(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	bal, err := h.Gateway.Balance(r.Context(), caller.UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

// ListTransactions handles GET /api/v1/credits/transactions?limit=.
func (h *Handlers) ListTransactions(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", defaultTransactionLimit)
	if !ok {
		return
	}

	txs, err := h.Gateway.Transactions(r.Context(), caller.UserID, limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if txs == nil {
		txs = []credit.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

type creditRequest struct {
	UserID        string      `json:"user_id"`
	Amount        int64       `json:"amount"`
	Type          credit.Type `json:"type,omitempty"`
	Description   string      `json:"description"`
	ReferenceID   string      `json:"reference_id,omitempty"`
	ReferenceType string      `json:"reference_type,omitempty"`
}

func (c *creditRequest) reference() *credit.Reference {
	if c.ReferenceID == "" && c.ReferenceType == "" {
		return nil
	}
	return &credit.Reference{ID: c.ReferenceID, Type: c.ReferenceType}
}

type balanceResponse struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

// ConsumeCredits handles POST /api/v1/credits/consume. Service role only.
func (h *Handlers) ConsumeCredits(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[creditRequest](w, r, h.bodyLimit())
	if !ok || !requireField(w, req.UserID, "user_id") {
		return
	}

	remaining, err := h.Gateway.ConsumeCredits(r.Context(), req.UserID, req.Amount, req.Description, req.reference())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{UserID: req.UserID, Balance: remaining})
}

// AddCredits handles POST /api/v1/credits. Service role only.
func (h *Handlers) AddCredits(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[creditRequest](w, r, h.bodyLimit())
	if !ok || !requireField(w, req.UserID, "user_id") || !requireField(w, string(req.Type), "type") {
		return
	}

	bal, err := h.Gateway.AddCredits(r.Context(), req.UserID, req.Amount, req.Description, req.Type, req.reference())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, balanceResponse{UserID: req.UserID, Balance: bal})
}

type healthResponse struct {
	Status   string                  `json:"status"`
	Version  string                  `json:"version,omitempty"`
	Backends []service.BackendStatus `json:"backends"`
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Version:  h.Version,
		Backends: h.Gateway.Backends(),
	})
}
