package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"carbonledger/internal/logger"
	"carbonledger/internal/payment"
)

const maxResponseBytes = 1 << 20

// rail captures what differs between the card, bank and crypto APIs: the
// resource they charge against, the field carrying method details and their
// status vocabulary.
type rail struct {
	method       payment.Method
	resource     string
	detailsField string
	statuses     map[string]Status
}

// HTTPAdapter talks to a JSON processor API:
//
//	POST {base}/{resource}              create a charge
//	GET  {base}/{resource}/{id}         fetch its status
//	POST {base}/{resource}/{id}/refunds refund it
type HTTPAdapter struct {
	name    string
	rail    rail
	baseURL string
	apiKey  string
	client  *http.Client
}

type wireObject struct {
	ID            string          `json:"id"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	RedirectURL   string          `json:"redirect_url"`
	FailureReason string          `json:"failure_reason"`
}

type wireError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newHTTPAdapter(name string, r rail, baseURL, apiKey string, timeout time.Duration) *HTTPAdapter {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPAdapter{
		name:    name,
		rail:    r,
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (a *HTTPAdapter) Name() string           { return a.name }
func (a *HTTPAdapter) Method() payment.Method { return a.rail.method }

func (a *HTTPAdapter) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	body := map[string]interface{}{
		"amount":      req.Amount.StringFixed(2),
		"currency":    req.Currency,
		"reference":   req.IdempotencyKey,
		"description": req.Description,
	}
	body[a.rail.detailsField] = req.MethodDetails

	var obj wireObject
	if err := a.do(ctx, http.MethodPost, "/"+a.rail.resource, req.IdempotencyKey, body, &obj); err != nil {
		return nil, err
	}
	if obj.ID == "" {
		return nil, a.integrationErr("charge", "missing id", obj)
	}
	status, err := a.mapStatus("charge", obj)
	if err != nil {
		return nil, err
	}

	return &ChargeResult{
		ProcessorTransactionID: obj.ID,
		Status:                 status,
		RedirectURL:            obj.RedirectURL,
		FailureReason:          obj.FailureReason,
	}, nil
}

func (a *HTTPAdapter) Verify(ctx context.Context, processorTransactionID string) (*VerifyResult, error) {
	var obj wireObject
	path := "/" + a.rail.resource + "/" + url.PathEscape(processorTransactionID)
	if err := a.do(ctx, http.MethodGet, path, "", nil, &obj); err != nil {
		return nil, err
	}
	status, err := a.mapStatus("verify", obj)
	if err != nil {
		return nil, err
	}

	return &VerifyResult{
		Status:        status,
		Amount:        obj.Amount,
		Currency:      obj.Currency,
		FailureReason: obj.FailureReason,
	}, nil
}

func (a *HTTPAdapter) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	body := map[string]interface{}{
		"amount":   req.Amount.StringFixed(2),
		"currency": req.Currency,
	}

	var obj wireObject
	path := "/" + a.rail.resource + "/" + url.PathEscape(req.ProcessorTransactionID) + "/refunds"
	if err := a.do(ctx, http.MethodPost, path, req.IdempotencyKey, body, &obj); err != nil {
		return nil, err
	}
	status, err := a.mapStatus("refund", obj)
	if err != nil {
		return nil, err
	}

	return &RefundResult{RefundID: obj.ID, Status: status}, nil
}

func (a *HTTPAdapter) mapStatus(op string, obj wireObject) (Status, error) {
	status, ok := a.rail.statuses[obj.Status]
	if !ok {
		return "", a.integrationErr(op, "unknown status "+obj.Status, obj)
	}
	return status, nil
}

func (a *HTTPAdapter) integrationErr(op, reason string, obj wireObject) error {
	logger.Error("unexpected processor response",
		"processor", a.name,
		"operation", op,
		"reason", reason,
		"id", obj.ID,
		"status", obj.Status,
		"amount", obj.Amount.String(),
	)
	return fmt.Errorf("%w: %s %s: %s", ErrIntegration, a.name, op, reason)
}

func (a *HTTPAdapter) do(ctx context.Context, method, path, idempotencyKey string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrIntegration, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrTransient, a.name, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrTransient, err)
	}

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusRequestTimeout:
		return fmt.Errorf("%w: %s returned %d", ErrTransient, a.name, resp.StatusCode)
	case resp.StatusCode == http.StatusPaymentRequired:
		var we wireError
		_ = json.Unmarshal(raw, &we)
		return fmt.Errorf("%w: %s: %s", ErrDeclined, we.Error.Code, we.Error.Message)
	case resp.StatusCode >= 400:
		logger.Error("processor rejected request",
			"processor", a.name,
			"path", path,
			"status", resp.StatusCode,
			"body", string(raw),
		)
		return fmt.Errorf("%w: %s returned %d", ErrIntegration, a.name, resp.StatusCode)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		logger.Error("malformed processor response",
			"processor", a.name,
			"path", path,
			"body", string(raw),
			"error", err,
		)
		return fmt.Errorf("%w: decode response: %v", ErrIntegration, err)
	}
	return nil
}
