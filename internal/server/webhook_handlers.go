package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"carbonledger/internal/api"
	"carbonledger/internal/logger"
	"carbonledger/internal/metrics"
	"carbonledger/internal/processor"
	"carbonledger/internal/webhook"
)

const maxWebhookBody = 1 << 20

// ProcessorWebhook godoc
// @Summary      Processor webhook
// @Description  Receives a signed payment status event. The X-Signature header is hex(HMAC-SHA256(secret, body)).
// @Description  Events for unknown payments are accepted with 202 and dropped.
// @Tags         webhooks
// @Accept       json
// @Produce      json
// @Param        processor    path      string              true  "Processor name"
// @Param        X-Signature  header    string              true  "Body signature"
// @Param        request      body      api.WebhookPayload  true  "Event"
// @Success      200  {object}  api.WebhookResponse
// @Success      202  {object}  api.WebhookResponse
// @Failure      400  {object}  api.ErrorResponse
// @Failure      401  {object}  api.ErrorResponse
// @Failure      404  {object}  api.ErrorResponse
// @Router       /webhooks/{processor} [post]
func (h *Handler) ProcessorWebhook(c *gin.Context) {
	name := c.Param("processor")

	secret, ok := h.secrets.WebhookSecret(name)
	if !ok {
		c.JSON(http.StatusNotFound, api.ErrorResponse{Error: "Unknown processor"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Unreadable body"})
		return
	}

	if !webhook.VerifySignature(secret, body, c.GetHeader(webhook.SignatureHeader)) {
		metrics.RecordWebhookEvent(name, "bad_signature")
		logger.Warn("webhook signature rejected", "processor", name, "client_ip", c.ClientIP())
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "Invalid signature"})
		return
	}

	var payload api.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		metrics.RecordWebhookEvent(name, "invalid")
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if errs := ValidateStruct(&payload); len(errs) > 0 {
		metrics.RecordWebhookEvent(name, "invalid")
		RespondWithValidationErrors(c, errs)
		return
	}

	raw := map[string]string{}
	if payload.EventID != "" {
		raw["event_id"] = payload.EventID
	}
	if payload.FailureReason != "" {
		raw["failure_reason"] = payload.FailureReason
	}

	res, err := h.webhooks.OnProcessorEvent(c.Request.Context(), webhook.Event{
		Processor:             name,
		ExternalTransactionID: payload.ExternalTransactionID,
		Reference:             payload.Reference,
		Status:                processor.Status(payload.Status),
		Amount:                payload.Amount,
		Currency:              payload.Currency,
		Raw:                   raw,
	})
	if errors.Is(err, webhook.ErrInvalidEvent) {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		// The processor redelivers on 5xx.
		respondError(c, "webhook", err)
		return
	}

	if !res.Found {
		c.JSON(http.StatusAccepted, api.WebhookResponse{Message: "payment not found, event dropped"})
		return
	}
	c.JSON(http.StatusOK, api.WebhookResponse{
		PaymentID:   res.PaymentID,
		Status:      string(res.Status),
		Disposition: string(res.Disposition),
	})
}
