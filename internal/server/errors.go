package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"carbonledger/internal/api"
	"carbonledger/internal/logger"
	"carbonledger/internal/payment"
	"carbonledger/internal/processor"
	"carbonledger/internal/settlement"
	"carbonledger/internal/store"
	"carbonledger/internal/wallet"
)

// statusFor maps a core error onto an HTTP status. Unknown errors are 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, settlement.ErrInvalidInput), errors.Is(err, wallet.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, wallet.ErrInsufficientFunds), errors.Is(err, wallet.ErrInsufficientCredits):
		return http.StatusUnprocessableEntity
	case errors.Is(err, processor.ErrDeclined):
		return http.StatusPaymentRequired
	case errors.Is(err, settlement.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, settlement.ErrPaymentNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, settlement.ErrPaymentFinal), errors.Is(err, payment.ErrInvalidTransition),
		errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, processor.ErrTransient):
		return http.StatusServiceUnavailable
	case errors.Is(err, processor.ErrIntegration):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			"operation", op,
			"path", c.FullPath(),
			"error", err,
		)
		msg := "Internal server error"
		switch status {
		case http.StatusServiceUnavailable:
			msg = "Payment processor unavailable, retry later"
		case http.StatusBadGateway:
			msg = "Payment processor returned an unexpected response"
		}
		c.JSON(status, api.ErrorResponse{Error: msg})
		return
	}
	c.JSON(status, api.ErrorResponse{Error: err.Error()})
}
