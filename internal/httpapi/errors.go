package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/mealcredits/internal/reporting"
	"github.com/MarkoPoloResearchLab/mealcredits/pkg/ledger"
	"github.com/MarkoPoloResearchLab/mealcredits/pkg/orders"
)

const (
	messageInsufficientCredits = "not enough credits, reduce selection or add credits"
	messageRetry               = "the account is busy, retry shortly"
	messageInternal            = "internal error"
)

type validationError struct {
	target error
	code   string
}

var validationErrors = []validationError{
	{ledger.ErrInvalidAmount, "invalid_amount"},
	{ledger.ErrInvalidAccountID, "invalid_account_id"},
	{ledger.ErrInvalidOrderID, "invalid_order_id"},
	{ledger.ErrInvalidReason, "invalid_reason"},
	{orders.ErrEmptySelection, "empty_selection"},
	{orders.ErrInvalidSelection, "invalid_selection"},
	{orders.ErrInvalidDeliveryAddress, "invalid_delivery_address"},
	{orders.ErrInvalidStatus, "invalid_status"},
	{reporting.ErrInvalidPage, "invalid_page"},
}

// writeError maps domain errors onto HTTP responses.
func (handler *httpHandler) writeError(ctx *gin.Context, operation string, err error) {
	var transitionError orders.TransitionError
	switch {
	case errors.Is(err, ledger.ErrInsufficientCredits):
		ctx.JSON(http.StatusConflict, errorResponse("insufficient_credits", messageInsufficientCredits))
		return
	case errors.As(err, &transitionError):
		ctx.JSON(http.StatusConflict, errorResponse("invalid_transition", transitionError.Error()))
		return
	case errors.Is(err, orders.ErrUnknownOrder):
		ctx.JSON(http.StatusNotFound, errorResponse("order_not_found", "order not found"))
		return
	case errors.Is(err, ledger.ErrConcurrencyConflict):
		ctx.Header("Retry-After", "1")
		ctx.JSON(http.StatusServiceUnavailable, errorResponse("concurrency_conflict", messageRetry))
		return
	}
	for _, candidate := range validationErrors {
		if errors.Is(err, candidate.target) {
			ctx.JSON(http.StatusBadRequest, errorResponse(candidate.code, err.Error()))
			return
		}
	}
	handler.logger.Error("request failed", zap.String("operation", operation), zap.Error(err))
	ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", messageInternal))
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
