// README: Base handler utilities (JSON helpers, error mapping, request parsing).
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ridebid/internal/apperr"
	"ridebid/internal/http/middleware"
	"ridebid/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Code  string `json:"code,omitempty"`
	State any    `json:"state,omitempty"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(k apperr.Kind) int {
	switch k {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindExpired:
		return http.StatusGone
	}
	return http.StatusInternalServerError
}

// writeAppError answers engine rejections with their kind, code and
// authoritative state. Anything else is logged and reported as a 500.
func writeAppError(c *gin.Context, log *zap.Logger, err error) {
	if e, ok := apperr.As(err); ok {
		writeJSON(c, statusFor(e.Kind), errorResponse{Error: e.Reason, Kind: string(e.Kind), Code: e.Code, State: e.State})
		return
	}
	_ = c.Error(err)
	log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	writeError(c, http.StatusInternalServerError, "internal error")
}

// bind decodes a JSON body, answering 400 on failure.
func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json: "+err.Error())
		return false
	}
	return true
}

func caller(c *gin.Context) types.ID {
	return types.ID(middleware.CallerUID(c))
}

// parsePrice turns an optional decimal string into Money. An omitted
// currency stays empty so the engine can take the ride's.
func parsePrice(amount, currency string) (*types.Money, error) {
	if amount == "" {
		return nil, nil
	}
	m, err := types.NewMoney(amount, currency)
	if err != nil {
		return nil, apperr.ErrBadPrice.WithReason("invalid price %q", amount)
	}
	m.Currency = currency
	return &m, nil
}
