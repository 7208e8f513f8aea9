package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/0gfoundation/swap-relay/internal/relay"
)

var codeStatus = map[relay.Code]int{
	relay.CodeValidation:     http.StatusBadRequest,
	relay.CodeTokenExpired:   http.StatusUnauthorized,
	relay.CodeTokenInvalid:   http.StatusUnauthorized,
	relay.CodeWalletNotFound: http.StatusNotFound,
	relay.CodeWalletUsed:     http.StatusConflict,
	relay.CodeDepositTimeout: http.StatusRequestTimeout,
	relay.CodeQuoteInvalid:   http.StatusBadGateway,
	relay.CodeSwapFailed:     http.StatusBadGateway,
	relay.CodeForwardFailed:  http.StatusInternalServerError,
}

// statusFor maps a relay failure onto an HTTP status. A caller deadline wins
// over the code, except for deposit timeouts which already say so.
func statusFor(err error) int {
	code := relay.CodeOf(err)
	if relay.IsTimeout(err) && code != relay.CodeDepositTimeout {
		return http.StatusGatewayTimeout
	}
	if s, ok := codeStatus[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	var re *relay.Error
	if !errors.As(err, &re) {
		// Unclassified errors may carry upstream text; keep it out of the body.
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   relay.CodeInternal,
			"message": "internal error",
		})
		return
	}
	body := gin.H{
		"error":   re.Code,
		"message": re.Message,
	}
	details := gin.H{}
	for k, v := range re.Details {
		details[k] = v
	}
	if re.Reason != "" {
		details["reason"] = re.Reason
	}
	if re.State != "" {
		details["state"] = re.State
	}
	if re.Err != nil {
		details["cause"] = re.Err.Error()
	}
	if re.Timeout {
		details["timeout"] = true
	}
	if len(details) > 0 {
		body["details"] = details
	}
	c.JSON(statusFor(err), body)
}
