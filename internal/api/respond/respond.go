// Package respond holds the error and parameter helpers shared by the handlers.
package respond

import (
	"fmt"
	"net/http"
	"strconv"

	"clinic-booking/internal/domain/apperr"

	"github.com/gin-gonic/gin"
)

// Error writes {"error": msg} with the status mapped from err. Internal errors
// are not echoed to the client.
func Error(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "Internal server error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// ID parses a positive numeric path parameter.
func ID(c *gin.Context, name string) (uint, error) {
	raw := c.Param(name)
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %q", apperr.ErrInvalid, name, raw)
	}
	return uint(n), nil
}

func BadRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}
