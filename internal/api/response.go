package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"counselchat/pkg/types"
)

// ErrorBody is the error half of the response envelope
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Envelope wraps every API response
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// StatusForKind maps an error kind to its HTTP status
func StatusForKind(kind string) int {
	switch kind {
	case types.KindAuthentication:
		return http.StatusUnauthorized
	case types.KindAuthorization:
		return http.StatusForbidden
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindRateLimited:
		return http.StatusTooManyRequests
	case types.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respond(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Envelope{Success: true, Data: data})
}

// fail aborts the request with the error's kind; internal details are
// logged, never returned.
func fail(c *gin.Context, err error) {
	kind := types.ErrorKind(err)
	if kind == types.KindInternal {
		log.Printf("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
	}
	c.AbortWithStatusJSON(StatusForKind(kind), Envelope{
		Success: false,
		Error:   &ErrorBody{Kind: kind, Message: types.PublicMessage(err)},
	})
}
