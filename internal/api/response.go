package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/visitline/internal/apperr"
	"go.uber.org/zap"
)

// Response is the success envelope.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorBody is the failure envelope. Kind and Details let clients explain
// why a request was refused.
type ErrorBody struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Kind    string                 `json:"kind"`
	Details map[string]interface{} `json:"details,omitempty"`
}

var kindStatus = map[apperr.Kind]int{
	apperr.KindValidation: http.StatusBadRequest,
	apperr.KindForbidden:  http.StatusForbidden,
	apperr.KindNotFound:   http.StatusNotFound,
	apperr.KindConflict:   http.StatusConflict,
	apperr.KindState:      http.StatusUnprocessableEntity,
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	if e, ok := apperr.As(err); ok {
		if s, ok := kindStatus[e.Kind]; ok {
			return s
		}
	}
	return http.StatusInternalServerError
}

func success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Code: 0, Message: "success", Data: data})
}

func created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Code: 0, Message: "success", Data: data})
}

// fail writes err. Business errors keep their message; anything else is
// logged and reported as an internal error.
func (s *server) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	if e, ok := apperr.As(err); ok && status != http.StatusInternalServerError {
		c.AbortWithStatusJSON(status, ErrorBody{
			Code:    status * 100,
			Message: e.Message,
			Kind:    string(e.Kind),
			Details: e.Details,
		})
		return
	}
	s.log.Error("request failed",
		zap.String("path", c.Request.URL.Path),
		zap.String("request_id", c.GetString(ctxRequestID)),
		zap.Error(err),
	)
	c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorBody{
		Code:    50000,
		Message: "internal error",
		Kind:    "internal",
	})
}

// bind decodes a JSON body into v. An empty body leaves v untouched when
// optional is set.
func bind(c *gin.Context, v interface{}, optional bool) error {
	if c.Request.Body == nil {
		if optional {
			return nil
		}
		return apperr.Validation("request body is required")
	}
	err := json.NewDecoder(c.Request.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		if optional {
			return nil
		}
		return apperr.Validation("request body is required")
	}
	if err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}
