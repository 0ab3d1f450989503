package handler

import (
	"errors"
	"net/http"

	"github.com/blues/collab/internal/logic"
	"github.com/gin-gonic/gin"
)

// SuccessResponse 成功响应
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ErrorResponse 错误响应
func ErrorResponse(c *gin.Context, statusCode int, code, message string) {
	c.AbortWithStatusJSON(statusCode, Response{
		Success: false,
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// LogicErrorResponse 按业务错误类型返回状态码
func LogicErrorResponse(c *gin.Context, err error) {
	code := logic.ErrorCode(err)
	message := err.Error()
	if code == "Internal" {
		message = "internal error"
	}
	ErrorResponse(c, StatusFor(err), code, message)
}

var errorStatus = []struct {
	err    error
	status int
}{
	{logic.ErrUnauthorized, http.StatusForbidden},
	{logic.ErrInvalidArgument, http.StatusBadRequest},
	{logic.ErrInvalidMilestoneIndex, http.StatusBadRequest},
	{logic.ErrInvalidMilestoneStatus, http.StatusConflict},
	{logic.ErrAccountAlreadyInitialized, http.StatusConflict},
	{logic.ErrInvalidAgreementStatus, http.StatusConflict},
	{logic.ErrCapacityExceeded, http.StatusConflict},
	{logic.ErrParticipantExists, http.StatusConflict},
	{logic.ErrInsufficientFunds, http.StatusUnprocessableEntity},
	{logic.ErrAgreementDisputed, http.StatusLocked},
	{logic.ErrAgreementNotFound, http.StatusNotFound},
	{logic.ErrTransferFailed, http.StatusBadGateway},
}

// StatusFor 业务错误对应的 HTTP 状态码
func StatusFor(err error) int {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}
