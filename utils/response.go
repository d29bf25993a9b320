package utils

import "github.com/gin-gonic/gin"

// ErrorBody is the JSON shape of every failed request.
type ErrorBody struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// Success writes data as the JSON body with status 200.
func Success(ctx *gin.Context, data interface{}) {
	ctx.JSON(200, data)
}

// Error writes an error body and aborts the remaining handlers.
func Error(ctx *gin.Context, status int, code int, message string) {
	ctx.AbortWithStatusJSON(status, ErrorBody{Error: message, Code: code})
}
