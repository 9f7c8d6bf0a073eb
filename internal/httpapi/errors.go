package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/joelkehle/chapter-review/internal/review"
	"github.com/joelkehle/chapter-review/internal/store"
)

const (
	CodeInvalidRequest      = "invalid_request"
	CodeDocumentUnreadable  = "document_unreadable"
	CodePayloadTooLarge     = "payload_too_large"
	CodeNotFound            = "not_found"
	CodePersistFailed       = "persist_failed"
	CodeRendererUnavailable = "renderer_unavailable"
	CodeRenderFailed        = "render_failed"
	CodeInternal            = "internal_error"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, errorEnvelope{Error: apiError{Code: code, Message: msg}})
}

func codeForError(err error) string {
	switch {
	case errors.Is(err, review.ErrInvalidSubmission):
		return CodeInvalidRequest
	case errors.Is(err, review.ErrDocumentUnreadable):
		return CodeDocumentUnreadable
	case errors.Is(err, store.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, review.ErrPersistFailed):
		return CodePersistFailed
	default:
		return CodeInternal
	}
}

func statusForCode(code string) int {
	switch code {
	case CodeInvalidRequest, CodeDocumentUnreadable:
		return http.StatusBadRequest
	case CodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRendererUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
