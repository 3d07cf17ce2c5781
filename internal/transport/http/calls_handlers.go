package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/parley/internal/proto"
	"github.com/vovakirdan/parley/internal/service/calls"
)

// CallHandlers serves read-only call endpoints.
type CallHandlers struct {
	calls *calls.Service
	chats *ChatHandlers
	log   *zerolog.Logger
}

// NewCallHandlers creates call handlers. Errors are rendered the same way as
// chat endpoints.
func NewCallHandlers(callSvc *calls.Service, chatHandlers *ChatHandlers, logger *zerolog.Logger) *CallHandlers {
	return &CallHandlers{calls: callSvc, chats: chatHandlers, log: logger}
}

// GetCall returns a call of a chat the caller belongs to.
// GET /api/calls/:id
func (h *CallHandlers) GetCall(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	call, err := h.calls.Get(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		h.chats.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, proto.NewCallView(call))
}
