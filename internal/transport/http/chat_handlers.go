package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/parley/internal/core"
	"github.com/vovakirdan/parley/internal/proto"
	"github.com/vovakirdan/parley/internal/service/chats"
	"github.com/vovakirdan/parley/internal/service/messages"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// ChatHandlers serves read-only chat endpoints.
type ChatHandlers struct {
	chats    *chats.Service
	messages *messages.Service
	log      *zerolog.Logger
}

// NewChatHandlers creates chat handlers.
func NewChatHandlers(chatSvc *chats.Service, msgSvc *messages.Service, logger *zerolog.Logger) *ChatHandlers {
	return &ChatHandlers{chats: chatSvc, messages: msgSvc, log: logger}
}

// ListChats returns the caller's chat list.
// GET /api/chats
func (h *ChatHandlers) ListChats(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	refs, err := h.chats.List(c.Request.Context(), uid)
	if err != nil {
		h.fail(c, err)
		return
	}

	response := make([]proto.ChatRefView, 0, len(refs))
	for _, r := range refs {
		response = append(response, proto.NewChatRefView(r))
	}
	c.JSON(http.StatusOK, response)
}

// GetChat returns one chat the caller belongs to.
// GET /api/chats/:id
func (h *ChatHandlers) GetChat(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	chat, err := h.chats.Get(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, proto.NewChatView(chat))
}

// History returns messages of a chat, oldest first.
// GET /api/chats/:id/messages?limit=50&before=<messageId>
func (h *ChatHandlers) History(c *gin.Context) {
	uid, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	var before *string
	if b := c.Query("before"); b != "" {
		before = &b
	}

	msgs, err := h.messages.History(c.Request.Context(), c.Param("id"), uid, limit, before)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, proto.NewMessageViews(msgs))
}

func (h *ChatHandlers) fail(c *gin.Context, err error) {
	ce, ok := core.AsCoreError(err)
	if !ok {
		h.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(httpStatus(ce.Code), ErrorResponse{Error: ce.Message})
}

func httpStatus(code string) int {
	switch code {
	case core.ErrCodeValidation, core.ErrCodeWrongChatType:
		return http.StatusBadRequest
	case core.ErrCodeNotFound:
		return http.StatusNotFound
	case core.ErrCodeForbidden:
		return http.StatusForbidden
	case core.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case core.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
