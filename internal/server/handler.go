package server

import (
	"context"
	"net/http"
	"strings"

	"relaychat/internal/auth"
	"relaychat/internal/service"
	"relaychat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// HistoryStore 是历史查询所需的存储能力。
type HistoryStore interface {
	QueryHistory(ctx context.Context, userA, userB string) ([]service.MessageDTO, error)
}

// UserDirectory 提供已知用户名册。
type UserDirectory interface {
	List(ctx context.Context) ([]service.UserDTO, error)
}

// Handler 聚合 REST handler，依赖注入 service 层与 Hub。
type Handler struct {
	users    UserDirectory
	messages HistoryStore
	hub      *ws.Hub
}

func NewHandler(users UserDirectory, messages HistoryStore, hub *ws.Hub) *Handler {
	return &Handler{users: users, messages: messages, hub: hub}
}

// History 返回当前用户与 :userId 之间的消息，按创建时间升序。
func (h *Handler) History(c *gin.Context) {
	me, _ := auth.GetIdentity(c)
	peer := strings.TrimSpace(c.Param("userId"))
	if peer == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	msgs, err := h.messages.QueryHistory(c.Request.Context(), me.UserID, peer)
	if err != nil {
		log.Error().Err(err).Str("user_id", me.UserID).Str("peer_id", peer).Msg("query history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *Handler) People(c *gin.Context) {
	users, err := h.users.List(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("list people")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list people"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"people": users})
}

func (h *Handler) Profile(c *gin.Context) {
	me, _ := auth.GetIdentity(c)
	c.JSON(http.StatusOK, me)
}

// Online 返回与 websocket 推送相同的在线名册。
func (h *Handler) Online(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"online": h.hub.Online()})
}
