package chat

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/golos/internal/model/chat"
	"github.com/zhouzirui/golos/pkg/utils"
)

// Replier 抽象上游调用，便于测试与替换实现
type Replier interface {
	Reply(ctx context.Context, message string) (string, error)
}

// Handler 中继聊天请求的HTTP处理器
type Handler struct {
	relay Replier
}

// New 创建聊天处理器
func New(relay Replier) *Handler {
	return &Handler{relay: relay}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
}

// handleChat 将消息转发给上游模型；任何失败都只返回固定文案
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())

	var payload chat.Request
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		log.Printf("[chat] invalid request body request=%s: %v", reqID, err)
		utils.RespondError(w, http.StatusInternalServerError, chat.RelayFailureMessage)
		return
	}

	reply, err := h.relay.Reply(r.Context(), payload.Message)
	if err != nil {
		log.Printf("[chat] upstream failure request=%s: %v", reqID, err)
		utils.RespondError(w, http.StatusInternalServerError, chat.RelayFailureMessage)
		return
	}

	utils.RespondJSON(w, http.StatusOK, chat.Response{Reply: reply})
}
