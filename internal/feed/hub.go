package feed

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/finora/market-stream/internal/metrics"
)

// sender 一个可以接收推送的客户端连接
type sender interface {
	send(data []byte) error
	close()
}

// Hub 分组广播中心：分组名 -> 客户端集合。
// 对应后端的 channel group 语义：连接加入分组，广播按分组扇出。
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[uuid.UUID]sender
}

// NewHub 创建广播中心
func NewHub() *Hub {
	return &Hub{
		groups: make(map[string]map[uuid.UUID]sender),
	}
}

// Add 把客户端加入分组
func (h *Hub) Add(group string, id uuid.UUID, c sender) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.groups[group]
	if !ok {
		clients = make(map[uuid.UUID]sender)
		h.groups[group] = clients
	}
	clients[id] = c
	metrics.FeedClients.WithLabelValues(group).Set(float64(len(clients)))
}

// Discard 把客户端从分组移除
func (h *Hub) Discard(group string, id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.groups[group]
	if !ok {
		return
	}
	delete(clients, id)
	if len(clients) == 0 {
		delete(h.groups, group)
		metrics.FeedClients.DeleteLabelValues(group)
		return
	}
	metrics.FeedClients.WithLabelValues(group).Set(float64(len(clients)))
}

// GroupSize 返回分组当前的客户端数
func (h *Hub) GroupSize(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// Broadcast 向分组广播一条 {"type": msgType, "data": data} 消息。
// 推送失败的客户端直接从分组剔除并关闭。
func (h *Hub) Broadcast(group, msgType string, data interface{}) {
	payload, err := json.Marshal(map[string]interface{}{
		"type": msgType,
		"data": data,
	})
	if err != nil {
		log.Error().Str("group", group).Str("type", msgType).Err(err).Msg("广播消息序列化失败")
		return
	}

	h.mu.RLock()
	clients := h.groups[group]
	targets := make(map[uuid.UUID]sender, len(clients))
	for id, c := range clients {
		targets[id] = c
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}
	metrics.FeedBroadcasts.WithLabelValues(msgType).Inc()

	var dead []uuid.UUID
	for id, c := range targets {
		if err := c.send(payload); err != nil {
			log.Debug().Str("group", group).Str("client", id.String()).Err(err).Msg("推送失败，剔除客户端")
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		metrics.FeedSendErrors.WithLabelValues(group).Inc()
		h.mu.RLock()
		c := h.groups[group][id]
		h.mu.RUnlock()
		h.Discard(group, id)
		if c != nil {
			c.close()
		}
	}
}

// SendTo 向单个客户端发送一条消息（用于连接建立后的初始快照）
func (h *Hub) SendTo(c sender, msgType string, data interface{}) error {
	payload, err := json.Marshal(map[string]interface{}{
		"type": msgType,
		"data": data,
	})
	if err != nil {
		return err
	}
	return c.send(payload)
}
