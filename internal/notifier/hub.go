package notifier

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"shorturl-go/internal/dto"
	"shorturl-go/internal/repository"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	// 每个订阅者的发送缓冲，写满视为消费过慢，直接断开
	sendBufferSize = 64
)

// Frame 推送给订阅者的消息帧
// ItemAdded / ItemDeleted 只带 item；ItemUpdated 额外带 oldItem
type Frame struct {
	Event   string           `json:"event"`
	Item    *dto.ShortURLDTO `json:"item,omitempty"`
	OldItem *dto.ShortURLDTO `json:"oldItem,omitempty"`
}

// Hub 把仓储事件广播给所有已连接的订阅者
// 投递是尽力而为的：不落盘、不重放，断开的订阅者静默错过
// 单个 goroutine 顺序消费事件通道，每个订阅者按事件产生的顺序收到消息
type Hub struct {
	base     string // 别名前缀，转换 DTO 时使用
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup
}

type subscriber struct {
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.send)
	})
}

func NewHub(base string, logger *zap.Logger) *Hub {
	return &Hub{
		base:   base,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		subscribers: make(map[*subscriber]struct{}),
		stopCh:      make(chan struct{}),
	}
}

// Run 消费仓储事件通道并广播，直到 Stop 被调用或通道关闭
func (h *Hub) Run(events <-chan repository.Event) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-h.stopCh:
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				h.Broadcast(e)
			}
		}
	}()
}

// Stop 停止事件消费并断开所有订阅者
func (h *Hub) Stop() {
	close(h.stopCh)
	h.wg.Wait()

	h.mu.Lock()
	for s := range h.subscribers {
		s.close()
		delete(h.subscribers, s)
	}
	h.mu.Unlock()
}

// Broadcast 把一个仓储事件推送给当前所有订阅者
func (h *Hub) Broadcast(e repository.Event) {
	frame := Frame{Event: string(e.Type)}
	switch e.Type {
	case repository.EventAdded:
		d := dto.FromModel(e.New, h.base)
		frame.Item = &d
	case repository.EventUpdated:
		d := dto.FromModel(e.New, h.base)
		old := dto.FromModel(e.Old, h.base)
		frame.Item = &d
		frame.OldItem = &old
	case repository.EventDeleted:
		d := dto.FromModel(e.Old, h.base)
		frame.Item = &d
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("Failed to marshal event frame",
			zap.String("event", string(e.Type)),
			zap.Error(err),
		)
		return
	}

	h.mu.RLock()
	stale := make([]*subscriber, 0)
	for s := range h.subscribers {
		select {
		case s.send <- payload:
		default:
			// 发送缓冲已满，踢掉慢订阅者
			stale = append(stale, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range stale {
		h.remove(s)
	}
}

// SubscriberCount 当前在线订阅者数量
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// ServeWS 把 HTTP 请求升级为 WebSocket 并注册为订阅者
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed",
			zap.String("remote", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	s := &subscriber{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	h.mu.Lock()
	h.subscribers[s] = struct{}{}
	h.mu.Unlock()

	h.logger.Info("Subscriber connected",
		zap.String("remote", conn.RemoteAddr().String()),
	)

	go h.writePump(s)
	go h.readPump(s)
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	_, ok := h.subscribers[s]
	if ok {
		delete(h.subscribers, s)
	}
	h.mu.Unlock()

	if ok {
		s.close()
		h.logger.Info("Subscriber disconnected",
			zap.String("remote", s.conn.RemoteAddr().String()),
		)
	}
}

// writePump 顺序写出缓冲里的帧并维持心跳
func (h *Hub) writePump(s *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := s.conn.Close(); err != nil {
			h.logger.Debug("WebSocket close failed", zap.Error(err))
		}
	}()

	for {
		select {
		case payload, ok := <-s.send:
			if !ok {
				_ = s.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.remove(s)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(s)
				return
			}
		}
	}
}

// readPump 只为检测对端关闭与响应 pong，收到的数据一律丢弃
func (h *Hub) readPump(s *subscriber) {
	defer h.remove(s)

	s.conn.SetReadLimit(512)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
