package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/agent/events"
	"github.com/BaSui01/swarmflow/agent/swarm"
	"github.com/BaSui01/swarmflow/types"
)

const (
	streamBuffer    = 128
	keepAliveEvery  = 15 * time.Second
	wsWriteTimeout  = 5 * time.Second
	endGrace        = time.Second
	streamEndMarker = "[DONE]"
)

// eventSink 事件流的输出端，SSE 与 WebSocket 各实现一份
type eventSink interface {
	send(ctx context.Context, ev events.Event) error
	keepAlive(ctx context.Context) error
	end(ctx context.Context, reason string)
}

// HandleStream 推送实例的实时事件。
// 带 WebSocket 升级头的请求走 WebSocket，其余走 SSE。
// 查询参数 replay=true 时先回放历史，type 按事件类型过滤。
// @Summary 实时事件流
// @Tags 蜂群
// @Produce text/event-stream
// @Param id path string true "蜂群 ID"
// @Param replay query bool false "先回放历史事件"
// @Param type query string false "事件类型过滤，逗号分隔"
// @Router /api/v1/swarms/{id}/stream [get]
func (h *SwarmHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	// 长连接不受服务端 WriteTimeout 约束；底层不支持时忽略
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	var sink eventSink
	ctx := r.Context()
	if isWebSocketUpgrade(r) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// 跨域由外层 CORS 中间件与 API Key 控制
			InsecureSkipVerify: true,
		})
		if err != nil {
			// Accept 已写出错误响应
			h.logger.Warn("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.CloseNow()
		// 丢弃客户端消息，连接断开时 ctx 结束
		ctx = conn.CloseRead(ctx)
		sink = &wsSink{conn: conn}
	} else {
		flusher, ok := w.(http.Flusher)
		if !ok {
			WriteError(w, types.NewInternalError("streaming not supported"), h.logger)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		sink = &sseSink{w: w, flusher: flusher}
	}

	replay := strings.EqualFold(r.URL.Query().Get("replay"), "true")
	h.streamEvents(ctx, s, sink, parseEventTypes(r.URL.Query().Get("type")), replay)
}

// streamEvents 先订阅再回放，避免两者之间的事件丢失；重复的事件按时间戳跳过
func (h *SwarmHandler) streamEvents(ctx context.Context, s *swarm.Swarm, sink eventSink, filter map[events.Type]bool, replay bool) {
	logger := h.logger.With(zap.String("swarm_id", s.ID()))
	subID, ch := s.Events().Subscribe(streamBuffer)
	defer s.Events().Unsubscribe(subID)

	wants := func(ev events.Event) bool { return len(filter) == 0 || filter[ev.Type] }

	isEnd := func(ev events.Event) bool {
		return ev.Type == events.SwarmCompleted || ev.Type == events.SwarmFailed
	}

	var lastReplayed time.Time
	terminal := s.Status().State.Terminal()
	if replay || terminal {
		for _, ev := range s.Events().History() {
			lastReplayed = ev.Timestamp
			if wants(ev) {
				if err := sink.send(ctx, ev); err != nil {
					logger.Debug("stream client gone", zap.Error(err))
					return
				}
			}
			if isEnd(ev) {
				sink.end(ctx, "swarm finished")
				return
			}
		}
	}

	// 已结束但终态事件仍在总线队列中，短暂等待
	var grace <-chan time.Time
	if terminal {
		timer := time.NewTimer(endGrace)
		defer timer.Stop()
		grace = timer.C
	}

	ticker := time.NewTicker(keepAliveEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-grace:
			sink.end(ctx, "swarm finished")
			return
		case <-ticker.C:
			if err := sink.keepAlive(ctx); err != nil {
				logger.Debug("stream keep-alive failed", zap.Error(err))
				return
			}
		case ev, ok := <-ch:
			if !ok {
				sink.end(ctx, "swarm closed")
				return
			}
			if !ev.Timestamp.After(lastReplayed) {
				continue
			}
			if wants(ev) {
				if err := sink.send(ctx, ev); err != nil {
					logger.Debug("stream client gone", zap.Error(err))
					return
				}
			}
			if isEnd(ev) {
				sink.end(ctx, "swarm finished")
				return
			}
		}
	}
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// parseEventTypes 解析逗号分隔的事件类型
func parseEventTypes(raw string) map[events.Type]bool {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	set := make(map[events.Type]bool)
	for _, part := range strings.Split(raw, ",") {
		if t := strings.TrimSpace(part); t != "" {
			set[events.Type(t)] = true
		}
	}
	return set
}

// =============================================================================
// SSE
// =============================================================================

type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseSink) send(_ context.Context, ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseSink) keepAlive(context.Context) error {
	if _, err := fmt.Fprint(s.w, ": keep-alive\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseSink) end(context.Context, string) {
	_, _ = fmt.Fprintf(s.w, "data: %s\n\n", streamEndMarker)
	s.flusher.Flush()
}

// =============================================================================
// WebSocket
// =============================================================================

// wsSink 只在单个 goroutine 中写，无需额外加锁
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) send(ctx context.Context, ev events.Event) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, s.conn, ev)
}

func (s *wsSink) keepAlive(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return s.conn.Ping(ctx)
}

func (s *wsSink) end(_ context.Context, reason string) {
	_ = s.conn.Close(websocket.StatusNormalClosure, reason)
}
