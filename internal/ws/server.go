package ws

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lobbybroker/internal/broker"
)

const (
	writeWait    = 10 * time.Second
	maxFrameSize = 16 << 10
)

// WsServer owns the upgrade path and the liveness-sweep scheduling for one
// broker instance.
type WsServer struct {
	broker        *broker.Broker
	upgrader      websocket.Upgrader
	sweepInterval time.Duration

	mu       sync.Mutex
	sweeping bool
}

func NewWsServer(b *broker.Broker, sweepInterval time.Duration) *WsServer {
	if sweepInterval <= 0 {
		sweepInterval = 10 * time.Second
	}
	return &WsServer{
		broker: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  maxFrameSize,
			WriteBufferSize: maxFrameSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sweepInterval: sweepInterval,
	}
}

// Handle is the gin entry point for GET /ws.
func (s *WsServer) Handle(ginCtx *gin.Context) {
	rawConn, err := s.upgrader.Upgrade(ginCtx.Writer, ginCtx.Request, nil)
	if err != nil {
		zap.L().Warn("ws.upgrade", zap.Error(err))
		return
	}
	rawConn.SetReadLimit(maxFrameSize)

	conn := &clientConn{rawConn: rawConn, ip: ginCtx.ClientIP()}
	if err := s.broker.Connect(conn); err != nil {
		if !errors.Is(err, broker.ErrBannedIP) {
			zap.L().Warn("ws.connect", zap.Error(err))
		}
		return // broker already closed the connection
	}

	s.ensureSweeper()
	go s.reader(conn)
}

func (s *WsServer) reader(conn *clientConn) {
	defer s.broker.Disconnect(conn)

	for {
		mt, data, err := conn.rawConn.ReadMessage()
		if err != nil {
			return // client closed or errored
		}
		if mt != websocket.TextMessage {
			continue
		}
		s.broker.HandleMessage(conn, data)
	}
}

// ensureSweeper arms the recurring liveness wakeup. The loop re-arms itself
// only while the broker reports live sessions, so an idle process schedules
// nothing.
func (s *WsServer) ensureSweeper() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sweeping {
		return
	}
	s.sweeping = true

	go func() {
		for {
			time.Sleep(s.sweepInterval)
			if s.broker.Sweep() {
				continue
			}
			s.mu.Lock()
			// a connect may have raced the idle check; keep sweeping if so
			if s.broker.SessionCount() > 0 {
				s.mu.Unlock()
				continue
			}
			s.sweeping = false
			s.mu.Unlock()
			return
		}
	}()
}
