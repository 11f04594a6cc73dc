package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smukkama/weather-alerts/internal/connection"
	"github.com/smukkama/weather-alerts/internal/location"
	"github.com/smukkama/weather-alerts/internal/observability"
	"github.com/smukkama/weather-alerts/internal/protocol"
	"github.com/smukkama/weather-alerts/pkg/config"
)

// readTimeout is how long a single read waits before the loop re-checks for
// shutdown.
const readTimeout = 30 * time.Second

// SessionStore records which socket a user is connected on.
type SessionStore interface {
	UpsertConnection(ctx context.Context, userID, socketID string) error
}

// LocationMonitor is the per-user monitoring the gateway drives.
type LocationMonitor interface {
	SetLocation(ctx context.Context, userID, loc string) error
	Resume(ctx context.Context, userID string) error
	Release(userID string)
}

// Timers schedules one-shot callbacks by id.
type Timers interface {
	ScheduleAfter(id string, d time.Duration, callback func()) error
	Cancel(id string) bool
}

// TCPServer accepts line-delimited JSON clients, binds each to a user on
// identify, and delivers that user's events to all of its sockets.
type TCPServer struct {
	config       *config.GatewayConfig
	connManager  *connection.Manager
	timerManager Timers
	sessions     SessionStore
	monitor      LocationMonitor
	logger       *zap.Logger
	metrics      *observability.Metrics
	listener     net.Listener
	wg           sync.WaitGroup
	stopCh       chan struct{}
	stopOnce     sync.Once
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewTCPServer creates a new TCP server
func NewTCPServer(
	cfg *config.GatewayConfig,
	connManager *connection.Manager,
	timerManager Timers,
	sessions SessionStore,
	monitor LocationMonitor,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *TCPServer {
	ctx, cancel := context.WithCancel(context.Background())
	return &TCPServer{
		config:       cfg,
		connManager:  connManager,
		timerManager: timerManager,
		sessions:     sessions,
		monitor:      monitor,
		logger:       logger,
		metrics:      metrics,
		stopCh:       make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start starts the TCP server
func (s *TCPServer) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP server: %w", err)
	}

	s.listener = listener
	s.logger.Info("tcp server listening", zap.String("addr", listener.Addr().String()))

	s.wg.Add(1)
	go s.acceptConnections()

	return nil
}

// Addr returns the listening address once started.
func (s *TCPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every client connection, then waits for
// their handlers to finish.
func (s *TCPServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.cancel()

		if s.listener != nil {
			s.listener.Close()
		}
		for _, id := range s.connManager.GetAllSessions() {
			if session, ok := s.connManager.Get(id); ok {
				session.Conn.Close()
			}
		}

		s.wg.Wait()
		s.logger.Info("tcp server stopped")
	})
}

// Deliver writes a user event to every socket the user holds on this
// gateway. Users with no local sessions are ignored.
func (s *TCPServer) Deliver(userID string, ev *protocol.UserEvent) {
	data, err := protocol.EncodeMessage(protocol.NewEventMessage(ev.Event, ev.Payload))
	if err != nil {
		s.logger.Error("failed to encode event", zap.String("event", ev.Event), zap.Error(err))
		return
	}

	sent, err := s.connManager.SendToUser(userID, data)
	if err != nil {
		s.logger.Warn("event delivery failed on a session",
			zap.String("user_id", userID),
			zap.String("event", ev.Event),
			zap.Int("delivered", sent),
			zap.Error(err),
		)
	}
}

func (s *TCPServer) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.logger.Error("failed to accept connection", zap.Error(err))
				continue
			}
		}

		if s.connManager.Count() >= s.config.MaxConnections {
			s.logger.Warn("maximum connections reached, rejecting connection",
				zap.String("remote_addr", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *TCPServer) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	sessionID := uuid.New().String()
	logger := s.logger.With(zap.String("session_id", sessionID))
	logger.Debug("new connection", zap.String("remote_addr", conn.RemoteAddr().String()))

	conn.SetReadDeadline(time.Now().Add(s.config.IdentifyTimeout))

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		logger.Debug("failed to read identify message", zap.Error(err))
		return
	}

	msg, err := protocol.ParseMessage([]byte(line))
	if err != nil {
		logger.Warn("failed to parse identify message", zap.Error(err))
		s.sendError(conn)
		return
	}

	identifyMsg, ok := msg.(*protocol.IdentifyMessage)
	if !ok {
		logger.Warn("expected identify message", zap.String("got", fmt.Sprintf("%T", msg)))
		s.sendError(conn)
		return
	}
	userID := identifyMsg.UserID
	logger = logger.With(zap.String("user_id", userID))

	session, _, err := s.connManager.Register(sessionID, userID, conn)
	if err != nil {
		logger.Warn("failed to register session", zap.Error(err))
		s.sendError(conn)
		return
	}
	defer s.release(sessionID, logger)
	s.updateGauge()

	if err := s.sessions.UpsertConnection(s.ctx, userID, sessionID); err != nil {
		logger.Error("failed to persist connection", zap.Error(err))
	}

	if err := session.Send(mustEncode(protocol.NewAckMessage(protocol.AckStatusIdentified))); err != nil {
		logger.Debug("failed to send ack", zap.Error(err))
		return
	}
	logger.Info("client identified")

	if err := s.monitor.Resume(s.ctx, userID); err != nil {
		logger.Error("failed to resume monitoring", zap.Error(err))
	}

	s.scheduleInactivityTimer(sessionID)

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		line, err := reader.ReadString('\n')
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			logger.Debug("connection closed", zap.Error(err))
			return
		}

		msg, err := protocol.ParseMessage([]byte(line))
		if err != nil {
			logger.Warn("failed to parse message", zap.Error(err))
			continue
		}

		if err := s.handleMessage(session, msg); err != nil {
			logger.Warn("failed to handle message", zap.Error(err))
		}

		s.connManager.UpdateActivity(sessionID)
		s.scheduleInactivityTimer(sessionID)
	}
}

func (s *TCPServer) handleMessage(session *connection.Session, msg interface{}) error {
	switch m := msg.(type) {
	case *protocol.SetLocationMessage:
		err := s.monitor.SetLocation(s.ctx, session.UserID, m.Location)
		if errors.Is(err, location.ErrInvalidLocation) {
			// Already acknowledged to the user.
			return nil
		}
		return err

	case *protocol.KeepaliveMessage:
		return session.Send(mustEncode(protocol.NewAckMessage(protocol.AckStatusAlive)))

	case *protocol.IdentifyMessage:
		return fmt.Errorf("session already identified")

	default:
		return fmt.Errorf("unknown message type: %T", msg)
	}
}

func (s *TCPServer) release(sessionID string, logger *zap.Logger) {
	s.timerManager.Cancel(inactivityTimerID(sessionID))

	userID, last, err := s.connManager.Unregister(sessionID)
	if err != nil {
		logger.Warn("failed to unregister session", zap.Error(err))
		return
	}
	s.updateGauge()

	if last {
		s.monitor.Release(userID)
		logger.Info("last session closed, monitoring released")
	}
}

func (s *TCPServer) sendError(conn net.Conn) {
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	conn.Write(append(mustEncode(protocol.NewAckMessage(protocol.AckStatusError)), '\n'))
}

func (s *TCPServer) scheduleInactivityTimer(sessionID string) {
	callback := func() {
		session, exists := s.connManager.Get(sessionID)
		if !exists {
			return
		}
		s.logger.Info("inactivity timeout",
			zap.String("session_id", sessionID),
			zap.String("user_id", session.UserID),
		)
		// Unregister happens in the connection's deferred cleanup.
		session.Conn.Close()
	}

	if err := s.timerManager.ScheduleAfter(inactivityTimerID(sessionID), s.config.InactivityTimeout, callback); err != nil {
		s.logger.Error("failed to schedule inactivity timer", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (s *TCPServer) updateGauge() {
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.connManager.Count()))
	}
}

func inactivityTimerID(sessionID string) string {
	return "inactivity:" + sessionID
}

// mustEncode encodes protocol frames whose types always marshal.
func mustEncode(msg interface{}) []byte {
	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		panic(err)
	}
	return data
}
