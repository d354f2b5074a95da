// Package server runs the TCP accept loop and the per-tick housekeeping
// that drives the lobby and its rooms. Each connection gets its own read
// goroutine; all of them, plus the ticker goroutine, serialize through
// lobby.Lobby's single mutex before touching any Player or Room.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mlindqvist/pitboss/internal/game"
	"github.com/mlindqvist/pitboss/internal/lobby"
	"github.com/mlindqvist/pitboss/internal/metrics"
	"github.com/mlindqvist/pitboss/internal/netconn"
)

// ReadBufferSize is the chunk size used for each conn.Read call.
const ReadBufferSize = 4096

// LivenessSweepEvery is how many 1-second ticks elapse between liveness
// sweeps (3 ticks == 3 seconds, per the wire protocol's PING cadence).
const LivenessSweepEvery = 3

// Server owns the listener and every connection's framing buffer. It holds
// no game state of its own; that all lives in Lobby.
type Server struct {
	addr       string
	maxPlayers int
	lobby      *lobby.Lobby
	logger     *logrus.Logger
	metrics    *metrics.Collectors

	listener net.Listener

	connsMu sync.Mutex
	conns   map[net.Conn]*netconn.Connection

	shutdown chan struct{}
	done     chan struct{}
}

// New builds a Server bound to addr, wiring itself into lobby as its
// RawClose capability.
func New(addr string, maxPlayers int, lb *lobby.Lobby, logger *logrus.Logger, mx *metrics.Collectors) *Server {
	s := &Server{
		addr:       addr,
		maxPlayers: maxPlayers,
		lobby:      lb,
		logger:     logger,
		metrics:    mx,
		conns:      make(map[net.Conn]*netconn.Connection),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	lb.RawClose = s.closeSocket
	return s
}

// Run blocks accepting connections and ticking the lobby until ctx is
// cancelled or Shutdown is called, then performs a graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.WithField("addr", s.addr).Info("listening")

	go s.acceptLoop()
	go s.tickLoop()

	select {
	case <-ctx.Done():
	case <-s.shutdown:
	}
	s.gracefulShutdown()
	<-s.done
	return nil
}

// Shutdown requests a graceful stop; Run returns once it completes.
func (s *Server) Shutdown() {
	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
	}
}

func (s *Server) gracefulShutdown() {
	_ = s.listener.Close()

	s.lobby.Mu.Lock()
	s.lobby.Shutdown()
	s.lobby.Mu.Unlock()

	s.connsMu.Lock()
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	close(s.done)
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.WithError(err).Warn("accept failed")
			continue
		}
		s.handleAccept(conn)
	}
}

func (s *Server) handleAccept(conn net.Conn) {
	correlationID := uuid.NewString()

	s.lobby.Mu.Lock()
	if s.lobby.OnlineCount() >= s.maxPlayers {
		s.lobby.Mu.Unlock()
		_, _ = conn.Write([]byte("BJ:CON_FAIL:Max players reached\n"))
		_ = conn.Close()
		return
	}
	s.connsMu.Lock()
	s.conns[conn] = netconn.New()
	s.connsMu.Unlock()
	s.lobby.AddPlayer(conn, time.Now())
	s.lobby.Mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"remote": conn.RemoteAddr(),
		"conn":   correlationID,
	}).Info("accepted")

	if s.metrics != nil {
		s.metrics.ConnectionsTotal.Inc()
	}

	go s.readLoop(conn, correlationID)
}

func (s *Server) readLoop(conn net.Conn, correlationID string) {
	buf := make([]byte, ReadBufferSize)
	for {
		n, err := conn.Read(buf)
		if err != nil || n <= 0 {
			s.disconnectClient(conn)
			return
		}
		data := append([]byte(nil), buf[:n]...)

		s.lobby.Mu.Lock()
		p := s.lobby.PlayerFor(conn)
		if p == nil {
			s.lobby.Mu.Unlock()
			continue
		}
		now := time.Now()
		p.LastActivity = now

		s.connsMu.Lock()
		c := s.conns[conn]
		s.connsMu.Unlock()
		if c == nil {
			s.lobby.Mu.Unlock()
			continue
		}

		c.Append(data)
		lines := c.Drain()
		disconnect, invalid := s.lobby.ProcessLines(p, lines, now)
		s.lobby.Mu.Unlock()

		if s.metrics != nil {
			s.metrics.FramesProcessed.Add(float64(len(lines) - invalid))
			s.metrics.InvalidFrames.Add(float64(invalid))
		}

		if disconnect {
			s.logger.WithField("conn", correlationID).Warn("too many invalid frames, disconnecting")
			s.disconnectClient(conn)
			return
		}
	}
}

// closeSocket drops conn's framing buffer and closes the socket. It is safe
// to call more than once for the same conn (only the first call acts) and
// never touches lobby state — it is lobby's RawClose capability as well as
// the tail end of disconnectClient.
func (s *Server) closeSocket(conn net.Conn) {
	s.connsMu.Lock()
	_, ok := s.conns[conn]
	delete(s.conns, conn)
	s.connsMu.Unlock()
	if ok {
		_ = conn.Close()
	}
}

// disconnectClient is the full soft-disconnect path: close the socket, then
// let Lobby update Player/Room state under its own lock.
func (s *Server) disconnectClient(conn net.Conn) {
	s.closeSocket(conn)
	s.lobby.Mu.Lock()
	s.lobby.RemovePlayer(conn, time.Now())
	s.lobby.Mu.Unlock()
}

var roomStateNames = map[game.RoomState]string{
	game.StateWaiting:  "waiting_for_players",
	game.StateBetting:  "betting",
	game.StatePlaying:  "playing",
	game.StateRoundEnd: "round_end",
}

func (s *Server) reportMetrics(online int, roomStates []game.RoomState) {
	if s.metrics == nil {
		return
	}
	s.metrics.OnlinePlayers.Set(float64(online))
	counts := make(map[string]int, len(roomStateNames))
	for _, st := range roomStates {
		counts[roomStateNames[st]]++
	}
	for _, name := range roomStateNames {
		s.metrics.RoomsByState.WithLabelValues(name).Set(float64(counts[name]))
	}
}

func (s *Server) tickLoop() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	sweepCount := 0
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			s.lobby.Mu.Lock()
			s.lobby.Update(now)
			sweepCount++
			var dead []net.Conn
			if sweepCount >= LivenessSweepEvery {
				sweepCount = 0
				dead = s.lobby.SweepLiveness(now)
			}
			online := s.lobby.OnlineCount()
			roomStates := s.lobby.RoomStates()
			s.lobby.Mu.Unlock()

			s.reportMetrics(online, roomStates)
			for _, conn := range dead {
				s.disconnectClient(conn)
			}
		case <-s.shutdown:
			return
		}
	}
}
