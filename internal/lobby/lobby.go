// Package lobby is the top-level registry: every connected socket, every
// recoverable-by-nickname player, and the fixed set of rooms. It is the
// single Sink implementation the whole server shares, and it owns the one
// mutex that serializes all Player/Room mutation.
package lobby

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mlindqvist/pitboss/internal/game"
	"github.com/mlindqvist/pitboss/internal/protocol"
)

// NicknameMinLen and NicknameMaxLen bound an acceptable login nickname.
const (
	NicknameMinLen = 3
	NicknameMaxLen = 20
)

// DefaultRecoveryTTL is how long a disconnected player's nickname stays
// reclaimable before Lobby.Update garbage-collects it.
const DefaultRecoveryTTL = 5 * time.Minute

// WriteTimeout bounds how long a single outbound frame write may block.
const WriteTimeout = 2 * time.Second

// Lobby is the shared mutable world: one mutex behind which every Player
// and Room mutation happens, whether triggered by a connection's read loop
// or the server's periodic tick.
type Lobby struct {
	Mu sync.Mutex

	online      map[net.Conn]*game.Player
	recoverable map[string]*game.Player
	rooms       []*game.Room

	dirty       bool
	nextID      uint64
	recoveryTTL time.Duration
	maxPlayers  int

	logger *logrus.Logger

	// RawClose, set by the server after construction, closes a socket and
	// forgets its framing buffer without touching Lobby state — used by
	// DestroyPlayer, which has already done that bookkeeping itself and
	// must not re-enter Mu.
	RawClose func(net.Conn)
}

// New builds a lobby with numRooms fixed tables. minBet and maxBet are stored
// on each room as informational table limits; bet validation does not
// consult them.
func New(numRooms, minBet, maxBet, maxPlayers int, recoveryTTL time.Duration, logger *logrus.Logger) *Lobby {
	l := &Lobby{
		online:      make(map[net.Conn]*game.Player),
		recoverable: make(map[string]*game.Player),
		recoveryTTL: recoveryTTL,
		maxPlayers:  maxPlayers,
		logger:      logger,
	}
	l.rooms = make([]*game.Room, numRooms)
	for i := range l.rooms {
		l.rooms[i] = game.NewRoom(i, minBet, maxBet, l)
	}
	return l
}

// --- game.Sink ---

// Send writes a single frame to p's current socket. A player with no live
// socket (offline/recoverable) is silently skipped. Write errors are logged
// and swallowed, never propagated: a bad socket is the read loop's problem
// to discover and clean up.
func (l *Lobby) Send(p *game.Player, command, argsBlob string) {
	if p == nil || p.Conn == nil {
		return
	}
	frame := protocol.Serialize(command, argsBlob)
	_ = p.Conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if _, err := p.Conn.Write([]byte(frame)); err != nil {
		l.logger.WithFields(logrus.Fields{
			"player":  p.Nickname,
			"command": command,
			"err":     err,
		}).Warn("write failed")
	}
}

// MarkDirty schedules a fresh LBBYINFO broadcast on the next Update.
func (l *Lobby) MarkDirty() { l.dirty = true }

// DestroyPlayer removes p permanently: same room bookkeeping as a normal
// disconnect, but the nickname is never parked in recoverable and the
// socket is closed immediately.
func (l *Lobby) DestroyPlayer(p *game.Player) {
	now := time.Now()
	l.detachFromRoom(p, now)
	if p.Conn != nil {
		delete(l.online, p.Conn)
	}
	delete(l.recoverable, p.Nickname)
	l.dirty = true
	if l.RawClose != nil && p.Conn != nil {
		conn := p.Conn
		p.Conn = nil
		l.RawClose(conn)
	}
}

// --- connection lifecycle ---

// AddPlayer registers a newly accepted socket and sends it the initial
// nickname prompt.
func (l *Lobby) AddPlayer(conn net.Conn, now time.Time) *game.Player {
	l.nextID++
	p := game.NewPlayer(game.PlayerID(l.nextID), conn, now)
	l.online[conn] = p
	l.Send(p, protocol.CmdReqNick, "")
	return p
}

// PlayerFor looks up the Player currently bound to conn, or nil if it has
// already been removed.
func (l *Lobby) PlayerFor(conn net.Conn) *game.Player {
	return l.online[conn]
}

// OnlineCount is the number of currently connected sockets.
func (l *Lobby) OnlineCount() int { return len(l.online) }

// RoomStates returns each room's current state, indexed the same way as
// the rooms themselves. Used only for metrics reporting.
func (l *Lobby) RoomStates() []game.RoomState {
	states := make([]game.RoomState, len(l.rooms))
	for i, r := range l.rooms {
		states[i] = r.State
	}
	return states
}

// RemovePlayer handles a socket that has gone away (read error, EOF,
// explicit liveness-sweep close): if the player never set a nickname there
// is nothing to recover and the object is simply dropped; otherwise it is
// parked in recoverable, keyed by nickname, until GC or a matching login.
func (l *Lobby) RemovePlayer(conn net.Conn, now time.Time) {
	p, ok := l.online[conn]
	if !ok {
		return
	}
	l.detachFromRoom(p, now)
	delete(l.online, conn)
	p.Conn = nil
	if p.Nickname != "" {
		p.DisconnectedAt = now
		l.recoverable[p.Nickname] = p
	}
	l.dirty = true
}

// detachFromRoom implements the shared "leaving the world" room bookkeeping
// used by both RemovePlayer and DestroyPlayer: if the room is mid-hand the
// seat (and turn slot) is retained so the player can reconnect into the same
// round; otherwise the seat is given up immediately.
func (l *Lobby) detachFromRoom(p *game.Player, now time.Time) {
	if p.State != game.StateInRoom {
		return
	}
	room := l.rooms[p.RoomID]
	if room.State == game.StatePlaying {
		room.NotifyGameState(now)
	} else {
		room.RemovePlayer(p, now)
		p.RoomID = -1
		if room.PlayerCount() == 0 {
			room.Reset()
		} else if room.State == game.StateWaiting {
			room.NotifyStatus(now)
		}
	}
	p.State = game.StateDisconnected
}

// --- frame dispatch ---

// ProcessLines parses and dispatches every complete line just drained from
// p's connection buffer. It returns true if the frame-level invalid-message
// cap was just exceeded and the caller should close the socket (a soft,
// recoverable disconnect — distinct from the harder Lobby/Room-level
// invalid-message cap, which destroys outright).
func (l *Lobby) ProcessLines(p *game.Player, lines []string, now time.Time) (disconnect bool, invalidCount int) {
	for _, line := range lines {
		msg := protocol.Parse(line)
		if !msg.Valid {
			invalidCount++
			p.InvalidMsgCount++
			if p.InvalidMsgCount >= 3 {
				return true, invalidCount
			}
			continue
		}
		switch msg.Command {
		case protocol.CmdPing:
			l.Send(p, protocol.CmdPong, "")
		case protocol.CmdPong, protocol.CmdAckPing:
			// Activity already refreshed by the caller before dispatch.
		default:
			l.Handle(p, msg, now)
		}
	}
	return false, invalidCount
}

// Handle routes one parsed, non-liveness frame through login/join/leave or
// down into the player's current room.
func (l *Lobby) Handle(p *game.Player, msg protocol.Message, now time.Time) {
	if p.Nickname == "" && msg.Command != protocol.CmdLogin {
		l.invalidMessage(p)
		return
	}
	if msg.Command == protocol.CmdLeaveRoom {
		l.leaveRoom(p, now)
		return
	}
	if p.State == game.StateInRoom {
		l.rooms[p.RoomID].Handle(p, msg, now)
		return
	}
	switch msg.Command {
	case protocol.CmdLogin:
		l.login(p, msg.Args, now)
	case protocol.CmdJoin:
		l.join(p, msg.Args, now)
	default:
		l.invalidMessage(p)
	}
}

func (l *Lobby) invalidMessage(p *game.Player) {
	p.InvalidMsgCount++
	if p.InvalidMsgCount > 5 {
		l.Send(p, protocol.CmdDisconnect, "Too many invalid messages")
		l.DestroyPlayer(p)
	}
}

func validNickname(nick string) bool {
	if len(nick) < NicknameMinLen || len(nick) > NicknameMaxLen {
		return false
	}
	for _, ch := range nick {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '_', ch == '-':
		default:
			return false
		}
	}
	return true
}

func (l *Lobby) onlineNicknameHolder(nick string) *game.Player {
	for _, p := range l.online {
		if p.Nickname == nick {
			return p
		}
	}
	return nil
}

func (l *Lobby) login(p *game.Player, args []string, now time.Time) {
	if len(args) < 1 || args[0] == "" {
		l.Send(p, protocol.CmdNackNick, "Nickname required")
		return
	}
	nick := args[0]

	if other := l.onlineNicknameHolder(nick); other != nil && other != p {
		l.Send(p, protocol.CmdNackNick, "Nickname already taken")
		return
	}

	if rp, ok := l.recoverable[nick]; ok {
		delete(l.recoverable, nick)
		delete(l.online, p.Conn)
		rp.Conn = p.Conn
		rp.InvalidMsgCount = 0
		rp.LastActivity = now
		if rp.RoomID != -1 {
			rp.State = game.StateInRoom
		} else {
			rp.State = game.StateLobby
		}
		l.online[rp.Conn] = rp
		l.Send(rp, protocol.CmdAckRecover, rp.Nickname+";"+strconv.Itoa(rp.Credits)+";"+strconv.Itoa(rp.RoomID))
		l.dirty = true
		return
	}

	if p.Nickname != "" && p.Nickname != nick {
		l.invalidMessage(p)
		return
	}

	if !validNickname(nick) {
		l.Send(p, protocol.CmdNackNick, "Invalid nickname")
		return
	}

	p.Nickname = nick
	l.Send(p, protocol.CmdAckNick, nick+";"+strconv.Itoa(p.Credits))
	l.dirty = true
}

func (l *Lobby) join(p *game.Player, args []string, now time.Time) {
	if len(args) != 1 {
		l.Send(p, protocol.CmdNackJoin, "Missing room ID")
		return
	}
	id, err := strconv.Atoi(args[0])
	if err != nil || id < 0 || id >= len(l.rooms) {
		l.Send(p, protocol.CmdNackJoin, "Unknown room")
		return
	}
	room := l.rooms[id]
	if room.State != game.StateWaiting || room.PlayerCount() >= game.MaxPlayersPerRoom || p.Credits <= 0 {
		l.Send(p, protocol.CmdNackJoin, "Cannot join room")
		return
	}
	room.AddPlayer(p)
	p.RoomID = id
	p.State = game.StateInRoom
	l.Send(p, protocol.CmdAckJoin, "")
	room.NotifyStatus(now)
}

func (l *Lobby) leaveRoom(p *game.Player, now time.Time) {
	if p.State != game.StateInRoom {
		l.Send(p, protocol.CmdNackLeaveRoom, "Not in a room")
		return
	}
	room := l.rooms[p.RoomID]
	room.RemovePlayer(p, now)
	p.RoomID = -1
	p.State = game.StateLobby
	l.Send(p, protocol.CmdAckLeaveRoom, "")
	if room.PlayerCount() == 0 {
		room.Reset()
	} else if room.State == game.StateWaiting {
		room.NotifyStatus(now)
	}
	l.dirty = true
}

// --- periodic tick ---

// Update runs the once-per-tick housekeeping: a fresh LBBYINFO broadcast if
// anything changed since the last tick, every room's own state-machine
// tick, and recoverable-entry garbage collection.
func (l *Lobby) Update(now time.Time) {
	if l.dirty {
		payload := l.snapshotPayload()
		for _, p := range l.online {
			if p.State == game.StateLobby && p.Nickname != "" {
				l.Send(p, protocol.CmdLobbyInfo, payload)
			}
		}
		l.dirty = false
	}
	for _, r := range l.rooms {
		r.Update(now)
	}
	l.gcRecoverable(now)
}

func (l *Lobby) gcRecoverable(now time.Time) {
	for nick, p := range l.recoverable {
		if now.Sub(p.DisconnectedAt) >= l.recoveryTTL {
			delete(l.recoverable, nick)
		}
	}
}

func (l *Lobby) snapshotPayload() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ONLINE;%d:ROOMS;%d:", len(l.online), len(l.rooms))
	for i, r := range l.rooms {
		fmt.Fprintf(&b, "R%d;%d/%d;%d:", i, r.PlayerCount(), game.MaxPlayersPerRoom, int(r.State))
	}
	return b.String()
}

// SweepLiveness is the 3-second liveness pass: players idle for at least 10s
// are returned for the caller to forcibly disconnect; players idle for at
// least 3s (but under 10s) are sent a fresh PING____.
func (l *Lobby) SweepLiveness(now time.Time) []net.Conn {
	var dead []net.Conn
	for conn, p := range l.online {
		idle := now.Sub(p.LastActivity)
		switch {
		case idle >= 10*time.Second:
			dead = append(dead, conn)
		case idle >= 3*time.Second:
			l.Send(p, protocol.CmdPing, "")
		}
	}
	return dead
}

// Shutdown tells every online player the server is going away. It does not
// close sockets; that's the server's job once this returns.
func (l *Lobby) Shutdown() {
	for _, p := range l.online {
		l.Send(p, protocol.CmdDisconnect, "Server shutting down")
	}
}
