package lobby

import (
	"bytes"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlindqvist/pitboss/internal/game"
	"github.com/mlindqvist/pitboss/internal/protocol"
)

// mockConn is a net.Conn stand-in that records everything written to it,
// used in place of a real socket in tests.
type mockConn struct {
	written bytes.Buffer
	closed  bool
}

func (c *mockConn) Read(b []byte) (int, error)         { return 0, nil }
func (c *mockConn) Write(b []byte) (int, error)        { return c.written.Write(b) }
func (c *mockConn) Close() error                       { c.closed = true; return nil }
func (c *mockConn) LocalAddr() net.Addr                { return nil }
func (c *mockConn) RemoteAddr() net.Addr               { return nil }
func (c *mockConn) SetDeadline(t time.Time) error      { return nil }
func (c *mockConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *mockConn) SetWriteDeadline(t time.Time) error { return nil }

func (c *mockConn) frames() []string {
	raw := strings.TrimSuffix(c.written.String(), "\n")
	if raw == "" {
		return nil
	}
	return strings.Split(raw, "\n")
}

func newTestLobby() *Lobby {
	logger := logrus.New()
	logger.SetOutput(noopWriter{})
	return New(2, 10, 500, 20, DefaultRecoveryTTL, logger)
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestAddPlayerSendsReqNick(t *testing.T) {
	l := newTestLobby()
	conn := &mockConn{}
	l.AddPlayer(conn, time.Now())
	frames := conn.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, "BJ:REQ_NICK", frames[0])
}

func TestLoginAcceptsFreshNickname(t *testing.T) {
	l := newTestLobby()
	conn := &mockConn{}
	p := l.AddPlayer(conn, time.Now())

	l.login(p, []string{"alice"}, time.Now())
	assert.Equal(t, "alice", p.Nickname)
	frames := conn.frames()
	require.Len(t, frames, 2)
	assert.Equal(t, "BJ:ACK__NIC:alice;1000", frames[1])
}

func TestLoginRejectsDuplicateOnlineNickname(t *testing.T) {
	l := newTestLobby()
	conn1, conn2 := &mockConn{}, &mockConn{}
	p1 := l.AddPlayer(conn1, time.Now())
	p2 := l.AddPlayer(conn2, time.Now())
	l.login(p1, []string{"alice"}, time.Now())

	l.login(p2, []string{"alice"}, time.Now())
	assert.Empty(t, p2.Nickname)
	frames := conn2.frames()
	assert.Equal(t, "BJ:NACK_NIC:Nickname already taken", frames[len(frames)-1])
}

func TestLoginRejectsInvalidNickname(t *testing.T) {
	l := newTestLobby()
	conn := &mockConn{}
	p := l.AddPlayer(conn, time.Now())

	l.login(p, []string{"ab"}, time.Now())
	assert.Empty(t, p.Nickname)
	frames := conn.frames()
	assert.Equal(t, "BJ:NACK_NIC:Invalid nickname", frames[len(frames)-1])
}

func TestDisconnectAndRecoverByNickname(t *testing.T) {
	l := newTestLobby()
	conn1 := &mockConn{}
	p1 := l.AddPlayer(conn1, time.Now())
	l.login(p1, []string{"alice"}, time.Now())

	now := time.Now()
	l.RemovePlayer(conn1, now)
	assert.Nil(t, l.PlayerFor(conn1))
	_, recoverable := l.recoverable["alice"]
	assert.True(t, recoverable)

	conn2 := &mockConn{}
	p2 := l.AddPlayer(conn2, now)
	l.login(p2, []string{"alice"}, now)

	assert.Same(t, p1, l.PlayerFor(conn2))
	assert.Equal(t, game.StateLobby, p1.State)
	_, stillRecoverable := l.recoverable["alice"]
	assert.False(t, stillRecoverable)
}

func TestJoinRejectsUnknownRoom(t *testing.T) {
	l := newTestLobby()
	conn := &mockConn{}
	p := l.AddPlayer(conn, time.Now())
	l.login(p, []string{"alice"}, time.Now())

	l.join(p, []string{"99"}, time.Now())
	frames := conn.frames()
	assert.Equal(t, "BJ:NACK_JON:Unknown room", frames[len(frames)-1])
}

func TestJoinSeatsPlayerInRoom(t *testing.T) {
	l := newTestLobby()
	conn := &mockConn{}
	p := l.AddPlayer(conn, time.Now())
	l.login(p, []string{"alice"}, time.Now())

	l.join(p, []string{"0"}, time.Now())
	assert.Equal(t, game.StateInRoom, p.State)
	assert.Equal(t, 0, p.RoomID)
	frames := conn.frames()
	assert.Contains(t, frames, "BJ:ACK__JON")
}

func TestProcessLinesDisconnectsAtThreeInvalidFrames(t *testing.T) {
	l := newTestLobby()
	conn := &mockConn{}
	p := l.AddPlayer(conn, time.Now())

	disconnect, invalid := l.ProcessLines(p, []string{"garbage", "also garbage", "still garbage"}, time.Now())
	assert.True(t, disconnect)
	assert.Equal(t, 3, invalid)
}

func TestProcessLinesRoutesPingToPong(t *testing.T) {
	l := newTestLobby()
	conn := &mockConn{}
	p := l.AddPlayer(conn, time.Now())

	disconnect, _ := l.ProcessLines(p, []string{"BJ:" + protocol.CmdPing}, time.Now())
	assert.False(t, disconnect)
	frames := conn.frames()
	assert.Contains(t, frames, "BJ:PONG____")
}

func TestSnapshotPayloadEndsWithTrailingColon(t *testing.T) {
	l := newTestLobby()
	payload := l.snapshotPayload()
	assert.Equal(t, "ONLINE;0:ROOMS;2:R0;0/7;0:R1;0/7;0:", payload)
}

func TestLeaveRoomResetsEmptyRoom(t *testing.T) {
	l := newTestLobby()
	conn := &mockConn{}
	p := l.AddPlayer(conn, time.Now())
	l.login(p, []string{"alice"}, time.Now())
	l.join(p, []string{"0"}, time.Now())

	l.leaveRoom(p, time.Now())
	assert.Equal(t, game.StateLobby, p.State)
	assert.Equal(t, -1, p.RoomID)
	assert.Equal(t, 0, l.rooms[0].PlayerCount())
}
