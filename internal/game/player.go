package game

import (
	"net"
	"time"

	"github.com/mlindqvist/pitboss/internal/cards"
)

// SessionState is a Player's place in the lobby/room lifecycle.
type SessionState int

const (
	StateLobby SessionState = iota
	StateInRoom
	StateDisconnected
)

// PlayerID is a monotonically assigned, process-lifetime-unique handle.
// Identity lives here, not in the connection or the nickname: a nickname can
// be recovered onto a new socket, but the PlayerID of the original Player
// object never changes.
type PlayerID uint64

// StartingCredits is every new Player's opening balance.
const StartingCredits = 1000

// OfflineAfter is the idle duration after which a seated player is rendered
// as offline (status 2) in room snapshots, even if their socket is still
// open and simply quiet.
const OfflineAfter = 9 * time.Second

// Player is one human across its whole lifetime: online in the lobby,
// seated in a room, or disconnected-but-recoverable by nickname. The same
// object survives a reconnect; only Conn is swapped.
type Player struct {
	ID       PlayerID
	Nickname string
	Conn     net.Conn

	State           SessionState
	Credits         int
	RoomID          int
	LastActivity    time.Time
	InvalidMsgCount int
	DisconnectedAt  time.Time

	// Round-scoped attributes, cleared by ResetRoundState.
	Ready     bool
	HasTurn   bool
	PlacedBet bool
	BetAmount int
	Hand      []cards.Card
}

// NewPlayer constructs a fresh lobby arrival: 1000 credits, no room, no
// nickname yet.
func NewPlayer(id PlayerID, conn net.Conn, now time.Time) *Player {
	return &Player{
		ID:           id,
		Conn:         conn,
		State:        StateLobby,
		Credits:      StartingCredits,
		RoomID:       -1,
		LastActivity: now,
	}
}

// ResetRoundState clears every attribute that only has meaning for the
// current betting/playing round, in place for the next one.
func (p *Player) ResetRoundState() {
	p.Ready = false
	p.HasTurn = false
	p.PlacedBet = false
	p.BetAmount = 0
	p.Hand = nil
}

// HandValue is the player's current blackjack hand total.
func (p *Player) HandValue() int {
	return cards.Value(p.Hand)
}

// IsOffline reports whether p should be rendered with status 2 in a room
// snapshot: either it has no live socket at all (fully disconnected and
// recoverable-by-nickname, seat retained through an active hand) or its
// socket has gone quiet for OfflineAfter.
func (p *Player) IsOffline(now time.Time) bool {
	if p.State == StateDisconnected || p.Conn == nil {
		return true
	}
	return now.Sub(p.LastActivity) >= OfflineAfter
}
