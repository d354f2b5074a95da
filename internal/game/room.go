package game

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mlindqvist/pitboss/internal/cards"
	"github.com/mlindqvist/pitboss/internal/protocol"
)

// RoomState is a table's position in its own state machine. The ordinal
// values are rendered verbatim into LBBYINFO payloads.
type RoomState int

const (
	StateWaiting RoomState = iota
	StateBetting
	StatePlaying
	StateRoundEnd
)

// MaxPlayersPerRoom bounds a single table's seats.
const MaxPlayersPerRoom = 7

// TurnTimeout is how long the player at the head of the turn queue has to
// act before they're auto-stood.
const TurnTimeout = 30 * time.Second

// Room is one table: its seated players, its dealer hand, its turn order,
// and its state machine. A Room never holds a reference to the lobby or the
// server; all outbound effects go through Sink.
type Room struct {
	ID    int
	State RoomState

	Players    []*Player
	DealerHand []cards.Card
	TurnQueue  []*Player

	turnDeadline time.Time

	MinBet int
	MaxBet int

	sink Sink
}

// NewRoom constructs an empty, WAITING_FOR_PLAYERS table bound to sink for
// all of its outbound effects.
func NewRoom(id, minBet, maxBet int, sink Sink) *Room {
	return &Room{
		ID:     id,
		State:  StateWaiting,
		MinBet: minBet,
		MaxBet: maxBet,
		sink:   sink,
	}
}

// PlayerCount is the number of seated players, regardless of connection
// state.
func (r *Room) PlayerCount() int { return len(r.Players) }

// AddPlayer seats p if there's room. Returns false if the table is full.
func (r *Room) AddPlayer(p *Player) bool {
	if len(r.Players) >= MaxPlayersPerRoom {
		return false
	}
	r.Players = append(r.Players, p)
	return true
}

// RemovePlayer fully unseats p: drops it from the player list and, if it
// was at the head of the turn queue, auto-stands it so the round can
// continue without it (see the turnQueue-head testable property).
func (r *Room) RemovePlayer(p *Player, now time.Time) {
	r.removeFromQueue(p, now)
	for i, pl := range r.Players {
		if pl == p {
			r.Players = append(r.Players[:i], r.Players[i+1:]...)
			break
		}
	}
}

func (r *Room) removeFromQueue(p *Player, now time.Time) {
	for i, pl := range r.TurnQueue {
		if pl != p {
			continue
		}
		wasHead := i == 0
		r.TurnQueue = append(r.TurnQueue[:i], r.TurnQueue[i+1:]...)
		if wasHead {
			r.turnDeadline = now.Add(TurnTimeout)
		}
		return
	}
}

// Reset clears dealer hand, turn queue and every remaining seated player's
// round state, and returns the room to WAITING_FOR_PLAYERS.
func (r *Room) Reset() {
	r.DealerHand = nil
	r.TurnQueue = nil
	for _, p := range r.Players {
		p.ResetRoundState()
	}
	r.State = StateWaiting
}

func (r *Room) allReady() bool {
	if len(r.Players) == 0 {
		return false
	}
	for _, p := range r.Players {
		if !p.Ready {
			return false
		}
	}
	return true
}

func (r *Room) allPlacedBets() bool {
	if len(r.Players) == 0 {
		return false
	}
	for _, p := range r.Players {
		if !p.PlacedBet {
			return false
		}
	}
	return true
}

// AllOffline reports whether every seated player is currently offline
// (disconnected or idle past OfflineAfter); a room with no players counts
// as vacuously true.
func (r *Room) AllOffline(now time.Time) bool {
	for _, p := range r.Players {
		if !p.IsOffline(now) {
			return false
		}
	}
	return true
}

func (r *Room) deal(now time.Time) {
	r.DealerHand = []cards.Card{cards.Random(), cards.Random()}
	r.TurnQueue = nil
	for _, p := range r.Players {
		p.Hand = []cards.Card{cards.Random(), cards.Random()}
		r.TurnQueue = append(r.TurnQueue, p)
	}
	r.turnDeadline = now.Add(TurnTimeout)
}

func (r *Room) dealerPlay() {
	for cards.Value(r.DealerHand) < 17 {
		r.DealerHand = append(r.DealerHand, cards.Random())
	}
}

// settle computes the credit delta for one player at round end and applies
// it to their balance. The bet was already debited at placement, so a loss
// leaves credits untouched but still reports a negative delta; a push
// refunds the bet, a natural blackjack pays 1.5x, and an ordinary win pays
// 2x.
func (r *Room) settle(p *Player) int {
	dealerValue := cards.Value(r.DealerHand)
	playerValue := p.HandValue()

	var delta int
	switch {
	case playerValue > 21:
		delta = -p.BetAmount
	case len(p.Hand) == 2 && playerValue == 21 && dealerValue != 21:
		delta = p.BetAmount * 3 / 2
		p.Credits += delta
	case dealerValue > 21 || playerValue > dealerValue:
		delta = p.BetAmount * 2
		p.Credits += delta
	case playerValue == dealerValue:
		delta = p.BetAmount
		p.Credits += delta
	default:
		delta = -p.BetAmount
	}

	return delta
}

// PlaceBet validates and applies a bet: it must be strictly positive and not
// exceed the player's current credits. The bet is debited immediately on
// success.
func (r *Room) PlaceBet(p *Player, amount int) bool {
	if amount <= 0 || amount > p.Credits {
		return false
	}
	p.Credits -= amount
	p.BetAmount = amount
	p.PlacedBet = true
	return true
}

func (r *Room) invalidMessage(p *Player) {
	p.InvalidMsgCount++
	if p.InvalidMsgCount > 5 {
		r.sink.Send(p, protocol.CmdDisconnect, "Too many invalid messages")
		r.sink.DestroyPlayer(p)
	}
}

func (r *Room) isTurnHead(p *Player) bool {
	return len(r.TurnQueue) > 0 && r.TurnQueue[0] == p
}

// Handle dispatches one frame from a seated player to the current state's
// handler, then always re-broadcasts the room's snapshot (status or game
// state, whichever the new state calls for) — the original server's
// always-rebroadcast-after-handle pattern.
func (r *Room) Handle(p *Player, msg protocol.Message, now time.Time) {
	if msg.Command == protocol.CmdReconnectGam {
		if r.State == StatePlaying {
			r.sink.Send(p, protocol.CmdGameState, r.gameStatePayload(now))
		} else {
			r.sink.Send(p, protocol.CmdRoomStatus, r.statusPayload(now))
		}
		return
	}

	switch r.State {
	case StateWaiting:
		r.handleWaiting(p, msg)
	case StateBetting:
		r.handleBetting(p, msg)
	case StatePlaying:
		r.handlePlaying(p, msg, now)
	case StateRoundEnd:
		r.handleRoundEnd(p, msg)
	}

	if r.State == StatePlaying {
		r.broadcastGameState(now)
	} else {
		r.broadcastStatus(now)
	}
}

func (r *Room) handleWaiting(p *Player, msg protocol.Message) {
	switch msg.Command {
	case protocol.CmdReady:
		p.Ready = true
		r.sink.Send(p, protocol.CmdAckReady, "")
	case protocol.CmdUnready:
		p.Ready = false
		r.sink.Send(p, protocol.CmdAckUnready, "")
	default:
		r.invalidMessage(p)
		r.sink.Send(p, protocol.CmdNackCommand, "")
	}
}

func (r *Room) handleBetting(p *Player, msg protocol.Message) {
	if msg.Command != protocol.CmdBet {
		r.invalidMessage(p)
		r.sink.Send(p, protocol.CmdNackCommand, "")
		return
	}
	if p.PlacedBet {
		r.sink.Send(p, protocol.CmdNackBet, "Bet already placed")
		return
	}
	if len(msg.Args) != 1 {
		r.sink.Send(p, protocol.CmdNackBet, "Missing bet amount")
		return
	}
	amount, err := strconv.Atoi(msg.Args[0])
	if err != nil {
		r.sink.Send(p, protocol.CmdNackBet, "Invalid bet amount")
		return
	}
	if !r.PlaceBet(p, amount) {
		r.sink.Send(p, protocol.CmdNackBet, "Invalid bet amount")
		return
	}
	// The original server's ACK___BT carries a literal leading space
	// before the amount; preserved for wire-level parity.
	r.sink.Send(p, protocol.CmdAckBet, " "+strconv.Itoa(amount))
}

func (r *Room) handlePlaying(p *Player, msg protocol.Message, now time.Time) {
	if !r.isTurnHead(p) {
		r.invalidMessage(p)
		r.sink.Send(p, protocol.CmdNackCommand, "")
		return
	}

	switch msg.Command {
	case protocol.CmdHit:
		if p.HandValue() >= 21 {
			r.sink.Send(p, protocol.CmdNackHit, "")
			return
		}
		p.Hand = append(p.Hand, cards.Random())
		v := p.HandValue()
		switch {
		case v > 21:
			r.sink.Send(p, protocol.CmdBust, "")
			r.standHead(now)
		case v == 21:
			r.sink.Send(p, protocol.CmdHit21, "")
			r.standHead(now)
		default:
			r.turnDeadline = now.Add(TurnTimeout)
		}
	case protocol.CmdStand:
		r.sink.Send(p, protocol.CmdAckStand, "")
		r.standHead(now)
	default:
		r.invalidMessage(p)
		r.sink.Send(p, protocol.CmdNackCommand, "")
	}
}

// standHead pops the current turn head (assumed to be the acting player)
// and restarts the timer for whoever is next.
func (r *Room) standHead(now time.Time) {
	if len(r.TurnQueue) == 0 {
		return
	}
	r.TurnQueue = r.TurnQueue[1:]
	r.turnDeadline = now.Add(TurnTimeout)
}

func (r *Room) handleRoundEnd(p *Player, msg protocol.Message) {
	if msg.Command != protocol.CmdPlayAgain {
		r.invalidMessage(p)
		r.sink.Send(p, protocol.CmdNackCommand, "")
		return
	}
	if p.Credits <= 0 {
		r.sink.Send(p, protocol.CmdNackPlayAgain, "Insufficient credits")
		return
	}
	r.Reset()
	r.sink.MarkDirty()
	r.sink.Send(p, protocol.CmdAckPlayAgain, strconv.Itoa(r.ID))
}

// Update advances the state machine's time- and condition-driven
// transitions: it is called once per tick for every room regardless of
// whether any player just sent a frame.
func (r *Room) Update(now time.Time) {
	switch r.State {
	case StateWaiting:
		if r.allReady() {
			r.State = StateBetting
			r.sink.MarkDirty()
			r.broadcastToAll(protocol.CmdReqBet, "")
		}
	case StateBetting:
		if r.allPlacedBets() {
			r.State = StatePlaying
			r.deal(now)
			r.broadcastGameState(now)
		}
	case StatePlaying:
		if len(r.TurnQueue) == 0 {
			r.State = StateRoundEnd
			r.dealerPlay()
			r.broadcastGameState(now)
			for _, p := range r.Players {
				delta := r.settle(p)
				r.sink.Send(p, protocol.CmdRoundEnd, fmt.Sprintf("%d;%d", p.Credits, delta))
			}
		} else if !r.turnDeadline.IsZero() && now.After(r.turnDeadline) {
			r.standHead(now)
			r.broadcastGameState(now)
		}
	case StateRoundEnd:
		if r.AllOffline(now) {
			r.Reset()
			r.sink.MarkDirty()
		}
	}
}

// NotifyStatus re-broadcasts ROMSTAUP to the table; exported for Lobby to
// call after join/leave bookkeeping it performs itself.
func (r *Room) NotifyStatus(now time.Time) { r.broadcastStatus(now) }

// NotifyGameState re-broadcasts GAMESTAT to the table; exported for Lobby to
// call when a seated player disconnects mid-hand and the seat is retained.
func (r *Room) NotifyGameState(now time.Time) { r.broadcastGameState(now) }

func (r *Room) broadcastToAll(command, argsBlob string) {
	for _, p := range r.Players {
		r.sink.Send(p, command, argsBlob)
	}
}

func (r *Room) broadcastStatus(now time.Time) {
	payload := r.statusPayload(now)
	for _, p := range r.Players {
		if !p.IsOffline(now) {
			r.sink.Send(p, protocol.CmdRoomStatus, payload)
		}
	}
}

func (r *Room) broadcastGameState(now time.Time) {
	// Keep hasTurn consistent with the queue head before rendering.
	for _, p := range r.Players {
		p.HasTurn = r.isTurnHead(p)
	}
	payload := r.gameStatePayload(now)
	for _, p := range r.Players {
		if !p.IsOffline(now) {
			r.sink.Send(p, protocol.CmdGameState, payload)
		}
	}
}

// roomStatusCode renders the ROMSTAUP player status code: 2 if offline,
// else 1 if ready, else 0.
func roomStatusCode(p *Player, now time.Time) int {
	if p.IsOffline(now) {
		return 2
	}
	if p.Ready {
		return 1
	}
	return 0
}

// gameStatusCode renders the GAMESTAT player status code: 2 if offline,
// else 1 if it's their turn, else 0.
func gameStatusCode(p *Player, now time.Time) int {
	if p.IsOffline(now) {
		return 2
	}
	if p.HasTurn {
		return 1
	}
	return 0
}

// statusPayload renders "P;<nick>;<status>;BET;<bet>:..." for every seated
// player, used by ROMSTAUP outside of PLAYING.
func (r *Room) statusPayload(now time.Time) string {
	var b strings.Builder
	for _, p := range r.Players {
		fmt.Fprintf(&b, "P;%s;%d;BET;%d:", p.Nickname, roomStatusCode(p, now), p.BetAmount)
	}
	return b.String()
}

// gameStatePayload renders "D;<cards>:P;<nick>;<status>;<cards>:..." used by
// GAMESTAT during and after PLAYING.
func (r *Room) gameStatePayload(now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "D;%s:", cards.CodesJoined(r.DealerHand))
	for _, p := range r.Players {
		fmt.Fprintf(&b, "P;%s;%d;%s:", p.Nickname, gameStatusCode(p, now), cards.CodesJoined(p.Hand))
	}
	return b.String()
}
