/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// Response is a server frame addressed to this client alone.
type Response struct {
	Event string
	Reply Reply
}

// Reconciler keeps a client's view of one session. Local edits are only ever
// provisional: each session broadcast replaces the whole view.
type Reconciler struct {
	conn   *websocket.Conn
	player Player

	writeMu sync.Mutex

	mu          sync.RWMutex
	local       *Session
	provisional bool

	updates   chan *Session
	responses chan Response
}

// Dial connects to the websocket at url on behalf of player, whose local
// guess of the session starts with just that player.
func Dial(ctx context.Context, url, sessionID string, player Player) (*Reconciler, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	local := newSession(sessionID)
	local.Players = append(local.Players, player)

	return &Reconciler{
		conn:      conn,
		player:    player,
		local:     local,
		updates:   make(chan *Session, 64),
		responses: make(chan Response, 64),
	}, nil
}

// Run reads frames until the connection ends. It closes Updates and
// Responses on return.
func (r *Reconciler) Run() error {
	defer close(r.updates)
	defer close(r.responses)

	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			return err
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return fmt.Errorf("decode frame: %w", err)
		}

		var reply Reply
		if err := json.Unmarshal(env.Payload, &reply); err != nil {
			return fmt.Errorf("decode %s reply: %w", env.Event, err)
		}

		if env.Event != EventSession {
			select {
			case r.responses <- Response{Event: env.Event, Reply: reply}:
			default:
			}
			continue
		}

		var canonical Session
		if err := json.Unmarshal(reply.Res, &canonical); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}

		r.Replace(&canonical)

		select {
		case r.updates <- r.Session():
		default:
		}
	}
}

// Replace swaps the local view for a canonical session.
func (r *Reconciler) Replace(canonical *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.local = canonical.Clone()
	r.provisional = false
}

// Session returns a copy of the current local view.
func (r *Reconciler) Session() *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.local.Clone()
}

// Provisional reports whether the view carries local edits not yet confirmed.
func (r *Reconciler) Provisional() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.provisional
}

func (r *Reconciler) Player() Player {
	return r.player
}

func (r *Reconciler) Updates() <-chan *Session {
	return r.updates
}

func (r *Reconciler) Responses() <-chan Response {
	return r.responses
}

// Send emits event with payload. A non-nil tentative is applied to the
// local view first; the next broadcast overrides it either way.
func (r *Reconciler) Send(event string, payload any, tentative func(*Session)) error {
	if tentative != nil {
		r.mu.Lock()
		tentative(r.local)
		r.provisional = true
		r.mu.Unlock()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	frame, err := json.Marshal(Envelope{Event: event, Payload: data})
	if err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	return r.conn.WriteMessage(websocket.TextMessage, frame)
}

// Join sends the local guess of the session.
func (r *Reconciler) Join() error {
	return r.Send(EventJoin, r.Session(), nil)
}

// Score computes a player's score from the local view.
func (r *Reconciler) Score(playerID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Score(r.local, playerID)
}

// Scores computes every member's score from the local view.
func (r *Reconciler) Scores() (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Scores(r.local)
}

func (r *Reconciler) Close() error {
	r.writeMu.Lock()
	_ = r.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	r.writeMu.Unlock()

	return r.conn.Close()
}
