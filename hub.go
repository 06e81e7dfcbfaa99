// Fictionary
//
// Players submit words together with their genuine definition. Everyone else
// submits a decoy definition, then votes on which definition they believe is
// genuine. Scores are derived from the votes once a word is fully voted.
//
// Features:
// - One WebSocket endpoint at /ws; the first "join" on a connection picks the session
// - Each session is served by its own hub goroutine, so commands on a session
//   are applied one at a time while sessions run in parallel
// - Every accepted command is followed by a full session broadcast
// - Rejected commands are answered only to the offending client
// - A session is torn down as soon as its last player disconnects
// - Idle sessions are reaped after a configurable timeout
// - Random 8-char session IDs via crypto/rand, with server-side collision check
// - In-browser QR code for sharing a session, backed by go-qrcode

package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const (
	sendBuffer   = 16
	writeTimeout = 10 * time.Second
)

// Client is one websocket connection. hub and playerID are owned by the
// connection's read pump; send is closed by whichever hub holds the client,
// or by the read pump if no hub ever did.
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	hub      *Hub
	playerID string
}

type request struct {
	client *Client
	event  string
	req    json.RawMessage
	cmd    Command
	err    error
	bound  bool
	result chan error
}

type Hub struct {
	id      string
	session *Session
	clients map[*Client]string

	requests chan request
	leaves   chan *Client
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	gm *GameManager

	mu         sync.RWMutex
	createdAt  time.Time
	lastActive time.Time
}

func newHub(gm *GameManager, sessionID string) *Hub {
	now := time.Now()
	return &Hub{
		id:         sessionID,
		session:    newSession(sessionID),
		clients:    make(map[*Client]string),
		requests:   make(chan request),
		leaves:     make(chan *Client),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		gm:         gm,
		createdAt:  now,
		lastActive: now,
	}
}

func (h *Hub) touch() {
	h.mu.Lock()
	h.lastActive = time.Now()
	h.mu.Unlock()
}

// submit hands a request to the hub's loop and waits for its outcome.
func (h *Hub) submit(r request) error {
	r.result = make(chan error, 1)

	select {
	case h.requests <- r:
	case <-h.done:
		return ErrSessionClosed
	}

	select {
	case err := <-r.result:
		return err
	case <-h.done:
		// The loop may have answered just before tearing down.
		select {
		case err := <-r.result:
			return err
		default:
			return ErrSessionClosed
		}
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.leaves <- c:
	case <-h.done:
	}
}

// shutdown ends the session and disconnects everyone still attached.
func (h *Hub) shutdown() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *Hub) closed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *Hub) run(cfg *Config) {
	defer h.teardown(cfg)

	for {
		select {
		case r := <-h.requests:
			r.result <- h.handle(cfg, r)

		case c := <-h.leaves:
			h.handleLeave(cfg, c)

		case <-h.stop:
			logf(cfg, "GAMES: Session %s stopped", h.id)
			return
		}

		if len(h.session.Players) == 0 {
			return
		}
	}
}

func (h *Hub) teardown(cfg *Config) {
	close(h.done)
	h.gm.remove(h)

	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}

	logf(cfg, "GAMES: Session %s ended after %s", h.id, time.Since(h.createdAt).Round(time.Second))
}

func (h *Hub) reply(c *Client, event string, req json.RawMessage, res any, err error) {
	frame, fErr := encodeFrame(event, req, res, err)
	if fErr != nil {
		fatalf("encode %s reply for session %s: %v", event, h.id, fErr)
		return
	}

	select {
	case c.send <- frame:
	default:
		h.drop(c)
	}
}

// drop disconnects a client whose buffer is full. Its player leaves.
func (h *Hub) drop(c *Client) {
	pid, ok := h.clients[c]
	if !ok {
		return
	}

	delete(h.clients, c)
	close(c.send)

	_, _ = h.session.Leave(pid)
}

// broadcast sends the canonical session to every client, repeating
// until no slow client had to be dropped.
func (h *Hub) broadcast() {
	for len(h.clients) > 0 {
		frame, err := encodeFrame(EventSession, nil, h.session, nil)
		if err != nil {
			fatalf("encode session %s: %v", h.id, err)
			return
		}

		var slow []*Client
		for c := range h.clients {
			select {
			case c.send <- frame:
			default:
				slow = append(slow, c)
			}
		}

		if len(slow) == 0 {
			return
		}

		for _, c := range slow {
			h.drop(c)
		}
	}
}

func (h *Hub) handle(cfg *Config, r request) error {
	h.touch()

	pid, member := h.clients[r.client]
	if r.bound && !member {
		// Dropped earlier; its send channel is already closed.
		return ErrSessionClosed
	}

	if r.err != nil {
		h.reply(r.client, r.event, r.req, nil, r.err)
		return r.err
	}

	if st, ok := r.cmd.(IDStatus); ok {
		h.reply(r.client, r.event, r.req, h.gm.inUse(st.SessionID), nil)
		return nil
	}

	if r.cmd.sessionID() != h.id {
		err := fmt.Errorf("%s for session %q on a connection joined to %q: %w", r.event, r.cmd.sessionID(), h.id, ErrUnauthorized)
		h.reply(r.client, r.event, r.req, nil, err)
		return err
	}

	if _, ok := r.cmd.(Join); ok && member {
		err := fmt.Errorf("connection already joined as %q: %w", pid, ErrDuplicatePlayer)
		h.reply(r.client, r.event, r.req, nil, err)
		return err
	}

	next := h.session.Clone()
	if err := applyCommand(next, pid, r.cmd); err != nil {
		logf(cfg, "GAMES: Rejected %s in %s: %v", r.event, h.id, err)
		h.reply(r.client, r.event, r.req, nil, err)
		return err
	}

	if err := next.Check(); err != nil {
		fatalf("session %s: %v", h.id, err)
		h.reply(r.client, r.event, r.req, nil, err)
		h.shutdown()
		return err
	}

	h.session = next

	if join, ok := r.cmd.(Join); ok {
		h.clients[r.client] = join.Player.ID
		player, _ := h.session.Player(join.Player.ID)
		logf(cfg, "GAMES: Player %q joined %s as %s", player.Name, h.id, player.Color)
		h.reply(r.client, r.event, r.req, h.session, nil)
	}

	h.broadcast()

	if cfg.verbose {
		if scores, err := Scores(h.session); err == nil {
			logf(cfg, "GAMES: Scores in %s: %v", h.id, scores)
		}
	}

	return nil
}

func (h *Hub) handleLeave(cfg *Config, c *Client) {
	h.touch()

	pid, ok := h.clients[c]
	if !ok {
		return
	}

	delete(h.clients, c)
	close(c.send)

	if _, err := h.session.Leave(pid); err != nil {
		logf(cfg, "GAMES: Leave in %s: %v", h.id, err)
		return
	}

	logf(cfg, "GAMES: Player %s left %s", pid, h.id)

	h.broadcast()
}

// GameManager holds the live hubs keyed by session ID.
type GameManager struct {
	mu          sync.Mutex
	hubs        map[string]*Hub
	idleTimeout time.Duration
}

func newGameManager(ctx context.Context, idleTimeout time.Duration) *GameManager {
	gm := &GameManager{
		hubs:        make(map[string]*Hub),
		idleTimeout: idleTimeout,
	}

	if idleTimeout > 0 {
		go gm.reaperLoop(ctx)
	}

	return gm
}

func (gm *GameManager) getHub(cfg *Config, sessionID string) *Hub {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if hub, ok := gm.hubs[sessionID]; ok && !hub.closed() {
		return hub
	}

	hub := newHub(gm, sessionID)
	gm.hubs[sessionID] = hub
	go hub.run(cfg)

	logf(cfg, "GAMES: Created session %s", sessionID)

	return hub
}

func (gm *GameManager) remove(h *Hub) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if gm.hubs[h.id] == h {
		delete(gm.hubs, h.id)
	}
}

func (gm *GameManager) inUse(sessionID string) bool {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	hub, ok := gm.hubs[sessionID]

	return ok && !hub.closed()
}

// join binds c to the session named by cmd, retrying once more if the
// hub it found was torn down in the meantime.
func (gm *GameManager) join(cfg *Config, c *Client, env Envelope, cmd Join) error {
	for {
		hub := gm.getHub(cfg, cmd.SessionID)

		err := hub.submit(request{client: c, event: env.Event, req: env.Payload, cmd: cmd})
		if errors.Is(err, ErrSessionClosed) {
			continue
		}
		if err != nil {
			return err
		}

		c.hub = hub
		c.playerID = cmd.Player.ID

		return nil
	}
}

// newSessionID generates a crypto-random session ID and ensures it doesn't
// collide with existing sessions.
func (gm *GameManager) newSessionID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}

		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}

		id := string(out)
		if !gm.inUse(id) {
			return id
		}
	}
}

// reaperLoop periodically stops hubs that have been idle longer than idleTimeout.
func (gm *GameManager) reaperLoop(ctx context.Context) {
	ticker := time.NewTicker(gm.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cutoff := time.Now().Add(-gm.idleTimeout)

		gm.mu.Lock()
		for _, hub := range gm.hubs {
			hub.mu.RLock()
			last := hub.lastActive
			hub.mu.RUnlock()

			if last.Before(cutoff) {
				hub.shutdown()
			}
		}
		gm.mu.Unlock()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func serveWSForManager(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "ERROR: Upgrade for %s: %v", realIP(r), err)
			return
		}

		conn.SetReadLimit(cfg.maxMessageSize)

		client := &Client{
			conn: conn,
			send: make(chan []byte, sendBuffer),
		}

		logf(cfg, "SERVE: Socket opened by %s", realIP(r))

		go client.writePump()
		client.readPump(cfg, gm)
	}
}

func (c *Client) readPump(cfg *Config, gm *GameManager) {
	defer func() {
		if c.hub != nil {
			c.hub.leave(c)
		} else {
			close(c.send)
		}
		_ = c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		env, err := decodeEnvelope(data)

		var cmd Command
		if err == nil {
			cmd, err = decodeCommand(env)
		}

		if c.hub != nil {
			err = c.hub.submit(request{client: c, event: env.Event, req: env.Payload, cmd: cmd, err: err, bound: true})
			if errors.Is(err, ErrSessionClosed) {
				return
			}
			continue
		}

		if err != nil {
			c.direct(env, nil, err)
			continue
		}

		switch cmd := cmd.(type) {
		case IDStatus:
			c.direct(env, gm.inUse(cmd.SessionID), nil)
		case Join:
			if err := gm.join(cfg, c, env, cmd); err != nil {
				logf(cfg, "GAMES: Join of %s failed: %v", cmd.SessionID, err)
			}
		default:
			c.direct(env, nil, fmt.Errorf("%s before join: %w", env.Event, ErrUnauthorized))
		}
	}
}

// direct answers a client that is not attached to any hub yet.
func (c *Client) direct(env Envelope, res any, err error) {
	frame, fErr := encodeFrame(env.Event, env.Payload, res, err)
	if fErr != nil {
		return
	}

	select {
	case c.send <- frame:
	default:
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))

		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// requestScheme derives the scheme a client used, respecting TLS and
// X-Forwarded-Proto if present.
func requestScheme(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// QR handler: generates a PNG QR code for the session URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sessionID := ps.ByName("sessionid")
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	// We are at /.../:sessionid/qr; strip trailing "/qr" to get the session URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := requestScheme(r) + "://" + r.Host + path

	const qrSize = 320
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// sessionInfo tells a client how to reach a session.
type sessionInfo struct {
	ID        string `json:"id"`
	InUse     bool   `json:"in_use"`
	WebSocket string `json:"websocket"`
}

func serveSessionInfo(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		sessionID := ps.ByName("sessionid")

		scheme := "ws"
		if requestScheme(r) == "https" {
			scheme = "wss"
		}

		w.Header().Set("Content-Type", "application/json")
		securityHeaders(cfg, w)

		_ = json.NewEncoder(w).Encode(sessionInfo{
			ID:        sessionID,
			InUse:     gm.inUse(sessionID),
			WebSocket: scheme + "://" + r.Host + cfg.prefix + "/ws",
		})
	}
}

func serveSessionStatus(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		w.Header().Set("Content-Type", "application/json")
		securityHeaders(cfg, w)

		_ = json.NewEncoder(w).Encode(gm.inUse(ps.ByName("sessionid")))
	}
}

// redirectNewSession handles GET /path by generating a new random session ID
// and redirecting to /path/:sessionid.
func redirectNewSession(cfg *Config, path string, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		sessionID := gm.newSessionID()
		logf(cfg, "GAMES: Suggested session %s%s/%s", cfg.prefix, path, sessionID)
		http.Redirect(w, r, cfg.prefix+path+"/"+sessionID, http.StatusTemporaryRedirect)
	}
}

// registerFictionary sets up routes so that:
//   - /ws                     → WebSocket carrying every event
//   - $path                   → redirects to a new random session (8-char ID)
//   - $path/:sessionid        → JSON with the session id, liveness and socket URL
//   - $path/:sessionid/status → JSON boolean, whether the session is live
//   - $path/:sessionid/qr     → PNG QR code for that session URL
func registerFictionary(ctx context.Context, cfg *Config, path string, mux *httprouter.Router) *GameManager {
	gm := newGameManager(ctx, cfg.sessionTimeout)

	mux.GET(cfg.prefix+"/ws", serveWSForManager(cfg, gm))

	mux.GET(cfg.prefix+path, redirectNewSession(cfg, path, gm))

	mux.GET(cfg.prefix+path+"/:sessionid", serveSessionInfo(cfg, gm))

	mux.GET(cfg.prefix+path+"/:sessionid/status", serveSessionStatus(cfg, gm))

	mux.GET(cfg.prefix+path+"/:sessionid/qr", qrHandler)

	return gm
}
