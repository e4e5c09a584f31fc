package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"robolab/simserver/internal/command"
	"robolab/simserver/internal/config"
	"robolab/simserver/internal/events"
	"robolab/simserver/internal/logging"
	"robolab/simserver/internal/networking"
	"robolab/simserver/internal/robot"
)

const (
	clientSendBuffer = 64
	writeWait        = 10 * time.Second
	journalSize      = 128
)

// Simulation is the engine surface the broker drives.
type Simulation interface {
	Snapshot() robot.State
	Submit(raw []byte) (command.Command, robot.State, error)
	Subscribe(ctx context.Context, buffer int) (<-chan robot.State, func())
}

// Client is one attached websocket connection.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	id   string
}

// Authenticator resolves the identity behind a websocket upgrade request.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// BrokerStats summarises broker activity.
type BrokerStats struct {
	Broadcasts uint64                   `json:"broadcasts"`
	Clients    int                      `json:"clients"`
	Dropped    uint64                   `json:"dropped"`
	Throttled  int64                    `json:"throttled"`
	Bandwidth  []networking.ClientUsage `json:"bandwidth,omitempty"`
}

// BrokerOption customises a Broker.
type BrokerOption func(*Broker)

// WithBrokerClock overrides the time source used for log timestamps.
func WithBrokerClock(now func() time.Time) BrokerOption {
	return func(b *Broker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithAuthenticator requires every websocket client to authenticate.
func WithAuthenticator(authenticator Authenticator) BrokerOption {
	return func(b *Broker) {
		if authenticator != nil {
			b.authenticator = authenticator
		}
	}
}

// Broker fans simulation snapshots and log events out to websocket clients and feeds
// their commands into the simulation.
type Broker struct {
	sim      Simulation
	log      *logging.Logger
	upgrader websocket.Upgrader
	now      func() time.Time

	authenticator Authenticator
	bandwidth     *networking.Regulator

	maxClients   int
	maxPayload   int64
	pingInterval time.Duration

	mu      sync.Mutex
	clients map[string]*Client

	journal    *events.Journal
	started    time.Time
	startupErr error

	broadcasts atomic.Uint64
	dropped    atomic.Uint64
}

// NewBroker constructs a broker bound to sim using the websocket settings of cfg.
func NewBroker(cfg *config.Config, sim Simulation, logger *logging.Logger, opts ...BrokerOption) *Broker {
	if cfg == nil {
		cfg = &config.Config{}
	}
	if logger == nil {
		logger = logging.L()
	}
	b := &Broker{
		sim:          sim,
		log:          logger,
		now:          time.Now,
		maxClients:   cfg.MaxClients,
		maxPayload:   cfg.MaxPayloadBytes,
		pingInterval: cfg.PingInterval,
		clients:      make(map[string]*Client),
		journal:      events.NewJournal(journalSize),
	}
	if b.maxPayload <= 0 {
		b.maxPayload = config.DefaultMaxPayloadBytes
	}
	if b.pingInterval <= 0 {
		b.pingInterval = config.DefaultPingInterval
	}
	b.upgrader = websocket.Upgrader{CheckOrigin: originChecker(cfg.AllowedOrigins)}
	for _, opt := range opts {
		opt(b)
	}
	b.bandwidth = networking.NewRegulator(cfg.ClientBandwidth, b.now)
	b.started = b.now()
	return b
}

// originChecker accepts every origin when the allow list is empty, and otherwise only
// the listed scheme://host values.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[strings.ToLower(strings.TrimRight(origin, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		parsed, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(parsed.Scheme+"://"+parsed.Host)]
		return ok
	}
}

// Run pushes a robotState envelope to every client after each simulation tick until the
// context is cancelled or the simulation closes its stream.
func (b *Broker) Run(ctx context.Context) error {
	updates, cancel := b.sim.Subscribe(ctx, 0)
	defer cancel()
	//1.- Skip the attach snapshot; clients receive their own on connect.
	select {
	case <-ctx.Done():
		return nil
	case _, ok := <-updates:
		if !ok {
			return nil
		}
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case snapshot, ok := <-updates:
			if !ok {
				return nil
			}
			frame, err := events.Encode(events.TypeRobotState, snapshot)
			if err != nil {
				b.log.Error("encode robot state", logging.Error(err))
				continue
			}
			b.broadcastState(frame)
		}
	}
}

// NotifyCommand broadcasts the outcome of a command submitted outside the websocket.
// frame is echoed as the log data exactly as it arrived.
func (b *Broker) NotifyCommand(cmd command.Command, frame []byte, err error) {
	event := b.commandEvent(string(cmd.Kind), frame, err)
	if encoded, ok := b.encodeLog(event); ok {
		b.broadcast(encoded)
	}
}

func (b *Broker) commandEvent(kind string, frame json.RawMessage, err error) events.LogEvent {
	if err != nil {
		return events.CommandFailed(b.now(), frame, err)
	}
	return events.CommandExecuted(b.now(), kind, frame)
}

func (b *Broker) encodeLog(event events.LogEvent) ([]byte, bool) {
	b.journal.Append(event)
	frame, err := events.Encode(events.TypeLog, event)
	if err != nil {
		b.log.Error("encode log event", logging.Error(err))
		return nil, false
	}
	return frame, true
}

func (b *Broker) broadcast(msg []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcasts.Add(1)
	for _, c := range b.clients {
		b.enqueueLocked(c, msg)
	}
}

// broadcastState skips clients over their bandwidth budget; the next tick carries a full
// state again.
func (b *Broker) broadcastState(msg []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcasts.Add(1)
	for _, c := range b.clients {
		if !b.bandwidth.Allow(c.id, len(msg)) {
			continue
		}
		b.enqueueLocked(c, msg)
	}
}

func (b *Broker) send(c *Client, msg []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[c.id]; !ok {
		return
	}
	b.enqueueLocked(c, msg)
}

// enqueueLocked hands msg to the client's writer, disconnecting clients that cannot keep up.
func (b *Broker) enqueueLocked(c *Client, msg []byte) {
	select {
	case c.send <- msg:
	default:
		b.dropped.Add(1)
		b.log.Warn("disconnecting slow websocket client", logging.String("client_id", c.id))
		b.removeLocked(c)
	}
}

func (b *Broker) register(c *Client) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.maxClients > 0 && len(b.clients) >= b.maxClients {
		return false
	}
	b.clients[c.id] = c
	return true
}

func (b *Broker) remove(c *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(c)
}

func (b *Broker) removeLocked(c *Client) {
	if current, ok := b.clients[c.id]; ok && current == c {
		delete(b.clients, c.id)
		close(c.send)
		b.bandwidth.Forget(c.id)
	}
}

func (b *Broker) atCapacity() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxClients > 0 && len(b.clients) >= b.maxClients
}

func (b *Broker) serveWS(w http.ResponseWriter, r *http.Request) {
	if b.atCapacity() {
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return
	}
	subject := ""
	if b.authenticator != nil {
		var err error
		subject, err = b.authenticator.Authenticate(r)
		if err != nil {
			b.log.Warn("websocket authentication failed", logging.String("remote_addr", r.RemoteAddr), logging.Error(err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("websocket upgrade failed", logging.Error(err))
		return
	}
	client := &Client{conn: conn, send: make(chan []byte, clientSendBuffer), id: uuid.NewString()}
	if !b.register(client) {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many clients"), time.Now().Add(writeWait))
		conn.Close()
		return
	}
	logger := b.log.With(logging.String("client_id", client.id))
	if subject != "" {
		logger = logger.With(logging.String("subject", subject))
	}
	logger.Info("websocket client connected", logging.String("remote_addr", r.RemoteAddr))

	//1.- Greet with the current state first, then the connection log.
	if frame, err := events.Encode(events.TypeRobotState, b.sim.Snapshot()); err == nil {
		b.send(client, frame)
	}
	if frame, ok := b.encodeLog(events.Connected(b.now())); ok {
		b.send(client, frame)
	}

	go b.writePump(client)
	go b.readPump(client, logger)
}

func (b *Broker) readPump(client *Client, logger *logging.Logger) {
	defer func() {
		b.remove(client)
		client.conn.Close()
		logger.Info("websocket client disconnected")
	}()
	client.conn.SetReadLimit(b.maxPayload)
	deadline := func() time.Time { return time.Now().Add(2 * b.pingInterval) }
	_ = client.conn.SetReadDeadline(deadline())
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(deadline())
	})
	for {
		_, msg, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read failed", logging.Error(err))
			}
			return
		}
		_ = client.conn.SetReadDeadline(deadline())
		b.handleMessage(client, msg, logger)
	}
}

// handleMessage executes one inbound robotCommand and answers the sender with a log event.
func (b *Broker) handleMessage(client *Client, msg []byte, logger *logging.Logger) {
	var event events.LogEvent
	envelope, err := events.Decode(msg)
	switch {
	case err != nil:
		event = events.CommandFailed(b.now(), nil, err)
	case envelope.Type != events.TypeRobotCommand:
		event = events.LogEvent{
			Timestamp: b.now().UnixMilli(),
			Level:     events.LevelWarn,
			Message:   "Unsupported event type: " + envelope.Type,
		}
	default:
		cmd, _, submitErr := b.sim.Submit(envelope.Data)
		if submitErr != nil {
			logger.Debug("websocket command rejected", logging.Error(submitErr))
		}
		event = b.commandEvent(string(cmd.Kind), envelope.Data, submitErr)
	}
	if frame, ok := b.encodeLog(event); ok {
		b.send(client, frame)
	}
}

func (b *Broker) writePump(client *Client) {
	ticker := time.NewTicker(b.pingInterval)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every client.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.clients {
		b.removeLocked(c)
	}
}

// Stats reports broadcast and client counters.
func (b *Broker) Stats() BrokerStats {
	return BrokerStats{
		Broadcasts: b.broadcasts.Load(),
		Clients:    b.ClientCount(),
		Dropped:    b.dropped.Load(),
		Throttled:  b.bandwidth.Skipped(),
		Bandwidth:  b.bandwidth.Usage(),
	}
}

// RecentLogs returns the most recent log events sent to clients.
func (b *Broker) RecentLogs() []events.LogEvent {
	return b.journal.Recent()
}

// ClientCount reports the number of attached websocket clients.
func (b *Broker) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// SetStartupError marks the broker unready.
func (b *Broker) SetStartupError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.startupErr = err
}

// StartupError reports a fatal startup condition, if any.
func (b *Broker) StartupError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startupErr
}

// Uptime reports how long the broker has been serving.
func (b *Broker) Uptime() time.Duration {
	return b.now().Sub(b.started)
}

var errShuttingDown = errors.New("server shutting down")
