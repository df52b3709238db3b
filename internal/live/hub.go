// Package live is the websocket fan-out layer: it holds one goroutine-owned
// room registry and broadcasts accepted location updates to every
// authorized subscriber under the canonical event name and its alias.
package live

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"fieldtrack/internal/batterypolicy"
	"fieldtrack/internal/ingest"
	"fieldtrack/pkg/auth"
	"fieldtrack/pkg/models"
)

const (
	// canonicalEvent is the broadcaster's single source-of-truth event name;
	// aliasEvent is always emitted alongside it with byte-identical data, per
	// the broadcast-event-name Open Question resolution.
	canonicalEvent = "employee:location_update"
	aliasEvent     = "location:update"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

func companyRoom(companyID string) string   { return "company:" + companyID }
func groupRoom(groupAdminID string) string  { return "group:" + groupAdminID }
func employeeRoom(userID string) string     { return "employee:" + userID }
func adminRoom(groupAdminID string) string  { return "admin:" + groupAdminID }
func groupAdminRoom(groupAdminID string) string { return "group-admin:" + groupAdminID }

const adminsRoom = "admin"

// UserLookup resolves the stored user record behind a handshake token's
// user_id; the connection's company, group admin and role are taken from
// that record, not from the token's claims.
type UserLookup interface {
	GetUser(ctx context.Context, userID string) (models.User, error)
}

// LocationIngestor accepts a location sample submitted directly over the
// socket, the same orchestration REST submissions go through.
type LocationIngestor interface {
	Ingest(ctx context.Context, req ingest.Request) (ingest.Response, error)
}

// FailedLookup returns a user's currently dead-lettered location payloads.
type FailedLookup interface {
	FailedForUser(ctx context.Context, userID string) ([]string, error)
}

// IntervalStore is the cache subset batterypolicy.NextIntervalMs needs to
// track a user's consecutive-stationary-sample streak across socket calls.
type IntervalStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// frame is the wire envelope every outbound message carries: an explicit
// event name plus its payload, since raw websocket frames have no built-in
// event multiplexing the way a socket.io transport would.
type frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// EmployeeInfo is the employee-facing identity fields enriching a location
// broadcast.
type EmployeeInfo struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	EmployeeNumber string `json:"employeeNumber,omitempty"`
	Department     string `json:"department,omitempty"`
	Designation    string `json:"designation,omitempty"`
	DeviceInfo     string `json:"deviceInfo,omitempty"`
}

// LocationPayload is the location-only fields enriching a location
// broadcast.
type LocationPayload struct {
	Lat          float64   `json:"lat"`
	Lon          float64   `json:"lon"`
	AccuracyM    float64   `json:"accuracy"`
	Timestamp    time.Time `json:"timestamp"`
	BatteryLevel float64   `json:"batteryLevel"`
	IsMoving     bool      `json:"isMoving"`
}

// LocationUpdate is the enriched broadcast payload per §4.12.
type LocationUpdate struct {
	Employee    EmployeeInfo    `json:"employee"`
	Location    LocationPayload `json:"location"`
	IsActive    bool            `json:"isActive"`
	LastUpdated time.Time       `json:"lastUpdated"`
}

type registerReq struct {
	client *Client
	rooms  []string
}

type roomChange struct {
	client *Client
	room   string
}

type broadcastReq struct {
	rooms []string
	data  any
}

type errorToClient struct {
	client *Client
	event  string
	reason string
}

// Hub owns the room registry through a single goroutine loop; every
// mutation funnels through a channel so no mutex is needed on the room map.
type Hub struct {
	clients map[*Client]bool
	rooms   map[string]map[*Client]bool

	register   chan registerReq
	unregister chan *Client
	subscribe  chan roomChange
	unsub      chan roomChange
	broadcast  chan broadcastReq
	errs       chan errorToClient

	logger *logrus.Logger

	ingestor      LocationIngestor
	failedQueue   FailedLookup
	intervalStore IntervalStore
}

// NewHub builds an unstarted Hub; call Run in its own goroutine.
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan registerReq),
		unregister: make(chan *Client),
		subscribe:  make(chan roomChange),
		unsub:      make(chan roomChange),
		broadcast:  make(chan broadcastReq, 256),
		errs:       make(chan errorToClient, 64),
		logger:     logger,
	}
}

// SetSocketServices attaches the collaborators location:get_failed,
// location:get_interval, and direct location:update submissions need.
// Optional: any left nil (the default) makes its handler a no-op, the same
// optional-attachment pattern as ingest.Ingest.SetEventPublisher.
func (h *Hub) SetSocketServices(ingestor LocationIngestor, failedQueue FailedLookup, intervalStore IntervalStore) {
	h.ingestor = ingestor
	h.failedQueue = failedQueue
	h.intervalStore = intervalStore
}

// Run is the hub's serialization loop; it must run in its own goroutine for
// the hub's lifetime.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-h.register:
			h.clients[req.client] = true
			for _, room := range req.rooms {
				h.joinLocked(req.client, room)
			}
		case client := <-h.unregister:
			h.dropClient(client)
		case rc := <-h.subscribe:
			h.joinLocked(rc.client, rc.room)
		case rc := <-h.unsub:
			h.leaveLocked(rc.client, rc.room)
		case req := <-h.broadcast:
			h.fanOut(req.rooms, req.data)
		case e := <-h.errs:
			h.sendFrame(e.client, e.event, map[string]string{"error": e.reason})
		}
	}
}

func (h *Hub) joinLocked(c *Client, room string) {
	set, ok := h.rooms[room]
	if !ok {
		set = make(map[*Client]bool)
		h.rooms[room] = set
	}
	set[c] = true
	c.rooms[room] = true
}

func (h *Hub) leaveLocked(c *Client, room string) {
	if set, ok := h.rooms[room]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

func (h *Hub) dropClient(c *Client) {
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	close(c.send)
}

func (h *Hub) fanOut(rooms []string, data any) {
	seen := make(map[*Client]bool)
	for _, room := range rooms {
		for c := range h.rooms[room] {
			if seen[c] {
				continue
			}
			seen[c] = true
			h.sendFrame(c, canonicalEvent, data)
			h.sendFrame(c, aliasEvent, data)
		}
	}
}

func (h *Hub) sendFrame(c *Client, event string, data any) {
	b, err := json.Marshal(frame{Event: event, Data: data})
	if err != nil {
		h.logger.WithError(err).Error("failed to marshal outbound frame")
		return
	}
	select {
	case c.send <- b:
	default:
		h.logger.Warn("dropping slow client: send buffer full")
		go func() { h.unregister <- c }()
	}
}

// BroadcastLocationUpdate fans update out to the employee's own room,
// their group-admin's room (both the `admin:` and `group-admin:` aliases),
// and the company room, per §4.12's target list. Sockets subscribed via
// admin:subscribe_employees already sit in the employee room, so they are
// covered without a separate target.
func (h *Hub) BroadcastLocationUpdate(userID, companyID, groupAdminID string, update LocationUpdate) {
	rooms := []string{employeeRoom(userID), companyRoom(companyID)}
	if groupAdminID != "" {
		rooms = append(rooms, adminRoom(groupAdminID), groupAdminRoom(groupAdminID))
	}
	h.broadcast <- broadcastReq{rooms: rooms, data: update}
}

// Subscribe joins client's socket to target's employee room, for an admin
// watching a specific employee's feed.
func (h *Hub) Subscribe(client *Client, targetUserID string) {
	h.subscribe <- roomChange{client: client, room: employeeRoom(targetUserID)}
}

// Unsubscribe reverses Subscribe.
func (h *Hub) Unsubscribe(client *Client, targetUserID string) {
	h.unsub <- roomChange{client: client, room: employeeRoom(targetUserID)}
}

// SendError queues an error event to one client without blocking the
// caller on the hub loop.
func (h *Hub) SendError(client *Client, event, reason string) {
	select {
	case h.errs <- errorToClient{client: client, event: event, reason: reason}:
	default:
	}
}

// Client is one authenticated websocket connection.
type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	send         chan []byte
	UserID       string
	CompanyID    string
	GroupAdminID string
	Role         models.Role
	rooms        map[string]bool
	logger       *logrus.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS authenticates the handshake (query param or header bearer token)
// and registers the connection into its base rooms.
func ServeWS(hub *Hub, users UserLookup, jwtSecret []byte, logger *logrus.Logger, w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		authHeader := r.Header.Get("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			token = parts[1]
		}
	}
	if token == "" {
		http.Error(w, "missing authentication token", http.StatusUnauthorized)
		return
	}
	claims, err := auth.ValidateJWT(token, jwtSecret)
	if err != nil {
		http.Error(w, "invalid authentication token", http.StatusUnauthorized)
		return
	}

	user, err := users.GetUser(r.Context(), claims.UserID)
	if err != nil {
		http.Error(w, "unknown user", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Error("failed to upgrade websocket connection")
		return
	}

	groupAdminID := ""
	if user.GroupAdminID != nil {
		groupAdminID = *user.GroupAdminID
	}

	client := &Client{
		hub: hub, conn: conn, send: make(chan []byte, 256),
		UserID: user.ID, CompanyID: user.CompanyID, GroupAdminID: groupAdminID, Role: user.Role,
		rooms: make(map[string]bool), logger: logger,
	}

	rooms := []string{"user:" + user.ID, employeeRoom(user.ID), companyRoom(user.CompanyID)}
	if groupAdminID != "" {
		rooms = append(rooms, groupRoom(groupAdminID))
	}
	if user.Role == models.RoleGroupAdmin {
		// This user IS the group-admin other employees reference, so their
		// own id is the room key supervisor broadcasts target.
		rooms = append(rooms, adminRoom(user.ID), groupAdminRoom(user.ID))
	}
	if user.Role == models.RoleGroupAdmin || user.Role == models.RoleManagement || user.Role == models.RoleSuperAdmin {
		rooms = append(rooms, adminsRoom)
	}

	hub.register <- registerReq{client: client, rooms: rooms}

	go client.writePump()
	go client.readPump(hub, users)
}

func (c *Client) readPump(hub *Hub, users UserLookup) {
	defer func() { hub.unregister <- c }()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Warn("websocket read error")
			}
			return
		}
		c.handleInbound(hub, users, raw)
	}
}

type inboundEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (c *Client) handleInbound(hub *Hub, users UserLookup, raw []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		hub.SendError(c, "location:error", "malformed message")
		return
	}

	switch env.Event {
	case "admin:subscribe_employees", "admin:unsubscribe_employees":
		var ids []string
		if err := json.Unmarshal(env.Data, &ids); err != nil {
			hub.SendError(c, "admin:subscription_error", "malformed employee id list")
			return
		}
		allowed := c.permittedTargets(hub, users, ids)
		if env.Event == "admin:subscribe_employees" {
			for _, id := range allowed {
				hub.Subscribe(c, id)
			}
			hub.sendFrame(c, "admin:subscription_success", map[string]any{"subscribed": allowed})
		} else {
			for _, id := range allowed {
				hub.Unsubscribe(c, id)
			}
			hub.sendFrame(c, "admin:subscription_success", map[string]any{"unsubscribed": allowed})
		}

	case "location:get_failed":
		c.handleGetFailed(hub)

	case "location:get_interval":
		c.handleGetInterval(hub, env.Data)

	case "location:update", "employee:location_update":
		c.handleDirectLocationUpdate(hub, env.Data)
	}
}

// handleGetFailed answers location:get_failed with the caller's currently
// dead-lettered payloads, or an empty list if no FailedLookup is attached.
func (c *Client) handleGetFailed(hub *Hub) {
	if hub.failedQueue == nil {
		hub.sendFrame(c, "location:failed_updates", []string{})
		return
	}
	payloads, err := hub.failedQueue.FailedForUser(context.Background(), c.UserID)
	if err != nil {
		hub.SendError(c, "location:error", "failed to fetch failed updates")
		return
	}
	hub.sendFrame(c, "location:failed_updates", payloads)
}

type intervalRequest struct {
	BatteryLevel float64 `json:"batteryLevel"`
	IsCharging   bool    `json:"isCharging"`
}

// handleGetInterval answers location:get_interval with the next suggested
// sampling interval for the caller's reported battery state.
func (c *Client) handleGetInterval(hub *Hub, data json.RawMessage) {
	var req intervalRequest
	if err := json.Unmarshal(data, &req); err != nil {
		hub.SendError(c, "location:error", "malformed interval request")
		return
	}
	if hub.intervalStore == nil {
		return
	}
	interval, err := batterypolicy.NextIntervalMs(context.Background(), hub.intervalStore, c.UserID, batterypolicy.Input{
		BatteryPct: req.BatteryLevel,
		IsCharging: req.IsCharging,
	})
	if err != nil {
		hub.SendError(c, "location:error", "failed to compute interval")
		return
	}
	hub.sendFrame(c, "location:update_interval", map[string]int{"interval": interval})
}

type directLocationPayload struct {
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	AccuracyM    float64 `json:"accuracy"`
	BatteryLevel float64 `json:"batteryLevel"`
	IsCharging   bool    `json:"isCharging"`
	SpeedMps     float64 `json:"speed"`
	IsMoving     bool    `json:"isMoving"`
	ShiftID      string  `json:"shiftId"`
}

// handleDirectLocationUpdate submits a location sample received directly
// over the socket (as opposed to REST) through the same Ingest
// orchestration, replying with location:ack or location:error per §socket
// protocol.
func (c *Client) handleDirectLocationUpdate(hub *Hub, data json.RawMessage) {
	if hub.ingestor == nil {
		return
	}
	var payload directLocationPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		hub.SendError(c, "location:error", "malformed location payload")
		return
	}

	now := time.Now()
	var shiftID *string
	if payload.ShiftID != "" {
		shiftID = &payload.ShiftID
	}

	resp, err := hub.ingestor.Ingest(context.Background(), ingest.Request{
		UserID:    c.UserID,
		CompanyID: c.CompanyID,
		Sample: models.LocationSample{
			UserID:     c.UserID,
			ShiftID:    shiftID,
			Lat:        payload.Lat,
			Lon:        payload.Lon,
			AccuracyM:  payload.AccuracyM,
			BatteryPct: payload.BatteryLevel,
			SpeedMps:   payload.SpeedMps,
			IsMoving:   payload.IsMoving,
			Timestamp:  now,
		},
		BatteryReported: true,
		IsCharging:      payload.IsCharging,
		ActiveShiftID:   payload.ShiftID,
	})
	if err != nil {
		hub.SendError(c, "location:error", err.Error())
		return
	}

	hub.sendFrame(c, "location:ack", map[string]any{
		"received":  true,
		"timestamp": now,
		"batteryOptimizations": map[string]int{
			"nextIntervalMs": resp.NextIntervalMs,
		},
	})
}

// permittedTargets filters ids to the ones c is authorized to watch: the
// same group-admin, or any employee of the same company for management.
func (c *Client) permittedTargets(hub *Hub, users UserLookup, ids []string) []string {
	var out []string
	for _, id := range ids {
		target, err := users.GetUser(context.Background(), id)
		if err != nil {
			continue
		}
		if target.CompanyID != c.CompanyID {
			continue
		}
		sameGroup := target.GroupAdminID != nil && *target.GroupAdminID == c.UserID
		managementOverride := c.Role == models.RoleManagement || c.Role == models.RoleSuperAdmin
		if sameGroup || managementOverride {
			out = append(out, id)
		}
	}
	return out
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcaster adapts Hub to ingest.Broadcaster: it enriches an accepted
// sample with the fields §4.12 specifies and fans it out. Employee identity
// fields beyond id are left blank since user profile data (name, employee
// number, department, designation, device info) is owned by administrative
// CRUD, out of scope here.
type Broadcaster struct {
	hub   *Hub
	users UserLookup
}

// NewBroadcaster wraps hub for use as an ingest.Broadcaster.
func NewBroadcaster(hub *Hub, users UserLookup) *Broadcaster {
	return &Broadcaster{hub: hub, users: users}
}

// Broadcast implements ingest.Broadcaster.
func (b *Broadcaster) Broadcast(ctx context.Context, update ingest.BroadcastUpdate) error {
	user, err := b.users.GetUser(ctx, update.UserID)
	if err != nil {
		return err
	}
	groupAdminID := ""
	if user.GroupAdminID != nil {
		groupAdminID = *user.GroupAdminID
	}

	b.hub.BroadcastLocationUpdate(update.UserID, update.CompanyID, groupAdminID, LocationUpdate{
		Employee: EmployeeInfo{ID: update.UserID},
		Location: LocationPayload{
			Lat: update.Sample.Lat, Lon: update.Sample.Lon, AccuracyM: update.Sample.AccuracyM,
			Timestamp: update.Sample.Timestamp, BatteryLevel: update.Sample.BatteryPct, IsMoving: update.Sample.IsMoving,
		},
		IsActive:    update.IsActive,
		LastUpdated: update.Sample.Timestamp,
	})
	return nil
}
