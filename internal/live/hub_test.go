package live

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"fieldtrack/internal/ingest"
	"fieldtrack/pkg/models"
)

type fakeUsers map[string]models.User

func (f fakeUsers) GetUser(ctx context.Context, userID string) (models.User, error) {
	u, ok := f[userID]
	if !ok {
		return models.User{}, errNoSuchUser
	}
	return u, nil
}

var errNoSuchUser = &noSuchUserErr{}

type noSuchUserErr struct{}

func (*noSuchUserErr) Error() string { return "no such user" }

func strPtr(s string) *string { return &s }

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(logNowhere{})
	hub := NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

type logNowhere struct{}

func (logNowhere) Write(p []byte) (int, error) { return len(p), nil }

func newClient() *Client {
	return &Client{send: make(chan []byte, 10), rooms: make(map[string]bool)}
}

func registerAndWait(hub *Hub, c *Client, rooms []string) {
	hub.register <- registerReq{client: c, rooms: rooms}
	// synchronize with the hub loop by round-tripping a no-op subscribe on a
	// throwaway room so the register above is guaranteed processed first.
	hub.subscribe <- roomChange{client: c, room: "sync"}
	hub.unsub <- roomChange{client: c, room: "sync"}
}

func recvFrame(t *testing.T, c *Client) frame {
	t.Helper()
	select {
	case b := <-c.send:
		var f frame
		if err := json.Unmarshal(b, &f); err != nil {
			t.Fatalf("failed to unmarshal frame: %v", err)
		}
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a frame")
		return frame{}
	}
}

func expectNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case b := <-c.send:
		t.Fatalf("expected no frame, got %s", b)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBroadcastReachesEmployeeAndCompanyRooms(t *testing.T) {
	hub := newTestHub(t)

	self := newClient()
	registerAndWait(hub, self, []string{employeeRoom("emp-1"), companyRoom("co-1")})

	hub.BroadcastLocationUpdate("emp-1", "co-1", "", LocationUpdate{Employee: EmployeeInfo{ID: "emp-1"}})

	f1 := recvFrame(t, self)
	if f1.Event != canonicalEvent {
		t.Fatalf("expected canonical event first, got %s", f1.Event)
	}
	f2 := recvFrame(t, self)
	if f2.Event != aliasEvent {
		t.Fatalf("expected alias event second, got %s", f2.Event)
	}
}

func TestBroadcastReachesSupervisorRooms(t *testing.T) {
	hub := newTestHub(t)

	supervisor := newClient()
	registerAndWait(hub, supervisor, []string{adminRoom("gm-1"), groupAdminRoom("gm-1")})

	outsider := newClient()
	registerAndWait(hub, outsider, []string{companyRoom("other-co")})

	hub.BroadcastLocationUpdate("emp-1", "co-1", "gm-1", LocationUpdate{Employee: EmployeeInfo{ID: "emp-1"}})

	recvFrame(t, supervisor) // canonical
	recvFrame(t, supervisor) // alias
	expectNoFrame(t, outsider)
}

func TestSubscribeJoinsEmployeeRoomForAdminWatcher(t *testing.T) {
	hub := newTestHub(t)

	watcher := newClient()
	registerAndWait(hub, watcher, nil)

	hub.Subscribe(watcher, "emp-9")
	// round-trip to ensure the subscribe above has been applied.
	hub.subscribe <- roomChange{client: watcher, room: "sync2"}
	hub.unsub <- roomChange{client: watcher, room: "sync2"}

	hub.BroadcastLocationUpdate("emp-9", "co-1", "", LocationUpdate{Employee: EmployeeInfo{ID: "emp-9"}})

	recvFrame(t, watcher) // canonical
	recvFrame(t, watcher) // alias
}

func TestUnsubscribeStopsFurtherDelivery(t *testing.T) {
	hub := newTestHub(t)

	watcher := newClient()
	registerAndWait(hub, watcher, nil)
	hub.Subscribe(watcher, "emp-9")
	hub.Unsubscribe(watcher, "emp-9")
	hub.subscribe <- roomChange{client: watcher, room: "sync3"}
	hub.unsub <- roomChange{client: watcher, room: "sync3"}

	hub.BroadcastLocationUpdate("emp-9", "co-1", "", LocationUpdate{Employee: EmployeeInfo{ID: "emp-9"}})
	expectNoFrame(t, watcher)
}

type fakeFailedLookup map[string][]string

func (f fakeFailedLookup) FailedForUser(_ context.Context, userID string) ([]string, error) {
	return f[userID], nil
}

type fakeIngestor struct {
	lastReq ingest.Request
	resp    ingest.Response
	err     error
}

func (f *fakeIngestor) Ingest(_ context.Context, req ingest.Request) (ingest.Response, error) {
	f.lastReq = req
	return f.resp, f.err
}

func TestHandleGetFailedSendsDeadLetteredPayloads(t *testing.T) {
	hub := newTestHub(t)
	hub.SetSocketServices(nil, fakeFailedLookup{"emp-1": {"payload-a"}}, nil)

	c := newClient()
	c.UserID = "emp-1"
	registerAndWait(hub, c, nil)

	c.handleGetFailed(hub)

	f := recvFrame(t, c)
	if f.Event != "location:failed_updates" {
		t.Fatalf("expected location:failed_updates, got %s", f.Event)
	}
}

func TestHandleGetFailedWithNoLookupSendsEmptyList(t *testing.T) {
	hub := newTestHub(t)

	c := newClient()
	c.UserID = "emp-1"
	registerAndWait(hub, c, nil)

	c.handleGetFailed(hub)

	f := recvFrame(t, c)
	if f.Event != "location:failed_updates" {
		t.Fatalf("expected location:failed_updates, got %s", f.Event)
	}
}

func TestHandleGetIntervalSendsUpdateInterval(t *testing.T) {
	hub := newTestHub(t)
	hub.SetSocketServices(nil, nil, localMapIntervalStore{})

	c := newClient()
	c.UserID = "emp-1"
	registerAndWait(hub, c, nil)

	c.handleGetInterval(hub, json.RawMessage(`{"batteryLevel":50,"isCharging":false}`))

	f := recvFrame(t, c)
	if f.Event != "location:update_interval" {
		t.Fatalf("expected location:update_interval, got %s", f.Event)
	}
}

// localMapIntervalStore is a trivial in-memory IntervalStore for tests that
// don't care about the stationary-streak behavior batterypolicy tracks.
type localMapIntervalStore struct{}

func (localMapIntervalStore) Get(context.Context, string) (string, bool, error) { return "", false, nil }
func (localMapIntervalStore) Set(context.Context, string, string, time.Duration) error { return nil }

func TestHandleDirectLocationUpdateSendsAck(t *testing.T) {
	hub := newTestHub(t)
	fi := &fakeIngestor{resp: ingest.Response{LocationID: "loc-1", NextIntervalMs: 30000}}
	hub.SetSocketServices(fi, nil, nil)

	c := newClient()
	c.UserID = "emp-1"
	c.CompanyID = "co-1"
	registerAndWait(hub, c, nil)

	c.handleDirectLocationUpdate(hub, json.RawMessage(`{"lat":1.5,"lon":2.5,"accuracy":5}`))

	f := recvFrame(t, c)
	if f.Event != "location:ack" {
		t.Fatalf("expected location:ack, got %s", f.Event)
	}
	if fi.lastReq.UserID != "emp-1" || fi.lastReq.CompanyID != "co-1" {
		t.Fatalf("expected ingest request scoped to caller, got %+v", fi.lastReq)
	}
}

func TestHandleDirectLocationUpdateSendsErrorOnIngestFailure(t *testing.T) {
	hub := newTestHub(t)
	fi := &fakeIngestor{err: errNoSuchUser}
	hub.SetSocketServices(fi, nil, nil)

	c := newClient()
	c.UserID = "emp-1"
	registerAndWait(hub, c, nil)

	c.handleDirectLocationUpdate(hub, json.RawMessage(`{"lat":1.5,"lon":2.5}`))

	f := recvFrame(t, c)
	if f.Event != "location:error" {
		t.Fatalf("expected location:error, got %s", f.Event)
	}
}

func TestPermittedTargetsFiltersToSameGroupOrManagement(t *testing.T) {
	users := fakeUsers{
		"emp-1": {ID: "emp-1", CompanyID: "co-1", GroupAdminID: strPtr("gm-1")},
		"emp-2": {ID: "emp-2", CompanyID: "co-1", GroupAdminID: strPtr("gm-2")},
		"emp-3": {ID: "emp-3", CompanyID: "co-2", GroupAdminID: strPtr("gm-1")},
	}
	admin := &Client{UserID: "gm-1", CompanyID: "co-1", Role: models.RoleGroupAdmin}

	allowed := admin.permittedTargets(nil, users, []string{"emp-1", "emp-2", "emp-3"})
	if len(allowed) != 1 || allowed[0] != "emp-1" {
		t.Fatalf("expected only emp-1 to be permitted, got %v", allowed)
	}
}
