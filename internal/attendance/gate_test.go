package attendance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"fieldtrack/pkg/models"
)

type fakeUsers map[string]models.User

func (f fakeUsers) GetUser(_ context.Context, userID string) (models.User, error) {
	return f[userID], nil
}

func TestTenantGateSkipsPunchForDisabledTenant(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		json.NewEncoder(w).Encode(PunchResult{Success: true})
	}))
	defer srv.Close()

	users := fakeUsers{"emp-1": {ID: "emp-1", CompanyID: "co-other"}}
	gate := NewTenantGate(NewClient(srv.URL, testLogger()), users, []string{"co-allowed"}, testLogger())

	if err := gate.Punch(context.Background(), []string{"emp-1"}); err != nil {
		t.Fatalf("a disabled tenant should skip silently, got error: %v", err)
	}
	if called {
		t.Fatal("expected the bridge to not be called for a disabled tenant")
	}
}

func TestTenantGateCallsBridgeForEnabledTenant(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		json.NewEncoder(w).Encode(PunchResult{Success: true})
	}))
	defer srv.Close()

	users := fakeUsers{"emp-1": {ID: "emp-1", CompanyID: "co-allowed"}}
	gate := NewTenantGate(NewClient(srv.URL, testLogger()), users, []string{"co-allowed"}, testLogger())

	if err := gate.Punch(context.Background(), []string{"emp-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected the bridge to be called for an enabled tenant")
	}
}

func TestTenantGateReturnsErrorOnUnsuccessfulPunch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(PunchResult{Success: false, SparrowErrors: []string{"roster mismatch"}})
	}))
	defer srv.Close()

	users := fakeUsers{"emp-1": {ID: "emp-1", CompanyID: "co-allowed"}}
	gate := NewTenantGate(NewClient(srv.URL, testLogger()), users, []string{"co-allowed"}, testLogger())

	if err := gate.Punch(context.Background(), []string{"emp-1"}); err == nil {
		t.Fatal("expected an error for an unsuccessful punch result")
	}
}
