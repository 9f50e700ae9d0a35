package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/cfgport/pkg/engine"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, deployment engine.DeploymentType) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	conn := engine.Connection{
		Host:           srv.URL + "/am",
		Realm:          "alpha",
		DeploymentType: deployment,
		Token:          "token-123",
	}
	cfg := DefaultConfig()
	cfg.PageSize = 2
	client, err := NewClient(conn, cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client, srv
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestRealmPath(t *testing.T) {
	tests := []struct {
		realm string
		want  string
	}{
		{"", "/json/realms/root"},
		{"/", "/json/realms/root"},
		{"root", "/json/realms/root"},
		{"alpha", "/json/realms/root/realms/alpha"},
		{"/alpha", "/json/realms/root/realms/alpha"},
		{"/parent/child", "/json/realms/root/realms/parent/realms/child"},
	}

	for _, tt := range tests {
		t.Run(tt.realm, func(t *testing.T) {
			if got := realmPath(tt.realm); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected default config to be valid, got: %v", err)
	}

	cfg.Timeout = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for zero timeout")
	}

	cfg.HTTPClient = http.DefaultClient
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected custom HTTP client to lift the timeout requirement, got: %v", err)
	}

	cfg.PageSize = -1
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for negative page size")
	}
}

func TestNewClient_InvalidHost(t *testing.T) {
	if _, err := NewClient(engine.Connection{Host: "am.example.com"}, nil); err == nil {
		t.Fatal("Expected error for host without scheme")
	}
}

func TestClient_List_FollowsPagedResultsCookie(t *testing.T) {
	var requests []string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.URL.RawQuery)
		if r.URL.Path != "/am/json/realms/root/realms/alpha/scripts" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-123" {
			t.Errorf("Expected bearer token, got %q", got)
		}
		if got := r.Header.Get("Accept-API-Version"); got != "protocol=2.0,resource=1.0" {
			t.Errorf("Unexpected API version %q", got)
		}
		if r.URL.Query().Get("_pagedResultsCookie") == "" {
			writeJSON(w, http.StatusOK, map[string]any{
				"result":             []any{map[string]any{"_id": "s1", "name": "One"}, map[string]any{"_id": "s2", "name": "Two"}},
				"pagedResultsCookie": "cookie-1",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"result":             []any{map[string]any{"_id": "s3", "name": "Three"}},
			"pagedResultsCookie": nil,
		})
	}, engine.DeploymentCloud)

	var ids []string
	for s, err := range client.List(context.Background(), engine.TypeScript, engine.Scope{}) {
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		ids = append(ids, s.ID)
	}

	if diff := cmp.Diff([]string{"s1", "s2", "s3"}, ids); diff != "" {
		t.Errorf("Unexpected ids (-want +got):\n%s", diff)
	}
	if len(requests) != 2 {
		t.Fatalf("Expected 2 requests, got %d", len(requests))
	}
	if !strings.Contains(requests[0], "_pageSize=2") || !strings.Contains(requests[0], "_queryFilter=true") {
		t.Errorf("Unexpected first query %q", requests[0])
	}
	if !strings.Contains(requests[1], "_pagedResultsCookie=cookie-1") {
		t.Errorf("Expected cookie in second query, got %q", requests[1])
	}
}

func TestClient_List_StopsEarly(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusOK, map[string]any{
			"result":             []any{map[string]any{"_id": "s1"}, map[string]any{"_id": "s2"}},
			"pagedResultsCookie": "more",
		})
	}, engine.DeploymentCloud)

	for range client.List(context.Background(), engine.TypeScript, engine.Scope{}) {
		break
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("Expected a single request when the consumer stops, got %d", calls)
	}
}

func TestClient_List_NodesFillType(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		want := "/am/json/realms/root/realms/alpha/realm-config/authentication/authenticationtrees/nodes/PageNode"
		if r.URL.Path != want {
			t.Errorf("Expected path %s, got %s", want, r.URL.Path)
		}
		writeJSON(w, http.StatusOK, map[string]any{"result": []any{map[string]any{"_id": "n1", "nodes": []any{}}}})
	}, engine.DeploymentCloud)

	for s, err := range client.List(context.Background(), engine.TypeNode, engine.Scope{Subtype: "PageNode"}) {
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if s.Subtype() != "PageNode" {
			t.Errorf("Expected _type filled from the subtype, got %q", s.Subtype())
		}
	}
}

func TestClient_List_NodesRequireSubtype(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("Expected no request, got %s", r.URL)
	}, engine.DeploymentCloud)

	for _, err := range client.List(context.Background(), engine.TypeNode, engine.Scope{}) {
		if engine.KindOf(err) != engine.KindValidation {
			t.Errorf("Expected validation error, got: %v", err)
		}
	}
}

func TestClient_List_AllSecretStores(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Query().Get("_action") != "nextdescendents" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL)
		}
		writeJSON(w, http.StatusOK, map[string]any{"result": []any{
			map[string]any{"_id": "ESV", "_type": map[string]any{"_id": "GoogleSecretManagerSecretStoreProvider"}},
		}})
	}, engine.DeploymentCloud)

	var stores []engine.Skeleton
	for s, err := range client.List(context.Background(), engine.TypeSecretStore, engine.Scope{}) {
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		stores = append(stores, s)
	}
	if len(stores) != 1 || stores[0].Subtype() != "GoogleSecretManagerSecretStoreProvider" {
		t.Errorf("Unexpected stores: %v", stores)
	}
}

func TestClient_Get_NotFound(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"code": 404, "reason": "Not Found", "message": "Not Found"})
	}, engine.DeploymentCloud)

	_, err := client.Get(context.Background(), engine.TypeScript, engine.Scope{}, "s1")
	if !engine.IsNotFound(err) {
		t.Fatalf("Expected not-found error, got: %v", err)
	}
	want := "script s1 not found\n" +
		"  Network error:\n" +
		"    URL: " + srv.URL + "/am/json/realms/root/realms/alpha/scripts/s1\n" +
		"    Status: 404\n" +
		"    Code: ERR_BAD_REQUEST\n" +
		"    Reason: Not Found\n" +
		"    Message: Not Found"
	if err.Error() != want {
		t.Errorf("Expected:\n%s\ngot:\n%s", want, err.Error())
	}

	found, err := client.Find(context.Background(), engine.TypeScript, engine.Scope{}, "s1")
	if err != nil || found != nil {
		t.Errorf("Expected Find to report absence without error, got %v, %v", found, err)
	}
}

func TestClient_Get_RevisionFromETag(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"rev-9"`)
		writeJSON(w, http.StatusOK, map[string]any{"_id": "Login", "enabled": true, "maximumSessionTime": 12345678901234567})
	}, engine.DeploymentCloud)

	s, err := client.Get(context.Background(), engine.TypeTree, engine.Scope{Realm: "bravo"}, "Login")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if s.Revision != "rev-9" {
		t.Errorf("Expected revision from ETag, got %q", s.Revision)
	}
	if n, ok := s.Payload.Fields()["maximumSessionTime"].(json.Number); !ok || n.String() != "12345678901234567" {
		t.Errorf("Expected exact number, got %v", s.Payload.Fields()["maximumSessionTime"])
	}
}

func TestClient_ServerErrorWithoutJSON(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "upstream unavailable")
	}, engine.DeploymentCloud)

	_, err := client.Get(context.Background(), engine.TypeScript, engine.Scope{}, "s1")
	var ne *engine.NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("Expected network error, got: %v", err)
	}
	if ne.Code != CodeBadResponse || ne.Status != http.StatusBadGateway || ne.Message != "upstream unavailable" {
		t.Errorf("Unexpected network error: %+v", ne)
	}
	if engine.KindOf(err) != engine.KindNetwork {
		t.Errorf("Expected network kind, got %q", engine.KindOf(err))
	}
}

func TestClient_ServerErrorTruncatedOnRuneBoundary(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "x"+strings.Repeat("é", 400))
	}, engine.DeploymentCloud)

	_, err := client.Get(context.Background(), engine.TypeScript, engine.Scope{}, "s1")
	var ne *engine.NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("Expected network error, got: %v", err)
	}
	if !utf8.ValidString(ne.Message) {
		t.Errorf("Expected valid UTF-8 message, got %q", ne.Message)
	}
	if len(ne.Message) != maxErrorBody-1 {
		t.Errorf("Expected message of %d bytes, got %d", maxErrorBody-1, len(ne.Message))
	}
}

func TestClient_NoResponse(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {}, engine.DeploymentCloud)
	srv.Close()

	_, err := client.Get(context.Background(), engine.TypeScript, engine.Scope{}, "s1")
	var ne *engine.NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("Expected network error, got: %v", err)
	}
	if ne.Code != CodeNetwork || ne.Status != 0 || ne.Err == nil {
		t.Errorf("Unexpected network error: %+v", ne)
	}
}

func TestClient_Create(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		check   func(error) bool
		wantErr bool
	}{
		{name: "created", status: http.StatusCreated},
		{name: "id taken", status: http.StatusPreconditionFailed, check: engine.IsIDConflict, wantErr: true},
		{name: "name taken", status: http.StatusConflict, check: engine.IsNameConflict, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPut {
					t.Errorf("Expected PUT, got %s", r.Method)
				}
				if got := r.Header.Get("If-None-Match"); got != "*" {
					t.Errorf("Expected If-None-Match *, got %q", got)
				}
				body, err := engine.DecodeObject(mustRead(t, r.Body))
				if err != nil {
					t.Fatalf("Failed to decode request body: %v", err)
				}
				if _, ok := body["_rev"]; ok {
					t.Errorf("Expected _rev to be stripped from the body")
				}
				if tt.status >= 300 {
					writeJSON(w, tt.status, map[string]any{"code": tt.status, "message": "conflict"})
					return
				}
				body["_rev"] = "1"
				writeJSON(w, tt.status, body)
			}, engine.DeploymentCloud)

			s, _ := engine.NewSkeleton(engine.TypeScript, engine.Object{"_id": "s1", "_rev": "old", "name": "One"})
			created, err := client.Create(context.Background(), s, engine.Scope{})
			if tt.wantErr {
				if err == nil || !tt.check(err) {
					t.Fatalf("Expected classified conflict, got: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if created.Revision != "1" || created.DisplayName() != "One" {
				t.Errorf("Unexpected created entity: %+v", created)
			}
		})
	}
}

func TestClient_Update_SendsRevision(t *testing.T) {
	var ifMatch []string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		ifMatch = append(ifMatch, r.Header.Get("If-Match"))
		w.Header().Set("ETag", `"2"`)
		w.WriteHeader(http.StatusOK)
	}, engine.DeploymentCloud)

	s, _ := engine.NewSkeleton(engine.TypeNode, engine.Object{"_id": "n1", "_rev": "1", "_type": map[string]any{"_id": "PageNode"}})
	updated, err := client.Update(context.Background(), s, engine.Scope{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if updated.Revision != "2" {
		t.Errorf("Expected revision from ETag, got %q", updated.Revision)
	}

	s.Revision = ""
	if _, err := client.Update(context.Background(), s, engine.Scope{}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"1", "*"}, ifMatch); diff != "" {
		t.Errorf("Unexpected If-Match headers (-want +got):\n%s", diff)
	}
}

func TestClient_NodeTypes(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Query().Get("_action") != "getAllTypes" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL)
		}
		writeJSON(w, http.StatusOK, map[string]any{"result": []any{
			map[string]any{"_id": "PageNode", "name": "Page Node"},
			map[string]any{"_id": "ScriptedDecisionNode", "name": "Scripted Decision"},
		}})
	}, engine.DeploymentCloud)

	types, err := client.NodeTypes(context.Background(), engine.Scope{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"PageNode", "ScriptedDecisionNode"}, types); diff != "" {
		t.Errorf("Unexpected node types (-want +got):\n%s", diff)
	}
}

func TestClient_VariablesRequireCloud(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/am/environment/variables/esv-colour" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		writeJSON(w, http.StatusOK, map[string]any{"_id": "esv-colour", "valueBase64": "Ymx1ZQ=="})
	}, engine.DeploymentClassic)

	_, err := client.Get(context.Background(), engine.TypeVariable, engine.Scope{}, "esv-colour")
	if engine.KindOf(err) != engine.KindValidation {
		t.Fatalf("Expected validation error on classic deployments, got: %v", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Errorf("Expected no network call, got %d", calls)
	}

	client.conn.DeploymentType = engine.DeploymentCloud
	if _, err := client.Get(context.Background(), engine.TypeVariable, engine.Scope{}, "esv-colour"); err != nil {
		t.Fatalf("Unexpected error on cloud deployments: %v", err)
	}
}

func TestClient_SecretStoreMappings(t *testing.T) {
	const storePath = "/am/json/realms/root/realms/alpha/realm-config/secrets/stores/GoogleSecretManagerSecretStoreProvider/ESV/mappings"
	var put engine.Object
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == storePath:
			writeJSON(w, http.StatusOK, map[string]any{"result": []any{
				map[string]any{"_id": "am.services.signing", "_rev": "5", "aliases": []any{"esv-signing"}},
			}})
		case r.Method == http.MethodPut && r.URL.Path == storePath+"/am.services.signing":
			put, _ = engine.DecodeObject(mustRead(t, r.Body))
			writeJSON(w, http.StatusOK, put)
		default:
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}, engine.DeploymentCloud)

	store, _ := engine.NewSkeleton(engine.TypeSecretStore, engine.Object{
		"_id":   "ESV",
		"_type": map[string]any{"_id": "GoogleSecretManagerSecretStoreProvider"},
	})

	subs, err := client.ListSubresources(context.Background(), store, engine.Scope{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(subs) != 1 || subs[0].ID != "am.services.signing" || subs[0].Kind != "mappings" {
		t.Fatalf("Unexpected mappings: %+v", subs)
	}
	if _, ok := subs[0].Object["_rev"]; ok {
		t.Errorf("Expected mapping revision to be dropped")
	}

	if err := client.PutSubresource(context.Background(), store, engine.Scope{}, subs[0]); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if put.Slice("aliases") == nil {
		t.Errorf("Expected mapping body to be sent, got %v", put)
	}

	tree, _ := engine.NewSkeleton(engine.TypeTree, engine.Object{"_id": "Login"})
	if subs, err := client.ListSubresources(context.Background(), tree, engine.Scope{}); err != nil || subs != nil {
		t.Errorf("Expected no sub-resources for trees, got %v, %v", subs, err)
	}
}

func TestClient_Delete(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("Expected DELETE, got %s", r.Method)
		}
		if strings.HasSuffix(r.URL.Path, "/gone") {
			writeJSON(w, http.StatusNotFound, map[string]any{"code": 404, "reason": "Not Found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"_id": "n1"})
	}, engine.DeploymentCloud)

	scope := engine.Scope{Subtype: "MessageNode"}
	if err := client.Delete(context.Background(), engine.TypeNode, scope, "n1"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := client.Delete(context.Background(), engine.TypeNode, scope, "gone"); !engine.IsNotFound(err) {
		t.Errorf("Expected not-found error, got: %v", err)
	}
}

// The client drives the engine end to end.
func TestClient_WithOrphanDetector(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/nodes") && r.Method == http.MethodPost:
			writeJSON(w, http.StatusOK, map[string]any{"result": []any{map[string]any{"_id": "MessageNode"}}})
		case strings.HasSuffix(r.URL.Path, "/nodes/MessageNode"):
			writeJSON(w, http.StatusOK, map[string]any{"result": []any{
				map[string]any{"_id": "used"},
				map[string]any{"_id": "unused"},
			}})
		case strings.HasSuffix(r.URL.Path, "/trees"):
			writeJSON(w, http.StatusOK, map[string]any{"result": []any{map[string]any{
				"_id":   "Login",
				"nodes": map[string]any{"used": map[string]any{"nodeType": "MessageNode"}},
			}}})
		default:
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}, engine.DeploymentCloud)

	orphans, err := engine.NewOrphanDetector(client, client.Connection()).FindOrphans(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(orphans) != 1 || orphans[0].ID != "unused" {
		t.Errorf("Expected node unused to be orphaned, got %v", orphans)
	}
}

func mustRead(t *testing.T, r io.Reader) []byte {
	t.Helper()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}
	return data
}
