// Copyright 2025 Certen Protocol
//
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/certen/ad-server/internal/blobtx"
	"github.com/certen/ad-server/internal/coordinator"
	"github.com/certen/ad-server/internal/predicate"
	"github.com/certen/ad-server/internal/statehelper"
	"github.com/certen/ad-server/internal/workerpool"
	"github.com/certen/ad-server/internal/wrapper"
)

type fakeProver struct{}

func (fakeProver) ProveMainPod(stmts []statehelper.Statement) (*wrapper.ProvedPod, error) {
	return &wrapper.ProvedPod{Proof: []byte("main-pod-proof")}, nil
}

func (fakeProver) ProveRevMainPod(artifacts [][]byte) (*wrapper.ProvedPod, error) {
	return &wrapper.ProvedPod{Proof: []byte("rev-pod-proof")}, nil
}

type passthroughWrapper struct{}

func (passthroughWrapper) Wrap(pod *wrapper.ProvedPod) ([]byte, error) { return pod.Proof, nil }

func (passthroughWrapper) Verify(wrapped []byte, statement *wrapper.Statement) (bool, error) {
	return true, nil
}

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()

	store, err := coordinator.OpenStore(":memory:")
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	artifacts, err := coordinator.NewArtifactStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewArtifactStore: %v", err)
	}

	batch, err := predicate.Build(predicate.Params{ContainerDepth: 2, MaxCustomBatch: 8})
	if err != nil {
		t.Fatalf("predicate.Build: %v", err)
	}

	pool, err := workerpool.New(2, nil)
	if err != nil {
		t.Fatalf("workerpool.New: %v", err)
	}
	pool.Start(context.Background())
	t.Cleanup(pool.Stop)

	sender, err := blobtx.NewSender(context.Background(), blobtx.Config{})
	if err != nil {
		t.Fatalf("blobtx.NewSender: %v", err)
	}

	q, err := coordinator.New(coordinator.Config{
		Groups:    statehelper.Groups{"red", "green", "blue"},
		Batch:     batch,
		Store:     store,
		Artifacts: artifacts,
		Prover:    fakeProver{},
		Wrapper:   passthroughWrapper{},
		Sender:    sender,
		Pool:      pool,
	})
	if err != nil {
		t.Fatalf("coordinator.New: %v", err)
	}
	q.Start(context.Background())

	return NewCoordinatorHandlers(q, nil).NewMux()
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode response body: %v (raw: %s)", err, rr.Body.String())
	}
}

func awaitComplete(t *testing.T, mux *http.ServeMux, reqID string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/request/"+reqID, nil))
		var req map[string]interface{}
		decodeBody(t, rr, &req)
		if phase, _ := req["Phase"].(string); phase == "complete" || phase == "error" {
			return req
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("request %s did not reach a terminal phase in time", reqID)
	return nil
}

// TestCreateAddQueryOverHTTP drives the whole create/add/query path through
// the mux rather than the Queue directly, covering request parsing and
// response shaping end to end.
func TestCreateAddQueryOverHTTP(t *testing.T) {
	mux := newTestMux(t)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/membership_list", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("POST /membership_list: got %d, body %s", rr.Code, rr.Body.String())
	}
	var created map[string]string
	decodeBody(t, rr, &created)
	createReq := awaitComplete(t, mux, created["req_id"])
	createResult, ok := createReq["Create"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected a Create result, got %+v", createReq)
	}
	listID := int(createResult["ListID"].(float64))
	if listID == 0 {
		t.Fatalf("expected a non-zero list id")
	}

	addBody := strings.NewReader(`{"name":"add","group":"red","user":"alice"}`)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, pathFor(listID), addBody))
	if rr.Code != http.StatusOK {
		t.Fatalf("POST add: got %d, body %s", rr.Code, rr.Body.String())
	}
	var addSubmit map[string]string
	decodeBody(t, rr, &addSubmit)
	addReq := awaitComplete(t, mux, addSubmit["req_id"])
	if addReq["Phase"] != "complete" {
		t.Fatalf("add did not complete: %+v", addReq)
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/dict/"+itoa(listID), nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /dict: got %d, body %s", rr.Code, rr.Body.String())
	}
	var dict map[string]interface{}
	decodeBody(t, rr, &dict)
	state, ok := dict["state"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected a state field, got %+v", dict)
	}
	sets, ok := state["Sets"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected a Sets field, got %+v", state)
	}
	red, _ := sets["red"].([]interface{})
	if len(red) != 1 || red[0] != "alice" {
		t.Fatalf("expected alice in group red, got %+v", sets)
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/user/"+itoa(listID)+"/alice", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /user: got %d, body %s", rr.Code, rr.Body.String())
	}
	var querySubmit map[string]string
	decodeBody(t, rr, &querySubmit)
	queryReq := awaitComplete(t, mux, querySubmit["req_id"])
	queryResult, ok := queryReq["Query"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected a Query result, got %+v", queryReq)
	}
	proofs, _ := queryResult["Proofs"].(map[string]interface{})
	if _, ok := proofs["red"]; !ok {
		t.Fatalf("expected a membership proof for group red, got %+v", proofs)
	}
}

// TestUnknownRequestID404s covers the 404 branch for an unrecognized
// request id.
func TestUnknownRequestID404s(t *testing.T) {
	mux := newTestMux(t)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/request/00000000-0000-0000-0000-000000000000", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

// TestMalformedUpdateBody400s covers the validation-error branch: an
// unknown op name never reaches the queue.
func TestMalformedUpdateBody400s(t *testing.T) {
	mux := newTestMux(t)
	rr := httptest.NewRecorder()
	body := strings.NewReader(`{"name":"frobnicate","group":"red","user":"alice"}`)
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/membership_list/1", body))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d, body %s", rr.Code, rr.Body.String())
	}
}

// TestUnknownGroup400sWithoutQueueing covers the validation-error branch
// for a group outside the coordinator's fixed enumeration: it must be
// rejected synchronously, before a request is ever enqueued.
func TestUnknownGroup400sWithoutQueueing(t *testing.T) {
	mux := newTestMux(t)
	rr := httptest.NewRecorder()
	body := strings.NewReader(`{"name":"add","group":"purple","user":"alice"}`)
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/membership_list/1", body))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d, body %s", rr.Code, rr.Body.String())
	}
	var resp map[string]interface{}
	decodeBody(t, rr, &resp)
	errBody, _ := resp["error"].(map[string]interface{})
	if errBody["code"] != "UNKNOWN_GROUP" {
		t.Fatalf("expected UNKNOWN_GROUP error code, got %+v", resp)
	}
}

func pathFor(listID int) string { return "/membership_list/" + itoa(listID) }

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
