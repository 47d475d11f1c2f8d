// Copyright 2025 Certen Protocol
//
// Package proverclient implements the coordinator.Prover and
// wrapper.NativeRecursor seams as thin HTTP clients against an
// out-of-process native proving service, the same dial-once/typed-call
// shape internal/sync's BeaconClient uses for the beacon REST API: the
// recursive SNARK prover and its custom-predicate circuits are owned by
// that external service, not by this module.
package proverclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/certen/ad-server/internal/statehelper"
	"github.com/certen/ad-server/internal/wrapper"
)

// Client is an HTTP client for the native proving service, implementing
// both coordinator.Prover and wrapper.NativeRecursor.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *log.Logger
}

// New builds a Client against baseURL (e.g. "http://localhost:9500"). A
// nil logger falls back to a component-prefixed stdlib logger.
func New(baseURL string, timeout time.Duration, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(log.Writer(), "[ProverClient] ", log.LstdFlags)
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("proverclient: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("proverclient: build request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("proverclient: %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("proverclient: %s: unexpected status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("proverclient: decode response %s: %w", path, err)
	}
	return nil
}

type provePodRequest struct {
	Statements []statehelper.Statement `json:"statements"`
}

type provePodResponse struct {
	Statement wrapper.Statement `json:"statement"`
	Proof     []byte            `json:"proof"`
}

// ProveMainPod satisfies coordinator.Prover by posting the collected
// statements to the service's /prove/main_pod route.
func (c *Client) ProveMainPod(stmts []statehelper.Statement) (*wrapper.ProvedPod, error) {
	var resp provePodResponse
	if err := c.post(context.Background(), "/prove/main_pod", provePodRequest{Statements: stmts}, &resp); err != nil {
		return nil, err
	}
	return &wrapper.ProvedPod{Statement: resp.Statement, Proof: resp.Proof}, nil
}

type proveRevPodRequest struct {
	Artifacts [][]byte `json:"artifacts"`
}

// ProveRevMainPod satisfies coordinator.Prover by posting the stored
// per-revision artifacts to the service's /prove/rev_main_pod route.
func (c *Client) ProveRevMainPod(artifacts [][]byte) (*wrapper.ProvedPod, error) {
	var resp provePodResponse
	if err := c.post(context.Background(), "/prove/rev_main_pod", proveRevPodRequest{Artifacts: artifacts}, &resp); err != nil {
		return nil, err
	}
	return &wrapper.ProvedPod{Statement: resp.Statement, Proof: resp.Proof}, nil
}

type recurseRequest struct {
	Statement wrapper.Statement `json:"statement"`
	Proof     []byte            `json:"proof"`
}

type recurseResponse struct {
	Shrunk []byte `json:"shrunk"`
}

// Recurse satisfies wrapper.NativeRecursor by posting pod to the service's
// /recurse route.
func (c *Client) Recurse(pod *wrapper.ProvedPod) ([]byte, error) {
	var resp recurseResponse
	if err := c.post(context.Background(), "/recurse", recurseRequest{Statement: pod.Statement, Proof: pod.Proof}, &resp); err != nil {
		return nil, err
	}
	return resp.Shrunk, nil
}

type verifyRecursedRequest struct {
	Shrunk    []byte            `json:"shrunk"`
	Statement wrapper.Statement `json:"statement"`
}

type verifyRecursedResponse struct {
	Valid bool `json:"valid"`
}

// VerifyRecursed satisfies wrapper.NativeRecursor by posting to the
// service's /recurse/verify route.
func (c *Client) VerifyRecursed(shrunk []byte, statement *wrapper.Statement) (bool, error) {
	var resp verifyRecursedResponse
	if err := c.post(context.Background(), "/recurse/verify", verifyRecursedRequest{Shrunk: shrunk, Statement: *statement}, &resp); err != nil {
		return false, err
	}
	return resp.Valid, nil
}
