// Copyright 2025 Certen Protocol
//
package coordinator

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// reconcileTimeout bounds the one-shot startup reconciliation call so a
// stalled synchronizer can't delay ad-server's own startup indefinitely.
const reconcileTimeout = 10 * time.Second

type adStateResponse struct {
	Num        uint64 `json:"num"`
	Commitment string `json:"commitment"`
}

// Reconcile compares every persisted list's commitment against the
// synchronizer's /ad_state/{id} view, logging a warning for any mismatch
// or unreachable list. It is best-effort: a synchronizer that is down,
// unreachable, or simply not yet caught up does not block ad-server from
// starting, since cross-process reconciliation is advisory, not a
// precondition for serving requests.
func Reconcile(ctx context.Context, baseURL string, rows map[uint64]ListRow, logger *log.Logger) {
	if baseURL == "" {
		logger.Printf("reconcile: SYNC_RECONCILE_URL not set, skipping startup reconciliation")
		return
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	client := &http.Client{Timeout: reconcileTimeout}

	for listID, row := range rows {
		id := listIDHash(listID)
		want := row.Container.Commitment()

		reqCtx, cancel := context.WithTimeout(ctx, reconcileTimeout)
		got, found, err := fetchAdState(reqCtx, client, baseURL, id)
		cancel()
		switch {
		case err != nil:
			logger.Printf("reconcile: list %d: could not reach synchronizer: %v", listID, err)
		case !found:
			logger.Printf("reconcile: list %d: synchronizer has no record of it yet", listID)
		case got != want:
			logger.Printf("reconcile: list %d: commitment mismatch: coordinator has %x, synchronizer has %x", listID, want, got)
		default:
			logger.Printf("reconcile: list %d: commitment matches synchronizer", listID)
		}
	}
}

func fetchAdState(ctx context.Context, client *http.Client, baseURL string, id [32]byte) (commitment [32]byte, found bool, err error) {
	url := fmt.Sprintf("%s/ad_state/%s", baseURL, hex.EncodeToString(id[:]))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return commitment, false, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return commitment, false, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return commitment, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return commitment, false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var decoded adStateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return commitment, false, fmt.Errorf("decode response: %w", err)
	}
	raw, err := hex.DecodeString(decoded.Commitment)
	if err != nil || len(raw) != 32 {
		return commitment, false, fmt.Errorf("malformed commitment %q", decoded.Commitment)
	}
	copy(commitment[:], raw)
	return commitment, true, nil
}
