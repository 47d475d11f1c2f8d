// Copyright 2025 Certen Protocol
//
package httpapi

import (
	"context"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/certen/ad-server/internal/sync/ledger"
)

func newTestLedger(t *testing.T) *ledger.Store {
	t.Helper()
	store, err := ledger.OpenStore(":memory:")
	if err != nil {
		t.Fatalf("ledger.OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAdStateFoundAndNotFound(t *testing.T) {
	store := newTestLedger(t)
	mux := NewSynchronizerHandlers(store, nil).NewMux()

	var id [32]byte
	id[0] = 0xab
	var vdsRoot [32]byte
	var commitment [32]byte
	commitment[0] = 0xcd
	genesisHash := common.Hash{}

	err := store.ApplySlot(context.Background(), 1, func(ops *ledger.TxOps) error {
		if err := ops.InsertAd(context.Background(), id, id, 0, vdsRoot, genesisHash); err != nil {
			return err
		}
		return ops.InsertAdUpdate(context.Background(), id, 0, commitment, genesisHash)
	})
	if err != nil {
		t.Fatalf("ApplySlot: %v", err)
	}

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ad_state/"+hex.EncodeToString(id[:]), nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /ad_state known id: got %d, body %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	var unknown [32]byte
	unknown[0] = 0xff
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ad_state/"+hex.EncodeToString(unknown[:]), nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("GET /ad_state unknown id: got %d, want 404", rr.Code)
	}
}

func TestAdStateRejectsMalformedID(t *testing.T) {
	store := newTestLedger(t)
	mux := NewSynchronizerHandlers(store, nil).NewMux()

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ad_state/not-hex", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-hex id, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ad_state/ab", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for short id, got %d", rr.Code)
	}
}

func TestAdStateRejectsWrongMethod(t *testing.T) {
	store := newTestLedger(t)
	mux := NewSynchronizerHandlers(store, nil).NewMux()

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/ad_state/"+hex.EncodeToString(make([]byte, 32)), nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}
