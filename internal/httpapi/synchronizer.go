// Copyright 2025 Certen Protocol
//
package httpapi

import (
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/certen/ad-server/internal/sync/ledger"
)

// SynchronizerHandlers serves the synchronizer's single read route: the
// latest settled state commitment for a list.
type SynchronizerHandlers struct {
	ledger *ledger.Store
	logger *log.Logger
}

// NewSynchronizerHandlers builds a SynchronizerHandlers. A nil logger falls
// back to a component-prefixed stdlib logger.
func NewSynchronizerHandlers(led *ledger.Store, logger *log.Logger) *SynchronizerHandlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[SynchronizerAPI] ", log.LstdFlags)
	}
	return &SynchronizerHandlers{ledger: led, logger: logger}
}

// NewMux registers the synchronizer's route on a fresh http.ServeMux.
func (h *SynchronizerHandlers) NewMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ad_state/", h.handleAdState)
	return mux
}

// handleAdState handles GET /ad_state/{hex-id}.
func (h *SynchronizerHandlers) handleAdState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only GET is allowed")
		return
	}
	id, err := parseHexID(r.URL.Path, "/ad_state/")
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "INVALID_ID", err.Error())
		return
	}

	num, commitment, found, err := h.ledger.LatestCommitment(r.Context(), id)
	if err != nil {
		h.logger.Printf("latest commitment: %v", err)
		writeError(w, h.logger, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to read ledger")
		return
	}
	if !found {
		writeError(w, h.logger, http.StatusNotFound, "AD_NOT_FOUND", "unknown list id")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"id":         hex.EncodeToString(id[:]),
		"num":        num,
		"commitment": hex.EncodeToString(commitment[:]),
	})
}

func parseHexID(path, prefix string) ([32]byte, error) {
	var id [32]byte
	trimmed := strings.TrimSuffix(strings.TrimPrefix(path, prefix), "/")
	trimmed = strings.TrimPrefix(trimmed, "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, errors.New("id must be a hex-encoded 32-byte value")
	}
	if len(raw) != 32 {
		return id, errors.New("id must decode to exactly 32 bytes")
	}
	copy(id[:], raw)
	return id, nil
}
