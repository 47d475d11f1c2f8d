// Copyright 2025 Certen Protocol
//
package httpapi

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/certen/ad-server/internal/coordinator"
	"github.com/certen/ad-server/internal/statehelper"
)

// CoordinatorHandlers serves the ad-server's read/write API: membership-list
// creation and mutation, request-status polling, and membership queries.
//
// Grounded on pkg/server/proof_handlers.go's ProofHandlers: a constructor
// defaulting a nil logger, method-check-then-400 per handler, manual
// strings.TrimPrefix/strings.Split path parsing instead of a router.
type CoordinatorHandlers struct {
	queue  *coordinator.Queue
	logger *log.Logger
}

// NewCoordinatorHandlers builds a CoordinatorHandlers. A nil logger falls
// back to a component-prefixed stdlib logger.
func NewCoordinatorHandlers(queue *coordinator.Queue, logger *log.Logger) *CoordinatorHandlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[CoordinatorAPI] ", log.LstdFlags)
	}
	return &CoordinatorHandlers{queue: queue, logger: logger}
}

// NewMux registers every coordinator route on a fresh http.ServeMux.
func (h *CoordinatorHandlers) NewMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/membership_list", h.handleMembershipListCollection)
	mux.HandleFunc("/membership_list/", h.handleMembershipListItem)
	mux.HandleFunc("/dict/", h.handleDict)
	mux.HandleFunc("/request/", h.handleRequest)
	mux.HandleFunc("/user/", h.handleUser)
	return mux
}

// handleMembershipListCollection handles POST /membership_list.
func (h *CoordinatorHandlers) handleMembershipListCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is allowed")
		return
	}
	reqID, err := h.queue.SubmitCreate(r.Context())
	if err != nil {
		h.logger.Printf("submit create: %v", err)
		writeError(w, h.logger, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to submit request")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]string{"req_id": reqID.String()})
}

// handleMembershipListItem handles GET and POST /membership_list/{id}:
// GET is an alias for /dict/{id}'s read, POST submits an Update.
func (h *CoordinatorHandlers) handleMembershipListItem(w http.ResponseWriter, r *http.Request) {
	listID, err := parseListID(r.URL.Path, "/membership_list/")
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "INVALID_LIST_ID", err.Error())
		return
	}

	if r.Method == http.MethodGet {
		h.writeContainer(w, listID)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only GET and POST are allowed")
		return
	}

	var body opRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "INVALID_BODY", "malformed JSON body")
		return
	}
	op, err := body.toOp()
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "INVALID_OP", err.Error())
		return
	}
	if !h.queue.KnownGroup(body.Group) {
		writeError(w, h.logger, http.StatusBadRequest, "UNKNOWN_GROUP", fmt.Sprintf("unknown group %q", body.Group))
		return
	}

	reqID, err := h.queue.SubmitUpdate(r.Context(), listID, op)
	if err != nil {
		h.logger.Printf("submit update: %v", err)
		writeError(w, h.logger, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to submit request")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]string{"req_id": reqID.String()})
}

// handleDict handles GET /dict/{id}, serving the coordinator's current
// in-memory container through the same writeContainer that
// handleMembershipListItem uses for GET /membership_list/{id}.
func (h *CoordinatorHandlers) handleDict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only GET is allowed")
		return
	}
	listID, err := parseListID(r.URL.Path, "/dict/")
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "INVALID_LIST_ID", err.Error())
		return
	}
	h.writeContainer(w, listID)
}

func (h *CoordinatorHandlers) writeContainer(w http.ResponseWriter, listID uint64) {
	num, container, ok := h.queue.Container(listID)
	if !ok {
		writeError(w, h.logger, http.StatusNotFound, "LIST_NOT_FOUND", "unknown list id")
		return
	}
	commitment := container.Commitment()
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"id":         listID,
		"num":        num,
		"commitment": fmt.Sprintf("%x", commitment),
		"state":      container.Snapshot(),
	})
}

// handleRequest handles GET /request/{req_id}.
func (h *CoordinatorHandlers) handleRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only GET is allowed")
		return
	}
	idStr := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/request/"), "/")
	reqID, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "INVALID_REQUEST_ID", "invalid request id format")
		return
	}
	req, ok := h.queue.Request(reqID)
	if !ok {
		writeError(w, h.logger, http.StatusNotFound, "REQUEST_NOT_FOUND", "unknown request id")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, req)
}

// handleUser handles GET /user/{id}/{user}, enqueueing a Query request.
func (h *CoordinatorHandlers) handleUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only GET is allowed")
		return
	}
	path := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/user/"), "/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		writeError(w, h.logger, http.StatusBadRequest, "INVALID_PATH", "expected /user/{id}/{user}")
		return
	}
	listID, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "INVALID_LIST_ID", "list id must be a non-negative integer")
		return
	}
	reqID, err := h.queue.SubmitQuery(r.Context(), listID, parts[1])
	if err != nil {
		h.logger.Printf("submit query: %v", err)
		writeError(w, h.logger, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to submit request")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]string{"req_id": reqID.String()})
}

// opRequest is the wire shape of the Op tagged union: a snake_case
// discriminator field named "name".
type opRequest struct {
	Name  string `json:"name"`
	Group string `json:"group"`
	User  string `json:"user"`
}

func (o opRequest) toOp() (statehelper.Op, error) {
	switch o.Name {
	case "add":
		if o.Group == "" || o.User == "" {
			return nil, errors.New("add requires group and user")
		}
		return statehelper.AddOp{Group: o.Group, User: o.User}, nil
	case "del":
		if o.Group == "" || o.User == "" {
			return nil, errors.New("del requires group and user")
		}
		return statehelper.DelOp{Group: o.Group, User: o.User}, nil
	default:
		return nil, fmt.Errorf("unknown op name %q", o.Name)
	}
}

func parseListID(path, prefix string) (uint64, error) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(path, prefix), "/")
	if trimmed == "" {
		return 0, errors.New("list id is required")
	}
	id, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, errors.New("list id must be a non-negative integer")
	}
	return id, nil
}
