// Copyright 2025 Certen Protocol
//
// Package sync implements the synchronizer: a resumable beacon-chain
// walker that extracts blob payloads addressed to the coordinator's
// settlement address, verifies their proofs, and persists the resulting
// state commitments to a ledger.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto/kzg4844"
)

// BeaconHeader is the subset of a beacon block header the walker needs.
type BeaconHeader struct {
	Slot uint64
}

// BeaconBlock is the subset of a beacon block body the walker needs to
// decide whether a slot is worth fetching execution data and sidecars for.
type BeaconBlock struct {
	Slot                 uint64
	Timestamp            uint64
	HasExecutionPayload  bool
	ExecutionBlockHash   common.Hash
	ExecutionBlockNumber uint64
	KZGCommitments       [][48]byte
}

// BlobSidecar is one blob returned by the beacon API's blob sidecars
// endpoint for a given slot.
type BlobSidecar struct {
	Index         uint64
	KZGCommitment [48]byte
	Blob          kzg4844.Blob
}

// BeaconSource is the seam the walker talks to. BeaconClient is the real
// HTTP implementation; tests substitute an in-memory fake.
type BeaconSource interface {
	HeadSlot(ctx context.Context) (uint64, error)
	Header(ctx context.Context, slot uint64) (*BeaconHeader, bool, error)
	Block(ctx context.Context, slot uint64) (*BeaconBlock, error)
	BlobSidecars(ctx context.Context, slot uint64) ([]BlobSidecar, error)
}

// errBeaconNotFound is the internal sentinel for a 404 from the beacon
// API, meaning the slot was missed (no block proposed).
var errBeaconNotFound = errors.New("sync: beacon returned 404")

// BeaconClient is a thin typed wrapper over the beacon node's REST API,
// generalized from pkg/ethereum/client.go's dial-once/typed-call shape:
// that file wraps an execution JSON-RPC endpoint, this wraps a beacon
// HTTP endpoint, but both are "parse just the fields this service needs
// out of a much larger upstream response."
type BeaconClient struct {
	baseURL string
	http    *http.Client
	logger  *log.Logger
}

// NewBeaconClient builds a client against baseURL (e.g. "http://localhost:5052").
func NewBeaconClient(baseURL string, logger *log.Logger) *BeaconClient {
	if logger == nil {
		logger = log.New(log.Writer(), "[BeaconClient] ", log.LstdFlags)
	}
	return &BeaconClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

func (c *BeaconClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("sync: build request %s: %w", path, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sync: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errBeaconNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sync: %s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("sync: decode %s response: %w", path, err)
	}
	return nil
}

// HeadSlot returns the current chain head slot.
func (c *BeaconClient) HeadSlot(ctx context.Context) (uint64, error) {
	var resp struct {
		Data struct {
			Header struct {
				Message struct {
					Slot string `json:"slot"`
				} `json:"message"`
			} `json:"header"`
		} `json:"data"`
	}
	if err := c.get(ctx, "/eth/v1/beacon/headers/head", &resp); err != nil {
		return 0, err
	}
	return strconv.ParseUint(resp.Data.Header.Message.Slot, 10, 64)
}

// Header reports whether slot has a proposed block, per
// /eth/v1/beacon/headers/{slot}. A 404 means the slot was missed.
func (c *BeaconClient) Header(ctx context.Context, slot uint64) (*BeaconHeader, bool, error) {
	var resp struct {
		Data struct {
			Header struct {
				Message struct {
					Slot string `json:"slot"`
				} `json:"message"`
			} `json:"header"`
		} `json:"data"`
	}
	err := c.get(ctx, fmt.Sprintf("/eth/v1/beacon/headers/%d", slot), &resp)
	if errors.Is(err, errBeaconNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &BeaconHeader{Slot: slot}, true, nil
}

// Block fetches a slot's block body via /eth/v2/beacon/blocks/{slot},
// decoding only the execution payload header and blob KZG commitments.
func (c *BeaconClient) Block(ctx context.Context, slot uint64) (*BeaconBlock, error) {
	var resp struct {
		Data struct {
			Message struct {
				Body struct {
					ExecutionPayload *struct {
						BlockHash   string `json:"block_hash"`
						BlockNumber string `json:"block_number"`
						Timestamp   string `json:"timestamp"`
					} `json:"execution_payload"`
					BlobKZGCommitments []string `json:"blob_kzg_commitments"`
				} `json:"body"`
			} `json:"message"`
		} `json:"data"`
	}
	err := c.get(ctx, fmt.Sprintf("/eth/v2/beacon/blocks/%d", slot), &resp)
	if errors.Is(err, errBeaconNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	block := &BeaconBlock{Slot: slot}
	payload := resp.Data.Message.Body.ExecutionPayload
	if payload == nil {
		return block, nil
	}
	block.HasExecutionPayload = true
	block.ExecutionBlockHash = common.HexToHash(payload.BlockHash)

	blockNumber, err := strconv.ParseUint(payload.BlockNumber, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("sync: parse block_number %q: %w", payload.BlockNumber, err)
	}
	block.ExecutionBlockNumber = blockNumber

	timestamp, err := strconv.ParseUint(payload.Timestamp, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("sync: parse timestamp %q: %w", payload.Timestamp, err)
	}
	block.Timestamp = timestamp

	for _, hex := range resp.Data.Message.Body.BlobKZGCommitments {
		var commitment [48]byte
		copy(commitment[:], common.FromHex(hex))
		block.KZGCommitments = append(block.KZGCommitments, commitment)
	}
	return block, nil
}

// BlobSidecars fetches a slot's sidecars via
// /eth/v1/beacon/blob_sidecars/{slot}.
func (c *BeaconClient) BlobSidecars(ctx context.Context, slot uint64) ([]BlobSidecar, error) {
	var resp struct {
		Data []struct {
			Index         string `json:"index"`
			KZGCommitment string `json:"kzg_commitment"`
			Blob          string `json:"blob"`
		} `json:"data"`
	}
	if err := c.get(ctx, fmt.Sprintf("/eth/v1/beacon/blob_sidecars/%d", slot), &resp); err != nil {
		return nil, err
	}

	out := make([]BlobSidecar, 0, len(resp.Data))
	for _, d := range resp.Data {
		idx, err := strconv.ParseUint(d.Index, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("sync: parse blob index %q: %w", d.Index, err)
		}
		var sc BlobSidecar
		sc.Index = idx
		copy(sc.KZGCommitment[:], common.FromHex(d.KZGCommitment))
		copy(sc.Blob[:], common.FromHex(d.Blob))
		out = append(out, sc)
	}
	return out, nil
}
