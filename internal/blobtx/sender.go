// Copyright 2025 Certen Protocol
//
package blobtx

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/consensus/misc/eip4844"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/kzg4844"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
)

// ErrRateLimited is the fatal, non-retryable sentinel surfaced when the
// configured RPC reports it is throttling requests.
var ErrRateLimited = errors.New("blobtx: rate limited by RPC, not retrying")

// ErrReceiptMismatch is returned when a confirmed transaction's receipt
// doesn't match the expected sender, receiver, or blob gas usage.
var ErrReceiptMismatch = errors.New("blobtx: receipt verification failed")

// startFeePercentage is the first fee escalation multiplier applied to
// estimated fees: 111 means 11% above the RPC's own estimate.
const startFeePercentage = 111

// maxAttempts bounds the fee-escalation loop; looping instead of recursing
// keeps stack usage flat while preserving the same
// nonce-reuse/doubling-fee/one-second-sleep behavior across attempts.
const maxAttempts = 12

// blobTxGasLimit is a fixed execution gas limit for the empty-calldata
// blob carrier transaction (21000 base + headroom for the blob-carrying
// tx's slightly larger intrinsic cost).
const blobTxGasLimit = 30000

// Sender submits blob-transport payloads to an EIP-4844-capable chain,
// generalized from pkg/ethereum.Client's dial/nonce/gas-price wrapper and
// pkg/ethereum.Client.SendContractTransactionWithRetry's escalation loop.
type Sender struct {
	client       *ethclient.Client
	chainID      *big.Int
	privKey      *ecdsa.PrivateKey // nil => test mode, no network calls
	from         common.Address
	to           common.Address
	watchTimeout time.Duration
	logger       *log.Logger
}

// Config configures a Sender. An empty PrivKeyHex selects test mode: Send
// returns a zero hash without touching the network.
type Config struct {
	RPCURL       string
	PrivKeyHex   string
	ToAddr       common.Address
	WatchTimeout time.Duration
	Logger       *log.Logger
}

// NewSender builds a Sender. Unless cfg.PrivKeyHex is empty, it dials
// cfg.RPCURL, parses the signing key and resolves the chain ID; with an
// empty key it returns a test-mode Sender without dialing.
func NewSender(ctx context.Context, cfg Config) (*Sender, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[BlobSender] ", log.LstdFlags)
	}
	s := &Sender{to: cfg.ToAddr, watchTimeout: cfg.WatchTimeout, logger: logger}

	if cfg.PrivKeyHex == "" {
		return s, nil
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("blobtx: dial %s: %w", cfg.RPCURL, err)
	}
	privKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("blobtx: parse private key: %w", err)
	}
	chainID, err := client.NetworkID(ctx)
	if err != nil {
		return nil, fmt.Errorf("blobtx: resolve chain id: %w", err)
	}

	pubECDSA, ok := privKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("blobtx: derive public key")
	}

	s.client = client
	s.chainID = chainID
	s.privKey = privKey
	s.from = crypto.PubkeyToAddress(*pubECDSA)
	return s, nil
}

// TestMode reports whether the sender is running without a real signer.
func (s *Sender) TestMode() bool { return s.privKey == nil }

// Send packs payload into a blob, then submits it with fee-escalation
// retries.
func (s *Sender) Send(ctx context.Context, payload []byte) (common.Hash, error) {
	if s.TestMode() {
		return common.Hash{}, nil
	}

	blob, err := EncodeBlob(payload)
	if err != nil {
		return common.Hash{}, fmt.Errorf("blobtx: encode blob: %w", err)
	}
	commitment, err := kzg4844.BlobToCommitment(blob)
	if err != nil {
		return common.Hash{}, fmt.Errorf("blobtx: blob to commitment: %w", err)
	}
	proof, err := kzg4844.ComputeBlobProof(blob, commitment)
	if err != nil {
		return common.Hash{}, fmt.Errorf("blobtx: compute blob proof: %w", err)
	}
	versionedHash := kzg4844.CalcBlobHashV1(sha256.New(), &commitment)
	sidecar := &types.BlobTxSidecar{
		Blobs:       []kzg4844.Blob{*blob},
		Commitments: []kzg4844.Commitment{commitment},
		Proofs:      []kzg4844.Proof{proof},
	}

	nonce, err := s.client.PendingNonceAt(ctx, s.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("blobtx: fetch nonce: %w", err)
	}

	feePercentage := int64(startFeePercentage)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		hash, err := s.attempt(ctx, nonce, sidecar, []common.Hash{versionedHash}, feePercentage)
		if err == nil {
			return hash, nil
		}
		if errors.Is(err, ErrRateLimited) {
			return common.Hash{}, err
		}
		s.logger.Printf("blob tx attempt %d failed, escalating fee to %d%%: %v", attempt, feePercentage*2, err)
		feePercentage *= 2
		time.Sleep(time.Second)
	}
	return common.Hash{}, fmt.Errorf("blobtx: exhausted %d attempts without confirmation", maxAttempts)
}

// attempt builds, signs, and submits a single blob transaction at the
// given fee percentage, then watches for inclusion.
func (s *Sender) attempt(ctx context.Context, nonce uint64, sidecar *types.BlobTxSidecar, blobHashes []common.Hash, feePercentage int64) (common.Hash, error) {
	tip, feeCap, blobFeeCap, err := s.estimateFees(ctx, feePercentage)
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimate fees: %w", err)
	}

	tx := types.NewTx(&types.BlobTx{
		ChainID:    uint256FromBig(s.chainID),
		Nonce:      nonce,
		GasTipCap:  uint256FromBig(tip),
		GasFeeCap:  uint256FromBig(feeCap),
		Gas:        blobTxGasLimit,
		To:         s.to,
		BlobFeeCap: uint256FromBig(blobFeeCap),
		BlobHashes: blobHashes,
		Sidecar:    sidecar,
	})

	signer := types.NewCancunSigner(s.chainID)
	signedTx, err := types.SignTx(tx, signer, s.privKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}

	if err := s.client.SendTransaction(ctx, signedTx); err != nil {
		if isRateLimited(err) {
			return common.Hash{}, fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return common.Hash{}, fmt.Errorf("send tx: %w", err)
	}

	receipt, err := s.awaitInclusion(ctx, signedTx.Hash())
	if err != nil {
		return common.Hash{}, fmt.Errorf("await inclusion: %w", err)
	}

	if err := s.verifyReceipt(receipt, signedTx, signer); err != nil {
		return common.Hash{}, err
	}
	return signedTx.Hash(), nil
}

func (s *Sender) estimateFees(ctx context.Context, feePercentage int64) (tip, feeCap, blobFeeCap *big.Int, err error) {
	header, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("fetch head: %w", err)
	}
	tip, err = s.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("suggest tip: %w", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	feeCap = new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tip)

	excessBlobGas := uint64(0)
	if header.ExcessBlobGas != nil {
		excessBlobGas = *header.ExcessBlobGas
	}
	blobFeeCap = eip4844.CalcBlobFee(excessBlobGas)

	return scaleByPercentage(tip, feePercentage), scaleByPercentage(feeCap, feePercentage), scaleByPercentage(blobFeeCap, feePercentage), nil
}

func scaleByPercentage(v *big.Int, pct int64) *big.Int {
	scaled := new(big.Int).Mul(v, big.NewInt(pct))
	return scaled.Div(scaled, big.NewInt(100))
}

func (s *Sender) awaitInclusion(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	watchCtx, cancel := context.WithTimeout(ctx, s.watchTimeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		receipt, err := s.client.TransactionReceipt(watchCtx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-watchCtx.Done():
			return nil, fmt.Errorf("timed out waiting for receipt: %w", watchCtx.Err())
		case <-ticker.C:
		}
	}
}

// verifyReceipt checks sender, receiver, and blob gas usage against the
// submitted transaction. types.Receipt carries no From/To fields, so
// sender/receiver are recovered from the signed transaction itself rather
// than the receipt; this still catches a signing or nonce-reuse bug that
// produced the wrong transaction for this hash.
func (s *Sender) verifyReceipt(receipt *types.Receipt, signedTx *types.Transaction, signer types.Signer) error {
	if receipt == nil {
		return fmt.Errorf("%w: missing receipt", ErrReceiptMismatch)
	}
	sender, err := types.Sender(signer, signedTx)
	if err != nil {
		return fmt.Errorf("%w: recover sender: %v", ErrReceiptMismatch, err)
	}
	if sender != s.from {
		return fmt.Errorf("%w: from=%s want=%s", ErrReceiptMismatch, sender, s.from)
	}
	if signedTx.To() == nil || *signedTx.To() != s.to {
		return fmt.Errorf("%w: to mismatch", ErrReceiptMismatch)
	}
	if receipt.BlobGasUsed != params.BlobTxBlobGasPerBlob {
		return fmt.Errorf("%w: blob_gas_used=%d want=%d", ErrReceiptMismatch, receipt.BlobGasUsed, params.BlobTxBlobGasPerBlob)
	}
	return nil
}

func isRateLimited(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "too many requests")
}

func uint256FromBig(v *big.Int) *uint256.Int {
	out, _ := uint256.FromBig(v)
	return out
}
