// Copyright 2025 Certen Protocol
//
package config

import (
	"strings"
	"testing"
)

func setEnv(t *testing.T, key, value string) {
	t.Helper()
	t.Setenv(key, value)
}

func TestLoadCoordinatorDefaults(t *testing.T) {
	cfg := LoadCoordinator()
	if cfg.ProofType != "plonky2" {
		t.Fatalf("expected default proof type plonky2, got %q", cfg.ProofType)
	}
	if len(cfg.Groups) != 3 {
		t.Fatalf("expected default group list of 3, got %v", cfg.Groups)
	}
	if cfg.WorkerPoolSize != 4 {
		t.Fatalf("expected default worker pool size 4, got %d", cfg.WorkerPoolSize)
	}
}

func TestCoordinatorValidateRequiresFields(t *testing.T) {
	cfg := &Coordinator{ProofType: "plonky2", Groups: []string{"red"}, WorkerPoolSize: 1}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for missing RPC_URL/TO_ADDR/PROVER_URL")
	}
	for _, want := range []string{"RPC_URL", "TO_ADDR", "PROVER_URL"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected validation error to mention %s, got: %v", want, err)
		}
	}
}

func TestCoordinatorValidateGroth16RequiresSetupDir(t *testing.T) {
	cfg := &Coordinator{
		RPCURL: "http://x", ToAddr: "0xabc", ProofType: "groth16",
		Groups: []string{"red"}, ProverURL: "http://p", WorkerPoolSize: 1,
	}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "GROTH_SETUP_DIR") {
		t.Fatalf("expected GROTH_SETUP_DIR error, got %v", err)
	}
}

func TestCoordinatorValidateRejectsMalformedVDSRoot(t *testing.T) {
	cfg := &Coordinator{
		RPCURL: "http://x", ToAddr: "0xabc", ProofType: "plonky2",
		Groups: []string{"red"}, ProverURL: "http://p", WorkerPoolSize: 1,
		VDSRoot: "not-hex",
	}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "VDS_ROOT") {
		t.Fatalf("expected VDS_ROOT error, got %v", err)
	}
}

func TestDecodeVDSRootEmptyIsZero(t *testing.T) {
	cfg := &Coordinator{}
	root, err := cfg.DecodeVDSRoot()
	if err != nil {
		t.Fatalf("DecodeVDSRoot: %v", err)
	}
	if root != ([32]byte{}) {
		t.Fatalf("expected zero hash for empty VDSRoot, got %x", root)
	}
}

func TestDecodeVDSRootParsesHexWithAndWithoutPrefix(t *testing.T) {
	hash := strings.Repeat("ab", 32)
	for _, s := range []string{hash, "0x" + hash} {
		cfg := &Coordinator{VDSRoot: s}
		root, err := cfg.DecodeVDSRoot()
		if err != nil {
			t.Fatalf("DecodeVDSRoot(%q): %v", s, err)
		}
		if root[0] != 0xab {
			t.Fatalf("DecodeVDSRoot(%q): expected leading byte 0xab, got %x", s, root[0])
		}
	}
}

func TestGetEnvCSVTrimsAndFiltersEmpty(t *testing.T) {
	setEnv(t, "TEST_CSV_FIELD", " alpha , beta,,gamma ")
	got := getEnvCSV("TEST_CSV_FIELD", nil)
	want := []string{"alpha", "beta", "gamma"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestGetEnvCSVFallsBackToDefault(t *testing.T) {
	got := getEnvCSV("TEST_CSV_FIELD_UNSET", []string{"fallback"})
	if len(got) != 1 || got[0] != "fallback" {
		t.Fatalf("expected fallback default, got %v", got)
	}
}

func TestSynchronizerValidateRequiresGroupsAndProofType(t *testing.T) {
	cfg := &Synchronizer{BeaconURL: "http://b", RPCURL: "http://r", ToAddr: "0xabc", ProofType: "bogus"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"GROUPS", "PROOF_TYPE"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %s, got: %v", want, err)
		}
	}
}
