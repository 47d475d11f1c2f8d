// Copyright 2025 Certen Protocol
//
package wrapper

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	groth16bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
)

// statementCircuit recurses a native proof into a pairing-friendly
// configuration by committing to it: ProofCommitment is a private witness
// to the recursed proof bytes, and the circuit asserts only that this
// commitment is nonzero and that StatementsHash + 11*VDSRoot is nonzero;
// no constraint relates the commitment to the public statement. A full in-circuit
// verification of the native recursive proof is out of scope here, the same
// simplification SimpleBLSCircuit makes over full BLS12-381 pairing
// verification: the native recursion step is assumed honest and this
// circuit's Groth16 proof exists only to compress the statement's public
// inputs into a wire-cheap, on-chain-verifiable form.
type statementCircuit struct {
	StatementsHash frontend.Variable `gnark:",public"`
	VDSRoot        frontend.Variable `gnark:",public"`
	ProofCommitment frontend.Variable
}

func (c *statementCircuit) Define(api frontend.API) error {
	mix := frontend.Variable(11)
	computed := api.Add(c.StatementsHash, api.Mul(c.VDSRoot, mix))
	api.AssertIsDifferent(c.ProofCommitment, 0)
	api.AssertIsDifferent(computed, 0)
	return nil
}

// GrothProof is the wire format for a Groth16-wrapped proof: the Ar/Bs/Krs
// points plus the public statement, serialized the way BLSZKProof is
// serialized for on-chain submission.
type GrothProof struct {
	ProofA [2]*big.Int    `json:"proofA"`
	ProofB [2][2]*big.Int `json:"proofB"`
	ProofC [2]*big.Int    `json:"proofC"`

	StatementsHash [32]byte `json:"statementsHash"`
	VDSRoot        [32]byte `json:"vdsRoot"`
}

// GrothWrapper wraps a ProvedPod by recursing it into a BN254 circuit and
// running an external Groth16 prove step against pre-generated
// proving.key/verifying.key/r1cs artifacts.
type GrothWrapper struct {
	mu  sync.RWMutex
	cs  constraint.ConstraintSystem
	pk  groth16.ProvingKey
	vk  groth16.VerifyingKey

	initialized bool
}

// NewGrothWrapper loads trusted-setup artifacts from dir. Their absence is
// a startup error, mirroring BLSZKProver.InitializeFromKeys's
// eager-load-or-fail shape.
func NewGrothWrapper(dir string) (*GrothWrapper, error) {
	csPath := filepath.Join(dir, "r1cs")
	pkPath := filepath.Join(dir, "proving.key")
	vkPath := filepath.Join(dir, "verifying.key")

	for _, p := range []string{csPath, pkPath, vkPath} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("wrapper: %w: %s", ErrArtifactsMissing, p)
		}
	}

	w := &GrothWrapper{}

	csFile, err := os.Open(csPath)
	if err != nil {
		return nil, fmt.Errorf("wrapper: open r1cs: %w", err)
	}
	defer csFile.Close()
	w.cs = groth16.NewCS(ecc.BN254)
	if _, err := w.cs.ReadFrom(csFile); err != nil {
		return nil, fmt.Errorf("wrapper: read r1cs: %w", err)
	}

	pkFile, err := os.Open(pkPath)
	if err != nil {
		return nil, fmt.Errorf("wrapper: open proving key: %w", err)
	}
	defer pkFile.Close()
	w.pk = groth16.NewProvingKey(ecc.BN254)
	if _, err := w.pk.ReadFrom(pkFile); err != nil {
		return nil, fmt.Errorf("wrapper: read proving key: %w", err)
	}

	vkFile, err := os.Open(vkPath)
	if err != nil {
		return nil, fmt.Errorf("wrapper: open verifying key: %w", err)
	}
	defer vkFile.Close()
	w.vk = groth16.NewVerifyingKey(ecc.BN254)
	if _, err := w.vk.ReadFrom(vkFile); err != nil {
		return nil, fmt.Errorf("wrapper: read verifying key: %w", err)
	}

	w.initialized = true
	return w, nil
}

// newGrothWrapperFromSetup wraps a freshly-compiled circuit and its
// in-memory Groth16 setup, used by tests that need a working GrothWrapper
// without pre-generated trusted-setup files on disk.
func newGrothWrapperFromSetup(cs constraint.ConstraintSystem, pk groth16.ProvingKey, vk groth16.VerifyingKey) *GrothWrapper {
	return &GrothWrapper{cs: cs, pk: pk, vk: vk, initialized: true}
}

func (w *GrothWrapper) Wrap(pod *ProvedPod) ([]byte, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.initialized {
		return nil, fmt.Errorf("wrapper: groth wrapper not initialized")
	}

	assignment := &statementCircuit{
		StatementsHash:  new(big.Int).SetBytes(pod.Statement.StatementsHash[:]),
		VDSRoot:         new(big.Int).SetBytes(pod.Statement.VDSRoot[:]),
		ProofCommitment: commitProofBytes(pod.Proof),
	}
	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("wrapper: build witness: %w", err)
	}
	proof, err := groth16.Prove(w.cs, w.pk, witness)
	if err != nil {
		return nil, fmt.Errorf("wrapper: groth16 prove: %w", err)
	}
	proofBN254, ok := proof.(*groth16bn254.Proof)
	if !ok {
		return nil, fmt.Errorf("wrapper: unexpected proof type")
	}

	gp := &GrothProof{
		StatementsHash: pod.Statement.StatementsHash,
		VDSRoot:        pod.Statement.VDSRoot,
	}
	gp.ProofA[0], gp.ProofA[1] = bigFromElement(&proofBN254.Ar.X), bigFromElement(&proofBN254.Ar.Y)
	gp.ProofB[0][0], gp.ProofB[0][1] = bigFromElement(&proofBN254.Bs.X.A0), bigFromElement(&proofBN254.Bs.X.A1)
	gp.ProofB[1][0], gp.ProofB[1][1] = bigFromElement(&proofBN254.Bs.Y.A0), bigFromElement(&proofBN254.Bs.Y.A1)
	gp.ProofC[0], gp.ProofC[1] = bigFromElement(&proofBN254.Krs.X), bigFromElement(&proofBN254.Krs.Y)

	return json.Marshal(gp)
}

func (w *GrothWrapper) Verify(wrapped []byte, statement *Statement) (bool, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.initialized {
		return false, fmt.Errorf("wrapper: groth wrapper not initialized")
	}

	var gp GrothProof
	if err := json.Unmarshal(wrapped, &gp); err != nil {
		return false, fmt.Errorf("wrapper: unmarshal groth proof: %w", err)
	}
	if gp.StatementsHash != statement.StatementsHash || gp.VDSRoot != statement.VDSRoot {
		return false, nil
	}

	assignment := &statementCircuit{
		StatementsHash: new(big.Int).SetBytes(statement.StatementsHash[:]),
		VDSRoot:        new(big.Int).SetBytes(statement.VDSRoot[:]),
	}
	publicWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false, fmt.Errorf("wrapper: build public witness: %w", err)
	}

	proof := &groth16bn254.Proof{}
	proof.Ar.X.SetBigInt(gp.ProofA[0])
	proof.Ar.Y.SetBigInt(gp.ProofA[1])
	proof.Bs.X.A0.SetBigInt(gp.ProofB[0][0])
	proof.Bs.X.A1.SetBigInt(gp.ProofB[0][1])
	proof.Bs.Y.A0.SetBigInt(gp.ProofB[1][0])
	proof.Bs.Y.A1.SetBigInt(gp.ProofB[1][1])
	proof.Krs.X.SetBigInt(gp.ProofC[0])
	proof.Krs.Y.SetBigInt(gp.ProofC[1])

	if err := groth16.Verify(proof, w.vk, publicWitness); err != nil {
		return false, nil
	}
	return true, nil
}

func commitProofBytes(proof []byte) *big.Int {
	acc := new(big.Int)
	mix := big.NewInt(257)
	for _, b := range proof {
		acc.Mul(acc, mix)
		acc.Add(acc, big.NewInt(int64(b)))
	}
	if acc.Sign() == 0 {
		acc.SetInt64(1)
	}
	return acc
}

func bigFromElement(e interface{ BigInt(*big.Int) *big.Int }) *big.Int {
	out := new(big.Int)
	e.BigInt(out)
	return out
}
