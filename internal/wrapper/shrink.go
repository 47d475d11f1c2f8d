// Copyright 2025 Certen Protocol
//
package wrapper

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"
	"sync"
)

// NativeRecursor performs the native prover's shrink recursion: one extra
// proof over the common circuit data that strips custom gates and
// zero-knowledge padding. The native proving system itself lives outside
// this module; this package only decides when it runs and compresses its
// output to the smallest wire form.
type NativeRecursor interface {
	Recurse(pod *ProvedPod) ([]byte, error)
	VerifyRecursed(shrunk []byte, statement *Statement) (bool, error)
}

// ShrinkWrapper wraps a ProvedPod with one extra native recursion plus
// flate compression. It holds the NativeRecursor passed to
// NewShrinkWrapper behind a mutex and an initialized flag; it builds and
// caches no circuit data of its own, since the recursion runs inside the
// recursor.
type ShrinkWrapper struct {
	mu          sync.Mutex
	recursor    NativeRecursor
	initialized bool
}

// NewShrinkWrapper binds a shrink wrapper to its native recursor. A nil
// recursor is a startup error, mirroring the missing-trusted-setup
// failure mode of NewGrothWrapper.
func NewShrinkWrapper(recursor NativeRecursor) (*ShrinkWrapper, error) {
	if recursor == nil {
		return nil, fmt.Errorf("wrapper: %w: no native recursor configured", ErrArtifactsMissing)
	}
	return &ShrinkWrapper{recursor: recursor, initialized: true}, nil
}

// Wrap runs the shrink recursion and compresses its output.
func (w *ShrinkWrapper) Wrap(pod *ProvedPod) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.initialized {
		return nil, fmt.Errorf("wrapper: shrink wrapper not initialized")
	}
	shrunk, err := w.recursor.Recurse(pod)
	if err != nil {
		return nil, fmt.Errorf("wrapper: shrink recursion: %w", err)
	}
	return compressBytes(shrunk)
}

// Verify decompresses a wrapped proof and checks it against statement.
func (w *ShrinkWrapper) Verify(wrapped []byte, statement *Statement) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.initialized {
		return false, fmt.Errorf("wrapper: shrink wrapper not initialized")
	}
	shrunk, err := decompressBytes(wrapped)
	if err != nil {
		return false, fmt.Errorf("wrapper: decompress shrunk proof: %w", err)
	}
	return w.recursor.VerifyRecursed(shrunk, statement)
}

func compressBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("wrapper: new flate writer: %w", err)
	}
	if _, err := fw.Write(b); err != nil {
		return nil, fmt.Errorf("wrapper: flate write: %w", err)
	}
	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("wrapper: flate close: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressBytes(b []byte) ([]byte, error) {
	fr := flate.NewReader(bytes.NewReader(b))
	defer fr.Close()
	out, err := io.ReadAll(fr)
	if err != nil {
		return nil, fmt.Errorf("wrapper: flate read: %w", err)
	}
	return out, nil
}
