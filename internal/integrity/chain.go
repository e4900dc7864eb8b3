// Package integrity computes and verifies the per-aggregate hash chain that
// makes silent alteration of diary history detectable. Each event's hash
// covers the previous event's hash plus the event's canonical bytes, so
// changing or removing any historical event invalidates every later hash.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"

	"golang.org/x/crypto/blake2b"

	"github.com/trialware/diarysync/internal/common"
	"github.com/trialware/diarysync/internal/event"
)

// GenesisHash is the fixed prev_hash of the first event of every aggregate.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// DefaultAlgorithm is used for new appends. Old events keep the algorithm
// tag they were written with, so the default can rotate without
// invalidating existing chains.
const DefaultAlgorithm = "sha256"

var algorithms = map[string]func() (hash.Hash, error){
	"sha256":      func() (hash.Hash, error) { return sha256.New(), nil },
	"blake2b-256": func() (hash.Hash, error) { return blake2b.New256(nil) },
}

// ChainHash returns hex(H(prevHash || canonical)) under the named algorithm.
func ChainHash(alg, prevHash string, canonical []byte) (string, error) {
	factory, ok := algorithms[alg]
	if !ok {
		return "", fmt.Errorf("%w: unknown hash algorithm %q", common.ErrValidation, alg)
	}
	h, err := factory()
	if err != nil {
		return "", err
	}
	h.Write([]byte(prevHash))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Compute derives the chain hash for an event given its predecessor's hash.
// The event's own HashAlg tag selects the algorithm; events written before
// a rotation verify under their original algorithm.
func Compute(e *event.Event, prevHash string) (string, error) {
	alg := e.HashAlg
	if alg == "" {
		alg = DefaultAlgorithm
	}
	canonical, err := event.CanonicalBytes(e)
	if err != nil {
		return "", err
	}
	return ChainHash(alg, prevHash, canonical)
}
