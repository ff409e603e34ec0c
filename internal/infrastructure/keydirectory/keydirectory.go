// Package keydirectory implements the read-only API-key → project_id lookup
// used by Ingress, with a two-tier cache in front of the metadata store.
package keydirectory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/bcrypt"

	apperrors "brokle/pkg/errors"
)

const (
	keyPrefix         = "ak_"
	minKeyLength      = 27
	maxKeyLength      = 128
	negativeCacheTTL  = 60 * time.Second
	defaultCacheSize  = 50_000
)

// ProjectKeyRecord is one row of the read-only metadata-store contract in
// §6: a project and the bcrypt-family verifier hash for its key.
type ProjectKeyRecord struct {
	ProjectID            string
	PasswordVerifierHash string
}

// MetadataStore is the external collaborator §6 fixes: a read-only listing
// of every project's stored key verifier.
type MetadataStore interface {
	LookupAllProjectKeys(ctx context.Context) ([]ProjectKeyRecord, error)
}

type cacheEntry struct {
	projectID string
	negative  bool
	expiresAt time.Time
}

// KeyDirectory resolves a presented API key to its authoritative project_id.
// The fast path is an LRU cache keyed by SHA-256(presented_key); the slow
// path runs a bcrypt comparison against every candidate verifier hash loaded
// from the metadata store, at most once per distinct key per process
// lifetime, per §4.2.
type KeyDirectory struct {
	store MetadataStore

	mu    sync.RWMutex
	cache *lru.Cache[string, cacheEntry]

	// verifiers is refreshed lazily on a cache miss; it holds the full set
	// of (project_id, verifier_hash) pairs the slow path checks against.
	verifiers   []ProjectKeyRecord
	verifiersAt time.Time
	refreshTTL  time.Duration

	lastSuccessfulOp time.Time
	opMu             sync.Mutex
}

// ErrUnknownKey is returned by Resolve when the key is malformed or does not
// match any project, per §4.2's UnknownKey outcome.
var ErrUnknownKey = apperrors.NewUnauthorizedError("unknown API key")

// New builds a KeyDirectory backed by store, with a fast-path cache of the
// given size (0 selects the default of 50,000 entries).
func New(store MetadataStore, cacheSize int) (*KeyDirectory, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, cacheEntry](cacheSize)
	if err != nil {
		return nil, apperrors.NewFatalError("keydirectory: failed to allocate cache", err)
	}
	return &KeyDirectory{
		store:      store,
		cache:      cache,
		refreshTTL: 30 * time.Second,
	}, nil
}

// Resolve maps presentedKey to its authoritative project_id, or ErrUnknownKey
// if it is malformed or unrecognized. Format checks happen before any cache
// or storage access, per §4.2.
func (d *KeyDirectory) Resolve(ctx context.Context, presentedKey string) (string, error) {
	if len(presentedKey) < minKeyLength || len(presentedKey) > maxKeyLength || !strings.HasPrefix(presentedKey, keyPrefix) {
		return "", ErrUnknownKey
	}

	fastKey := fastCacheKey(presentedKey)

	d.mu.RLock()
	entry, found := d.cache.Get(fastKey)
	d.mu.RUnlock()

	if found {
		if entry.negative && time.Now().After(entry.expiresAt) {
			// Negative cache entry expired (key rotation tolerance) — fall
			// through to the slow path again.
		} else if entry.negative {
			return "", ErrUnknownKey
		} else {
			return entry.projectID, nil
		}
	}

	projectID, err := d.slowPathVerify(ctx, presentedKey)
	if err != nil {
		if err == ErrUnknownKey {
			d.mu.Lock()
			d.cache.Add(fastKey, cacheEntry{negative: true, expiresAt: time.Now().Add(negativeCacheTTL)})
			d.mu.Unlock()
			return "", ErrUnknownKey
		}
		return "", err
	}

	d.mu.Lock()
	d.cache.Add(fastKey, cacheEntry{projectID: projectID})
	d.mu.Unlock()

	d.markSuccess()
	return projectID, nil
}

// slowPathVerify loads (and lazily refreshes) the verifier set from the
// metadata store and runs a bcrypt comparison per candidate. A real
// deployment would index verifiers by a key-id prefix to avoid the linear
// scan; the pipeline core leaves that indexing to the metadata store schema
// and treats the contract as the flat list §6 defines.
func (d *KeyDirectory) slowPathVerify(ctx context.Context, presentedKey string) (string, error) {
	verifiers, err := d.verifierSet(ctx)
	if err != nil {
		return "", err
	}

	for _, v := range verifiers {
		if bcrypt.CompareHashAndPassword([]byte(v.PasswordVerifierHash), []byte(presentedKey)) == nil {
			return v.ProjectID, nil
		}
	}
	return "", ErrUnknownKey
}

func (d *KeyDirectory) verifierSet(ctx context.Context) ([]ProjectKeyRecord, error) {
	d.mu.RLock()
	fresh := time.Since(d.verifiersAt) < d.refreshTTL && d.verifiers != nil
	cur := d.verifiers
	d.mu.RUnlock()
	if fresh {
		return cur, nil
	}

	records, err := d.store.LookupAllProjectKeys(ctx)
	if err != nil {
		return nil, apperrors.NewUnavailableError("keydirectory: metadata store lookup failed", 5, err)
	}

	d.mu.Lock()
	d.verifiers = records
	d.verifiersAt = time.Now()
	d.mu.Unlock()

	d.markSuccess()
	return records, nil
}

// LastSuccessfulOperation reports when Resolve last completed without an
// Unavailable error, for the /ready handler's 30s-freshness check.
func (d *KeyDirectory) LastSuccessfulOperation() time.Time {
	d.opMu.Lock()
	defer d.opMu.Unlock()
	return d.lastSuccessfulOp
}

func (d *KeyDirectory) markSuccess() {
	d.opMu.Lock()
	d.lastSuccessfulOp = time.Now()
	d.opMu.Unlock()
}

func fastCacheKey(presentedKey string) string {
	sum := sha256.Sum256([]byte(presentedKey))
	return hex.EncodeToString(sum[:])
}

// HashVerifier hashes a raw API key into the self-describing bcrypt verifier
// string the metadata store persists. Within this repository only the tests
// call it; no command or code path issues new keys.
func HashVerifier(rawKey string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("keydirectory: failed to hash verifier: %w", err)
	}
	return string(hash), nil
}
