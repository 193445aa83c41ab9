// Package credentials implements the Credential Store: resolves
// per-project provider credentials and keeps them sealed in
// non-pageable memory for the lifetime of the process, never letting
// plaintext reach a span, a cache entry, or the persisted providers
// table (spec §6, §9 Sanitization).
//
// Secrets at rest (the providers.credentials_cipher column) are encrypted
// with nacl/secretbox; secrets in memory are sealed with memguard so a
// core dump or swapped page never exposes plaintext.
package credentials

import (
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/nacl/secretbox"
)

// Identifier tags whose API key paid for an invocation: the project's own
// credential, or the gateway operator's shared ("vllora") credential. Used
// for cost attribution only, never for routing (glossary).
type Identifier string

const (
	IdentifierOwn    Identifier = "own"
	IdentifierVllora Identifier = "vllora"
)

// Resolution is the result of resolving a provider credential for one
// request. Secret holds the plaintext sealed in locked memory; callers
// must call Close when done with the resolution (typically at the end of
// the request).
type Resolution struct {
	Identifier Identifier
	secret     *memguard.LockedBuffer
}

// Secret returns a copy of the plaintext credential. The returned slice is
// ordinary (pageable) memory; callers must not retain it beyond the
// provider call that consumes it.
func (r *Resolution) Secret() []byte {
	if r == nil || r.secret == nil {
		return nil
	}
	b := r.secret.Bytes()
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Close wipes the sealed buffer. Idempotent.
func (r *Resolution) Close() {
	if r != nil && r.secret != nil {
		r.secret.Destroy()
		r.secret = nil
	}
}

// Store resolves per-project provider credentials. It is opaque to the
// rest of the core (§2): nothing outside this package ever sees plaintext.
type Store struct {
	mu     sync.RWMutex
	sealed map[string]*memguard.LockedBuffer // "project/provider" -> own credential
	vllora map[string]*memguard.LockedBuffer // "provider" -> shared fallback credential

	box *cipherBox
}

// NewStore constructs an empty Store. masterKey seals the at-rest cipher
// (providers.credentials_cipher) and must be 32 bytes; callers typically
// derive it from a KMS-managed secret at startup.
func NewStore(masterKey [32]byte) *Store {
	return &Store{
		sealed: make(map[string]*memguard.LockedBuffer),
		vllora: make(map[string]*memguard.LockedBuffer),
		box:    &cipherBox{key: masterKey},
	}
}

func key(projectID, provider string) string { return projectID + "/" + provider }

// PutOwn installs a project-owned credential (already decrypted by the
// caller, e.g. on load from the providers table).
func (s *Store) PutOwn(projectID, provider string, plaintext []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed[key(projectID, provider)] = memguard.NewBufferFromBytes(plaintext)
}

// PutVllora installs the operator-shared fallback credential for provider.
func (s *Store) PutVllora(provider string, plaintext []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vllora[provider] = memguard.NewBufferFromBytes(plaintext)
}

// Resolve returns the project's own credential for provider when one is
// configured, falling back to the operator-shared credential and tagging
// the Resolution accordingly. Returns an error if neither exists.
func (s *Store) Resolve(projectID, provider string) (*Resolution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if buf, ok := s.sealed[key(projectID, provider)]; ok {
		return &Resolution{Identifier: IdentifierOwn, secret: cloneBuffer(buf)}, nil
	}
	if buf, ok := s.vllora[provider]; ok {
		return &Resolution{Identifier: IdentifierVllora, secret: cloneBuffer(buf)}, nil
	}
	return nil, fmt.Errorf("credentials: no credential configured for provider %q", provider)
}

func cloneBuffer(buf *memguard.LockedBuffer) *memguard.LockedBuffer {
	return memguard.NewBufferFromBytes(buf.Bytes())
}

// Seal encrypts plaintext for storage in providers.credentials_cipher.
func (s *Store) Seal(plaintext []byte) ([]byte, error) {
	return s.box.seal(plaintext)
}

// Unseal decrypts a providers.credentials_cipher value.
func (s *Store) Unseal(ciphertext []byte) ([]byte, error) {
	return s.box.open(ciphertext)
}

// cipherBox wraps nacl/secretbox with a random nonce prefix per message.
type cipherBox struct {
	key [32]byte
}

func (c *cipherBox) seal(plaintext []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("credentials: generating nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &c.key), nil
}

func (c *cipherBox) open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 24 {
		return nil, fmt.Errorf("credentials: ciphertext too short")
	}
	var nonce [24]byte
	copy(nonce[:], ciphertext[:24])
	plaintext, ok := secretbox.Open(nil, ciphertext[24:], &nonce, &c.key)
	if !ok {
		return nil, fmt.Errorf("credentials: decryption failed")
	}
	return plaintext, nil
}
