package mechanism

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// how long state and nonce survive in cookie storage before the
// callback must have arrived
const loginFlowMaxAge = 10 * time.Minute

// StateManager handles the value binding the authorization request
// to this client session.
type StateManager struct {
	storage Storage
}

// New returns a fresh unguessable state value.
func (m *StateManager) New() string {
	return uuid.NewString()
}

func (m *StateManager) Store(w http.ResponseWriter, r *http.Request, state string) {
	m.storage.Store(w, r, stateKey, state, loginFlowMaxAge)
}

func (m *StateManager) Get(r *http.Request) (string, bool) {
	return m.storage.Get(r, stateKey)
}

func (m *StateManager) Remove(w http.ResponseWriter, r *http.Request) {
	m.storage.Remove(w, r, stateKey)
}

// NonceManager handles the replay protection value. Only the hash
// of the nonce is put on the wire, the raw value stays client side.
type NonceManager struct {
	storage Storage
}

// New returns 32 bytes of randomness, raw base64url encoded.
func (m *NonceManager) New() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand does not fail on supported platforms
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func (m *NonceManager) Store(w http.ResponseWriter, r *http.Request, nonce string) {
	m.storage.Store(w, r, nonceKey, nonce, loginFlowMaxAge)
}

func (m *NonceManager) Get(r *http.Request) (string, bool) {
	return m.storage.Get(r, nonceKey)
}

func (m *NonceManager) Remove(w http.ResponseWriter, r *http.Request) {
	m.storage.Remove(w, r, nonceKey)
}

// NonceHash is the value sent to the provider and expected back in
// the ID token: the SHA-256 digest of the nonce's ASCII bytes, raw
// base64url encoded.
func NonceHash(nonce string) string {
	sum := sha256.Sum256([]byte(nonce))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
