package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"idport.org/internal/obs"
	"idport.org/internal/store"
)

const (
	rsaKeyBits    = 2048
	jwkKeyPrefix  = "jwk:"
	signingKeyAlg = "RS256"
)

// JWK is one public JWKS entry. LastSignature tracks the most recent use so
// rotation can retire keys once every token they signed has expired.
type JWK struct {
	Kid           string `json:"kid"`
	Kty           string `json:"kty"`
	Alg           string `json:"alg"`
	Use           string `json:"use"`
	N             string `json:"n"`
	E             string `json:"e"`
	LastSignature int64  `json:"last_signature"`
}

// publicJWK is the wire form served at /.well-known/jwks.json.
type publicJWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// KeyManager owns the RSA signing-key lifecycle: lazy generation, JWKS
// publication and expiry-based retirement. Not internally synchronized; the
// owning service serializes access.
type KeyManager struct {
	gateway store.Gateway
	now     func() time.Time
	jwtTTL  time.Duration

	activeKid string
	private   *rsa.PrivateKey
	public    map[string]JWK
}

// NewKeyManager creates a manager; keys are generated on first signing use.
func NewKeyManager(gateway store.Gateway, jwtTTL time.Duration, now func() time.Time) *KeyManager {
	if now == nil {
		now = time.Now
	}
	return &KeyManager{
		gateway: gateway,
		now:     now,
		jwtTTL:  jwtTTL,
		public:  make(map[string]JWK),
	}
}

// Load restores persisted JWKS entries. Historical entries remain available
// for verifying tokens issued before a restart; the private key is never
// persisted, so a fresh one is generated on the next signature.
func (m *KeyManager) Load(ctx context.Context) error {
	recs, err := m.gateway.List(ctx, jwkKeyPrefix)
	if err != nil {
		return fmt.Errorf("list signing keys: %w", err)
	}
	for _, rec := range recs {
		var entry JWK
		if err := json.Unmarshal(rec.Value, &entry); err != nil {
			obs.Event("warn", "skipping undecodable signing key record", map[string]any{"key": rec.Key})
			continue
		}
		m.public[entry.Kid] = entry
	}
	return nil
}

// Active returns the current signing key, generating a fresh RSA-2048 pair and
// persisting its public entry on first use.
func (m *KeyManager) Active(ctx context.Context) (kid string, key *rsa.PrivateKey, err error) {
	if m.private != nil {
		return m.activeKid, m.private, nil
	}

	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return "", nil, fmt.Errorf("generate signing key: %w", err)
	}
	kid = uuid.NewString()
	entry := JWK{
		Kid:           kid,
		Kty:           "RSA",
		Alg:           signingKeyAlg,
		Use:           "sig",
		N:             base64.RawURLEncoding.EncodeToString(priv.N.Bytes()),
		E:             base64.RawURLEncoding.EncodeToString(big.NewInt(int64(priv.E)).Bytes()),
		LastSignature: m.now().Unix(),
	}
	if err := m.putEntry(ctx, entry); err != nil {
		return "", nil, err
	}
	m.activeKid = kid
	m.private = priv
	m.public[kid] = entry
	return kid, priv, nil
}

// Touch stamps the active key's last use and persists the updated entry.
func (m *KeyManager) Touch(ctx context.Context) error {
	entry, ok := m.public[m.activeKid]
	if !ok {
		return fmt.Errorf("active key %s missing from jwks map", m.activeKid)
	}
	entry.LastSignature = m.now().Unix()
	m.public[m.activeKid] = entry
	return m.putEntry(ctx, entry)
}

// VerificationKey reconstructs the RSA public key for the given kid.
func (m *KeyManager) VerificationKey(kid string) (*rsa.PublicKey, bool) {
	entry, ok := m.public[kid]
	if !ok {
		return nil, false
	}
	nBytes, err := base64.RawURLEncoding.DecodeString(entry.N)
	if err != nil {
		return nil, false
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(entry.E)
	if err != nil {
		return nil, false
	}
	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() <= 0 {
		return nil, false
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: int(e.Int64())}, true
}

// JWKS returns all current public entries for the discovery endpoint.
func (m *KeyManager) JWKS() []JWK {
	out := make([]JWK, 0, len(m.public))
	for _, entry := range m.public {
		out = append(out, entry)
	}
	return out
}

// MarshalJWKS serializes the published key set in standard JWKS form.
func (m *KeyManager) MarshalJWKS() ([]byte, error) {
	doc := struct {
		Keys []publicJWK `json:"keys"`
	}{Keys: make([]publicJWK, 0, len(m.public))}
	for _, entry := range m.public {
		doc.Keys = append(doc.Keys, publicJWK{
			Kid: entry.Kid, Kty: entry.Kty, Alg: entry.Alg, Use: entry.Use, N: entry.N, E: entry.E,
		})
	}
	return json.Marshal(doc)
}

// CleanupExpired retires every non-active key whose last signature is older
// than the JWT TTL: tokens it signed can no longer be valid. Per-item failures
// are logged and skipped so one bad record never aborts the sweep.
func (m *KeyManager) CleanupExpired(ctx context.Context) int {
	cutoff := m.now().Add(-m.jwtTTL).Unix()
	removed := 0
	for kid, entry := range m.public {
		if kid == m.activeKid {
			continue
		}
		if entry.LastSignature >= cutoff {
			continue
		}
		if err := m.gateway.Delete(ctx, jwkKeyPrefix+kid); err != nil {
			obs.Event("warn", "failed to delete retired signing key", map[string]any{"kid": kid, "error": err.Error()})
			continue
		}
		delete(m.public, kid)
		removed++
	}
	if removed > 0 {
		obs.CountKeysRemoved(removed)
	}
	return removed
}

func (m *KeyManager) putEntry(ctx context.Context, entry JWK) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := m.gateway.Put(ctx, jwkKeyPrefix+entry.Kid, data); err != nil {
		return fmt.Errorf("persist signing key %s: %w", entry.Kid, err)
	}
	return nil
}
