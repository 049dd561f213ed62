// Package pairing implements the four-leg PIN challenge/response
// handshake of spec.md §4.8, producing a persisted client certificate.
// The PIN-derived AES key protects the handshake only; the control
// channel's key arrives separately with /launch.
package pairing

import (
	"crypto/aes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nestream/nestream/internal/nesterr"
)

const challengeSize = 16

// ClientRecord is a paired client's persisted identity: its certificate
// and the server-assigned unique ID, durable across restarts via
// internal/state.
type ClientRecord struct {
	ID          string
	Certificate []byte // DER-encoded X.509 certificate
}

// Session holds the in-progress state of one pairing attempt. A Session
// is discarded on any leg mismatch; the client record is persisted only
// after leg 4 succeeds, per spec.md §4.8.
type Session struct {
	id   string
	pin  string
	salt []byte
	cert *x509.Certificate

	aesKey           []byte
	clientChallenge  []byte
	serverChallenge  []byte
}

// Store persists ClientRecords across restarts. internal/state's
// store implements this.
type Store interface {
	SaveClient(ClientRecord) error
	DeleteClient(id string) error
}

// Manager runs pairing sessions keyed by a server-generated session ID.
type Manager struct {
	store Store

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager builds a pairing Manager backed by store.
func NewManager(store Store) *Manager {
	return &Manager{store: store, sessions: make(map[string]*Session)}
}

// BeginWithSalt is leg 1: the client sends its salt and public
// certificate; the server derives AES key = SHA-256(PIN || salt)[:16].
func (m *Manager) BeginWithSalt(pin string, salt []byte, certDER []byte) (sessionID string, err error) {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return "", nesterr.New(nesterr.KindCrypto, "pairing.BeginWithSalt", err)
	}

	hash := sha256.Sum256(append([]byte(pin), salt...))
	s := &Session{
		id:     uuid.NewString(),
		pin:    pin,
		salt:   salt,
		cert:   cert,
		aesKey: hash[:16],
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	return s.id, nil
}

// RespondToClientChallenge is leg 2: the client sends a 16-byte
// challenge encrypted under the AES key in ECB mode; the server
// decrypts it, generates its own challenge, and returns
// AES-ECB(serverChallenge || SHA256(clientChallenge)).
func (m *Manager) RespondToClientChallenge(sessionID string, encryptedChallenge []byte) ([]byte, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}
	if len(encryptedChallenge) != challengeSize {
		return nil, nesterr.New(nesterr.KindProtocol, "pairing.RespondToClientChallenge",
			fmt.Errorf("challenge wrong size (%d bytes)", len(encryptedChallenge)))
	}

	clientChallenge, err := ecbDecrypt(s.aesKey, encryptedChallenge)
	if err != nil {
		return nil, nesterr.New(nesterr.KindCrypto, "pairing.RespondToClientChallenge", err)
	}
	s.clientChallenge = clientChallenge

	serverChallenge := make([]byte, challengeSize)
	if _, err := rand.Read(serverChallenge); err != nil {
		return nil, nesterr.New(nesterr.KindCrypto, "pairing.RespondToClientChallenge", err)
	}
	s.serverChallenge = serverChallenge

	clientHash := sha256.Sum256(clientChallenge)
	plaintext := append(append([]byte{}, serverChallenge...), clientHash[:]...)

	encrypted, err := ecbEncrypt(s.aesKey, pad16(plaintext))
	if err != nil {
		return nil, nesterr.New(nesterr.KindCrypto, "pairing.RespondToClientChallenge", err)
	}
	return encrypted, nil
}

// VerifyClientResponse is leg 3: the client sends a signed hash of the
// server challenge. The server verifies the signature against the
// client's certificate public key.
func (m *Manager) VerifyClientResponse(sessionID string, serverChallengeHash, signature []byte) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}

	expectedHash := sha256.Sum256(s.serverChallenge)
	if string(expectedHash[:]) != string(serverChallengeHash) {
		return nesterr.New(nesterr.KindProtocol, "pairing.VerifyClientResponse",
			fmt.Errorf("server challenge hash mismatch"))
	}

	pub, ok := s.cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nesterr.New(nesterr.KindCrypto, "pairing.VerifyClientResponse",
			fmt.Errorf("unsupported client public key type"))
	}
	if err := verifyPKCS1v15(pub, serverChallengeHash, signature); err != nil {
		return nesterr.New(nesterr.KindCrypto, "pairing.VerifyClientResponse", err)
	}
	return nil
}

// CompleteWithSignedHash is leg 4: the server signs its own hash of the
// transaction and returns it for the client to verify; on success the
// client certificate is persisted.
func (m *Manager) CompleteWithSignedHash(sessionID string, serverKey *rsa.PrivateKey) ([]byte, ClientRecord, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, ClientRecord{}, err
	}

	hash := sha256.Sum256(append(s.clientChallenge, s.serverChallenge...))
	signature, err := signPKCS1v15(serverKey, hash[:])
	if err != nil {
		return nil, ClientRecord{}, nesterr.New(nesterr.KindCrypto, "pairing.CompleteWithSignedHash", err)
	}

	record := ClientRecord{ID: s.id, Certificate: s.cert.Raw}
	if err := m.store.SaveClient(record); err != nil {
		return nil, ClientRecord{}, nesterr.New(nesterr.KindConfig, "pairing.CompleteWithSignedHash", err)
	}

	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	return signature, record, nil
}

// Abort discards a pairing session on any leg mismatch without
// persisting a client record, per spec.md §4.8.
func (m *Manager) Abort(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

func (m *Manager) get(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, nesterr.New(nesterr.KindProtocol, "pairing.get", fmt.Errorf("unknown pairing session %q", sessionID))
	}
	return s, nil
}

// pad16 zero-pads plaintext to a multiple of the AES block size, since
// ECB mode per spec.md's literal wording carries no implicit padding
// scheme of its own.
func pad16(b []byte) []byte {
	if rem := len(b) % aes.BlockSize; rem != 0 {
		b = append(b, make([]byte, aes.BlockSize-rem)...)
	}
	return b
}
