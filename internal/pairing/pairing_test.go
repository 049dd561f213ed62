package pairing

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	saved   []ClientRecord
	deleted []string
}

func (m *memStore) SaveClient(r ClientRecord) error {
	m.saved = append(m.saved, r)
	return nil
}

func (m *memStore) DeleteClient(id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

func selfSignedCert(t *testing.T) ([]byte, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test-client"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return der, key
}

// TestFullFourLegExchange exercises spec.md §4.8's handshake end to
// end and checks the client record is persisted only after leg 4.
func TestFullFourLegExchange(t *testing.T) {
	certDER, clientKey := selfSignedCert(t)
	store := &memStore{}
	m := NewManager(store)

	salt := []byte("0123456789abcdef")
	sessionID, err := m.BeginWithSalt("1234", salt, certDER)
	require.NoError(t, err)
	assert.Empty(t, store.saved)

	m.mu.Lock()
	sess := m.sessions[sessionID]
	m.mu.Unlock()

	clientChallenge := make([]byte, challengeSize)
	_, err = rand.Read(clientChallenge)
	require.NoError(t, err)
	encChallenge, err := ecbEncrypt(sess.aesKey, clientChallenge)
	require.NoError(t, err)

	encResponse, err := m.RespondToClientChallenge(sessionID, encChallenge)
	require.NoError(t, err)

	decrypted, err := ecbDecrypt(sess.aesKey, encResponse)
	require.NoError(t, err)
	serverChallenge := decrypted[:challengeSize]
	gotClientHash := decrypted[challengeSize : challengeSize+sha256.Size]
	wantClientHash := sha256.Sum256(clientChallenge)
	assert.Equal(t, wantClientHash[:], gotClientHash)
	_ = serverChallenge

	serverChallengeHash := sha256.Sum256(sess.serverChallenge)
	sig, err := signPKCS1v15(clientKey, serverChallengeHash[:])
	require.NoError(t, err)

	err = m.VerifyClientResponse(sessionID, serverChallengeHash[:], sig)
	require.NoError(t, err)

	serverKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	_, record, err := m.CompleteWithSignedHash(sessionID, serverKey)
	require.NoError(t, err)
	require.Len(t, store.saved, 1)
	assert.Equal(t, record.ID, store.saved[0].ID)
}

// TestMismatchedSignatureRejected checks that a leg-3 signature from the
// wrong key is rejected and that the aborted session persists no client
// record.
func TestMismatchedSignatureRejected(t *testing.T) {
	certDER, _ := selfSignedCert(t)
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	store := &memStore{}
	m := NewManager(store)

	sessionID, err := m.BeginWithSalt("1234", []byte("saltsaltsaltsalt"), certDER)
	require.NoError(t, err)

	m.mu.Lock()
	sess := m.sessions[sessionID]
	m.mu.Unlock()

	clientChallenge := make([]byte, challengeSize)
	encChallenge, err := ecbEncrypt(sess.aesKey, clientChallenge)
	require.NoError(t, err)
	_, err = m.RespondToClientChallenge(sessionID, encChallenge)
	require.NoError(t, err)

	m.mu.Lock()
	sess = m.sessions[sessionID]
	m.mu.Unlock()
	serverChallengeHash := sha256.Sum256(sess.serverChallenge)

	badSig, err := signPKCS1v15(otherKey, serverChallengeHash[:])
	require.NoError(t, err)

	err = m.VerifyClientResponse(sessionID, serverChallengeHash[:], badSig)
	require.Error(t, err)

	m.Abort(sessionID)
	assert.Empty(t, store.saved)
}
