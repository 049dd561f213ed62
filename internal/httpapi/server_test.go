package httpapi

import (
	"context"
	"crypto"
	"crypto/aes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/xml"
	"math/big"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestream/nestream/internal/pairing"
	"github.com/nestream/nestream/internal/session"
)

type fakeStore struct {
	uniqueID string
	clients  map[string]pairing.ClientRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{uniqueID: "server-uuid-1", clients: make(map[string]pairing.ClientRecord)}
}

func (s *fakeStore) UniqueID() string { return s.uniqueID }
func (s *fakeStore) Client(id string) (pairing.ClientRecord, bool, error) {
	r, ok := s.clients[id]
	return r, ok, nil
}
func (s *fakeStore) DeleteClient(id string) error {
	delete(s.clients, id)
	return nil
}
func (s *fakeStore) SaveClient(r pairing.ClientRecord) error {
	s.clients[r.ID] = r
	return nil
}

func selfSignedCert(t *testing.T) ([]byte, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return der, key
}

func ecbEncrypt(t *testing.T, key, plaintext []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	require.Zero(t, len(plaintext)%aes.BlockSize)
	out := make([]byte, len(plaintext))
	for i := 0; i < len(plaintext); i += aes.BlockSize {
		block.Encrypt(out[i:i+aes.BlockSize], plaintext[i:i+aes.BlockSize])
	}
	return out
}

func ecbDecrypt(t *testing.T, key, ciphertext []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	require.Zero(t, len(ciphertext)%aes.BlockSize)
	out := make([]byte, len(ciphertext))
	for i := 0; i < len(ciphertext); i += aes.BlockSize {
		block.Decrypt(out[i:i+aes.BlockSize], ciphertext[i:i+aes.BlockSize])
	}
	return out
}

func newTestServer(t *testing.T) (*Server, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	serverCertDER, serverKey := selfSignedCert(t)
	sessionMgr := session.NewManager(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sessionMgr.Run(ctx)
	s := New(Config{
		Store:       store,
		Pairing:     pairing.NewManager(store),
		Session:     sessionMgr,
		Identity:    ServerIdentity{Key: serverKey, Cert: serverCertDER},
		PINProvider: func(string) (string, error) { return "1234", nil },
	})
	return s, store
}

func TestServerInfoReportsState(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/serverinfo", nil)
	rec := httptest.NewRecorder()
	s.handleServerInfo(rec, req)

	var info ServerInfo
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "server-uuid-1", info.UniqueID)
	assert.Equal(t, "idle", info.State)
	assert.Equal(t, 0, info.PairStatus)
}

// TestFullPairingFlowOverHTTP drives all four /pair legs as a real
// GameStream client would and checks the client record is only
// persisted once leg 4 completes.
func TestFullPairingFlowOverHTTP(t *testing.T) {
	s, store := newTestServer(t)
	certDER, clientKey := selfSignedCert(t)
	const clientID = "client-1"
	const pin = "1234"
	salt := []byte("saltsaltsaltsalt")

	q1 := url.Values{
		"uniqueid":   {clientID},
		"phrase":     {"getservercert"},
		"salt":       {hex.EncodeToString(salt)},
		"clientcert": {hex.EncodeToString(certDER)},
	}
	rec := httptest.NewRecorder()
	s.handlePair(rec, httptest.NewRequest("GET", "/pair?"+q1.Encode(), nil))
	var r1 PairResponse
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &r1))
	require.Equal(t, 1, r1.Paired)
	require.NotEmpty(t, r1.PlainCert)

	hash := sha256.Sum256(append([]byte(pin), salt...))
	aesKey := hash[:16]

	clientChallenge := make([]byte, 16)
	_, err := rand.Read(clientChallenge)
	require.NoError(t, err)
	encChallenge := ecbEncrypt(t, aesKey, clientChallenge)

	q2 := url.Values{"uniqueid": {clientID}, "clientchallenge": {hex.EncodeToString(encChallenge)}}
	rec = httptest.NewRecorder()
	s.handlePair(rec, httptest.NewRequest("GET", "/pair?"+q2.Encode(), nil))
	var r2 PairResponse
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &r2))
	require.Equal(t, 1, r2.Paired)

	encResp, err := hex.DecodeString(r2.ChallengeResponse)
	require.NoError(t, err)
	decrypted := ecbDecrypt(t, aesKey, encResp)
	serverChallenge := decrypted[:16]
	serverChallengeHash := sha256.Sum256(serverChallenge)

	sig, err := rsa.SignPKCS1v15(rand.Reader, clientKey, crypto.SHA256, serverChallengeHash[:])
	require.NoError(t, err)

	blob := append(append([]byte{}, serverChallengeHash[:]...), sig...)
	q3 := url.Values{"uniqueid": {clientID}, "serverchallengeresp": {hex.EncodeToString(blob)}}
	rec = httptest.NewRecorder()
	s.handlePair(rec, httptest.NewRequest("GET", "/pair?"+q3.Encode(), nil))
	var r3 PairResponse
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &r3))
	require.Equal(t, 1, r3.Paired)

	require.Empty(t, store.clients, "no client persisted before leg 4")

	q4 := url.Values{"uniqueid": {clientID}, "clientpairingsecret": {"00"}}
	rec = httptest.NewRecorder()
	s.handlePair(rec, httptest.NewRequest("GET", "/pair?"+q4.Encode(), nil))
	var r4 PairResponse
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &r4))
	require.Equal(t, 1, r4.Paired)

	require.Len(t, store.clients, 1, "client persisted after leg 4")
}

func TestLaunchReturns503WhenBusy(t *testing.T) {
	s, _ := newTestServer(t)
	require.NoError(t, s.cfg.Session.BeginPairing("client-1"))
	require.NoError(t, s.cfg.Session.CompletePairing(nil, nil))
	_, err := s.cfg.Session.Launch(session.Context{})
	require.NoError(t, err)
	require.NoError(t, s.cfg.Session.StartStreaming())

	rec := httptest.NewRecorder()
	s.handleLaunch(rec, httptest.NewRequest("GET", "/launch?mode=60", nil))
	assert.Equal(t, 503, rec.Code)
}
