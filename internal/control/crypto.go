package control

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"github.com/nestream/nestream/internal/nesterr"
)

// envelopeHeaderSize is the sequence number prefix: 4 bytes LE.
const envelopeHeaderSize = 4

// ivSize is the AES-GCM nonce size spec.md §4.6 specifies.
const ivSize = 12

// Cipher encrypts and decrypts control-channel payloads per spec.md
// §4.6: [4B seq LE][12B IV][ciphertext||16B tag], where the IV is the
// sequence number followed by the remote input key ID, padded to 12
// bytes. It also enforces the per-direction monotonic sequence
// invariant — a non-monotonic sequence is a fatal protocol error.
type Cipher struct {
	aead     cipher.AEAD
	keyID    []byte
	sendSeq  uint32
	haveRecv bool
	recvSeq  uint32
}

// NewCipher builds a Cipher from the 16-byte AES-GCM session key
// negotiated during pairing and the remote input key ID used to build
// the IV.
func NewCipher(key []byte, remoteInputKeyID []byte) (*Cipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nesterr.New(nesterr.KindCrypto, "control.NewCipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nesterr.New(nesterr.KindCrypto, "control.NewCipher", err)
	}
	return &Cipher{aead: aead, keyID: remoteInputKeyID}, nil
}

// iv builds the 12-byte nonce for sequence seq: the 4-byte sequence
// number followed by the remote input key ID, zero-padded to 12 bytes.
func (c *Cipher) iv(seq uint32) []byte {
	iv := make([]byte, ivSize)
	binary.LittleEndian.PutUint32(iv[0:4], seq)
	copy(iv[4:], c.keyID)
	return iv
}

// Seal encrypts plaintext under the next outbound sequence number and
// returns the full envelope ready to embed in a Frame payload.
func (c *Cipher) Seal(plaintext []byte) []byte {
	seq := c.sendSeq
	c.sendSeq++

	iv := c.iv(seq)
	ciphertext := c.aead.Seal(nil, iv, plaintext, nil)

	envelope := make([]byte, envelopeHeaderSize+ivSize+len(ciphertext))
	binary.LittleEndian.PutUint32(envelope[0:4], seq)
	copy(envelope[4:4+ivSize], iv)
	copy(envelope[4+ivSize:], ciphertext)
	return envelope
}

// Open decrypts an envelope produced by Seal (or a peer's matching
// encoder) and enforces that its sequence number is strictly greater
// than the last one accepted from this direction — spec.md §4.6 and
// invariant 5. A replayed or out-of-order sequence is returned as a
// nesterr.KindProtocol error and must not be treated as a recoverable
// decode failure.
func (c *Cipher) Open(envelope []byte) ([]byte, error) {
	if len(envelope) < envelopeHeaderSize+ivSize+c.aead.Overhead() {
		return nil, nesterr.New(nesterr.KindProtocol, "control.Open", fmt.Errorf("envelope too short (%d bytes)", len(envelope)))
	}
	seq := binary.LittleEndian.Uint32(envelope[0:4])
	iv := envelope[4 : 4+ivSize]
	ciphertext := envelope[4+ivSize:]

	if c.haveRecv && seq <= c.recvSeq {
		return nil, nesterr.New(nesterr.KindProtocol, "control.Open",
			fmt.Errorf("non-monotonic sequence: got %d, last accepted %d", seq, c.recvSeq))
	}

	plaintext, err := c.aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, nesterr.New(nesterr.KindCrypto, "control.Open", err)
	}

	c.haveRecv = true
	c.recvSeq = seq
	return plaintext, nil
}
