package pairing

import (
	"crypto"
	"crypto/aes"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
)

// ecbEncrypt encrypts plaintext (already a multiple of the AES block
// size) under key in ECB mode, per spec.md §4.8's literal "AES ECB"
// wording for pairing leg 2. ECB has no IV; each block is independent.
func ecbEncrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(plaintext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("pairing: plaintext not a multiple of the block size")
	}
	ciphertext := make([]byte, len(plaintext))
	for i := 0; i < len(plaintext); i += aes.BlockSize {
		block.Encrypt(ciphertext[i:i+aes.BlockSize], plaintext[i:i+aes.BlockSize])
	}
	return ciphertext, nil
}

// ecbDecrypt is the inverse of ecbEncrypt.
func ecbDecrypt(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("pairing: ciphertext not a multiple of the block size")
	}
	plaintext := make([]byte, len(ciphertext))
	for i := 0; i < len(ciphertext); i += aes.BlockSize {
		block.Decrypt(plaintext[i:i+aes.BlockSize], ciphertext[i:i+aes.BlockSize])
	}
	return plaintext, nil
}

// verifyPKCS1v15 verifies a signature over hash (already a SHA-256
// digest) against pub.
func verifyPKCS1v15(pub *rsa.PublicKey, hash, signature []byte) error {
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, hash, signature)
}

// signPKCS1v15 signs a SHA-256 digest with priv.
func signPKCS1v15(priv *rsa.PrivateKey, hash []byte) ([]byte, error) {
	return rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, hash)
}
