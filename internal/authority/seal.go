package authority

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	sealIVLen  = 12
	sealTagLen = 16
	minSealLen = sealIVLen + sealTagLen
)

// sealKey encrypts key material at rest using AES-256-GCM with the
// master key. Output format: iv(12) || ciphertext+tag
func sealKey(masterKey [32]byte, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(masterKey[:])
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	iv := make([]byte, sealIVLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generate IV: %w", err)
	}

	ct := gcm.Seal(nil, iv, plaintext, nil)

	out := make([]byte, 0, sealIVLen+len(ct))
	out = append(out, iv...)
	out = append(out, ct...)
	return out, nil
}

// openKey decrypts data sealed with sealKey.
// Input format: iv(12) || ciphertext+tag
func openKey(masterKey [32]byte, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < minSealLen {
		return nil, errors.New("ciphertext too short")
	}

	iv := ciphertext[:sealIVLen]
	ct := ciphertext[sealIVLen:]

	block, err := aes.NewCipher(masterKey[:])
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, iv, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}
