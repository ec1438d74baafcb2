/*
Copyright 2017 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package endpoint

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// pbkdf2Salt is the fixed application salt used to derive sidecar encryption
// keys from an operator-supplied passphrase. It is not a secret by itself -
// secrecy comes from encryption_key - but fixing it means two instances
// configured with the same passphrase derive the same key without needing to
// exchange a generated salt out of band.
var pbkdf2Salt = []byte("sherpa-dns/registry/txt-sidecar/v1")

const (
	pbkdf2Iterations = 100_000
	pbkdf2KeyLen     = 32
)

// DeriveKey turns an operator passphrase into a 32-byte AES-256 key via
// PBKDF2-HMAC-SHA256 with a fixed salt and 100,000 iterations.
func DeriveKey(passphrase string) []byte {
	return pbkdf2.Key([]byte(passphrase), pbkdf2Salt, pbkdf2Iterations, pbkdf2KeyLen, sha256.New)
}

// EncryptText encrypts a sidecar payload with AES-256-GCM under the supplied
// key, returning base64(nonce || ciphertext || tag). Payloads here are short
// ASCII key=value pairs well under the TXT string limit, so (unlike a
// generic blob store) no compression step is needed.
func EncryptText(text string, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(text), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptText reverses EncryptText. Any failure - bad base64, wrong key,
// truncated data, authentication failure - is returned as an error; callers
// must treat a decryption failure as "this sidecar is foreign", not as a
// fatal condition.
func DecryptText(text string, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return "", err
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext shorter than nonce (%d bytes)", nonceSize)
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
