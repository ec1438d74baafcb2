package endpoint

import "testing"

func TestDeriveKeyIsDeterministic(t *testing.T) {
	a := DeriveKey("correct horse battery staple")
	b := DeriveKey("correct horse battery staple")
	if string(a) != string(b) {
		t.Fatal("expected DeriveKey to be deterministic for the same passphrase")
	}
	if len(a) != pbkdf2KeyLen {
		t.Fatalf("expected a %d-byte key, got %d", pbkdf2KeyLen, len(a))
	}
}

func TestDeriveKeyDiffersByPassphrase(t *testing.T) {
	a := DeriveKey("passphrase-one")
	b := DeriveKey("passphrase-two")
	if string(a) == string(b) {
		t.Fatal("expected different passphrases to derive different keys")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := DeriveKey("test-passphrase")
	ciphertext, err := EncryptText("owner=default", key)
	if err != nil {
		t.Fatalf("EncryptText: %v", err)
	}
	plaintext, err := DecryptText(ciphertext, key)
	if err != nil {
		t.Fatalf("DecryptText: %v", err)
	}
	if plaintext != "owner=default" {
		t.Fatalf("expected roundtrip to recover the plaintext, got %q", plaintext)
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	ciphertext, err := EncryptText("owner=default", DeriveKey("right-key"))
	if err != nil {
		t.Fatalf("EncryptText: %v", err)
	}
	if _, err := DecryptText(ciphertext, DeriveKey("wrong-key")); err == nil {
		t.Fatal("expected decryption with the wrong key to fail")
	}
}

func TestDecryptMalformedBase64Fails(t *testing.T) {
	if _, err := DecryptText("not-valid-base64!!", DeriveKey("k")); err == nil {
		t.Fatal("expected malformed base64 to fail")
	}
}

func TestEncryptProducesDifferentCiphertextEachCall(t *testing.T) {
	key := DeriveKey("same-key")
	a, err := EncryptText("owner=default", key)
	if err != nil {
		t.Fatalf("EncryptText: %v", err)
	}
	b, err := EncryptText("owner=default", key)
	if err != nil {
		t.Fatalf("EncryptText: %v", err)
	}
	if a == b {
		t.Fatal("expected a fresh random nonce to make each ciphertext distinct")
	}
}
