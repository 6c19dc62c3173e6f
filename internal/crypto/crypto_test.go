package crypto_test

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/arkiveio/arkive/internal/crypto"
)

func TestEncryptDecrypt(t *testing.T) {
	k := crypto.NewRandomKey()

	for _, size := range []int{0, 1, 15, 16, 17, 1023, 1<<16 + 7} {
		plaintext := make([]byte, size)
		if _, err := rand.Read(plaintext); err != nil {
			t.Fatal(err)
		}

		ciphertext, err := k.Encrypt(nil, plaintext)
		if err != nil {
			t.Fatal(err)
		}
		if len(ciphertext) != size+crypto.Extension {
			t.Fatalf("unexpected ciphertext length %d, want %d", len(ciphertext), size+crypto.Extension)
		}

		out := make([]byte, size)
		n, err := k.Decrypt(out, ciphertext)
		if err != nil {
			t.Fatal(err)
		}
		if n != size {
			t.Fatalf("unexpected plaintext length %d, want %d", n, size)
		}
		if !bytes.Equal(out, plaintext) {
			t.Fatalf("decrypted data does not match")
		}
	}
}

func TestDecryptTamperedFails(t *testing.T) {
	k := crypto.NewRandomKey()
	plaintext := []byte("hello, world")

	ciphertext, err := k.Encrypt(nil, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	ciphertext[len(ciphertext)-1] ^= 0xff

	out := make([]byte, len(plaintext))
	if _, err := k.Decrypt(out, ciphertext); err != crypto.ErrUnauthenticated {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	k1 := crypto.NewRandomKey()
	k2 := crypto.NewRandomKey()
	plaintext := []byte("hello, world")

	ciphertext, err := k1.Encrypt(nil, plaintext)
	if err != nil {
		t.Fatal(err)
	}

	out := make([]byte, len(plaintext))
	if _, err := k2.Decrypt(out, ciphertext); err != crypto.ErrUnauthenticated {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}
