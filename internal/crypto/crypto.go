// Package crypto implements the repository's AEAD: AES-256-CTR for
// confidentiality plus Poly1305-AES128 for authentication, the same
// construction restic uses. Algorithm design is out of this module's core
// scope; this package exists only so the pack/backend layers have a real,
// working cipher to call rather than a stub.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"

	"golang.org/x/crypto/poly1305"

	"github.com/arkiveio/arkive/internal/errors"
)

const (
	aesKeySize  = 32
	macKeySizeK = 16
	macKeySizeR = 16
	ivSize      = aes.BlockSize
	macSize     = poly1305.TagSize

	// Extension is the number of bytes a plaintext grows by when encrypted:
	// IV prefix plus MAC suffix.
	Extension = ivSize + macSize
)

// ErrUnauthenticated is returned when ciphertext verification fails.
var ErrUnauthenticated = errors.New("ciphertext verification failed")

// EncryptionKey is an AES-256 key.
type EncryptionKey [32]byte

// MACKey holds the AES-128 and Poly1305 components of a Poly1305-AES128 key.
type MACKey struct {
	K      [16]byte
	R      [16]byte
	masked bool
}

// Key holds the full encrypt+authenticate key pair for a repository.
type Key struct {
	MACKey        `json:"mac"`
	EncryptionKey `json:"encrypt"`
}

var poly1305KeyMask = [16]byte{
	0xff, 0xff, 0xff, 0x0f,
	0xfc, 0xff, 0xff, 0x0f,
	0xfc, 0xff, 0xff, 0x0f,
	0xfc, 0xff, 0xff, 0x0f,
}

func maskKey(k *MACKey) {
	if k == nil || k.masked {
		return
	}
	for i := range k.R {
		k.R[i] &= poly1305KeyMask[i]
	}
	k.masked = true
}

func poly1305PrepareKey(nonce []byte, key *MACKey) [32]byte {
	var k [32]byte
	maskKey(key)

	c, err := aes.NewCipher(key.K[:])
	if err != nil {
		panic(err)
	}
	c.Encrypt(k[16:], nonce)
	copy(k[:16], key.R[:])
	return k
}

func poly1305MAC(msg, nonce []byte, key *MACKey) []byte {
	k := poly1305PrepareKey(nonce, key)
	var out [16]byte
	poly1305.Sum(&out, msg, &k)
	return out[:]
}

func poly1305Verify(msg, nonce []byte, key *MACKey, mac []byte) bool {
	k := poly1305PrepareKey(nonce, key)
	var m [16]byte
	copy(m[:], mac)
	return poly1305.Verify(&m, msg, &k)
}

// NewRandomKey generates a fresh encrypt+authenticate key pair.
func NewRandomKey() *Key {
	k := &Key{}
	if _, err := rand.Read(k.EncryptionKey[:]); err != nil {
		panic("crypto: unable to read random bytes for encryption key")
	}
	if _, err := rand.Read(k.MACKey.K[:]); err != nil {
		panic("crypto: unable to read random bytes for MAC key")
	}
	if _, err := rand.Read(k.MACKey.R[:]); err != nil {
		panic("crypto: unable to read random bytes for MAC key")
	}
	maskKey(&k.MACKey)
	return k
}

func newIV() []byte {
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		panic("crypto: unable to read random bytes for iv")
	}
	return iv
}

// Valid reports whether k has non-zero key material.
func (k *Key) Valid() bool {
	nonzero := func(b []byte) bool {
		for _, v := range b {
			if v != 0 {
				return true
			}
		}
		return false
	}
	return nonzero(k.EncryptionKey[:]) && nonzero(k.MACKey.K[:]) && nonzero(k.MACKey.R[:])
}

// Encrypt appends IV || ciphertext || MAC for plaintext onto ciphertext
// (which may be nil) and returns the result. plaintext and ciphertext must
// not share a backing array.
func (k *Key) Encrypt(ciphertext, plaintext []byte) ([]byte, error) {
	if !k.Valid() {
		return nil, errors.New("invalid key")
	}

	iv := newIV()
	out := append(ciphertext, iv...)

	c, err := aes.NewCipher(k.EncryptionKey[:])
	if err != nil {
		panic(err)
	}
	start := len(out)
	out = append(out, make([]byte, len(plaintext))...)
	cipher.NewCTR(c, iv).XORKeyStream(out[start:], plaintext)

	mac := poly1305MAC(out[start:], iv, &k.MACKey)
	out = append(out, mac...)
	return out, nil
}

// Decrypt verifies and decrypts ciphertextWithMac (IV || ciphertext || MAC)
// into plaintext, which must be at least len(ciphertextWithMac)-Extension
// bytes, and returns the number of plaintext bytes written.
func (k *Key) Decrypt(plaintext, ciphertextWithMac []byte) (int, error) {
	if !k.Valid() {
		return 0, errors.New("invalid key")
	}
	if len(ciphertextWithMac) < Extension {
		return 0, errors.New("ciphertext too small")
	}

	plaintextLen := len(ciphertextWithMac) - Extension
	if len(plaintext) < plaintextLen {
		return 0, errors.Errorf("plaintext buffer too small, %d < %d", len(plaintext), plaintextLen)
	}

	l := len(ciphertextWithMac) - macSize
	ciphertextWithIV, mac := ciphertextWithMac[:l], ciphertextWithMac[l:]
	iv, ciphertext := ciphertextWithIV[:ivSize], ciphertextWithIV[ivSize:]

	if !poly1305Verify(ciphertext, iv, &k.MACKey, mac) {
		return 0, ErrUnauthenticated
	}

	c, err := aes.NewCipher(k.EncryptionKey[:])
	if err != nil {
		panic(err)
	}
	cipher.NewCTR(c, iv).XORKeyStream(plaintext, ciphertext)
	return plaintextLen, nil
}

type jsonMACKey struct {
	K []byte `json:"k"`
	R []byte `json:"r"`
}

func (m MACKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonMACKey{K: m.K[:], R: m.R[:]})
}

func (m *MACKey) UnmarshalJSON(data []byte) error {
	var j jsonMACKey
	if err := json.Unmarshal(data, &j); err != nil {
		return errors.Wrap(err, "unmarshal MACKey")
	}
	copy(m.K[:], j.K)
	copy(m.R[:], j.R)
	return nil
}

func (k EncryptionKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(k[:])
}

func (k *EncryptionKey) UnmarshalJSON(data []byte) error {
	var d []byte
	if err := json.Unmarshal(data, &d); err != nil {
		return errors.Wrap(err, "unmarshal EncryptionKey")
	}
	copy(k[:], d)
	return nil
}
