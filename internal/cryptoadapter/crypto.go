// Package cryptoadapter is the symmetric encryption primitive used opaquely
// by the codec when payload encryption is configured, plus the compression
// and hashing helpers the file transfer engine needs.
package cryptoadapter

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// AEAD wraps an AES-256-GCM cipher keyed by a value supplied at
// construction. The key is always caller-supplied via Config, never derived
// from a timestamp or other predictable value. No AEAD implementation
// appears anywhere in the retrieval pack, so this one component is built on
// crypto/aes + crypto/cipher from the standard library — see DESIGN.md for
// why no third-party alternative applies.
type AEAD struct {
	gcm cipher.AEAD
}

// NewAEAD constructs an AEAD from a 32-byte key (AES-256).
func NewAEAD(key []byte) (*AEAD, error) {
	if len(key) != 32 {
		return nil, errors.New("cryptoadapter: key must be 32 bytes for AES-256-GCM")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoadapter: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptoadapter: new gcm: %w", err)
	}
	return &AEAD{gcm: gcm}, nil
}

// Seal encrypts plaintext, prepending a freshly generated nonce to the
// returned ciphertext.
func (a *AEAD) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, a.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptoadapter: read nonce: %w", err)
	}
	return a.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal: it expects the nonce prepended to ciphertext.
func (a *AEAD) Open(ciphertext []byte) ([]byte, error) {
	nonceSize := a.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("cryptoadapter: ciphertext shorter than nonce")
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := a.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptoadapter: open: %w", err)
	}
	return plaintext, nil
}

// CompressChunk compresses the given data using zstd with a default level,
// used by the codec to shrink file-chunk payloads before (optional)
// encryption.
func CompressChunk(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	defer enc.Close()

	return enc.EncodeAll(data, nil), nil
}

// DecompressChunk decompresses zstd-compressed data.
func DecompressChunk(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

// HashChunk returns the SHA-256 hash of data as a fixed array.
func HashChunk(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// VerifyChunk hashes data and compares it to expectedHash.
func VerifyChunk(data []byte, expectedHash [32]byte) bool {
	return HashChunk(data) == expectedHash
}

// HashHex returns the hex-encoded SHA-256 hash of data, the string form the
// file transfer engine carries in Message.ChunkHash / Message.FileHash.
func HashHex(data []byte) string {
	sum := HashChunk(data)
	return fmt.Sprintf("%x", sum[:])
}
