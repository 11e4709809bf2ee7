// Package securefile reads and writes password-encrypted JSON documents and
// plain JSON state files with atomic replacement.
//
// Encrypted documents use Argon2id for key derivation and XChaCha20-Poly1305
// for authenticated encryption.
package securefile

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrInvalidPasswordOrCorrupt is returned when decryption fails.
	ErrInvalidPasswordOrCorrupt = errors.New("securefile: invalid password or corrupted file")
	ErrEmptyPassword            = errors.New("securefile: empty password")
)

const envelopeVersion = 1

// Envelope is the on-disk form of an encrypted document.
type Envelope struct {
	Version int `json:"version"`

	ArgonTime    uint32 `json:"argon_time"`
	ArgonMemory  uint32 `json:"argon_memory_kib"`
	ArgonThreads uint8  `json:"argon_threads"`
	ArgonKeyLen  uint32 `json:"argon_key_len"`

	SaltB64  string `json:"salt_b64"`
	NonceB64 string `json:"nonce_b64"`
	CTB64    string `json:"ct_b64"`
}

// KDF holds the Argon2id cost parameters.
type KDF struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
}

var DefaultKDF = KDF{
	Time:    2,
	Memory:  64 * 1024, // KiB
	Threads: 1,
	KeyLen:  32,
}

type Options struct {
	KDF           KDF
	FilePerm      os.FileMode
	DirectoryPerm os.FileMode

	// AAD must be identical on read and write.
	AAD []byte
}

func (o Options) withDefaults() Options {
	if o.KDF.KeyLen == 0 {
		o.KDF = DefaultKDF
	}
	if o.FilePerm == 0 {
		o.FilePerm = 0o600
	}
	if o.DirectoryPerm == 0 {
		o.DirectoryPerm = 0o700
	}
	return o
}

// Seal encrypts plain with a key derived from password.
func Seal(plain, password []byte, opt Options) (Envelope, error) {
	opt = opt.withDefaults()
	if len(password) == 0 || isAllZero(password) {
		return Envelope{}, ErrEmptyPassword
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return Envelope{}, fmt.Errorf("securefile: rand salt: %w", err)
	}

	key := argon2.IDKey(password, salt, opt.KDF.Time, opt.KDF.Memory, opt.KDF.Threads, opt.KDF.KeyLen)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return Envelope{}, fmt.Errorf("securefile: aead: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, fmt.Errorf("securefile: rand nonce: %w", err)
	}

	ct := aead.Seal(nil, nonce, plain, opt.AAD)

	return Envelope{
		Version:      envelopeVersion,
		ArgonTime:    opt.KDF.Time,
		ArgonMemory:  opt.KDF.Memory,
		ArgonThreads: opt.KDF.Threads,
		ArgonKeyLen:  opt.KDF.KeyLen,
		SaltB64:      base64.StdEncoding.EncodeToString(salt),
		NonceB64:     base64.StdEncoding.EncodeToString(nonce),
		CTB64:        base64.StdEncoding.EncodeToString(ct),
	}, nil
}

// Open decrypts an envelope produced by Seal.
func Open(env Envelope, password []byte, opt Options) ([]byte, error) {
	if len(password) == 0 || isAllZero(password) {
		return nil, ErrEmptyPassword
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("securefile: unsupported envelope version %d", env.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(env.SaltB64)
	if err != nil {
		return nil, fmt.Errorf("securefile: decode salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.NonceB64)
	if err != nil {
		return nil, fmt.Errorf("securefile: decode nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(env.CTB64)
	if err != nil {
		return nil, fmt.Errorf("securefile: decode ciphertext: %w", err)
	}

	key := argon2.IDKey(password, salt, env.ArgonTime, env.ArgonMemory, env.ArgonThreads, env.ArgonKeyLen)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("securefile: aead: %w", err)
	}

	plain, err := aead.Open(nil, nonce, ct, opt.AAD)
	if err != nil {
		return nil, ErrInvalidPasswordOrCorrupt
	}
	return plain, nil
}

// WriteEncryptedJSON marshals v, encrypts it and writes it atomically to path.
func WriteEncryptedJSON[T any](path string, v T, password []byte, opt Options) error {
	opt = opt.withDefaults()

	plain, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("securefile: marshal json: %w", err)
	}
	defer zeroBytes(plain)

	env, err := Seal(plain, password, opt)
	if err != nil {
		return err
	}
	return WriteJSON(path, env, opt.FilePerm, opt.DirectoryPerm)
}

// ReadEncryptedJSON reads path and decrypts it into T.
func ReadEncryptedJSON[T any](path string, password []byte, opt Options) (T, error) {
	var zero T

	env, err := ReadJSON[Envelope](path)
	if err != nil {
		return zero, err
	}

	plain, err := Open(env, password, opt)
	if err != nil {
		return zero, err
	}
	defer zeroBytes(plain)

	var out T
	if err := json.Unmarshal(plain, &out); err != nil {
		return zero, fmt.Errorf("securefile: unmarshal json: %w", err)
	}
	return out, nil
}

// WriteJSON marshals v as pretty JSON and writes it atomically to path.
func WriteJSON[T any](path string, v T, permFile, permDir os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), permDir); err != nil {
		return fmt.Errorf("securefile: mkdir %s: %w", filepath.Dir(path), err)
	}

	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("securefile: marshal json: %w", err)
	}
	return AtomicWriteFile(path, b, permFile)
}

// ReadJSON reads and unmarshals JSON from path. A missing file keeps os.ErrNotExist in the chain.
func ReadJSON[T any](path string) (T, error) {
	var zero T
	b, err := os.ReadFile(path)
	if err != nil {
		return zero, fmt.Errorf("securefile: read file: %w", err)
	}
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return zero, fmt.Errorf("securefile: unmarshal json: %w", err)
	}
	return out, nil
}

// AtomicWriteFile writes data to a sibling temp file and renames it over path.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	_ = os.Remove(tmp)

	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("securefile: write tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("securefile: rename: %w", err)
	}
	return nil
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
