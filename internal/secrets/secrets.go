// Package secrets resolves the key-handling Open Question from spec.md §9:
// sensitive config values such as alert_secret_key are encrypted at rest
// with a key derived from a per-install salt.
//
// The salt is the only persisted state this package needs, so it keeps a
// single-bucket reduction of the teacher's internal/storage BoltDB schema —
// see DESIGN.md for why the rest of that schema (baselines, ledger) isn't
// reused here.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/crypto/pbkdf2"
)

const (
	bucketMeta  = "meta"
	saltKey     = "kdf_salt"
	saltLen     = 32
	keyLen      = 32
	pbkdf2Iters = 100_000
)

// KeyStore persists the per-install PBKDF2 salt and derives the AES-256-GCM
// key used to seal SENSITIVE_KEYS-class config values.
type KeyStore struct {
	db *bolt.DB
}

// Open opens (or creates) the BoltDB file at path and ensures a salt is
// present, generating one via crypto/rand on first use.
func Open(path string) (*KeyStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("secrets: bolt.Open(%q): %w", path, err)
	}
	ks := &KeyStore{db: db}
	if err := ks.ensureSalt(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return ks, nil
}

// Close closes the underlying database file.
func (ks *KeyStore) Close() error {
	return ks.db.Close()
}

func (ks *KeyStore) ensureSalt() error {
	return ks.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketMeta))
		if err != nil {
			return fmt.Errorf("secrets: create meta bucket: %w", err)
		}
		if b.Get([]byte(saltKey)) != nil {
			return nil
		}
		salt := make([]byte, saltLen)
		if _, err := rand.Read(salt); err != nil {
			return fmt.Errorf("secrets: generate salt: %w", err)
		}
		return b.Put([]byte(saltKey), salt)
	})
}

func (ks *KeyStore) salt() ([]byte, error) {
	var salt []byte
	err := ks.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketMeta))
		v := b.Get([]byte(saltKey))
		if v == nil {
			return fmt.Errorf("secrets: salt not initialised")
		}
		salt = append([]byte(nil), v...)
		return nil
	})
	return salt, err
}

// DeriveKey derives the 32-byte AES-256 key for passphrase using the
// persisted per-install salt, PBKDF2-HMAC-SHA256 at pbkdf2Iters iterations.
func (ks *KeyStore) DeriveKey(passphrase string) ([]byte, error) {
	salt, err := ks.salt()
	if err != nil {
		return nil, err
	}
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iters, keyLen, sha256.New), nil
}

// Seal encrypts plaintext with AES-256-GCM under key, returning
// nonce||ciphertext||tag. No Fernet-equivalent library exists anywhere in
// the example pack, so this step uses the standard library directly (see
// DESIGN.md).
func Seal(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("secrets: generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Unseal decrypts a value produced by Seal.
func Unseal(key, sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: new gcm: %w", err)
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("secrets: sealed value shorter than nonce")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
