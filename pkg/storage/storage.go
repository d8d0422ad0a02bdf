// Package storage persists named reference vectors, one file per name.
// Files can optionally be encrypted at rest using NaCl secretbox.
package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/isotime"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/recognition"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// NonceSize is the size of the nonce used for encryption
	NonceSize = 24
	// KeySize is the size of the encryption key
	KeySize = 32

	plainSuffix     = "_embedding.json"
	encryptedSuffix = "_embedding.enc"
)

// Reference is the stored vector of one registered person.
type Reference struct {
	Name      string             `json:"name"`
	Embedding recognition.Vector `json:"embedding"`
	SavedAt   isotime.Time       `json:"saved_at"`
	NumImages int                `json:"num_images,omitempty"`
}

// ErrReferenceNotFound is returned when no reference exists for a name.
var ErrReferenceNotFound = errors.New("reference not found")

// ErrInvalidName is returned for names that cannot be used as file names.
var ErrInvalidName = errors.New("invalid reference name")

// ErrEncryption is returned when encryption/decryption fails.
var ErrEncryption = errors.New("encryption error")

// FileStorage keeps references as files in a single directory.
type FileStorage struct {
	dir               string
	encryptionEnabled bool
	encryptionKey     [KeySize]byte
}

// NewFileStorage creates a FileStorage rooted at dir, creating it if needed.
func NewFileStorage(dir string, encryptionEnabled bool) (*FileStorage, error) {
	fs := &FileStorage{
		dir:               dir,
		encryptionEnabled: encryptionEnabled,
	}

	if encryptionEnabled {
		fs.encryptionKey = deriveKey()
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create references directory: %w", err)
	}

	return fs, nil
}

// deriveKey derives an encryption key from machine-specific information.
// This ties the encrypted data to this specific machine.
func deriveKey() [KeySize]byte {
	var identity strings.Builder

	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}
	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}
	identity.WriteString(fmt.Sprintf("%d", os.Getuid()))
	identity.WriteString("faceattend-v1-salt")

	return sha256.Sum256([]byte(identity.String()))
}

// Dir returns the directory holding the reference files.
func (fs *FileStorage) Dir() string {
	return fs.dir
}

// ValidateName checks that name is usable as a reference key.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func (fs *FileStorage) suffix() string {
	if fs.encryptionEnabled {
		return encryptedSuffix
	}
	return plainSuffix
}

func (fs *FileStorage) referencePath(name string) string {
	return filepath.Join(fs.dir, name+fs.suffix())
}

// SaveReference writes ref, replacing any previous reference of that name.
func (fs *FileStorage) SaveReference(ref Reference) error {
	if err := ValidateName(ref.Name); err != nil {
		return err
	}

	data, err := json.MarshalIndent(ref, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal reference: %w", err)
	}

	if fs.encryptionEnabled {
		data, err = fs.encrypt(data)
		if err != nil {
			return fmt.Errorf("failed to encrypt reference: %w", err)
		}
	}

	if err := os.WriteFile(fs.referencePath(ref.Name), data, 0600); err != nil {
		return fmt.Errorf("failed to write reference: %w", err)
	}

	logging.Debugf("Saved reference for: %s", ref.Name)
	return nil
}

// Register stores a single vector for name, overwriting any earlier entry.
func (fs *FileStorage) Register(name string, vec recognition.Vector) (Reference, error) {
	ref := Reference{
		Name:      name,
		Embedding: vec,
		SavedAt:   isotime.New(time.Now().UTC()),
	}
	if err := fs.SaveReference(ref); err != nil {
		return Reference{}, err
	}
	logging.Infof("Registered face for: %s", name)
	return ref, nil
}

// LoadReference reads the reference stored for name.
func (fs *FileStorage) LoadReference(name string) (*Reference, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(fs.referencePath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrReferenceNotFound
		}
		return nil, fmt.Errorf("failed to read reference: %w", err)
	}

	if fs.encryptionEnabled {
		data, err = fs.decrypt(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt reference: %w", err)
		}
	}

	var ref Reference
	if err := json.Unmarshal(data, &ref); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reference: %w", err)
	}
	if ref.Name == "" {
		ref.Name = name
	}

	return &ref, nil
}

// DeleteReference removes the reference stored for name.
func (fs *FileStorage) DeleteReference(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	if err := os.Remove(fs.referencePath(name)); err != nil {
		if os.IsNotExist(err) {
			return ErrReferenceNotFound
		}
		return fmt.Errorf("failed to delete reference: %w", err)
	}

	logging.Infof("Deleted reference for: %s", name)
	return nil
}

// ListReferences returns the sorted names of all stored references.
func (fs *FileStorage) ListReferences() ([]string, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list references: %w", err)
	}

	names := []string{}
	suffix := fs.suffix()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), suffix))
	}
	sort.Strings(names)

	return names, nil
}

// ReferenceExists checks if a reference is stored for name.
func (fs *FileStorage) ReferenceExists(name string) bool {
	if ValidateName(name) != nil {
		return false
	}
	_, err := os.Stat(fs.referencePath(name))
	return err == nil
}

// LoadAll returns every readable reference vector keyed by name. Entries
// that cannot be read are logged and skipped.
func (fs *FileStorage) LoadAll() (map[string]recognition.Vector, error) {
	names, err := fs.ListReferences()
	if err != nil {
		return nil, err
	}

	refs := make(map[string]recognition.Vector, len(names))
	for _, name := range names {
		ref, err := fs.LoadReference(name)
		if err != nil {
			logging.WithError(err).Errorf("Error loading reference for %s", name)
			continue
		}
		refs[name] = ref.Embedding
	}

	logging.Debugf("Loaded %d reference(s) from %s", len(refs), fs.dir)
	return refs, nil
}

// encrypt encrypts data using NaCl secretbox.
func (fs *FileStorage) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}

	return secretbox.Seal(nonce[:], plaintext, &nonce, &fs.encryptionKey), nil
}

// decrypt decrypts data using NaCl secretbox.
func (fs *FileStorage) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrEncryption
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &fs.encryptionKey)
	if !ok {
		return nil, ErrEncryption
	}

	return plaintext, nil
}
