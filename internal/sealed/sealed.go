// Package sealed encrypts small secrets at rest with an age X25519 key.
package sealed

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

var ErrNoKey = errors.New("no age identity found")

type Sealer struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

func New(identity *age.X25519Identity) *Sealer {
	return &Sealer{
		identity:  identity,
		recipient: identity.Recipient(),
	}
}

func Generate() (*Sealer, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generate age identity: %w", err)
	}
	return New(identity), nil
}

// Parse reads an AGE-SECRET-KEY-1... string.
func Parse(key string) (*Sealer, error) {
	identity, err := age.ParseX25519Identity(strings.TrimSpace(key))
	if err != nil {
		return nil, fmt.Errorf("parse age identity: %w", err)
	}
	return New(identity), nil
}

// LoadOrCreate reads the first identity in the key file at path, creating
// the file with a fresh identity (mode 0600) when it does not exist.
func LoadOrCreate(path string) (*Sealer, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return create(path)
	}
	if err != nil {
		return nil, fmt.Errorf("open key file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return Parse(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return nil, fmt.Errorf("%w in %s", ErrNoKey, path)
}

func create(path string) (*Sealer, error) {
	s, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	contents := fmt.Sprintf("# session key for inventory\n# public key: %s\n%s\n",
		s.recipient, s.identity)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return s, nil
}

// Recipient is the public half of the key.
func (s *Sealer) Recipient() string {
	return s.recipient.String()
}

func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.recipient)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Sealer) Open(ciphertext []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), s.identity)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	return plaintext, nil
}
