package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// File stores one record per key under a directory. When a secret is configured the
// record is sealed with secretbox, so a copied file is useless without it.
type File struct {
	dir    string
	sealed bool
	key    [32]byte
}

// NewFile creates dir if needed. An empty secret stores records in the clear.
func NewFile(dir, secret string) (*File, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	f := &File{dir: dir}
	if secret != "" {
		f.sealed = true
		f.key = sha256.Sum256([]byte(secret))
	}
	return f, nil
}

func (f *File) path(key string) string {
	return filepath.Join(f.dir, unsafeKeyChars.ReplaceAllString(key, "_")+".json")
}

func (f *File) Get(_ context.Context, key string) ([]byte, bool, error) {
	raw, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", key, err)
	}
	if !f.sealed {
		return raw, true, nil
	}
	value, err := f.open(raw)
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", key, err)
	}
	return value, true, nil
}

// Set writes through a temp file and rename so a crash never leaves a torn record.
func (f *File) Set(_ context.Context, key string, value []byte) error {
	data := value
	if f.sealed {
		sealed, err := f.seal(value)
		if err != nil {
			return fmt.Errorf("write %s: %w", key, err)
		}
		data = sealed
	}

	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := os.Rename(tmpName, f.path(key)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (f *File) Remove(_ context.Context, key string) error {
	err := os.Remove(f.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

func (f *File) seal(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &f.key), nil
}

func (f *File) open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("%w: sealed record too short", ErrCorrupt)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &f.key)
	if !ok {
		return nil, fmt.Errorf("%w: sealed record failed authentication", ErrCorrupt)
	}
	return plain, nil
}
