package credstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Imnotndesh/TrueHub-sub001/internal/securestore"
)

// FileStore persists the store document as JSON. With a secret the file is an
// argon2id + XChaCha20-Poly1305 vault; without one it is plaintext 0600 JSON.
// Every operation re-reads the file so that several processes may share it.
type FileStore struct {
	mu     sync.Mutex
	path   string
	secret string
}

func NewFileStore(path, secret string) *FileStore {
	return &FileStore{path: strings.TrimSpace(path), secret: strings.TrimSpace(secret)}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Encrypted() bool { return s.secret != "" }

func (s *FileStore) Credentials(_ context.Context, p Profile) (Credentials, bool, error) {
	var (
		out Credentials
		ok  bool
	)
	err := s.view(func(doc *document) {
		if acc := doc.account(p, false); acc != nil && acc.Credentials != nil {
			out, ok = *acc.Credentials, true
		}
	})
	return out, ok, err
}

func (s *FileStore) SaveCredentials(_ context.Context, p Profile, c Credentials) error {
	if !p.Valid() {
		return ErrInvalidProfile
	}
	return s.update(func(doc *document) {
		doc.account(p, true).Credentials = &c
	})
}

func (s *FileStore) LastProfile(context.Context) (Profile, bool, error) {
	var (
		out Profile
		ok  bool
	)
	err := s.view(func(doc *document) {
		if doc.Last != nil {
			out, ok = *doc.Last, true
		}
	})
	return out, ok, err
}

func (s *FileStore) SetLastProfile(_ context.Context, p Profile) error {
	if !p.Valid() {
		return ErrInvalidProfile
	}
	return s.update(func(doc *document) {
		doc.Last = &p
	})
}

func (s *FileStore) SessionToken(_ context.Context, p Profile) (Session, bool, error) {
	var (
		out Session
		ok  bool
	)
	err := s.view(func(doc *document) {
		if acc := doc.account(p, false); acc != nil && acc.Session != nil {
			out, ok = *acc.Session, true
		}
	})
	return out, ok, err
}

func (s *FileStore) SetSessionToken(_ context.Context, p Profile, sess Session) error {
	if !p.Valid() {
		return ErrInvalidProfile
	}
	return s.update(func(doc *document) {
		doc.account(p, true).Session = &sess
	})
}

func (s *FileStore) ClearSessionToken(_ context.Context, p Profile) error {
	return s.update(func(doc *document) {
		if acc := doc.account(p, false); acc != nil {
			acc.Session = nil
		}
	})
}

func (s *FileStore) view(fn func(*document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.loadLocked()
	if err != nil {
		return err
	}
	fn(doc)
	return nil
}

func (s *FileStore) update(fn func(*document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.loadLocked()
	if err != nil {
		return err
	}
	fn(doc)
	if err := securestore.WriteJSON(s.path, s.secret, doc); err != nil {
		return fmt.Errorf("credstore: write %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) loadLocked() (*document, error) {
	doc := newDocument()
	if _, err := securestore.ReadJSON(s.path, s.secret, doc); err != nil {
		return nil, fmt.Errorf("credstore: read %s: %w", s.path, err)
	}
	if doc.Accounts == nil {
		doc.Accounts = make(map[string]*account)
	}
	return doc, nil
}
