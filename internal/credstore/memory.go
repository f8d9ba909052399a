package credstore

import (
	"context"
	"sync"
)

type document struct {
	Version  int                 `json:"version"`
	Last     *Profile            `json:"last_profile,omitempty"`
	Accounts map[string]*account `json:"accounts"`
}

type account struct {
	Profile     Profile      `json:"profile"`
	Credentials *Credentials `json:"credentials,omitempty"`
	Session     *Session     `json:"session,omitempty"`
}

func newDocument() *document {
	return &document{Version: 1, Accounts: make(map[string]*account)}
}

func (d *document) account(p Profile, create bool) *account {
	if d.Accounts == nil {
		d.Accounts = make(map[string]*account)
	}
	acc, ok := d.Accounts[p.key()]
	if !ok && create {
		acc = &account{Profile: p}
		d.Accounts[p.key()] = acc
	}
	return acc
}

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu  sync.RWMutex
	doc *document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{doc: newDocument()}
}

func (s *MemoryStore) Credentials(_ context.Context, p Profile) (Credentials, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc := s.doc.account(p, false)
	if acc == nil || acc.Credentials == nil {
		return Credentials{}, false, nil
	}
	return *acc.Credentials, true, nil
}

func (s *MemoryStore) SaveCredentials(_ context.Context, p Profile, c Credentials) error {
	if !p.Valid() {
		return ErrInvalidProfile
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.account(p, true).Credentials = &c
	return nil
}

func (s *MemoryStore) LastProfile(context.Context) (Profile, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc.Last == nil {
		return Profile{}, false, nil
	}
	return *s.doc.Last, true, nil
}

func (s *MemoryStore) SetLastProfile(_ context.Context, p Profile) error {
	if !p.Valid() {
		return ErrInvalidProfile
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Last = &p
	return nil
}

func (s *MemoryStore) SessionToken(_ context.Context, p Profile) (Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc := s.doc.account(p, false)
	if acc == nil || acc.Session == nil {
		return Session{}, false, nil
	}
	return *acc.Session, true, nil
}

func (s *MemoryStore) SetSessionToken(_ context.Context, p Profile, sess Session) error {
	if !p.Valid() {
		return ErrInvalidProfile
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.account(p, true).Session = &sess
	return nil
}

func (s *MemoryStore) ClearSessionToken(_ context.Context, p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc := s.doc.account(p, false); acc != nil {
		acc.Session = nil
	}
	return nil
}
