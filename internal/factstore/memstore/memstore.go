// Package memstore is an in-memory factstore.Store used by tests and local
// development; it is loadable from a JSON fixture so a developer can model
// a small deployment without a real fact-store backend.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/onyxflow/workflow-engine/internal/factstore"
)

type key struct{ service, operation string }

// Store is a map-backed factstore.Store.
type Store struct {
	active     map[key]factstore.ServiceBinding
	hasOp      map[key]factstore.ServiceBinding
	channels   map[string]string
}

// New returns an empty Store ready for Put calls.
func New() *Store {
	return &Store{
		active:   make(map[key]factstore.ServiceBinding),
		hasOp:    make(map[key]factstore.ServiceBinding),
		channels: make(map[string]string),
	}
}

// PutActiveService registers an activeService/4 fact.
func (s *Store) PutActiveService(service, operation string, b factstore.ServiceBinding) {
	s.active[key{service, operation}] = b
}

// PutHasOperation registers a hasOperation/4 fact.
func (s *Store) PutHasOperation(service, operation string, b factstore.ServiceBinding) {
	s.hasOp[key{service, operation}] = b
}

// PutBoundChannel registers a boundChannel/2 fact.
func (s *Store) PutBoundChannel(channelID, addr string) {
	s.channels[channelID] = addr
}

func (s *Store) ActiveService(_ context.Context, service, operation string) (factstore.ServiceBinding, bool, error) {
	b, ok := s.active[key{service, operation}]
	return b, ok, nil
}

func (s *Store) HasOperation(_ context.Context, service, operation string) (factstore.ServiceBinding, bool, error) {
	b, ok := s.hasOp[key{service, operation}]
	return b, ok, nil
}

func (s *Store) BoundChannel(_ context.Context, channelID string) (string, bool, error) {
	addr, ok := s.channels[channelID]
	return addr, ok, nil
}

// fixture is the on-disk JSON shape accepted by LoadFile.
type fixture struct {
	ActiveServices []fixtureBinding  `json:"activeServices"`
	HasOperations  []fixtureBinding  `json:"hasOperations"`
	Channels       map[string]string `json:"channels"`
}

type fixtureBinding struct {
	Service   string `json:"service"`
	Operation string `json:"operation"`
	ChannelID string `json:"channelId"`
	Port      int    `json:"port"`
}

// LoadFile populates a new Store from a JSON fixture file.
func LoadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("memstore: read %s: %w", path, err)
	}
	var f fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("memstore: parse %s: %w", path, err)
	}
	s := New()
	for _, b := range f.ActiveServices {
		s.PutActiveService(b.Service, b.Operation, factstore.ServiceBinding{ChannelID: b.ChannelID, Port: b.Port})
	}
	for _, b := range f.HasOperations {
		s.PutHasOperation(b.Service, b.Operation, factstore.ServiceBinding{ChannelID: b.ChannelID, Port: b.Port})
	}
	for ch, addr := range f.Channels {
		s.PutBoundChannel(ch, addr)
	}
	return s, nil
}
