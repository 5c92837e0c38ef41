// Package profile stores the monitored user's display name and emergency
// contacts in a JSON file and serves them to the escalation machine.
package profile

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/ent0n29/guardian/internal/escalation"
)

var ErrInvalidProfile = errors.New("invalid profile")

type Profile struct {
	Name              string               `mapstructure:"name" json:"name"`
	EmergencyContacts []escalation.Contact `mapstructure:"emergency_contacts" json:"emergency_contacts"`
	CreatedAt         string               `mapstructure:"created_at" json:"created_at,omitempty"`
	LastUpdated       string               `mapstructure:"last_updated" json:"last_updated,omitempty"`
}

// Default is used until a profile file exists.
func Default(now time.Time) Profile {
	stamp := now.Format(time.RFC3339)
	return Profile{
		Name: "User",
		EmergencyContacts: []escalation.Contact{
			{Label: "Mom", Address: "+1-6948310"},
			{Label: "Dad", Address: "+1-6648380"},
			{Label: "Spouse", Address: "+1-67438910"},
			{Label: "Emergency", Address: "911"},
		},
		CreatedAt:   stamp,
		LastUpdated: stamp,
	}
}

// Store is a file-backed profile. It implements escalation.Directory.
type Store struct {
	mu      sync.RWMutex
	path    string
	v       *viper.Viper
	profile Profile
	now     func() time.Time
}

// Load reads path when it exists and falls back to Default otherwise. The
// file is only written by Update.
func Load(path string) (*Store, error) {
	s := &Store{
		path: path,
		v:    viper.New(),
		now:  func() time.Time { return time.Now().UTC() },
	}
	s.v.SetConfigFile(path)
	s.v.SetConfigType("json")

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		s.profile = Default(s.now())
		return s, nil
	}
	if err := s.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}
	var p Profile
	if err := s.v.Unmarshal(&p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", path, err)
	}
	if strings.TrimSpace(p.Name) == "" {
		p.Name = "User"
	}
	s.profile = p
	return s, nil
}

func (s *Store) Get() Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.profile)
}

// Update validates p, stamps it and writes it to disk.
func (s *Store) Update(p Profile) (Profile, error) {
	p = clone(p)
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return Profile{}, fmt.Errorf("%w: name is required", ErrInvalidProfile)
	}
	seen := make(map[string]struct{}, len(p.EmergencyContacts))
	for i, c := range p.EmergencyContacts {
		c.Label = strings.TrimSpace(c.Label)
		c.Address = strings.TrimSpace(c.Address)
		if c.Label == "" {
			return Profile{}, fmt.Errorf("%w: contact %d has no label", ErrInvalidProfile, i)
		}
		key := strings.ToLower(c.Label)
		if _, dup := seen[key]; dup {
			return Profile{}, fmt.Errorf("%w: duplicate contact %q", ErrInvalidProfile, c.Label)
		}
		seen[key] = struct{}{}
		p.EmergencyContacts[i] = c
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p.CreatedAt = s.profile.CreatedAt
	if p.CreatedAt == "" {
		p.CreatedAt = s.now().Format(time.RFC3339)
	}
	p.LastUpdated = s.now().Format(time.RFC3339)

	contacts := make([]map[string]string, 0, len(p.EmergencyContacts))
	for _, c := range p.EmergencyContacts {
		contacts = append(contacts, map[string]string{"label": c.Label, "address": c.Address})
	}
	s.v.Set("name", p.Name)
	s.v.Set("emergency_contacts", contacts)
	s.v.Set("created_at", p.CreatedAt)
	s.v.Set("last_updated", p.LastUpdated)
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return Profile{}, fmt.Errorf("write profile %s: %w", s.path, err)
	}

	s.profile = clone(p)
	return clone(p), nil
}

func (s *Store) DisplayName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile.Name
}

func (s *Store) EmergencyContacts() []escalation.Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]escalation.Contact(nil), s.profile.EmergencyContacts...)
}

func clone(p Profile) Profile {
	p.EmergencyContacts = append([]escalation.Contact(nil), p.EmergencyContacts...)
	return p
}
