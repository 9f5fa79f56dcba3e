// Package session keeps the caller's credentials in a durable key-value
// store: the bearer token sent with every API request and the profile of the
// logged in user.
package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bovinelab/go-apicache/kvstore"
	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("apicache/session")

// Keys under which credentials are stored.
const (
	TokenKey   = "/session/token"
	ProfileKey = "/session/user"
)

// Profile is the cached user profile returned by the login endpoint.
type Profile struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Store reads and writes credentials in a kvstore.Store.
type Store struct {
	kv kvstore.Store
}

// New creates a Store on top of kv.
func New(kv kvstore.Store) *Store {
	return &Store{kv: kv}
}

// Token returns the bearer token, or "" if there is none. Read failures are
// logged and reported as no token.
func (s *Store) Token(ctx context.Context) string {
	token, _, err := s.kv.Get(ctx, TokenKey)
	if err != nil {
		log.Warnw("Cannot read bearer token", "err", err)
		return ""
	}
	return token
}

func (s *Store) SetToken(ctx context.Context, token string) error {
	return s.kv.Set(ctx, TokenKey, token)
}

// Profile returns the cached user profile, or nil if none is stored.
func (s *Store) Profile(ctx context.Context) (*Profile, error) {
	data, ok, err := s.kv.Get(ctx, ProfileKey)
	if err != nil || !ok {
		return nil, err
	}
	var p Profile
	if err = json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("cannot decode user profile: %w", err)
	}
	return &p, nil
}

func (s *Store) SetProfile(ctx context.Context, p *Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, ProfileKey, string(data))
}

// Purge removes the token and the user profile. Both removals are attempted
// even if the first one fails.
func (s *Store) Purge(ctx context.Context) error {
	var errs error
	for _, key := range []string{TokenKey, ProfileKey} {
		if err := s.kv.Remove(ctx, key); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs
}
