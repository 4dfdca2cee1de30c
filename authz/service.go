package authz

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Service is the permission management API used by the auth engine and the
// RPC and HTTP surfaces. Every operation validates the user id before any
// store access.
//
// Service instances are intended to be configured during initialization and then treated as immutable.
type Service struct {
	store   Store
	catalog *Catalog
	strict  bool
}

// ServiceOption customizes a [Service].
type ServiceOption func(*Service)

// WithCatalog replaces the default permission catalog.
func WithCatalog(c *Catalog) ServiceOption {
	return func(s *Service) {
		if c != nil {
			s.catalog = c
		}
	}
}

// WithStrictPermissions rejects permission names the catalog does not know.
func WithStrictPermissions(strict bool) ServiceOption {
	return func(s *Service) { s.strict = strict }
}

// NewService wraps store.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{store: store, catalog: DefaultCatalog()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog returns the catalog used by Authorize.
func (s *Service) Catalog() *Catalog { return s.catalog }

// GetPermissions returns the stored list for userID, or [ErrNotFound].
func (s *Service) GetPermissions(ctx context.Context, userID string) ([]string, error) {
	if !ValidUserID(userID) {
		return nil, ErrInvalidIdentifier
	}
	perms, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, storeError(err)
	}
	return perms, nil
}

// SetPermissions replaces the list for userID, creating the record when
// absent. Repeating the call with the same list is a no-op.
func (s *Service) SetPermissions(ctx context.Context, userID string, permissions []string) ([]string, error) {
	if !ValidUserID(userID) {
		return nil, ErrInvalidIdentifier
	}
	perms, err := s.normalize(permissions)
	if err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, userID, perms); err != nil {
		return nil, storeError(err)
	}
	return perms, nil
}

// AddPermissions merges permissions into the existing set. A user without a
// record gets one.
func (s *Service) AddPermissions(ctx context.Context, userID string, permissions ...string) ([]string, error) {
	if !ValidUserID(userID) {
		return nil, ErrInvalidIdentifier
	}
	add, err := s.normalize(permissions)
	if err != nil {
		return nil, err
	}
	perms, err := s.store.Update(ctx, userID, func(current []string, _ bool) ([]string, error) {
		return dedupe(append(current, add...)), nil
	})
	if err != nil {
		return nil, storeError(err)
	}
	return perms, nil
}

// RemovePermissions drops permissions from the set. Names the user does not
// hold are ignored; an unknown user is [ErrNotFound].
func (s *Service) RemovePermissions(ctx context.Context, userID string, permissions ...string) ([]string, error) {
	if !ValidUserID(userID) {
		return nil, ErrInvalidIdentifier
	}
	drop, err := trimPermissions(permissions)
	if err != nil {
		return nil, err
	}
	perms, err := s.store.Update(ctx, userID, func(current []string, exists bool) ([]string, error) {
		if !exists {
			return nil, ErrNotFound
		}
		return slices.DeleteFunc(current, func(p string) bool {
			return slices.Contains(drop, p)
		}), nil
	})
	if err != nil {
		return nil, storeError(err)
	}
	if perms == nil {
		perms = []string{}
	}
	return perms, nil
}

// Authorize returns nil when one of the user's permissions grants action,
// [ErrForbidden] otherwise. A user without a record is forbidden.
func (s *Service) Authorize(ctx context.Context, userID, action string) error {
	perms, err := s.GetPermissions(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return ErrForbidden
	}
	if err != nil {
		return err
	}
	if !s.catalog.CanPerform(perms, action) {
		return ErrForbidden
	}
	return nil
}

// CanPerform reports whether perms grant action under this service's catalog.
func (s *Service) CanPerform(perms []string, action string) bool {
	return s.catalog.CanPerform(perms, action)
}

func (s *Service) normalize(permissions []string) ([]string, error) {
	out, err := trimPermissions(permissions)
	if err != nil {
		return nil, err
	}
	if s.strict {
		for _, p := range out {
			if !s.catalog.Known(p) {
				return nil, fmt.Errorf("%w: %s", ErrUnknownPermission, p)
			}
		}
	}
	return out, nil
}

// trimPermissions trims and dedupes names without consulting the catalog, so
// a strict service can still remove names it no longer knows.
func trimPermissions(permissions []string) ([]string, error) {
	out := make([]string, 0, len(permissions))
	for _, p := range permissions {
		p = strings.TrimSpace(p)
		if !ValidPermission(p) {
			return nil, ErrInvalidPermission
		}
		out = append(out, p)
	}
	return dedupe(out), nil
}

func dedupe(perms []string) []string {
	seen := make(map[string]struct{}, len(perms))
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func storeError(err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
