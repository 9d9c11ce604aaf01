package service

import (
	"context"
	"errors"
	"strconv"

	"github.com/layer-3/sessionkit/core"
	"github.com/layer-3/sessionkit/ports"
)

// Persistence keys, identical in both tiers.
const (
	KeyAccess   = "auth_token"
	KeyRenewal  = "auth_refresh_token"
	KeyRemember = "auth_remember_me"
)

const (
	tierEphemeral = "ephemeral"
	tierDurable   = "durable"
)

var credentialKeys = []string{KeyAccess, KeyRenewal, KeyRemember}

// CredentialStore persists credentials in exactly one of two tiers. The
// durable tier is used when the user asked to be remembered, the ephemeral
// tier otherwise; the two are never populated at the same time.
type CredentialStore struct {
	ephemeral ports.Store
	durable   ports.Store
}

// NewCredentialStore creates a credential store over the two tiers
func NewCredentialStore(ephemeral, durable ports.Store) *CredentialStore {
	return &CredentialStore{
		ephemeral: ephemeral,
		durable:   durable,
	}
}

// Save writes the credentials to the tier selected by remember after
// purging the other tier.
func (s *CredentialStore) Save(ctx context.Context, access, renewal core.Credential, remember bool) error {
	target, targetName := s.ephemeral, tierEphemeral
	other, otherName := s.durable, tierDurable
	if remember {
		target, targetName, other, otherName = other, otherName, target, targetName
	}

	if err := other.Delete(ctx, credentialKeys...); err != nil {
		return &core.StoreError{Operation: "save", Tier: otherName, Cause: err}
	}

	values := map[string]string{
		KeyAccess:   access.String(),
		KeyRenewal:  renewal.String(),
		KeyRemember: strconv.FormatBool(remember),
	}
	for _, key := range credentialKeys {
		if values[key] == "" {
			if err := target.Delete(ctx, key); err != nil {
				return &core.StoreError{Operation: "save", Tier: targetName, Cause: err}
			}
			continue
		}
		if err := target.Set(ctx, key, values[key]); err != nil {
			return &core.StoreError{Operation: "save", Tier: targetName, Cause: err}
		}
	}

	return nil
}

// Load returns the stored credentials, checking the durable tier first. The
// bool is false when neither tier holds an access credential.
func (s *CredentialStore) Load(ctx context.Context) (core.StoredCredential, bool, error) {
	for _, tier := range []struct {
		name  string
		store ports.Store
	}{{tierDurable, s.durable}, {tierEphemeral, s.ephemeral}} {
		stored, ok, err := loadTier(ctx, tier.store)
		if err != nil {
			return core.StoredCredential{}, false, &core.StoreError{Operation: "load", Tier: tier.name, Cause: err}
		}
		if ok {
			return stored, true, nil
		}
	}
	return core.StoredCredential{}, false, nil
}

// Clear purges both tiers. Both are attempted even if the first fails.
func (s *CredentialStore) Clear(ctx context.Context) error {
	var errs []error
	if err := s.durable.Delete(ctx, credentialKeys...); err != nil {
		errs = append(errs, &core.StoreError{Operation: "clear", Tier: tierDurable, Cause: err})
	}
	if err := s.ephemeral.Delete(ctx, credentialKeys...); err != nil {
		errs = append(errs, &core.StoreError{Operation: "clear", Tier: tierEphemeral, Cause: err})
	}
	return errors.Join(errs...)
}

// WasRemembered reports whether the durable tier holds a remembered session.
func (s *CredentialStore) WasRemembered(ctx context.Context) bool {
	v, err := s.durable.Get(ctx, KeyRemember)
	if err != nil {
		return false
	}
	remember, _ := strconv.ParseBool(v)
	return remember
}

func loadTier(ctx context.Context, store ports.Store) (core.StoredCredential, bool, error) {
	access, err := get(ctx, store, KeyAccess)
	if err != nil || access == "" {
		return core.StoredCredential{}, false, err
	}
	renewal, err := get(ctx, store, KeyRenewal)
	if err != nil {
		return core.StoredCredential{}, false, err
	}
	remember, err := get(ctx, store, KeyRemember)
	if err != nil {
		return core.StoredCredential{}, false, err
	}
	rememberFlag, _ := strconv.ParseBool(remember)

	return core.StoredCredential{
		AccessCredential:  core.Credential(access),
		RenewalCredential: core.Credential(renewal),
		Remember:          rememberFlag,
	}, true, nil
}

func get(ctx context.Context, store ports.Store, key string) (string, error) {
	v, err := store.Get(ctx, key)
	if errors.Is(err, ports.ErrNotFound) {
		return "", nil
	}
	return v, err
}
