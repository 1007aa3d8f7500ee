// Package secrets resolves the text-generation credential at startup.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	vault "github.com/hashicorp/vault/api"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrMissingCredential = errors.New("credential missing")
	ErrResolve           = errors.New("credential resolution failed")
)

// Resolver fetches one credential.
type Resolver interface {
	Resolve(ctx context.Context) (string, error)
	// Describe names the credential location without revealing it.
	Describe() string
}

// Require resolves the credential and rejects blank values.
func Require(ctx context.Context, r Resolver) (string, error) {
	v, err := r.Resolve(ctx)
	if err != nil {
		return "", err
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingCredential, r.Describe())
	}
	return v, nil
}

// EnvResolver reads an environment variable.
type EnvResolver struct {
	Name string
	// Lookup defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
}

// Resolve implements Resolver.
func (e EnvResolver) Resolve(context.Context) (string, error) {
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, ok := lookup(e.Name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingCredential, e.Describe())
	}
	return v, nil
}

// Describe implements Resolver.
func (e EnvResolver) Describe() string { return "env " + e.Name }

// VaultResolver reads one key of a KV v2 secret.
type VaultResolver struct {
	client *vault.Client
	mount  string
	path   string
	key    string
}

// NewVaultResolver creates a resolver. An empty addr or token falls back to
// VAULT_ADDR and VAULT_TOKEN.
func NewVaultResolver(addr, token, mount, path, key string) (*VaultResolver, error) {
	cfg := vault.DefaultConfig()
	if cfg.Error != nil {
		return nil, fmt.Errorf("%w: vault config: %w", ErrResolve, cfg.Error)
	}
	if addr != "" {
		cfg.Address = addr
	}
	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: vault client: %w", ErrResolve, err)
	}
	if token != "" {
		client.SetToken(token)
	}
	if mount == "" || path == "" || key == "" {
		return nil, fmt.Errorf("%w: vault mount, path and key are required", ErrResolve)
	}
	return &VaultResolver{client: client, mount: mount, path: path, key: key}, nil
}

// Resolve implements Resolver.
func (v *VaultResolver) Resolve(ctx context.Context) (string, error) {
	s, err := v.client.KVv2(v.mount).Get(ctx, v.path)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return "", fmt.Errorf("%w: %s", ErrMissingCredential, v.Describe())
		}
		return "", fmt.Errorf("%w: %s: %w", ErrResolve, v.Describe(), err)
	}
	raw, ok := s.Data[v.key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingCredential, v.Describe())
	}
	str, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s is not a string", ErrResolve, v.Describe())
	}
	return str, nil
}

// Describe implements Resolver.
func (v *VaultResolver) Describe() string {
	return fmt.Sprintf("vault %s/%s#%s", v.mount, v.path, v.key)
}
