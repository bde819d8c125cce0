package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/invoicator-app/invoicator/internal/common"
	"github.com/invoicator-app/invoicator/internal/store"
)

const (
	ProviderAnthropic = "anthropic"

	// keyPrefixLen is how much of a key the status listing reveals.
	keyPrefixLen = 10

	minGenericKeyLen = 10
)

// RemoteValidator checks a key against the provider's API. Implementations
// must return the credential-invalid sentinel only for authentication
// failures; transient errors mean the key is presumed valid.
type RemoteValidator func(ctx context.Context, apiKey string) error

type Config struct {
	// KeyDir holds the encryption key file and its metadata.
	KeyDir string
	// RotationAge is how old the encryption key may get before Open
	// re-encrypts everything under a fresh key.
	RotationAge time.Duration
}

type Vault struct {
	cfg      Config
	creds    store.CredentialStore
	keyfile  *keyFile
	validate RemoteValidator
	logger   *slog.Logger

	mu   sync.Mutex
	key  []byte
	meta keyMeta
}

// Open loads (or creates) the encryption key and rotates it when overdue.
func Open(cfg Config, creds store.CredentialStore, validate RemoteValidator, logger *slog.Logger) (*Vault, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RotationAge <= 0 {
		cfg.RotationAge = 30 * 24 * time.Hour
	}
	v := &Vault{
		cfg:      cfg,
		creds:    creds,
		keyfile:  &keyFile{dir: cfg.KeyDir},
		validate: validate,
		logger:   logger,
	}
	key, meta, err := v.keyfile.load()
	if err != nil {
		return nil, err
	}
	v.key, v.meta = key, meta

	if err := v.RotateIfDue(context.Background()); err != nil {
		// rotation failure leaves the old key fully usable
		logger.Error("vault.rotation_failed", "error", err)
	}
	return v, nil
}

// validateFormat applies the per-provider key shape rules before anything
// touches the store.
func validateFormat(provider, apiKey string) error {
	switch provider {
	case ProviderAnthropic:
		if !strings.HasPrefix(apiKey, "sk-ant-") || len(apiKey) <= 20 {
			return fmt.Errorf("%w: anthropic keys start with sk-ant-", common.ErrCredentialInvalid)
		}
	default:
		if len(apiKey) < minGenericKeyLen {
			return fmt.Errorf("%w: key too short", common.ErrCredentialInvalid)
		}
	}
	return nil
}

// Store validates, encrypts and persists a provider key. A key that fails
// format validation is rejected without touching the store.
func (v *Vault) Store(ctx context.Context, provider, apiKey string) error {
	return v.storeWithSource(ctx, provider, apiKey, "manual")
}

func (v *Vault) storeWithSource(ctx context.Context, provider, apiKey, source string) error {
	if err := validateFormat(provider, apiKey); err != nil {
		return err
	}

	v.mu.Lock()
	ct, err := encrypt(v.key, []byte(apiKey))
	version := v.meta.Version
	v.mu.Unlock()
	if err != nil {
		return err
	}

	// A freshly stored key passes format checks, so it starts out presumed
	// valid until a remote validation says otherwise.
	valid := true
	now := time.Now().UTC()
	return v.creds.UpsertCredential(ctx, &store.Credential{
		Provider:   provider,
		Ciphertext: ct,
		KeyVersion: version,
		Source:     source,
		Valid:      &valid,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

// Get decrypts the stored key for a provider. For anthropic, a key present
// in the environment is migrated into the vault on first use.
func (v *Vault) Get(ctx context.Context, provider string) (string, error) {
	cred, err := v.creds.GetCredential(ctx, provider)
	if err != nil {
		if provider == ProviderAnthropic {
			if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
				if merr := v.storeWithSource(ctx, provider, envKey, "env_migrated"); merr == nil {
					v.logger.Info("vault.env_key_migrated", "provider", provider)
					return envKey, nil
				}
			}
		}
		return "", err
	}

	v.mu.Lock()
	key := v.key
	v.mu.Unlock()

	plain, err := decrypt(key, cred.Ciphertext)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// AnthropicKey implements the cloud engine's key source.
func (v *Vault) AnthropicKey(ctx context.Context) (string, error) {
	return v.Get(ctx, ProviderAnthropic)
}

// MarkInvalid flags a credential after the provider rejected it.
func (v *Vault) MarkInvalid(ctx context.Context, provider string) error {
	return v.creds.SetCredentialValidity(ctx, provider, false)
}

func (v *Vault) Delete(ctx context.Context, provider string) error {
	return v.creds.DeleteCredential(ctx, provider)
}

// Validate checks the stored key against the provider API and records the
// outcome. Transient provider errors leave the key presumed valid.
func (v *Vault) Validate(ctx context.Context, provider string) (bool, error) {
	apiKey, err := v.Get(ctx, provider)
	if err != nil {
		return false, err
	}
	if v.validate == nil {
		return true, nil
	}
	if err := v.validate(ctx, apiKey); err != nil {
		if isCredentialError(err) {
			if serr := v.creds.SetCredentialValidity(ctx, provider, false); serr != nil {
				return false, serr
			}
			return false, nil
		}
		// rate limits and outages are not the key's fault
		v.logger.Warn("vault.validation_inconclusive", "provider", provider, "error", err)
	}
	if err := v.creds.SetCredentialValidity(ctx, provider, true); err != nil {
		return true, err
	}
	return true, nil
}

func isCredentialError(err error) bool {
	return errors.Is(err, common.ErrCredentialInvalid)
}

// Status describes one stored credential without revealing the key.
type Status struct {
	Provider      string     `json:"provider"`
	KeyPrefix     string     `json:"key_prefix"`
	Source        string     `json:"source"`
	Valid         *bool      `json:"valid,omitempty"`
	LastValidated *time.Time `json:"last_validated,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// StatusList reports every stored credential with a masked key prefix.
func (v *Vault) StatusList(ctx context.Context) ([]Status, error) {
	creds, err := v.creds.ListCredentials(ctx)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	key := v.key
	v.mu.Unlock()

	out := make([]Status, 0, len(creds))
	for _, cred := range creds {
		st := Status{
			Provider:      cred.Provider,
			Source:        cred.Source,
			Valid:         cred.Valid,
			LastValidated: cred.LastValidated,
			CreatedAt:     cred.CreatedAt,
		}
		if plain, err := decrypt(key, cred.Ciphertext); err == nil {
			st.KeyPrefix = maskKey(string(plain))
		} else {
			st.KeyPrefix = "(undecryptable)"
		}
		out = append(out, st)
	}
	return out, nil
}

func maskKey(apiKey string) string {
	if len(apiKey) <= keyPrefixLen {
		return apiKey + "..."
	}
	return apiKey[:keyPrefixLen] + "..."
}
