package vault

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoicator-app/invoicator/internal/common"
	"github.com/invoicator-app/invoicator/internal/store"
)

const testKey = "sk-ant-REDACTED"

func newTestVault(t *testing.T, validate RemoteValidator) (*Vault, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "vault.db"), nil)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	v, err := Open(Config{KeyDir: t.TempDir()}, st, validate, nil)
	require.NoError(t, err)
	return v, st
}

func TestStoreAndGetRoundTrip(t *testing.T) {
	v, st := newTestVault(t, nil)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, ProviderAnthropic, testKey))

	got, err := v.Get(ctx, ProviderAnthropic)
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	// the database row never holds the plaintext
	cred, err := st.GetCredential(ctx, ProviderAnthropic)
	require.NoError(t, err)
	assert.NotContains(t, string(cred.Ciphertext), testKey)
	assert.Equal(t, 1, cred.KeyVersion)
	assert.Equal(t, "manual", cred.Source)
}

func TestStoreResetsValidity(t *testing.T) {
	v, st := newTestVault(t, nil)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, ProviderAnthropic, testKey))
	require.NoError(t, v.MarkInvalid(ctx, ProviderAnthropic))

	// replacing a rejected key gives the new one a clean slate
	require.NoError(t, v.Store(ctx, ProviderAnthropic, testKey+"99"))

	cred, err := st.GetCredential(ctx, ProviderAnthropic)
	require.NoError(t, err)
	require.NotNil(t, cred.Valid)
	assert.True(t, *cred.Valid)
	assert.Nil(t, cred.LastValidated)
}

func TestStoreRejectsBadAnthropicKey(t *testing.T) {
	v, st := newTestVault(t, nil)
	ctx := context.Background()

	for _, bad := range []string{"not-a-key", "sk-ant-xyz", ""} {
		err := v.Store(ctx, ProviderAnthropic, bad)
		assert.ErrorIs(t, err, common.ErrCredentialInvalid, "key %q", bad)
	}

	// nothing was persisted
	_, err := st.GetCredential(ctx, ProviderAnthropic)
	assert.ErrorIs(t, err, common.ErrCredentialMissing)
}

func TestStoreGenericProviderLengthRule(t *testing.T) {
	v, _ := newTestVault(t, nil)
	ctx := context.Background()

	assert.ErrorIs(t, v.Store(ctx, "mistral", "short"), common.ErrCredentialInvalid)
	assert.NoError(t, v.Store(ctx, "mistral", "long-enough-key"))
}

func TestGetMissingCredential(t *testing.T) {
	v, _ := newTestVault(t, nil)

	_, err := v.Get(context.Background(), "mistral")
	assert.ErrorIs(t, err, common.ErrCredentialMissing)
}

func TestGetMigratesEnvKey(t *testing.T) {
	v, st := newTestVault(t, nil)
	ctx := context.Background()
	t.Setenv("ANTHROPIC_API_KEY", testKey)

	got, err := v.Get(ctx, ProviderAnthropic)
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	cred, err := st.GetCredential(ctx, ProviderAnthropic)
	require.NoError(t, err)
	assert.Equal(t, "env_migrated", cred.Source)
}

func TestWrongKeyFailsDecryption(t *testing.T) {
	v, st := newTestVault(t, nil)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, ProviderAnthropic, testKey))

	// swap the in-memory key for a different one
	other, err := newKey()
	require.NoError(t, err)
	v.mu.Lock()
	v.key = other
	v.mu.Unlock()

	_, err = v.Get(ctx, ProviderAnthropic)
	assert.ErrorIs(t, err, common.ErrDecryptionFailed)

	statuses, err := v.StatusList(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "(undecryptable)", statuses[0].KeyPrefix)
	_ = st
}

func TestRotatePreservesCredentials(t *testing.T) {
	v, st := newTestVault(t, nil)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, ProviderAnthropic, testKey))
	require.NoError(t, v.Store(ctx, "mistral", "another-long-key"))
	before, err := st.GetCredential(ctx, ProviderAnthropic)
	require.NoError(t, err)

	require.NoError(t, v.Rotate(ctx))

	assert.Equal(t, 2, v.KeyVersion())
	after, err := st.GetCredential(ctx, ProviderAnthropic)
	require.NoError(t, err)
	assert.Equal(t, 2, after.KeyVersion)
	assert.NotEqual(t, before.Ciphertext, after.Ciphertext)

	got, err := v.Get(ctx, ProviderAnthropic)
	require.NoError(t, err)
	assert.Equal(t, testKey, got)
	got, err = v.Get(ctx, "mistral")
	require.NoError(t, err)
	assert.Equal(t, "another-long-key", got)
}

func TestRotateSurvivesReopen(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "vault.db"), nil)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	defer st.Close()
	keyDir := t.TempDir()
	ctx := context.Background()

	v, err := Open(Config{KeyDir: keyDir}, st, nil, nil)
	require.NoError(t, err)
	require.NoError(t, v.Store(ctx, ProviderAnthropic, testKey))
	require.NoError(t, v.Rotate(ctx))

	reopened, err := Open(Config{KeyDir: keyDir}, st, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.KeyVersion())
	got, err := reopened.Get(ctx, ProviderAnthropic)
	require.NoError(t, err)
	assert.Equal(t, testKey, got)
}

func TestOpenRotatesOverdueKey(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "vault.db"), nil)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	defer st.Close()
	keyDir := t.TempDir()
	ctx := context.Background()

	v, err := Open(Config{KeyDir: keyDir}, st, nil, nil)
	require.NoError(t, err)
	require.NoError(t, v.Store(ctx, ProviderAnthropic, testKey))

	// age the key past the rotation window
	meta := keyMeta{CreatedAt: time.Now().UTC().Add(-48 * time.Hour), Version: 1}
	require.NoError(t, v.keyfile.write(v.key, meta))

	reopened, err := Open(Config{KeyDir: keyDir, RotationAge: 24 * time.Hour}, st, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.KeyVersion())
	got, err := reopened.Get(ctx, ProviderAnthropic)
	require.NoError(t, err)
	assert.Equal(t, testKey, got)
}

func TestValidateRecordsOutcome(t *testing.T) {
	calls := 0
	v, st := newTestVault(t, func(ctx context.Context, apiKey string) error {
		calls++
		return nil
	})
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, ProviderAnthropic, testKey))
	valid, err := v.Validate(ctx, ProviderAnthropic)
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Equal(t, 1, calls)

	cred, err := st.GetCredential(ctx, ProviderAnthropic)
	require.NoError(t, err)
	require.NotNil(t, cred.Valid)
	assert.True(t, *cred.Valid)
}

func TestValidateRejectedKey(t *testing.T) {
	v, st := newTestVault(t, func(ctx context.Context, apiKey string) error {
		return fmt.Errorf("%w: 401", common.ErrCredentialInvalid)
	})
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, ProviderAnthropic, testKey))
	valid, err := v.Validate(ctx, ProviderAnthropic)
	require.NoError(t, err)
	assert.False(t, valid)

	cred, err := st.GetCredential(ctx, ProviderAnthropic)
	require.NoError(t, err)
	require.NotNil(t, cred.Valid)
	assert.False(t, *cred.Valid)
}

func TestValidateTransientErrorPresumesValid(t *testing.T) {
	v, _ := newTestVault(t, func(ctx context.Context, apiKey string) error {
		return fmt.Errorf("%w: overloaded", common.ErrExtractionUnavailable)
	})
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, ProviderAnthropic, testKey))
	valid, err := v.Validate(ctx, ProviderAnthropic)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestStatusListMasksKeys(t *testing.T) {
	v, _ := newTestVault(t, nil)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, ProviderAnthropic, testKey))
	statuses, err := v.StatusList(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "sk-ant-api...", statuses[0].KeyPrefix)
	assert.NotContains(t, statuses[0].KeyPrefix, testKey[11:])
}

func TestKeyFilePermissions(t *testing.T) {
	dir := t.TempDir()
	kf := &keyFile{dir: filepath.Join(dir, "config")}
	_, _, err := kf.load()
	require.NoError(t, err)

	info, err := os.Stat(kf.keyPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	dirInfo, err := os.Stat(filepath.Join(dir, "config"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())
}

func TestCorruptedKeyFile(t *testing.T) {
	dir := t.TempDir()
	kf := &keyFile{dir: dir}
	_, _, err := kf.load()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(kf.keyPath(), []byte("not hex at all\n"), 0o600))
	_, _, err = kf.load()
	assert.ErrorContains(t, err, "corrupted")
}
