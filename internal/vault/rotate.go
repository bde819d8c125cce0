package vault

import (
	"context"
	"time"
)

// RotateIfDue rotates the encryption key when it is older than the
// configured age. No-op otherwise.
func (v *Vault) RotateIfDue(ctx context.Context) error {
	v.mu.Lock()
	due := time.Since(v.meta.CreatedAt) > v.cfg.RotationAge
	v.mu.Unlock()
	if !due {
		return nil
	}
	return v.Rotate(ctx)
}

// Rotate generates a fresh key and re-encrypts every stored credential
// under it. The old key file is only replaced after the database holds the
// new ciphertexts, so a crash mid-rotation never strands the credentials.
func (v *Vault) Rotate(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	creds, err := v.creds.ListCredentials(ctx)
	if err != nil {
		return err
	}

	newerKey, err := newKey()
	if err != nil {
		return err
	}
	newMeta := keyMeta{CreatedAt: time.Now().UTC(), Version: v.meta.Version + 1}

	rewrapped := make(map[string][]byte, len(creds))
	for _, cred := range creds {
		plain, err := decrypt(v.key, cred.Ciphertext)
		if err != nil {
			return err
		}
		ct, err := encrypt(newerKey, plain)
		if err != nil {
			return err
		}
		rewrapped[cred.Provider] = ct
	}

	if err := v.creds.RewrapCredentials(ctx, rewrapped, newMeta.Version); err != nil {
		return err
	}
	if err := v.keyfile.write(newerKey, newMeta); err != nil {
		return err
	}

	v.key, v.meta = newerKey, newMeta
	v.logger.Info("vault.key_rotated", "version", newMeta.Version, "credentials", len(rewrapped))
	return nil
}

// KeyVersion reports the active encryption key version.
func (v *Vault) KeyVersion() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.meta.Version
}

// KeyAge reports how old the active encryption key is.
func (v *Vault) KeyAge() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return time.Since(v.meta.CreatedAt)
}
