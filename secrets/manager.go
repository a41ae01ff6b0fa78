package secrets

import (
	"context"
	"errors"
	"regexp"
	"time"
)

// OwnerSlashRepo scopes secrets to one repository, e.g. "icy/loom".
type OwnerSlashRepo string

type Secret[T any] struct {
	Key       string
	Value     T
	Repo      OwnerSlashRepo
	CreatedAt time.Time
	CreatedBy string
}

// the secret value is not present
type LockedSecret = Secret[struct{}]

// the secret value is present in plaintext; never expose this
// publicly, only hand it to the workflow engine
type UnlockedSecret = Secret[string]

type Manager interface {
	AddSecret(ctx context.Context, secret UnlockedSecret) error
	RemoveSecret(ctx context.Context, secret Secret[any]) error
	GetSecretsLocked(ctx context.Context, repo OwnerSlashRepo) ([]LockedSecret, error)
	GetSecretsUnlocked(ctx context.Context, repo OwnerSlashRepo) ([]UnlockedSecret, error)
}

// stopper interface for managers that need cleanup
type Stopper interface {
	Stop()
}

var ErrKeyAlreadyPresent = errors.New("key already present")
var ErrInvalidKeyIdent = errors.New("key is not a valid identifier")
var ErrKeyNotFound = errors.New("key not found")

// ensure that we are satisfying the interface
var (
	_ = []Manager{
		&SqliteManager{},
		&VaultManager{},
	}
)

var (
	// bash identifier syntax, since secrets become env vars
	keyIdent = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

func ValidateKey(key string) error {
	if key == "" || !keyIdent.MatchString(key) {
		return ErrInvalidKeyIdent
	}
	return nil
}
