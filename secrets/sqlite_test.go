package secrets

import (
	"context"
	"testing"
	"time"
)

func createInMemoryDB(t *testing.T) *SqliteManager {
	t.Helper()
	manager, err := NewSQLiteManager(":memory:")
	if err != nil {
		t.Fatalf("Failed to create in-memory manager: %v", err)
	}
	return manager
}

func createTestSecret(repo, key, value, createdBy string) UnlockedSecret {
	return UnlockedSecret{
		Key:       key,
		Value:     value,
		Repo:      OwnerSlashRepo(repo),
		CreatedAt: time.Now(),
		CreatedBy: createdBy,
	}
}

// ensure that interface is satisfied
func TestManagerInterface(t *testing.T) {
	var _ Manager = (*SqliteManager)(nil)
}

func TestNewSQLiteManager(t *testing.T) {
	tests := []struct {
		name        string
		dbPath      string
		opts        []SqliteManagerOpt
		expectError bool
		expectTable string
	}{
		{
			name:        "default table name",
			dbPath:      ":memory:",
			expectTable: "secrets",
		},
		{
			name:        "custom table name",
			dbPath:      ":memory:",
			opts:        []SqliteManagerOpt{WithTableName("custom_secrets")},
			expectTable: "custom_secrets",
		},
		{
			name:        "invalid database path",
			dbPath:      "/invalid/path/to/database.db",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager, err := NewSQLiteManager(tt.dbPath, tt.opts...)
			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			defer manager.db.Close()

			if manager.tableName != tt.expectTable {
				t.Errorf("Expected table name %s, got %s", tt.expectTable, manager.tableName)
			}
		})
	}
}

func TestSqliteManager_AddSecret(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		secrets     []UnlockedSecret
		expectError []error
	}{
		{
			name: "add single secret",
			secrets: []UnlockedSecret{
				createTestSecret("icy/loom", "API_KEY", "secret_value_123", "icy"),
			},
			expectError: []error{nil},
		},
		{
			name: "add multiple unique secrets",
			secrets: []UnlockedSecret{
				createTestSecret("icy/loom", "API_KEY", "secret_value_123", "icy"),
				createTestSecret("icy/loom", "DB_PASSWORD", "password_456", "icy"),
				createTestSecret("oppi/other", "API_KEY", "other_secret", "oppi"),
			},
			expectError: []error{nil, nil, nil},
		},
		{
			name: "add duplicate secret",
			secrets: []UnlockedSecret{
				createTestSecret("icy/loom", "API_KEY", "secret_value_123", "icy"),
				createTestSecret("icy/loom", "API_KEY", "different_value", "icy"),
			},
			expectError: []error{nil, ErrKeyAlreadyPresent},
		},
		{
			name: "reject key that is not a bash identifier",
			secrets: []UnlockedSecret{
				createTestSecret("icy/loom", "not-an-ident", "v", "icy"),
			},
			expectError: []error{ErrInvalidKeyIdent},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := createInMemoryDB(t)
			defer manager.db.Close()

			for i, secret := range tt.secrets {
				err := manager.AddSecret(ctx, secret)
				if err != tt.expectError[i] {
					t.Errorf("Secret %d: expected error %v, got %v", i, tt.expectError[i], err)
				}
			}
		})
	}
}

func TestSqliteManager_RemoveSecret(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name         string
		setupSecrets []UnlockedSecret
		removeSecret Secret[any]
		expectError  error
	}{
		{
			name: "remove existing secret",
			setupSecrets: []UnlockedSecret{
				createTestSecret("icy/loom", "API_KEY", "secret_value_123", "icy"),
			},
			removeSecret: Secret[any]{Key: "API_KEY", Repo: "icy/loom"},
		},
		{
			name: "remove non-existent secret",
			setupSecrets: []UnlockedSecret{
				createTestSecret("icy/loom", "API_KEY", "secret_value_123", "icy"),
			},
			removeSecret: Secret[any]{Key: "NONEXISTENT", Repo: "icy/loom"},
			expectError:  ErrKeyNotFound,
		},
		{
			name:         "remove from empty database",
			removeSecret: Secret[any]{Key: "ANY_KEY", Repo: "icy/loom"},
			expectError:  ErrKeyNotFound,
		},
		{
			name: "remove secret from wrong repo",
			setupSecrets: []UnlockedSecret{
				createTestSecret("icy/loom", "API_KEY", "secret_value_123", "icy"),
			},
			removeSecret: Secret[any]{Key: "API_KEY", Repo: "oppi/other"},
			expectError:  ErrKeyNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := createInMemoryDB(t)
			defer manager.db.Close()

			for _, secret := range tt.setupSecrets {
				if err := manager.AddSecret(ctx, secret); err != nil {
					t.Fatalf("Failed to setup secret: %v", err)
				}
			}

			err := manager.RemoveSecret(ctx, tt.removeSecret)
			if err != tt.expectError {
				t.Errorf("Expected error %v, got %v", tt.expectError, err)
			}
		})
	}
}

func TestSqliteManager_GetSecrets(t *testing.T) {
	ctx := context.Background()

	setup := []UnlockedSecret{
		createTestSecret("icy/loom", "KEY1", "value1", "icy"),
		createTestSecret("icy/loom", "KEY2", "value2", "icy"),
		createTestSecret("oppi/other", "KEY3", "value3", "oppi"),
	}

	manager := createInMemoryDB(t)
	defer manager.db.Close()

	for _, secret := range setup {
		if err := manager.AddSecret(ctx, secret); err != nil {
			t.Fatalf("Failed to setup secret: %v", err)
		}
	}

	locked, err := manager.GetSecretsLocked(ctx, "icy/loom")
	if err != nil {
		t.Fatalf("GetSecretsLocked: %v", err)
	}
	if len(locked) != 2 {
		t.Errorf("Expected 2 locked secrets, got %d", len(locked))
	}
	for _, ls := range locked {
		if ls.CreatedAt.IsZero() {
			t.Error("Expected CreatedAt to be set")
		}
		if ls.CreatedBy == "" {
			t.Error("Expected CreatedBy to be present")
		}
	}

	unlocked, err := manager.GetSecretsUnlocked(ctx, "icy/loom")
	if err != nil {
		t.Fatalf("GetSecretsUnlocked: %v", err)
	}
	want := map[string]string{"KEY1": "value1", "KEY2": "value2"}
	if len(unlocked) != len(want) {
		t.Errorf("Expected %d unlocked secrets, got %d", len(want), len(unlocked))
	}
	for _, us := range unlocked {
		if want[us.Key] != us.Value {
			t.Errorf("Expected value %s for key %s, got %s", want[us.Key], us.Key, us.Value)
		}
	}

	// a repo with no secrets reads back empty, not an error
	none, err := manager.GetSecretsUnlocked(ctx, "nobody/nothing")
	if err != nil {
		t.Fatalf("GetSecretsUnlocked: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Expected 0 secrets, got %d", len(none))
	}
}
