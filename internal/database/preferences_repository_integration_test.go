package database

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ahump20/gameday/internal/domain"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	// Parse flags to check for -short
	flag.Parse()

	// Skip container setup if running in short mode
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start postgres container: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to terminate postgres container: %v\n", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get connection string: %v\n", err)
		os.Exit(1)
	}

	testPool, err = Connect(ctx, connStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to test database: %v\n", err)
		os.Exit(1)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to run migrations: %v\n", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

// setupTestRepo returns the repo and registers cleanup to truncate tables.
func setupTestRepo(t *testing.T) *PreferencesRepo {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	t.Cleanup(func() {
		_, err := testPool.Exec(context.Background(), "TRUNCATE alert_preferences")
		require.NoError(t, err)
	})

	return NewPreferencesRepo(testPool)
}

func TestPreferencesRepo_GetMissing(t *testing.T) {
	repo := setupTestRepo(t)

	_, err := repo.Get(context.Background(), "user-1")
	assert.ErrorIs(t, err, domain.ErrPreferencesNotFound)
}

func TestPreferencesRepo_UpsertAndGet(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	prefs := domain.AlertPreferences{
		AlertTypes: map[domain.AlertType]bool{
			domain.AlertScoreUpdate: false,
			domain.AlertGameEnd:     true,
		},
		QuietHours: &domain.QuietHours{Start: "22:00", End: "06:00"},
	}
	require.NoError(t, repo.Upsert(ctx, "user-1", prefs))

	got, err := repo.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, got.Allows(domain.AlertScoreUpdate))
	assert.True(t, got.Allows(domain.AlertGameEnd))
	require.NotNil(t, got.QuietHours)
	assert.Equal(t, "22:00", got.QuietHours.Start)
	assert.Equal(t, "06:00", got.QuietHours.End)
}

func TestPreferencesRepo_UpsertReplaces(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, "user-1", domain.AlertPreferences{
		AlertTypes: map[domain.AlertType]bool{domain.AlertScoreUpdate: false},
	}))
	require.NoError(t, repo.Upsert(ctx, "user-1", domain.AlertPreferences{
		QuietHours: &domain.QuietHours{Start: "00:00", End: "08:00"},
	}))

	got, err := repo.Get(ctx, "user-1")
	require.NoError(t, err)
	// Replacement is wholesale, not a merge.
	assert.True(t, got.Allows(domain.AlertScoreUpdate))
	require.NotNil(t, got.QuietHours)
	assert.Equal(t, "00:00", got.QuietHours.Start)
}

func TestPreferencesRepo_UsersAreIsolated(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, "user-1", domain.AlertPreferences{
		AlertTypes: map[domain.AlertType]bool{domain.AlertScoreUpdate: false},
	}))

	_, err := repo.Get(ctx, "user-2")
	assert.ErrorIs(t, err, domain.ErrPreferencesNotFound)
}
