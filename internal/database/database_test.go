package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/scythe504/gameswap-backend/internal"
	"github.com/scythe504/gameswap-backend/internal/database"
)

func startStore(t *testing.T) *database.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("gameswap"),
		postgres.WithUsername("gameswap"),
		postgres.WithPassword("gameswap"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connString, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := database.New(ctx, connString)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func sampleRecord(roomId, roomName string) internal.RoomRecord {
	return internal.RoomRecord{
		RoomId:        roomId,
		CreatedAt:     time.Now().UnixMilli(),
		RoomName:      roomName,
		SaltedRoomKey: "c2FsdGVk",
		RoomKeySalt:   "c2FsdA",
		AdminKey:      "admin-" + roomId,
		UserKeys:      map[string]string{"ana": "key-ana"},
		RaceState: internal.RaceStateData{
			Phase: internal.PhaseActive,
			Games: []internal.RaceGame{
				{GameName: "Mega Man 2", LogicalName: "megamanii", CompletedByUser: "ana"},
				{GameName: "Tetris", LogicalName: "tetris"},
			},
			Participants: []internal.RaceParticipant{
				{UserName: "ana", Score: 1, Leader: true, Status: internal.StatusConnected},
			},
			CurrentGame:      &internal.RaceGame{GameName: "Tetris", LogicalName: "tetris"},
			SwapCount:        3,
			SwapQueueSize:    2,
			SwapBlockedUntil: time.Now().UnixMilli() + 5000,
			SwapMinCooldown:  5,
			SwapMaxCooldown:  10,
			SwapModeConfig:   internal.SwapModeConfig{SwapMode: internal.SwapModeTimer, ExtraData: "5|10"},
		},
	}
}

func TestRoomRepositoryRoundTrip(t *testing.T) {
	store := startStore(t)
	repo := database.NewRoomRepository(store)
	ctx := context.Background()

	record := sampleRecord("room-1", "friday-race")
	require.NoError(t, repo.Save(ctx, record))

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, record, all[0])
}

func TestRoomRepositorySaveIsUpsert(t *testing.T) {
	store := startStore(t)
	repo := database.NewRoomRepository(store)
	ctx := context.Background()

	record := sampleRecord("room-2", "mutable")
	require.NoError(t, repo.Save(ctx, record))

	record.RaceState.SwapCount = 99
	record.UserKeys["bo"] = "key-bo"
	require.NoError(t, repo.Save(ctx, record))

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 99, all[0].RaceState.SwapCount)
	assert.Equal(t, "key-bo", all[0].UserKeys["bo"])
}

func TestRoomRepositoryDelete(t *testing.T) {
	store := startStore(t)
	repo := database.NewRoomRepository(store)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, sampleRecord("room-3", "doomed")))
	require.NoError(t, repo.Save(ctx, sampleRecord("room-4", "survivor")))
	require.NoError(t, repo.Delete(ctx, "room-3"))

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "room-4", all[0].RoomId)

	// Deleting an absent room is not an error.
	assert.NoError(t, repo.Delete(ctx, "room-3"))
}

func TestRoomArchiveKeepsEverySnapshot(t *testing.T) {
	store := startStore(t)
	archive := database.NewRoomArchive(store)
	ctx := context.Background()

	record := sampleRecord("room-5", "archived")
	require.NoError(t, archive.Add(ctx, record))
	record.RaceState.SwapCount++
	require.NoError(t, archive.Add(ctx, record))
}
