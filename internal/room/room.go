package room

import (
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scythe504/gameswap-backend/internal"
	"github.com/scythe504/gameswap-backend/internal/crypto"
	"github.com/scythe504/gameswap-backend/internal/feed"
	"github.com/scythe504/gameswap-backend/internal/race"
	"github.com/scythe504/gameswap-backend/internal/utils"
)

// RoomState wraps exactly one RaceState with room identity, access keys and
// the name mappings. The RoomManager owns every instance; nothing else
// mutates one directly.
//
// Three tiers of secrets: the shared room key is only ever stored salted and
// hashed; the admin key is a random token compared by equality and revealed
// once, in the create-room response; per-user keys are random tokens issued
// at join time.
type RoomState struct {
	RoomId    string
	RoomName  string
	CreatedAt int64

	saltedRoomKey string
	roomKeySalt   string
	adminKey      string

	mu       sync.RWMutex // guards userKeys
	userKeys map[string]string

	gameNameToLogical map[string]string
	logicalToGameName map[string]string

	Race *race.RaceState
}

// NewRoomState creates a fresh room from a validated create-room request.
// RoomId is generated here and stays the persistence key for the room's
// lifetime; the human-chosen RoomName may be reused after deletion.
func NewRoomState(req internal.CreateRoomRequest, donations *feed.DonationFeed, onUpdate race.UpdateFunc) (*RoomState, error) {
	saltedKey, salt, err := crypto.HashRoomKey(req.RoomKey)
	if err != nil {
		return nil, fmt.Errorf("hash room key: %w", err)
	}

	raceState, err := race.New(req.Games, req.SwapModeConfig, *req.SwapMinCooldown, *req.SwapMaxCooldown, donations, onUpdate)
	if err != nil {
		return nil, err
	}

	r := &RoomState{
		RoomId:        uuid.NewString(),
		RoomName:      req.RoomName,
		CreatedAt:     time.Now().UnixMilli(),
		saltedRoomKey: saltedKey,
		roomKeySalt:   salt,
		adminKey:      crypto.GenerateAdminKey(),
		userKeys:      make(map[string]string),
		Race:          raceState,
	}
	r.buildNameMappings(req.Games)
	return r, nil
}

// RoomStateFromRecord rebuilds a room from its persisted form.
func RoomStateFromRecord(record internal.RoomRecord, donations *feed.DonationFeed, onUpdate race.UpdateFunc) (*RoomState, error) {
	raceState, err := race.FromData(record.RaceState, donations, onUpdate)
	if err != nil {
		return nil, fmt.Errorf("room %s: %w", record.RoomId, err)
	}

	userKeys := make(map[string]string, len(record.UserKeys))
	for name, key := range record.UserKeys {
		userKeys[name] = key
	}

	r := &RoomState{
		RoomId:        record.RoomId,
		RoomName:      record.RoomName,
		CreatedAt:     record.CreatedAt,
		saltedRoomKey: record.SaltedRoomKey,
		roomKeySalt:   record.RoomKeySalt,
		adminKey:      record.AdminKey,
		userKeys:      userKeys,
		Race:          raceState,
	}

	gameNames := make([]string, 0, len(record.RaceState.Games))
	for _, g := range record.RaceState.Games {
		gameNames = append(gameNames, g.GameName)
	}
	r.buildNameMappings(gameNames)
	return r, nil
}

func (r *RoomState) buildNameMappings(gameNames []string) {
	r.gameNameToLogical = make(map[string]string, len(gameNames))
	r.logicalToGameName = make(map[string]string, len(gameNames))
	for _, name := range gameNames {
		logical := utils.CalculateLogicalName(name)
		r.gameNameToLogical[name] = logical
		r.logicalToGameName[logical] = name
	}
}

// AdminKey is exposed once so the create-room response can hand it to the
// creator.
func (r *RoomState) AdminKey() string {
	return r.adminKey
}

func (r *RoomState) HasAdminAccess(adminKey string) bool {
	return subtle.ConstantTimeCompare([]byte(r.adminKey), []byte(adminKey)) == 1
}

func (r *RoomState) HasRoomAccess(roomKey string) bool {
	return crypto.VerifyRoomKey(r.saltedRoomKey, r.roomKeySalt, roomKey)
}

func (r *RoomState) HasUserAccess(userName, userKey string) bool {
	r.mu.RLock()
	stored, ok := r.userKeys[userName]
	r.mu.RUnlock()
	return ok && subtle.ConstantTimeCompare([]byte(stored), []byte(userKey)) == 1
}

// ClaimUserName atomically checks availability and mints the key that
// authenticates this participant from now on. Claim and issue share one
// critical section so two racing joins can never both win the same name.
func (r *RoomState) ClaimUserName(userName string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.userKeys[userName]; taken {
		return "", false
	}
	key := crypto.GenerateUserKey(userName)
	r.userKeys[userName] = key
	return key, true
}

// GameNameForLogical resolves a client-supplied logical name back to the
// display name, or "" if the game is not in this race.
func (r *RoomState) GameNameForLogical(logicalName string) string {
	return r.logicalToGameName[logicalName]
}

func (r *RoomState) LogicalNameFor(gameName string) string {
	return r.gameNameToLogical[gameName]
}

// Overview is the public view handed to clients; it contains no secrets.
func (r *RoomState) Overview() internal.RoomOverview {
	return internal.RoomOverview{
		RoomId:    r.RoomId,
		RoomName:  r.RoomName,
		CreatedAt: r.CreatedAt,
		RaceState: r.Race.Snapshot(),
	}
}

// Record is the full persistence form, secrets included.
func (r *RoomState) Record() internal.RoomRecord {
	r.mu.RLock()
	userKeys := make(map[string]string, len(r.userKeys))
	for name, key := range r.userKeys {
		userKeys[name] = key
	}
	r.mu.RUnlock()

	return internal.RoomRecord{
		RoomId:        r.RoomId,
		CreatedAt:     r.CreatedAt,
		RoomName:      r.RoomName,
		SaltedRoomKey: r.saltedRoomKey,
		RoomKeySalt:   r.roomKeySalt,
		AdminKey:      r.adminKey,
		UserKeys:      userKeys,
		RaceState:     r.Race.Serialize(),
	}
}
