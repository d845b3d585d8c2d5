package room

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/scythe504/gameswap-backend/internal"
	"github.com/scythe504/gameswap-backend/internal/feed"
	"github.com/scythe504/gameswap-backend/internal/race"
	"github.com/scythe504/gameswap-backend/internal/utils"
)

// Sentinel errors mapped to transport status codes by the server layer.
var (
	ErrRoomNotFound = errors.New("no room with that name exists")
	ErrUnauthorized = errors.New("invalid key")
	ErrNameTaken    = errors.New("that user name is already taken in this room")
)

// ValidationError marks a rejected command payload.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func validationErr(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

var roomNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Repository is the primary room document store.
type Repository interface {
	GetAll(ctx context.Context) ([]internal.RoomRecord, error)
	Save(ctx context.Context, record internal.RoomRecord) error
	Delete(ctx context.Context, roomId string) error
}

// Archive receives a final snapshot of every deleted room.
type Archive interface {
	Add(ctx context.Context, record internal.RoomRecord) error
}

// Broadcaster pushes events to all realtime subscribers of a room.
type Broadcaster interface {
	BroadcastRaceStateUpdate(data internal.RaceStateUpdateData)
	BroadcastLoadGame(data internal.LoadGameData)
	BroadcastRaceEnded(data internal.RaceEndedData)
}

// managedRoom pairs a RoomState with its persistence pipeline. persistCh has
// capacity one and carries tokens, not snapshots: the writer goroutine
// serializes the room when it dequeues, so a token that finds the channel
// full can be dropped, the pending write will pick the newer state up anyway.
// That also keeps the race-state update callback non-blocking, which it must
// be since it runs with the race lock held.
type managedRoom struct {
	state *RoomState

	pmu       sync.Mutex // guards persistCh against send-after-close
	persistCh chan struct{}
	closed    bool
	done      chan struct{}
}

func (m *managedRoom) requestPersist() {
	m.pmu.Lock()
	defer m.pmu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.persistCh <- struct{}{}:
	default:
	}
}

// stopPersist closes the pipeline and waits for the writer goroutine to
// flush any pending write.
func (m *managedRoom) stopPersist() {
	m.pmu.Lock()
	if !m.closed {
		m.closed = true
		close(m.persistCh)
	}
	m.pmu.Unlock()
	<-m.done
}

// RoomManager owns every live room. All command handling goes through it: it
// resolves room names, checks keys, delegates to the room's RaceState and
// fans state changes out to the broadcaster and the repository.
type RoomManager struct {
	mu    sync.RWMutex
	rooms map[string]*managedRoom

	repository  Repository
	archive     Archive
	broadcaster Broadcaster
	donations   *feed.DonationFeed
}

func NewRoomManager(repository Repository, archive Archive, broadcaster Broadcaster, donations *feed.DonationFeed) *RoomManager {
	return &RoomManager{
		rooms:       make(map[string]*managedRoom),
		repository:  repository,
		archive:     archive,
		broadcaster: broadcaster,
		donations:   donations,
	}
}

// Rehydrate loads every persisted room back into memory. It must run to
// completion before the command surface starts accepting requests; a record
// that cannot be restored aborts startup rather than silently dropping a
// room.
func (rm *RoomManager) Rehydrate(ctx context.Context) error {
	records, err := rm.repository.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("load rooms: %w", err)
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	for _, record := range records {
		entry := rm.newManagedRoom()
		state, err := RoomStateFromRecord(record, rm.donations, rm.updateFunc(record.RoomName, entry))
		if err != nil {
			return fmt.Errorf("restore room %q: %w", record.RoomName, err)
		}
		entry.state = state
		rm.rooms[record.RoomName] = entry
		go rm.persistLoop(entry)
	}
	log.Printf("[RoomManager] Restored %d room(s) from the repository", len(records))
	return nil
}

// CreateRoom validates the request, persists the new room synchronously and
// registers it. The returned admin key is shown to the creator exactly once.
func (rm *RoomManager) CreateRoom(ctx context.Context, req internal.CreateRoomRequest) (internal.CreateRoomResponse, error) {
	if err := validateCreateRoom(&req); err != nil {
		return internal.CreateRoomResponse{}, err
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, exists := rm.rooms[req.RoomName]; exists {
		return internal.CreateRoomResponse{}, validationErr("a room named %q already exists", req.RoomName)
	}

	entry := rm.newManagedRoom()
	state, err := NewRoomState(req, rm.donations, rm.updateFunc(req.RoomName, entry))
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			return internal.CreateRoomResponse{}, err
		}
		return internal.CreateRoomResponse{}, validationErr("%s", err.Error())
	}
	entry.state = state

	if err := rm.repository.Save(ctx, state.Record()); err != nil {
		state.Race.Cleanup()
		return internal.CreateRoomResponse{}, fmt.Errorf("persist room %q: %w", req.RoomName, err)
	}

	rm.rooms[req.RoomName] = entry
	go rm.persistLoop(entry)

	log.Printf("[RoomManager] Created room %q (%s)", req.RoomName, state.RoomId)
	return internal.CreateRoomResponse{AdminKey: state.AdminKey()}, nil
}

// DeleteRoom tears a room down: the race stops producing events, the final
// snapshot goes to the archive and the primary record is removed. The room
// name becomes available again immediately.
func (rm *RoomManager) DeleteRoom(ctx context.Context, roomName, adminKey string) error {
	rm.mu.Lock()
	entry, ok := rm.rooms[roomName]
	if !ok {
		rm.mu.Unlock()
		return ErrRoomNotFound
	}
	if !entry.state.HasAdminAccess(adminKey) {
		rm.mu.Unlock()
		return ErrUnauthorized
	}
	delete(rm.rooms, roomName)
	rm.mu.Unlock()

	entry.state.Race.Cleanup()
	entry.stopPersist()

	record := entry.state.Record()
	if err := rm.archive.Add(ctx, record); err != nil {
		log.Printf("[RoomManager] Could not archive room %q: %v", roomName, err)
	}
	if err := rm.repository.Delete(ctx, record.RoomId); err != nil {
		return fmt.Errorf("remove room %q: %w", roomName, err)
	}

	log.Printf("[RoomManager] Deleted room %q (%s)", roomName, record.RoomId)
	return nil
}

// JoinRace admits a new participant: room key checked, user name claimed,
// personal user key issued.
func (rm *RoomManager) JoinRace(roomName string, req internal.JoinRaceRequest) (internal.JoinRaceResponse, error) {
	entry, err := rm.lookup(roomName)
	if err != nil {
		return internal.JoinRaceResponse{}, err
	}
	if !entry.state.HasRoomAccess(req.RoomKey) {
		return internal.JoinRaceResponse{}, ErrUnauthorized
	}
	userName := strings.TrimSpace(req.UserName)
	if userName == "" || !utils.IsPrintableName(userName) {
		return internal.JoinRaceResponse{}, validationErr("invalid user name")
	}

	userKey, claimed := entry.state.ClaimUserName(userName)
	if !claimed {
		return internal.JoinRaceResponse{}, ErrNameTaken
	}
	entry.state.Race.AddParticipant(userName)
	entry.requestPersist()

	return internal.JoinRaceResponse{
		UserKey:   userKey,
		RaceState: entry.state.Race.Snapshot(),
	}, nil
}

// RejoinRace re-authenticates a returning participant by user key and flips
// them back to connected.
func (rm *RoomManager) RejoinRace(roomName string, req internal.RejoinRaceRequest) (internal.RejoinRaceResponse, error) {
	entry, err := rm.lookup(roomName)
	if err != nil {
		return internal.RejoinRaceResponse{}, err
	}
	if !entry.state.HasUserAccess(req.UserName, req.UserKey) {
		return internal.RejoinRaceResponse{}, ErrUnauthorized
	}

	entry.state.Race.SetParticipantStatus(req.UserName, internal.StatusConnected)
	return internal.RejoinRaceResponse{RaceState: entry.state.Race.Snapshot()}, nil
}

// SetParticipantStatus records connect/disconnect transitions observed by the
// realtime layer. Unknown rooms or users are ignored.
func (rm *RoomManager) SetParticipantStatus(roomName, userName string, status internal.ParticipantStatus) {
	entry, err := rm.lookup(roomName)
	if err != nil {
		return
	}
	entry.state.Race.SetParticipantStatus(userName, status)
}

// CompleteGame resolves the logical game name and marks the completion. It
// deliberately never returns an error: the caller only learns whether the
// completion was accepted, so probing for valid names leaks nothing.
func (rm *RoomManager) CompleteGame(roomName string, req internal.CompleteGameRequest) bool {
	entry, err := rm.lookup(roomName)
	if err != nil {
		log.Printf("[RoomManager] Complete-game request for unknown room %q", roomName)
		return false
	}
	if !entry.state.HasUserAccess(req.UserName, req.UserKey) {
		log.Printf("[RoomManager] Complete-game request with bad user key in room %q", roomName)
		return false
	}
	gameName := entry.state.GameNameForLogical(req.GameLogicalName)
	if gameName == "" {
		log.Printf("[RoomManager] Complete-game request for unknown logical name %q in room %q", req.GameLogicalName, roomName)
		return false
	}
	return entry.state.Race.CompleteGame(gameName, req.UserName)
}

// GetRoom returns the public overview of one room.
func (rm *RoomManager) GetRoom(roomName string) (internal.RoomOverview, error) {
	entry, err := rm.lookup(roomName)
	if err != nil {
		return internal.RoomOverview{}, err
	}
	return entry.state.Overview(), nil
}

// ListRooms returns every live room name, oldest first.
func (rm *RoomManager) ListRooms() []string {
	rm.mu.RLock()
	entries := make([]*managedRoom, 0, len(rm.rooms))
	for _, entry := range rm.rooms {
		entries = append(entries, entry)
	}
	rm.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].state.CreatedAt != entries[j].state.CreatedAt {
			return entries[i].state.CreatedAt < entries[j].state.CreatedAt
		}
		return entries[i].state.RoomName < entries[j].state.RoomName
	})

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.state.RoomName)
	}
	return names
}

/************************************************************************
*  Admin commands
************************************************************************/

func (rm *RoomManager) AdminChangePhase(roomName, adminKey string, phase internal.RacePhase) error {
	if !phase.Valid() {
		return validationErr("invalid phase %q", phase)
	}
	entry, err := rm.adminLookup(roomName, adminKey)
	if err != nil {
		return err
	}
	entry.state.Race.AdminChangePhase(phase)
	return nil
}

func (rm *RoomManager) AdminSetGame(roomName, adminKey, gameName string) error {
	entry, err := rm.adminLookup(roomName, adminKey)
	if err != nil {
		return err
	}
	entry.state.Race.AdminManualSwapToGame(gameName)
	return nil
}

func (rm *RoomManager) AdminShuffleGame(roomName, adminKey string) error {
	entry, err := rm.adminLookup(roomName, adminKey)
	if err != nil {
		return err
	}
	entry.state.Race.AdminManualSwapRandom()
	return nil
}

func (rm *RoomManager) AdminMarkCompleted(roomName, adminKey, gameName, participantName string) error {
	entry, err := rm.adminLookup(roomName, adminKey)
	if err != nil {
		return err
	}
	entry.state.Race.AdminMarkCompleted(gameName, participantName)
	return nil
}

func (rm *RoomManager) AdminMarkUncompleted(roomName, adminKey, gameName string) error {
	entry, err := rm.adminLookup(roomName, adminKey)
	if err != nil {
		return err
	}
	entry.state.Race.AdminMarkUncompleted(gameName)
	return nil
}

func (rm *RoomManager) AdminClearSwapQueue(roomName, adminKey string) error {
	entry, err := rm.adminLookup(roomName, adminKey)
	if err != nil {
		return err
	}
	entry.state.Race.AdminClearSwapQueue()
	return nil
}

func (rm *RoomManager) AdminClearCooldown(roomName, adminKey string) error {
	entry, err := rm.adminLookup(roomName, adminKey)
	if err != nil {
		return err
	}
	entry.state.Race.AdminClearCooldown()
	return nil
}

func (rm *RoomManager) AdminResetCooldown(roomName, adminKey string) error {
	entry, err := rm.adminLookup(roomName, adminKey)
	if err != nil {
		return err
	}
	entry.state.Race.AdminResetCooldown()
	return nil
}

// Shutdown stops every room's timers and flushes pending writes. Rooms stay
// in the repository, ready to be rehydrated by the next process.
func (rm *RoomManager) Shutdown() {
	rm.mu.Lock()
	entries := rm.rooms
	rm.rooms = make(map[string]*managedRoom)
	rm.mu.Unlock()

	for name, entry := range entries {
		entry.state.Race.Cleanup()
		entry.stopPersist()
		log.Printf("[RoomManager] Shut down room %q", name)
	}
}

/************************************************************************
*  Internals
************************************************************************/

func (rm *RoomManager) lookup(roomName string) (*managedRoom, error) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	entry, ok := rm.rooms[roomName]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return entry, nil
}

func (rm *RoomManager) adminLookup(roomName, adminKey string) (*managedRoom, error) {
	entry, err := rm.lookup(roomName)
	if err != nil {
		return nil, err
	}
	if !entry.state.HasAdminAccess(adminKey) {
		return nil, ErrUnauthorized
	}
	return entry, nil
}

func (rm *RoomManager) newManagedRoom() *managedRoom {
	return &managedRoom{
		persistCh: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// updateFunc builds the per-room race-state callback. It runs with the race
// lock held, so everything here must stay non-blocking: broadcasts hand off
// to buffered client channels, persistence is a token drop.
func (rm *RoomManager) updateFunc(roomName string, entry *managedRoom) race.UpdateFunc {
	return func(update internal.RaceStateUpdate) {
		rm.broadcaster.BroadcastRaceStateUpdate(internal.RaceStateUpdateData{
			RoomName:        roomName,
			RaceStateUpdate: update,
		})
		if update.Changed(race.ChangeCurrentGame) && update.CurrentGame != nil {
			rm.broadcaster.BroadcastLoadGame(internal.LoadGameData{
				RoomName:        roomName,
				GameLogicalName: update.CurrentGame.LogicalName,
			})
		}
		if update.Changed(race.ChangePhase) && update.Phase == internal.PhaseEnded {
			rm.broadcaster.BroadcastRaceEnded(internal.RaceEndedData{
				RoomName:     roomName,
				Participants: update.Participants,
			})
		}

		// The swap-event log is cosmetic; skip the write when it is the only
		// thing that changed.
		if len(update.Changes) == 1 && update.Changes[0] == race.ChangeSwapEvents {
			return
		}
		entry.requestPersist()
	}
}

// persistLoop is the per-room writer goroutine. One loop per room keeps that
// room's writes ordered while rooms never block each other.
func (rm *RoomManager) persistLoop(entry *managedRoom) {
	defer close(entry.done)
	for range entry.persistCh {
		record := entry.state.Record()
		if err := rm.repository.Save(context.Background(), record); err != nil {
			log.Printf("[RoomManager] Could not persist room %q: %v", record.RoomName, err)
		}
	}
}

func validateCreateRoom(req *internal.CreateRoomRequest) error {
	req.RoomName = strings.TrimSpace(req.RoomName)
	switch {
	case req.RoomName == "":
		return validationErr("room name must not be empty")
	case len(req.RoomName) > internal.MaxRoomNameLength:
		return validationErr("room name must be at most %d characters", internal.MaxRoomNameLength)
	case !roomNamePattern.MatchString(req.RoomName):
		return validationErr("room name may only contain letters, digits, '-' and '_'")
	case req.RoomKey == "":
		return validationErr("room key must not be empty")
	case len(req.Games) < 1:
		return validationErr("at least one game is required")
	}

	for i, game := range req.Games {
		req.Games[i] = strings.TrimSpace(game)
		if req.Games[i] == "" {
			return validationErr("game names must not be empty")
		}
	}

	// Absent cooldowns fall back to the defaults; an explicit 0 is kept.
	if req.SwapMinCooldown == nil {
		min := internal.DefaultSwapMinCooldown
		req.SwapMinCooldown = &min
	}
	if req.SwapMaxCooldown == nil {
		max := internal.DefaultSwapMaxCooldown
		req.SwapMaxCooldown = &max
	}
	if *req.SwapMinCooldown < 0 || *req.SwapMaxCooldown < *req.SwapMinCooldown {
		return validationErr("swap cooldowns must satisfy 0 <= min <= max")
	}
	if req.SwapModeConfig.SwapMode == "" {
		req.SwapModeConfig.SwapMode = internal.SwapModeManual
	}
	return nil
}
