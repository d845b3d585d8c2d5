// Package race implements the per-room phase/score/swap state machine. All
// exported methods serialize on an internal mutex; cooldown-timer firings and
// swap-mode deliveries take the same mutex, so every logical step (command,
// timer, donation) mutates the state atomically, notify step included.
package race

import (
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/scythe504/gameswap-backend/internal"
	"github.com/scythe504/gameswap-backend/internal/feed"
	"github.com/scythe504/gameswap-backend/internal/swapmode"
	"github.com/scythe504/gameswap-backend/internal/utils"
)

// Change-field names carried in RaceStateUpdate.Changes.
const (
	ChangePhase            = "phase"
	ChangeGames            = "games"
	ChangeParticipants     = "participants"
	ChangeCurrentGame      = "currentGame"
	ChangeSwapCount        = "swapCount"
	ChangeSwapQueueSize    = "swapQueueSize"
	ChangeSwapBlockedUntil = "swapBlockedUntil"
	ChangeSwapEvents       = "swapEventData"
)

// UpdateFunc receives every state change. It is invoked while the race lock
// is held, so implementations must not call back into the RaceState and must
// not block.
type UpdateFunc func(update internal.RaceStateUpdate)

type RaceState struct {
	mu sync.Mutex

	phase        internal.RacePhase
	games        []internal.RaceGame
	participants []internal.RaceParticipant
	currentGame  *internal.RaceGame // points into games

	swapCount        int
	swapQueueSize    int
	swapBlockedUntil int64 // unix millis; 0 when unblocked
	swapTimer        *time.Timer

	swapMinCooldown int
	swapMaxCooldown int

	swapModeConfig internal.SwapModeConfig
	swapMode       swapmode.SwapMode
	swapEvents     []internal.SwapEvent

	onUpdate UpdateFunc
	closed   bool
}

// New creates a fresh race over a non-empty, immutable game list. Logical
// names are derived here and must be unique within the race.
func New(games []string, config internal.SwapModeConfig, swapMinCooldown, swapMaxCooldown int, donations *feed.DonationFeed, onUpdate UpdateFunc) (*RaceState, error) {
	if len(games) < 1 {
		return nil, fmt.Errorf("cannot create race state: number of games must be at least 1")
	}

	raceGames := make([]internal.RaceGame, 0, len(games))
	seen := make(map[string]string, len(games))
	for _, name := range games {
		logical := utils.CalculateLogicalName(name)
		if logical == "" {
			return nil, fmt.Errorf("game name %q normalizes to an empty logical name", name)
		}
		if other, dup := seen[logical]; dup {
			return nil, fmt.Errorf("game names %q and %q collide on logical name %q", other, name, logical)
		}
		seen[logical] = name
		raceGames = append(raceGames, internal.RaceGame{GameName: name, LogicalName: logical})
	}

	rs := &RaceState{
		phase:           internal.PhaseNew,
		games:           raceGames,
		participants:    []internal.RaceParticipant{},
		swapMinCooldown: swapMinCooldown,
		swapMaxCooldown: swapMaxCooldown,
		swapModeConfig:  config,
		onUpdate:        onUpdate,
	}
	if err := rs.bindSwapMode(donations); err != nil {
		return nil, err
	}
	return rs, nil
}

// FromData rebuilds a race from its persisted form. A pending swap queue
// restarts the cooldown timer against the stored deadline, so queued swaps
// survive a process restart.
func FromData(data internal.RaceStateData, donations *feed.DonationFeed, onUpdate UpdateFunc) (*RaceState, error) {
	if len(data.Games) < 1 {
		return nil, fmt.Errorf("cannot restore race state: persisted game list is empty")
	}

	rs := &RaceState{
		phase:            data.Phase,
		games:            append([]internal.RaceGame(nil), data.Games...),
		participants:     append([]internal.RaceParticipant(nil), data.Participants...),
		swapCount:        data.SwapCount,
		swapQueueSize:    data.SwapQueueSize,
		swapBlockedUntil: data.SwapBlockedUntil,
		swapMinCooldown:  data.SwapMinCooldown,
		swapMaxCooldown:  data.SwapMaxCooldown,
		swapModeConfig:   data.SwapModeConfig,
		onUpdate:         onUpdate,
	}
	if data.CurrentGame != nil {
		rs.currentGame = rs.findGame(data.CurrentGame.GameName)
		if rs.currentGame == nil {
			return nil, fmt.Errorf("cannot restore race state: current game %q is not in the game list", data.CurrentGame.GameName)
		}
	}
	if err := rs.bindSwapMode(donations); err != nil {
		return nil, err
	}

	if rs.swapQueueSize > 0 {
		rs.mu.Lock()
		rs.startSwapTimerLocked(rs.swapBlockedUntil)
		rs.mu.Unlock()
	}
	return rs, nil
}

func (rs *RaceState) bindSwapMode(donations *feed.DonationFeed) error {
	mode, err := swapmode.New(rs.swapModeConfig, donations)
	if err != nil {
		return err
	}
	rs.swapMode = mode
	mode.Bind(rs.onSwapTriggers)
	return nil
}

/************************************************************************
*  Public operations
************************************************************************/

// AddParticipant registers a new participant. Duplicate names are a logged
// no-op, not an error.
func (rs *RaceState) AddParticipant(userName string) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.findParticipantLocked(userName) != nil {
		log.Printf("[RaceState] Could not add participant, a user named %s already exists", userName)
		return false
	}
	rs.participants = append(rs.participants, internal.RaceParticipant{
		UserName: userName,
		Status:   internal.StatusConnected,
	})
	rs.updateStateLocked(ChangeParticipants)
	return true
}

// SetParticipantStatus flips the connected flag shown next to a participant.
func (rs *RaceState) SetParticipantStatus(userName string, status internal.ParticipantStatus) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	p := rs.findParticipantLocked(userName)
	if p == nil || p.Status == status {
		return
	}
	p.Status = status
	rs.updateStateLocked(ChangeParticipants)
}

// CompleteGame marks a game completed by a participant. Unknown games, games
// already completed and unknown users are logged no-ops returning false.
func (rs *RaceState) CompleteGame(gameName, userName string) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	game := rs.findGame(gameName)
	if game == nil {
		log.Printf("[RaceState] Could not mark game %q as completed, no such game in the race", gameName)
		return false
	}
	if game.Completed() {
		log.Printf("[RaceState] Could not mark game %q as completed, already completed by %q", gameName, game.CompletedByUser)
		return false
	}
	if rs.findParticipantLocked(userName) == nil {
		log.Printf("[RaceState] Could not mark game as completed, no user named %q in the race", userName)
		return false
	}

	game.CompletedByUser = userName
	rs.postCompletionLocked(game)
	return true
}

// SwapGameIfPossible runs the throttled swap algorithm: while a cooldown is
// active the request only grows the queue; otherwise one game is selected
// uniformly at random among incomplete non-current games and a fresh cooldown
// is armed. extraChanges are folded into the emitted update.
func (rs *RaceState) SwapGameIfPossible(count int, extraChanges ...string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.swapGameIfPossibleLocked(count, extraChanges...)
}

// Snapshot returns a deep-copied read-only view.
func (rs *RaceState) Snapshot() internal.RaceOverview {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.overviewLocked()
}

// Serialize returns the persistence form.
func (rs *RaceState) Serialize() internal.RaceStateData {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	return internal.RaceStateData{
		Phase:            rs.phase,
		Games:            append([]internal.RaceGame(nil), rs.games...),
		Participants:     append([]internal.RaceParticipant(nil), rs.participants...),
		CurrentGame:      rs.currentGameCopyLocked(),
		SwapCount:        rs.swapCount,
		SwapQueueSize:    rs.swapQueueSize,
		SwapBlockedUntil: rs.swapBlockedUntil,
		SwapMinCooldown:  rs.swapMinCooldown,
		SwapMaxCooldown:  rs.swapMaxCooldown,
		SwapModeConfig:   rs.swapModeConfig,
	}
}

// Cleanup cancels the cooldown timer and releases the swap mode. The race
// must not be used afterwards; late timer firings become no-ops.
func (rs *RaceState) Cleanup() {
	rs.mu.Lock()
	rs.closed = true
	rs.stopSwapTimerLocked()
	rs.mu.Unlock()
	rs.swapMode.Cleanup()
}

/************************************************************************
*  Admin operations (privileged callers only; bypass normal guards)
************************************************************************/

// AdminChangePhase forces a phase. Entering ACTIVE with no current game
// triggers the initial swap.
func (rs *RaceState) AdminChangePhase(phase internal.RacePhase) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.phase == phase {
		return
	}
	rs.phase = phase

	if phase == internal.PhaseActive && rs.currentGame == nil {
		rs.swapGameIfPossibleLocked(1, ChangePhase)
	} else {
		rs.updateStateLocked(ChangePhase)
	}
}

// AdminManualSwapToGame pre-stages a specific game. Only permitted outside
// the ACTIVE phase, and never to the game already current.
func (rs *RaceState) AdminManualSwapToGame(gameName string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	log.Printf("[RaceState] Admin request to swap to game %q", gameName)
	if rs.currentGame != nil && rs.currentGame.GameName == gameName {
		log.Printf("[RaceState] Swapping to a specific game is not allowed when it is already the current game")
		return
	}
	if rs.phase == internal.PhaseActive {
		log.Printf("[RaceState] Swapping to a specific game is not allowed while the race is active")
		return
	}
	game := rs.findGame(gameName)
	if game == nil {
		log.Printf("[RaceState] Swapping to a specific game is not possible when the game is not in the race")
		return
	}

	rs.pushSwapEventLocked("Manual Admin Swap")
	rs.currentGame = game
	rs.updateStateLocked(ChangeCurrentGame, ChangeSwapEvents)
}

func (rs *RaceState) AdminManualSwapRandom() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	log.Printf("[RaceState] Admin request to swap to a random game")
	rs.pushSwapEventLocked("Manual Admin Swap")
	rs.swapGameIfPossibleLocked(1, ChangeSwapEvents)
}

// AdminMarkCompleted marks a game completed on behalf of a participant. The
// already-completed guard is deliberately skipped so an admin can reassign a
// completion.
func (rs *RaceState) AdminMarkCompleted(gameName, userName string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	log.Printf("[RaceState] Admin request to mark game %q completed by %q", gameName, userName)
	game := rs.findGame(gameName)
	if game == nil {
		log.Printf("[RaceState] Could not mark game %q as completed, no such game in the race", gameName)
		return
	}
	if rs.findParticipantLocked(userName) == nil {
		log.Printf("[RaceState] Could not mark game as completed, no user named %q in the race", userName)
		return
	}

	game.CompletedByUser = userName
	rs.postCompletionLocked(game)
}

// AdminMarkUncompleted reverts a completion. If that makes an ENDED race
// incomplete again, the race is revived to ACTIVE and a swap is triggered.
func (rs *RaceState) AdminMarkUncompleted(gameName string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	log.Printf("[RaceState] Admin request to remove completed status from game %q", gameName)
	game := rs.findGame(gameName)
	if game == nil {
		log.Printf("[RaceState] Could not remove completed status from game %q, no such game in the race", gameName)
		return
	}
	if !game.Completed() {
		log.Printf("[RaceState] Could not remove completed status from game %q, it was not marked as completed", gameName)
		return
	}
	game.CompletedByUser = ""

	rs.recomputeScoresLocked()

	if rs.phase == internal.PhaseEnded && !rs.raceCompletedLocked() {
		rs.phase = internal.PhaseActive
		rs.swapGameIfPossibleLocked(1, ChangeParticipants, ChangePhase)
	} else {
		rs.updateStateLocked(ChangeParticipants, ChangeGames)
	}
}

func (rs *RaceState) AdminClearSwapQueue() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	log.Printf("[RaceState] Admin request to clear the swap queue")
	rs.swapQueueSize = 0
	rs.updateStateLocked(ChangeSwapQueueSize)
}

func (rs *RaceState) AdminClearCooldown() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	log.Printf("[RaceState] Admin request to clear the swap cooldown")
	rs.stopSwapTimerLocked()
	rs.swapBlockedUntil = 0
	rs.updateStateLocked(ChangeSwapBlockedUntil)
}

func (rs *RaceState) AdminResetCooldown() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	log.Printf("[RaceState] Admin request to arm a fresh swap cooldown")
	// Stop the previous timer first, or both firings would drain the queue.
	rs.stopSwapTimerLocked()
	rs.swapBlockedUntil = rs.generateSwapBlockUntil()
	rs.startSwapTimerLocked(rs.swapBlockedUntil)
	rs.updateStateLocked(ChangeSwapBlockedUntil)
}

/************************************************************************
*  Internal, lock held by caller
************************************************************************/

func (rs *RaceState) swapGameIfPossibleLocked(count int, extraChanges ...string) {
	if count < 1 {
		return
	}
	if rs.swapTimer != nil {
		rs.swapQueueSize += count
		rs.updateStateLocked(ChangeSwapQueueSize)
		return
	}

	// Select among games that are neither completed nor current. The list may
	// be empty; that is not an error, the cooldown still updates below.
	var alternatives []*internal.RaceGame
	for i := range rs.games {
		game := &rs.games[i]
		if game.Completed() || game == rs.currentGame {
			continue
		}
		alternatives = append(alternatives, game)
	}

	if len(alternatives) == 0 {
		log.Printf("[RaceState] Could not swap game, no more games available")
	} else {
		rs.currentGame = alternatives[rand.Intn(len(alternatives))]
		rs.swapCount++
		extraChanges = append(extraChanges, ChangeCurrentGame, ChangeSwapCount)

		if count > 1 {
			rs.swapQueueSize += count - 1
			extraChanges = append(extraChanges, ChangeSwapQueueSize)
		}
	}

	rs.swapBlockedUntil = rs.generateSwapBlockUntil()
	rs.startSwapTimerLocked(rs.swapBlockedUntil)
	rs.updateStateLocked(append(extraChanges, ChangeSwapBlockedUntil)...)
}

func (rs *RaceState) postCompletionLocked(completed *internal.RaceGame) {
	rs.recomputeScoresLocked()

	switch {
	case rs.raceCompletedLocked():
		// The last game was completed; the race is over.
		rs.phase = internal.PhaseEnded
		rs.swapQueueSize = 0
		rs.swapBlockedUntil = 0
		rs.stopSwapTimerLocked()
		rs.updateStateLocked(ChangePhase, ChangeSwapBlockedUntil, ChangeParticipants)
	case completed == rs.currentGame:
		rs.swapGameIfPossibleLocked(1, ChangeParticipants, ChangeGames)
	default:
		rs.updateStateLocked(ChangeParticipants, ChangeGames)
	}
}

// recomputeScoresLocked rebuilds every score and leader flag from the game
// list. Leaders are exactly the participants tied at the maximum score; while
// nothing is completed, nobody leads.
func (rs *RaceState) recomputeScoresLocked() {
	scores := make(map[string]int, len(rs.participants))
	maxScore := 0
	for _, game := range rs.games {
		if !game.Completed() {
			continue
		}
		scores[game.CompletedByUser]++
		if scores[game.CompletedByUser] > maxScore {
			maxScore = scores[game.CompletedByUser]
		}
	}

	for i := range rs.participants {
		p := &rs.participants[i]
		p.Score = scores[p.UserName]
		p.Leader = maxScore > 0 && p.Score == maxScore
	}
}

func (rs *RaceState) raceCompletedLocked() bool {
	for _, game := range rs.games {
		if !game.Completed() {
			return false
		}
	}
	return true
}

func (rs *RaceState) startSwapTimerLocked(untilMillis int64) {
	delay := time.Duration(untilMillis-time.Now().UnixMilli()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	rs.swapTimer = time.AfterFunc(delay, rs.onCooldownExpired)
}

func (rs *RaceState) stopSwapTimerLocked() {
	if rs.swapTimer != nil {
		rs.swapTimer.Stop()
		rs.swapTimer = nil
	}
}

func (rs *RaceState) onCooldownExpired() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.closed {
		return
	}
	rs.swapTimer = nil
	if rs.swapQueueSize > 0 {
		rs.swapQueueSize--
		rs.swapGameIfPossibleLocked(1, ChangeSwapQueueSize)
	}
}

func (rs *RaceState) generateSwapBlockUntil() int64 {
	delaySeconds := utils.RandomIntInRange(rs.swapMinCooldown, rs.swapMaxCooldown)
	return time.Now().UnixMilli() + int64(delaySeconds)*1000
}

// onSwapTriggers is the sink bound to the swap mode. Outside the ACTIVE
// phase triggers only land in the event log.
func (rs *RaceState) onSwapTriggers(labels []string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.closed {
		return
	}
	if len(labels) == 0 || labels[0] == "" {
		log.Printf("[RaceState] Swap mode delivered an empty trigger batch, ignoring")
		return
	}
	log.Printf("[RaceState] %d swap event(s) received from swap mode", len(labels))

	rs.pushSwapEventLocked(labels[0])

	if rs.phase == internal.PhaseActive {
		rs.swapGameIfPossibleLocked(len(labels), ChangeSwapEvents)
	} else {
		rs.updateStateLocked(ChangeSwapEvents)
	}
}

func (rs *RaceState) pushSwapEventLocked(message string) {
	rs.swapEvents = append(rs.swapEvents, internal.SwapEvent{
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	})
	if n := len(rs.swapEvents); n > internal.SwapEventLogSize {
		rs.swapEvents = rs.swapEvents[n-internal.SwapEventLogSize:]
	}
}

func (rs *RaceState) updateStateLocked(changedFields ...string) {
	if rs.onUpdate == nil {
		return
	}

	changes := make([]string, 0, len(changedFields))
	seen := make(map[string]bool, len(changedFields))
	for _, field := range changedFields {
		if !seen[field] {
			seen[field] = true
			changes = append(changes, field)
		}
	}

	rs.onUpdate(internal.RaceStateUpdate{
		RaceOverview: rs.overviewLocked(),
		Changes:      changes,
	})
}

func (rs *RaceState) overviewLocked() internal.RaceOverview {
	return internal.RaceOverview{
		Phase:            rs.phase,
		Games:            append([]internal.RaceGame(nil), rs.games...),
		Participants:     append([]internal.RaceParticipant(nil), rs.participants...),
		CurrentGame:      rs.currentGameCopyLocked(),
		SwapCount:        rs.swapCount,
		SwapQueueSize:    rs.swapQueueSize,
		SwapBlockedUntil: rs.swapBlockedUntil,
		SwapMode:         rs.swapModeConfig.SwapMode,
		SwapMinCooldown:  rs.swapMinCooldown,
		SwapMaxCooldown:  rs.swapMaxCooldown,
		SwapEvents:       append([]internal.SwapEvent(nil), rs.swapEvents...),
	}
}

func (rs *RaceState) currentGameCopyLocked() *internal.RaceGame {
	if rs.currentGame == nil {
		return nil
	}
	g := *rs.currentGame
	return &g
}

func (rs *RaceState) findGame(gameName string) *internal.RaceGame {
	for i := range rs.games {
		if rs.games[i].GameName == gameName {
			return &rs.games[i]
		}
	}
	return nil
}

func (rs *RaceState) findParticipantLocked(userName string) *internal.RaceParticipant {
	for i := range rs.participants {
		if rs.participants[i].UserName == userName {
			return &rs.participants[i]
		}
	}
	return nil
}
