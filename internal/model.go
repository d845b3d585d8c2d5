package internal

const (
	// Cooldown bounds (seconds) applied when a create-room request leaves them unset.
	DefaultSwapMinCooldown = 5
	DefaultSwapMaxCooldown = 5

	// MaxSwapsPerDonation caps how many swaps a single donation can queue up.
	MaxSwapsPerDonation = 50

	// SwapEventLogSize bounds the ring of recent swap-event descriptions.
	SwapEventLogSize = 5

	MaxRoomNameLength = 60
)

type RacePhase string

const (
	PhaseNew    RacePhase = "NEW"
	PhaseActive RacePhase = "ACTIVE"
	PhasePaused RacePhase = "PAUSED"
	PhaseEnded  RacePhase = "ENDED"
)

func (p RacePhase) Valid() bool {
	switch p {
	case PhaseNew, PhaseActive, PhasePaused, PhaseEnded:
		return true
	}
	return false
}

type ParticipantStatus string

const (
	StatusConnected    ParticipantStatus = "CONNECTED"
	StatusDisconnected ParticipantStatus = "DISCONNECTED"
)

type SwapModeName string

const (
	SwapModeManual   SwapModeName = "manual"
	SwapModeTimer    SwapModeName = "timer"
	SwapModeDonation SwapModeName = "donation"
)

type SwapModeConfig struct {
	SwapMode SwapModeName `json:"swapMode"`
	// ExtraData is mode specific: "min|max" seconds for timer mode,
	// a campaign id (or "*") for donation mode, unused for manual.
	ExtraData string `json:"swapModeExtraData"`
}

type RaceGame struct {
	GameName        string `json:"gameName"`
	LogicalName     string `json:"logicalName"`
	CompletedByUser string `json:"completedByUser,omitempty"`
}

func (g RaceGame) Completed() bool {
	return g.CompletedByUser != ""
}

type RaceParticipant struct {
	UserName string            `json:"userName"`
	Score    int               `json:"score"`
	Leader   bool              `json:"leader"`
	Status   ParticipantStatus `json:"status"`
}

// SwapEvent is a display-only note about why a swap happened.
type SwapEvent struct {
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// RaceOverview is the public, read-only view of a race.
type RaceOverview struct {
	Phase            RacePhase         `json:"phase"`
	Games            []RaceGame        `json:"games"`
	Participants     []RaceParticipant `json:"participants"`
	CurrentGame      *RaceGame         `json:"currentGame,omitempty"`
	SwapCount        int               `json:"swapCount"`
	SwapQueueSize    int               `json:"swapQueueSize"`
	SwapBlockedUntil int64             `json:"swapBlockedUntil"`
	SwapMode         SwapModeName      `json:"swapMode"`
	SwapMinCooldown  int               `json:"swapMinCooldown"`
	SwapMaxCooldown  int               `json:"swapMaxCooldown"`
	SwapEvents       []SwapEvent       `json:"swapEventData"`
}

// RaceStateUpdate is the typed state-change notification emitted after every
// mutation: the full overview plus the names of the fields that changed.
type RaceStateUpdate struct {
	RaceOverview
	Changes []string `json:"changes"`
}

func (u RaceStateUpdate) Changed(field string) bool {
	for _, c := range u.Changes {
		if c == field {
			return true
		}
	}
	return false
}

// RaceStateData is the persistence form of a race. It is embedded in
// RoomRecord and must round-trip through the repository.
type RaceStateData struct {
	Phase            RacePhase         `json:"phase"`
	Games            []RaceGame        `json:"games"`
	Participants     []RaceParticipant `json:"participants"`
	CurrentGame      *RaceGame         `json:"currentGame,omitempty"`
	SwapCount        int               `json:"swapCount"`
	SwapQueueSize    int               `json:"swapQueueSize"`
	SwapBlockedUntil int64             `json:"swapBlockedUntil"`
	SwapMinCooldown  int               `json:"swapMinCooldown"`
	SwapMaxCooldown  int               `json:"swapMaxCooldown"`
	SwapModeConfig   SwapModeConfig    `json:"swapModeConfig"`
}

// RoomRecord is the full persisted room document, keyed by RoomId.
type RoomRecord struct {
	RoomId        string            `json:"roomId"`
	CreatedAt     int64             `json:"createdAt"`
	RoomName      string            `json:"roomName"`
	SaltedRoomKey string            `json:"saltedRoomKey"`
	RoomKeySalt   string            `json:"roomKeySalt"`
	AdminKey      string            `json:"adminKey"`
	UserKeys      map[string]string `json:"userKeys"`
	RaceState     RaceStateData     `json:"raceState"`
}

// RoomOverview is the public view of a room, safe to hand to any client.
type RoomOverview struct {
	RoomId    string       `json:"roomId"`
	RoomName  string       `json:"roomName"`
	CreatedAt int64        `json:"createdAt"`
	RaceState RaceOverview `json:"raceStateData"`
}

// DonationEvent is a validated, de-duplicated donation notification. HMAC
// verification and event-id dedupe happen upstream in the webhook handler.
type DonationEvent struct {
	Id         string  `json:"id"`
	CampaignId string  `json:"campaign_id"`
	DonorName  string  `json:"donor_name"`
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
}

type Message[T any] struct {
	Type string `json:"type"`
	Data T      `json:"data"`
}

// Push event types sent over the realtime channel.
const (
	MsgRaceStateUpdate = "race-state-update"
	MsgLoadGame        = "load-game"
	MsgRaceEnded       = "race-ended"
)

type RaceStateUpdateData struct {
	RoomName string `json:"roomName"`
	RaceStateUpdate
}

type LoadGameData struct {
	RoomName        string `json:"roomName"`
	GameLogicalName string `json:"gameLogicalName"`
}

type RaceEndedData struct {
	RoomName     string            `json:"roomName"`
	Participants []RaceParticipant `json:"participants"`
}

// Command surface request/response shapes, transport agnostic.

type CreateRoomRequest struct {
	RoomName       string         `json:"roomName"`
	RoomKey        string         `json:"roomKey"`
	Games          []string       `json:"games"`
	SwapModeConfig SwapModeConfig `json:"swapModeConfig"`
	// Pointers so an explicit 0 is distinguishable from an omitted field,
	// which falls back to the defaults.
	SwapMinCooldown *int `json:"swapMinCooldown"`
	SwapMaxCooldown *int `json:"swapMaxCooldown"`
}

type CreateRoomResponse struct {
	AdminKey string `json:"adminKey"`
}

type DeleteRoomRequest struct {
	AdminKey string `json:"adminKey"`
}

type JoinRaceRequest struct {
	RoomKey  string `json:"roomKey"`
	UserName string `json:"userName"`
}

type JoinRaceResponse struct {
	UserKey   string       `json:"userKey"`
	RaceState RaceOverview `json:"raceState"`
}

type RejoinRaceRequest struct {
	UserName string `json:"userName"`
	UserKey  string `json:"userKey"`
}

type RejoinRaceResponse struct {
	RaceState RaceOverview `json:"raceState"`
}

type CompleteGameRequest struct {
	UserName        string `json:"userName"`
	UserKey         string `json:"userKey"`
	GameLogicalName string `json:"gameLogicalName"`
}

type CompleteGameResponse struct {
	Ok bool `json:"ok"`
}

type AdminRequest struct {
	AdminKey        string    `json:"adminKey"`
	Phase           RacePhase `json:"phase,omitempty"`
	GameName        string    `json:"gameName,omitempty"`
	ParticipantName string    `json:"participantName,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
