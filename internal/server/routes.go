package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/scythe504/gameswap-backend/internal"
	"github.com/scythe504/gameswap-backend/internal/room"
	"github.com/scythe504/gameswap-backend/internal/webhooks"
	"github.com/scythe504/gameswap-backend/internal/websockets"
)

// Server is the HTTP command surface. All game state changes flow through
// the RoomManager; handlers only decode, delegate and map errors to status
// codes.
type Server struct {
	manager *room.RoomManager
	hub     *websockets.Hub
	webhook *webhooks.DonationWebhook
}

func NewServer(manager *room.RoomManager, hub *websockets.Hub, webhook *webhooks.DonationWebhook) *Server {
	return &Server{manager: manager, hub: hub, webhook: webhook}
}

func (s *Server) RegisterRoutes() http.Handler {
	r := mux.NewRouter()

	// Apply CORS middleware
	r.Use(s.corsMiddleware)

	r.HandleFunc("/api/room", s.handleListRooms).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/api/room", s.handleCreateRoom).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/room/{roomName}", s.handleGetRoom).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/api/room/{roomName}", s.handleDeleteRoom).Methods(http.MethodDelete, http.MethodOptions)

	r.HandleFunc("/api/room/{roomName}/join", s.handleJoinRace).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/room/{roomName}/rejoin", s.handleRejoinRace).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/room/{roomName}/complete-game", s.handleCompleteGame).Methods(http.MethodPost, http.MethodOptions)

	r.HandleFunc("/api/room/{roomName}/admin-set-phase", s.handleAdminSetPhase).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/room/{roomName}/admin-set-game", s.handleAdminSetGame).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/room/{roomName}/admin-shuffle-game", s.handleAdminShuffleGame).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/room/{roomName}/admin-complete-game", s.handleAdminCompleteGame).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/room/{roomName}/admin-uncomplete-game", s.handleAdminUncompleteGame).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/room/{roomName}/admin-clear-swap-queue", s.handleAdminClearSwapQueue).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/room/{roomName}/admin-clear-cooldown", s.handleAdminClearCooldown).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/room/{roomName}/admin-reset-cooldown", s.handleAdminResetCooldown).Methods(http.MethodPost, http.MethodOptions)

	if s.webhook != nil {
		r.HandleFunc("/webhook/donation", s.webhook.HandleWebhook).Methods(http.MethodPost)
	}
	r.HandleFunc("/ws/{roomName}", s.hub.HandleSubscribe)

	return r
}

// CORS middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")

		// If it's a websocket upgrade, skip further CORS checks
		if strings.ToLower(r.Header.Get("Upgrade")) == "websocket" {
			next.ServeHTTP(w, r)
			return
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.ListRooms())
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req internal.CreateRoomRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.manager.CreateRoom(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	overview, err := s.manager.GetRoom(mux.Vars(r)["roomName"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	roomName := mux.Vars(r)["roomName"]
	var req internal.DeleteRoomRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.manager.DeleteRoom(r.Context(), roomName, req.AdminKey); err != nil {
		writeError(w, err)
		return
	}
	s.hub.CloseRoom(roomName)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJoinRace(w http.ResponseWriter, r *http.Request) {
	var req internal.JoinRaceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.manager.JoinRace(mux.Vars(r)["roomName"], req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRejoinRace(w http.ResponseWriter, r *http.Request) {
	var req internal.RejoinRaceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.manager.RejoinRace(mux.Vars(r)["roomName"], req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCompleteGame always answers 200 with {ok}; whether the completion
// was accepted is the only signal a non-admin caller gets.
func (s *Server) handleCompleteGame(w http.ResponseWriter, r *http.Request) {
	var req internal.CompleteGameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ok := s.manager.CompleteGame(mux.Vars(r)["roomName"], req)
	writeJSON(w, http.StatusOK, internal.CompleteGameResponse{Ok: ok})
}

func (s *Server) handleAdminSetPhase(w http.ResponseWriter, r *http.Request) {
	s.handleAdmin(w, r, func(roomName string, req internal.AdminRequest) error {
		return s.manager.AdminChangePhase(roomName, req.AdminKey, req.Phase)
	})
}

func (s *Server) handleAdminSetGame(w http.ResponseWriter, r *http.Request) {
	s.handleAdmin(w, r, func(roomName string, req internal.AdminRequest) error {
		return s.manager.AdminSetGame(roomName, req.AdminKey, req.GameName)
	})
}

func (s *Server) handleAdminShuffleGame(w http.ResponseWriter, r *http.Request) {
	s.handleAdmin(w, r, func(roomName string, req internal.AdminRequest) error {
		return s.manager.AdminShuffleGame(roomName, req.AdminKey)
	})
}

func (s *Server) handleAdminCompleteGame(w http.ResponseWriter, r *http.Request) {
	s.handleAdmin(w, r, func(roomName string, req internal.AdminRequest) error {
		return s.manager.AdminMarkCompleted(roomName, req.AdminKey, req.GameName, req.ParticipantName)
	})
}

func (s *Server) handleAdminUncompleteGame(w http.ResponseWriter, r *http.Request) {
	s.handleAdmin(w, r, func(roomName string, req internal.AdminRequest) error {
		return s.manager.AdminMarkUncompleted(roomName, req.AdminKey, req.GameName)
	})
}

func (s *Server) handleAdminClearSwapQueue(w http.ResponseWriter, r *http.Request) {
	s.handleAdmin(w, r, func(roomName string, req internal.AdminRequest) error {
		return s.manager.AdminClearSwapQueue(roomName, req.AdminKey)
	})
}

func (s *Server) handleAdminClearCooldown(w http.ResponseWriter, r *http.Request) {
	s.handleAdmin(w, r, func(roomName string, req internal.AdminRequest) error {
		return s.manager.AdminClearCooldown(roomName, req.AdminKey)
	})
}

func (s *Server) handleAdminResetCooldown(w http.ResponseWriter, r *http.Request) {
	s.handleAdmin(w, r, func(roomName string, req internal.AdminRequest) error {
		return s.manager.AdminResetCooldown(roomName, req.AdminKey)
	})
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request, op func(roomName string, req internal.AdminRequest) error) {
	var req internal.AdminRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := op(mux.Vars(r)["roomName"], req); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, internal.ErrorResponse{Error: "invalid JSON body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Server] Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	var vErr *room.ValidationError
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		writeJSON(w, http.StatusNotFound, internal.ErrorResponse{Error: err.Error()})
	case errors.Is(err, room.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, internal.ErrorResponse{Error: err.Error()})
	case errors.Is(err, room.ErrNameTaken):
		writeJSON(w, http.StatusConflict, internal.ErrorResponse{Error: err.Error()})
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, internal.ErrorResponse{Error: err.Error()})
	default:
		log.Printf("[Server] Internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, internal.ErrorResponse{Error: "internal server error"})
	}
}
