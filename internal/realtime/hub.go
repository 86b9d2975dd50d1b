package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/yungbote/sceneforge-backend/internal/logger"
	"github.com/yungbote/sceneforge-backend/internal/types"
)

// Event is one message broadcast to a generation's room.
type Event struct {
	Type         string `json:"type"`
	GenerationID string `json:"generationId"`
	Phase        string `json:"phase,omitempty"`
	Progress     *int   `json:"progress,omitempty"`
	SceneID      string `json:"sceneId,omitempty"`
	AssetURL     string `json:"assetUrl,omitempty"`
	ResultURL    string `json:"resultUrl,omitempty"`
	Message      string `json:"message,omitempty"`
}

const (
	EventProgress           = "progress"
	EventPhaseChange        = "phase-change"
	EventSceneComplete      = "scene-complete"
	EventGenerationComplete = "generation-complete"
	EventError              = "error"
)

// Hub fans events out to websocket clients grouped into per-generation
// rooms. Publishing never blocks: a client whose send buffer is full is
// dropped from the room.
type Hub struct {
	log *logger.Logger

	mu    sync.RWMutex
	rooms map[string]map[*Client]bool
}

func NewHub(baseLog *logger.Logger) *Hub {
	return &Hub{
		log:   baseLog.With("service", "RealtimeHub"),
		rooms: make(map[string]map[*Client]bool),
	}
}

func roomName(generationID string) string {
	return "generation-" + generationID
}

func (h *Hub) join(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]bool)
	}
	h.rooms[room][c] = true
	h.log.Debug("client joined room", "room", room)
}

func (h *Hub) leave(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// leaveAll detaches a client from every room it joined.
func (h *Hub) leaveAll(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room, members := range h.rooms {
		if members[c] {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
}

func (h *Hub) broadcast(room string, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error("event encode failed", "type", event.Type, "error", err)
		return
	}

	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		select {
		case c.send <- payload:
		default:
			h.log.Warn("client send buffer full, dropping client", "room", room)
			h.leaveAll(c)
			c.close()
		}
	}
}

// The Publish* methods implement the pipeline's event publisher.

func (h *Hub) PublishProgress(generationID uuid.UUID, phase types.GenerationPhase, progress int) {
	id := generationID.String()
	h.broadcast(roomName(id), Event{
		Type:         EventProgress,
		GenerationID: id,
		Phase:        string(phase),
		Progress:     &progress,
	})
}

func (h *Hub) PublishPhaseChange(generationID uuid.UUID, phase types.GenerationPhase, progress int) {
	id := generationID.String()
	h.broadcast(roomName(id), Event{
		Type:         EventPhaseChange,
		GenerationID: id,
		Phase:        string(phase),
		Progress:     &progress,
	})
}

func (h *Hub) PublishSceneComplete(generationID uuid.UUID, sceneID, assetURL string) {
	id := generationID.String()
	h.broadcast(roomName(id), Event{
		Type:         EventSceneComplete,
		GenerationID: id,
		SceneID:      sceneID,
		AssetURL:     assetURL,
	})
}

func (h *Hub) PublishGenerationComplete(generationID uuid.UUID, resultURL string) {
	id := generationID.String()
	h.broadcast(roomName(id), Event{
		Type:         EventGenerationComplete,
		GenerationID: id,
		ResultURL:    resultURL,
	})
}

func (h *Hub) PublishError(generationID uuid.UUID, message string) {
	id := generationID.String()
	h.broadcast(roomName(id), Event{
		Type:         EventError,
		GenerationID: id,
		Message:      message,
	})
}

// RoomSize is a test hook.
func (h *Hub) RoomSize(generationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomName(generationID)])
}
