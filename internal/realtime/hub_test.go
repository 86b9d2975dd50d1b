package realtime

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/sceneforge-backend/internal/logger"
	"github.com/yungbote/sceneforge-backend/internal/types"
)

func testHub(t *testing.T) *Hub {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return NewHub(log)
}

func testClient() *Client {
	return &Client{send: make(chan []byte, sendBufferSize)}
}

func recvEvent(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case raw := <-c.send:
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		return ev
	default:
		t.Fatal("no event received")
		return Event{}
	}
}

func TestBroadcastReachesRoomMembers(t *testing.T) {
	h := testHub(t)
	genID := uuid.New()

	member := testClient()
	outsider := testClient()
	h.join(roomName(genID.String()), member)
	h.join(roomName(uuid.NewString()), outsider)

	h.PublishProgress(genID, types.GenerationPhase2, 45)

	ev := recvEvent(t, member)
	if ev.Type != EventProgress || ev.GenerationID != genID.String() {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Progress == nil || *ev.Progress != 45 {
		t.Fatalf("progress not carried: %+v", ev.Progress)
	}
	if ev.Phase != "phase2" {
		t.Fatalf("phase not carried: %q", ev.Phase)
	}

	select {
	case raw := <-outsider.send:
		t.Fatalf("outsider received %s", raw)
	default:
	}
}

func TestLeaveStopsDelivery(t *testing.T) {
	h := testHub(t)
	genID := uuid.New()
	room := roomName(genID.String())

	c := testClient()
	h.join(room, c)
	h.leave(room, c)

	h.PublishSceneComplete(genID, "scene-1", "https://cdn.test/clip.mp4")
	select {
	case raw := <-c.send:
		t.Fatalf("left client received %s", raw)
	default:
	}
	if h.RoomSize(genID.String()) != 0 {
		t.Fatal("room not cleaned up")
	}
}

func TestSlowClientIsDropped(t *testing.T) {
	h := testHub(t)
	genID := uuid.New()
	room := roomName(genID.String())

	c := testClient()
	h.join(room, c)

	// Saturate the buffer, then publish once more; the hub must drop the
	// client instead of blocking.
	for i := 0; i < sendBufferSize; i++ {
		h.PublishPhaseChange(genID, types.GenerationPhase3, 60)
	}
	h.PublishPhaseChange(genID, types.GenerationPhase3, 60)

	if h.RoomSize(genID.String()) != 0 {
		t.Fatal("saturated client still in room")
	}
}

func TestEventShapes(t *testing.T) {
	h := testHub(t)
	genID := uuid.New()
	c := testClient()
	h.join(roomName(genID.String()), c)

	h.PublishPhaseChange(genID, types.GenerationPhase2, 40)
	ev := recvEvent(t, c)
	if ev.Type != EventPhaseChange || ev.Phase != "phase2" {
		t.Fatalf("phase-change shape: %+v", ev)
	}
	if ev.Progress == nil || *ev.Progress != 40 {
		t.Fatalf("phase-change progress not carried: %+v", ev.Progress)
	}

	h.PublishSceneComplete(genID, "scene-2", "https://cdn.test/s2.mp4")
	ev = recvEvent(t, c)
	if ev.Type != EventSceneComplete || ev.SceneID != "scene-2" || ev.AssetURL == "" {
		t.Fatalf("scene-complete shape: %+v", ev)
	}

	h.PublishGenerationComplete(genID, "https://cdn.test/final.mp4")
	ev = recvEvent(t, c)
	if ev.Type != EventGenerationComplete || ev.ResultURL == "" {
		t.Fatalf("generation-complete shape: %+v", ev)
	}

	h.PublishError(genID, "phase3: boom")
	ev = recvEvent(t, c)
	if ev.Type != EventError || ev.Message != "phase3: boom" {
		t.Fatalf("error shape: %+v", ev)
	}
}
