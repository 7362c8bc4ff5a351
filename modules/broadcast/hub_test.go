package broadcast

import (
	"encoding/json"
	"testing"
	"time"
)

// testClient - joined subscriber without a real websocket connection; events
// are read straight off the send channel
func testClient(t *testing.T, h *Hub, eventID, userID, role string) *Client {
	t.Helper()
	c := &Client{eventID: eventID, userID: userID, role: role, send: make(chan []byte, 16)}
	h.join(c)
	return c
}

func receive(t *testing.T, c *Client) *Event {
	t.Helper()
	select {
	case data := <-c.send:
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		return &ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return nil
	}
}

func assertEmpty(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected event delivered: %s", data)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestProgressGoesToModeratorsOnly(t *testing.T) {
	h := NewHub()
	moderator := testClient(t, h, "evt-1", "mod-1", RoleModerator)
	viewer := testClient(t, h, "evt-1", "view-1", RoleViewer)

	h.PublishProgress("m-1", "evt-1", "processing", 55, "alice")

	ev := receive(t, moderator)
	if ev.Type != TypeProgress || ev.ProgressPercentage != 55 || ev.Stage != "processing" {
		t.Errorf("moderator got %+v", ev)
	}
	assertEmpty(t, viewer)
}

func TestCompletedReachesBothAudiences(t *testing.T) {
	h := NewHub()
	moderator := testClient(t, h, "evt-1", "mod-1", RoleModerator)
	viewer := testClient(t, h, "evt-1", "view-1", RoleViewer)

	variants := map[string]string{"small": "https://cdn/x_small.webp"}
	h.PublishCompleted("m-1", "evt-1", "https://cdn/x.jpg", variants)

	for _, c := range []*Client{moderator, viewer} {
		ev := receive(t, c)
		if ev.Type != TypeCompleted {
			t.Errorf("client %s got type %s", c.userID, ev.Type)
		}
		if ev.FinalURL != "https://cdn/x.jpg" {
			t.Errorf("client %s got finalUrl %s", c.userID, ev.FinalURL)
		}
		if ev.Variants["small"] == "" {
			t.Errorf("client %s missing variants", c.userID)
		}
	}
}

func TestFailedHidesDetailFromViewers(t *testing.T) {
	h := NewHub()
	moderator := testClient(t, h, "evt-1", "mod-1", RoleModerator)
	viewer := testClient(t, h, "evt-1", "view-1", RoleViewer)

	h.PublishFailed("m-1", "evt-1", "decode failed: truncated jpeg")

	modEv := receive(t, moderator)
	if modEv.Error == "" {
		t.Error("moderator should see the error message")
	}
	viewEv := receive(t, viewer)
	if viewEv.Type != TypeFailed {
		t.Errorf("viewer got type %s", viewEv.Type)
	}
	if viewEv.Error != "" {
		t.Errorf("viewer must not see error detail, got %q", viewEv.Error)
	}
}

func TestPublishToOtherEventIsIsolated(t *testing.T) {
	h := NewHub()
	viewer := testClient(t, h, "evt-1", "view-1", RoleViewer)

	h.PublishCompleted("m-9", "evt-other", "https://cdn/y.jpg", nil)
	assertEmpty(t, viewer)
}

func TestPublishWithNoSubscribersIsNoop(t *testing.T) {
	h := NewHub()
	// must not panic or block
	h.PublishProgress("m-1", "evt-empty", "uploading", 5, "bob")
	h.PublishFailed("m-1", "evt-empty", "boom")
}

func TestCleanupDropsEmptyRooms(t *testing.T) {
	h := NewHub()
	c := testClient(t, h, "evt-1", "u1", RoleViewer)
	h.leave(c)

	h.cleanupEmptyRooms()
	rooms, _ := h.Counts()
	if rooms != 0 {
		t.Errorf("rooms = %d, want 0", rooms)
	}
}
