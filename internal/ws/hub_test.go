package ws

import "testing"

func TestHubAddAndRemoveClient(t *testing.T) {
	hub := NewHub()

	hub.AddClient("alice", nil, ConnInfo{ConnID: "c1", UserID: "alice"})
	if len(hub.feeds) != 1 {
		t.Fatalf("expected feed to be created")
	}

	hub.RemoveClient("alice", nil)
	if len(hub.feeds) != 0 {
		t.Fatalf("expected feed to be removed")
	}
}

func TestHubTracksConnInfo(t *testing.T) {
	hub := NewHub()

	hub.AddClient("bob", nil, ConnInfo{ConnID: "c2", UserID: "bob"})
	info, ok := hub.getConnInfo("bob", nil)
	if !ok {
		t.Fatalf("expected conn info to be tracked")
	}
	if info.ConnID != "c2" {
		t.Fatalf("expected conn id c2, got %s", info.ConnID)
	}

	hub.RemoveClient("bob", nil)
	if _, ok := hub.getConnInfo("bob", nil); ok {
		t.Fatalf("expected conn info to be removed")
	}
}
