package domain

import "testing"

func TestMessageStatusCanAdvanceTo(t *testing.T) {
	tests := []struct {
		from, to MessageStatus
		want     bool
	}{
		{StatusSent, StatusDelivered, true},
		{StatusSent, StatusRead, true},
		{StatusDelivered, StatusRead, true},
		{StatusDelivered, StatusDelivered, false},
		{StatusRead, StatusDelivered, false},
		{StatusRead, StatusSent, false},
		{StatusRead, StatusRead, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanAdvanceTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.want, got)
		}
	}
}

func TestContentKindValid(t *testing.T) {
	for _, k := range []ContentKind{ContentText, ContentImage, ContentFile} {
		if !k.Valid() {
			t.Errorf("expected %q to be valid", k)
		}
	}
	if ContentKind("video").Valid() {
		t.Error("expected video to be rejected")
	}
}

func TestRoomHasParticipant(t *testing.T) {
	room := &Room{Participants: []string{"alice", "bob"}}
	if !room.HasParticipant("bob") {
		t.Error("expected bob to be a participant")
	}
	if room.HasParticipant("carol") {
		t.Error("expected carol not to be a participant")
	}
}
