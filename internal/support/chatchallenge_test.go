package support

import (
	"encoding/hex"
	"testing"
)

func TestChatLobbyChallengeVectors(t *testing.T) {
	peerHex := "65d33bc7bee18b713364b0301dbed896"
	peerBytes, err := hex.DecodeString(peerHex)
	if err != nil {
		t.Fatal(err)
	}
	var peerID [16]byte
	copy(peerID[:], peerBytes)

	const lobbyID = 4347301314802127616

	cases := []struct {
		msgID uint64
		want  uint64
	}{
		{10160975498182007285, 6940256940177840641},
		{10775870470068791562, 14991788443493439727},
		{11792202543108611761, 3035154411918242558},
	}

	for _, c := range cases {
		got := ChatLobbyChallenge(lobbyID, c.msgID, peerID)
		if got != c.want {
			t.Fatalf("ChatLobbyChallenge(%d, %d) = %d, want %d", lobbyID, c.msgID, got, c.want)
		}
	}
}
