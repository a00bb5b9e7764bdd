package items

import "github.com/retroshare-go/retronode/internal/wire"

// Chat subtypes. Of these, only Default, LobbyChallenge and LobbyMsg have
// registered schemas and are interpreted by the core. The legacy protocol
// names many more, most deprecated or belonging to the distant-chat/UI
// surface; the core only needs enough of the lobby protocol to run the
// challenge and bounce-cache checks.
const (
	ChatSubtypeDefault          uint8 = 0x01
	ChatSubtypeStatus           uint8 = 0x04
	ChatSubtypeLobbyChallenge   uint8 = 0x09
	ChatSubtypeLobbyUnsubscribe uint8 = 0x0a
	ChatSubtypeLobbyMsg         uint8 = 0x0c
	ChatSubtypeLobbyListRequest uint8 = 0x0d
)

// ChatMessage is a plain one-to-one chat message.
type ChatMessage struct {
	Text string
}

func (ChatMessage) ServiceID() uint16 { return ServiceChat }
func (ChatMessage) Subtype() uint8    { return ChatSubtypeDefault }
func (m ChatMessage) Encode() []byte {
	w := wire.NewWriter()
	w.String(m.Text)
	return w.Bytes()
}

func DecodeChatMessage(payload []byte) (ChatMessage, error) {
	r := wire.NewReader(payload)
	s, err := r.String()
	if err != nil {
		return ChatMessage{}, err
	}
	return ChatMessage{Text: s}, r.Finish()
}

// LobbyChallenge carries a lobby-id/msg-id pair and the sender's claimed
// challenge code, verified against support.ChatLobbyChallenge by the core.
type LobbyChallenge struct {
	LobbyID       uint64
	MsgID         uint64
	ChallengeCode uint64
}

func (LobbyChallenge) ServiceID() uint16 { return ServiceChat }
func (LobbyChallenge) Subtype() uint8    { return ChatSubtypeLobbyChallenge }
func (c LobbyChallenge) Encode() []byte {
	w := wire.NewWriter()
	w.U64(c.LobbyID)
	w.U64(c.MsgID)
	w.U64(c.ChallengeCode)
	return w.Bytes()
}

func DecodeLobbyChallenge(payload []byte) (LobbyChallenge, error) {
	r := wire.NewReader(payload)
	lobbyID, err := r.U64()
	if err != nil {
		return LobbyChallenge{}, err
	}
	msgID, err := r.U64()
	if err != nil {
		return LobbyChallenge{}, err
	}
	code, err := r.U64()
	if err != nil {
		return LobbyChallenge{}, err
	}
	return LobbyChallenge{LobbyID: lobbyID, MsgID: msgID, ChallengeCode: code}, r.Finish()
}

// LobbyMsg is a bounced chat-lobby message, the unit the bounce cache
// dedups on by (LobbyID, MsgID).
type LobbyMsg struct {
	LobbyID uint64
	MsgID   uint64
	Text    string
}

func (LobbyMsg) ServiceID() uint16 { return ServiceChat }
func (LobbyMsg) Subtype() uint8    { return ChatSubtypeLobbyMsg }
func (m LobbyMsg) Encode() []byte {
	w := wire.NewWriter()
	w.U64(m.LobbyID)
	w.U64(m.MsgID)
	w.String(m.Text)
	return w.Bytes()
}

func DecodeLobbyMsg(payload []byte) (LobbyMsg, error) {
	r := wire.NewReader(payload)
	lobbyID, err := r.U64()
	if err != nil {
		return LobbyMsg{}, err
	}
	msgID, err := r.U64()
	if err != nil {
		return LobbyMsg{}, err
	}
	text, err := r.String()
	if err != nil {
		return LobbyMsg{}, err
	}
	return LobbyMsg{LobbyID: lobbyID, MsgID: msgID, Text: text}, r.Finish()
}
