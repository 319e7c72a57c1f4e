package domain

type RoomID string

// Rooms are named multicast groups. Two families exist: one per
// conversation and one personal room per user for targeted events.
const (
	conversationRoomPrefix = "conversation:"
	userRoomPrefix         = "user:"
)

func ConversationRoom(id ConversationID) RoomID {
	return RoomID(conversationRoomPrefix + string(id))
}

func UserRoom(id UserID) RoomID {
	return RoomID(userRoomPrefix + string(id))
}
