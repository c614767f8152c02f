package session

const (
	roomKeyPrefix = "session:room:"
	infoKeyPrefix = "session:info:"
	userKeyPrefix = "session:user:"
)

func roomKey(draftID string) string {
	return roomKeyPrefix + draftID
}

func infoKey(sessionID string) string {
	return infoKeyPrefix + sessionID
}

func userKey(draftID, userID string) string {
	return userKeyPrefix + draftID + ":" + userID
}
