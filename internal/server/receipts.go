package server

// MarkRead records that a user has read a message and advances their chat
// watermark to the message's creation time. The watermark only moves
// forward, so reading an older message after a newer one changes nothing.
// Unknown messages and non-members are silent no-ops.
func (cs *ChatServer) MarkRead(userId int, messageId string) {
	msg, err := cs.db.GetMessageById(messageId)
	if err != nil {
		return
	}

	if !cs.db.MemberExists(msg.ChatId, userId) {
		return
	}

	now := Now()
	if err := cs.db.UpsertReadReceipt(msg.Id, userId, now); err != nil {
		cs.log.Println("upsert read receipt:", err)
		return
	}

	if err := cs.db.UpdateLastRead(msg.ChatId, userId, msg.CreatedAt); err != nil {
		cs.log.Println("update last read:", err)
	}

	cs.stats.Incr("ReadReceipts")

	cs.pushToUser(msg.SenderId, &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: now},
		MessageRead: &MessageRead{
			MessageId: msg.Id,
			UserId:    userId,
		},
	})
}
