package models

// RoomActivity summarises sends to one room.
type RoomActivity struct {
	Room       string `json:"room"`
	Sends      int64  `json:"sends"`
	LastSendTS int64  `json:"last_send_ts"`
}
