package model

// HubStats is a point-in-time view of the connection registry.
type HubStats struct {
	TotalConnections int      `json:"total_connections"`
	OnlineUsers      int      `json:"online_users"`
	ActiveRooms      int      `json:"active_rooms"`
	Users            []string `json:"users"`
}
