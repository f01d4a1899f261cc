package domain

import "time"

// UserStatus is the presence payload broadcast by the status task.
type UserStatus struct {
	UserID            string    `json:"userId"`
	OnlineStatus      string    `json:"onlineStatus"`
	OutputDevice      string    `json:"outputDevice"`
	SessionType       string    `json:"sessionType"`
	UserSessionID     string    `json:"userSessionId"`
	IsPresent         bool      `json:"isPresent"`
	LastPresence      time.Time `json:"lastPresenceTimestamp"`
	LastStatusChange  time.Time `json:"lastStatusChange"`
	CompatibilityHash string    `json:"compatibilityHash"`
	AppVersion        string    `json:"appVersion"`
	IsMobile          bool      `json:"isMobile"`
}

// BroadcastGroup selects the audience of a status broadcast.
type BroadcastGroup struct {
	Group     int      `json:"group"`
	TargetIDs []string `json:"targetIds"`
}
