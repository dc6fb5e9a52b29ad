package domain

type NetworkType string

const (
	NetworkWifi     NetworkType = "wifi"
	NetworkCellular NetworkType = "cellular"
	NetworkUnknown  NetworkType = "unknown"
)

type NetworkStatus struct {
	IsConnected bool        `json:"isConnected"`
	Type        NetworkType `json:"type"`
}

type AppState string

const (
	AppActive     AppState = "active"
	AppInactive   AppState = "inactive"
	AppBackground AppState = "background"
)

func (s AppState) IsForeground() bool {
	return s == AppActive
}
