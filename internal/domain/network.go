package domain

import "fmt"

// NetworkMode is the user's chosen network behaviour
type NetworkMode string

const (
	NetworkModeWifiOnly  NetworkMode = "wifi_only"
	NetworkModeStreaming NetworkMode = "streaming"
	NetworkModeOffline   NetworkMode = "offline"
)

// StreamingQuality is the user's preferred stream quality
type StreamingQuality string

const (
	QualityAuto StreamingQuality = "auto"
	QualityHigh StreamingQuality = "high"
	QualityLow  StreamingQuality = "low"
)

// Connectivity is the current network class as reported by the platform
type Connectivity string

const (
	ConnectivityNone    Connectivity = "none"
	ConnectivityLocal   Connectivity = "local"   // wifi/ethernet class
	ConnectivityMetered Connectivity = "metered" // cellular class
)

// NetworkSettings are persisted user preferences read on every admission check
type NetworkSettings struct {
	Mode                  NetworkMode      `json:"networkMode"`
	StreamingQuality      StreamingQuality `json:"streamingQuality"`
	AllowCellularDownload bool             `json:"allowCellularDownload"`
}

// DefaultNetworkSettings returns the settings used before the user changes anything
func DefaultNetworkSettings() NetworkSettings {
	return NetworkSettings{
		Mode:                  NetworkModeStreaming,
		StreamingQuality:      QualityAuto,
		AllowCellularDownload: false,
	}
}

// Validate checks that every field holds a known value
func (s NetworkSettings) Validate() error {
	switch s.Mode {
	case NetworkModeWifiOnly, NetworkModeStreaming, NetworkModeOffline:
	default:
		return fmt.Errorf("unknown network mode %q", s.Mode)
	}
	switch s.StreamingQuality {
	case QualityAuto, QualityHigh, QualityLow:
	default:
		return fmt.Errorf("unknown streaming quality %q", s.StreamingQuality)
	}
	return nil
}

// Reason is the machine-readable cause of a policy decision
type Reason string

const (
	ReasonNone                       Reason = ""
	ReasonOfflineMode                Reason = "offline_mode"
	ReasonNoConnection               Reason = "no_connection"
	ReasonCellularNotAllowed         Reason = "cellular_not_allowed"
	ReasonCellularDownloadNotAllowed Reason = "cellular_download_not_allowed"
)

var reasonMessages = map[Reason]string{
	ReasonOfflineMode:                "Offline mode is on. Turn it off in settings to use the network.",
	ReasonNoConnection:               "No internet connection.",
	ReasonCellularNotAllowed:         "Wi-Fi only mode. Connect to Wi-Fi or change settings.",
	ReasonCellularDownloadNotAllowed: "Downloads over cellular are off. Connect to Wi-Fi or allow cellular downloads in settings.",
}

// Message returns a short explanation suitable for display
func (r Reason) Message() string {
	if m, ok := reasonMessages[r]; ok {
		return m
	}
	return string(r)
}

// Decision is the outcome of an admission check
type Decision struct {
	Allowed bool
	Reason  Reason
}

// Allow is the decision for a permitted operation
var Allow = Decision{Allowed: true}

// Deny returns a refusal with the given reason
func Deny(r Reason) Decision {
	return Decision{Allowed: false, Reason: r}
}

// Err converts a refusal into a *PolicyError; nil when allowed.
func (d Decision) Err(op string) error {
	if d.Allowed {
		return nil
	}
	return &PolicyError{Op: op, Reason: d.Reason}
}
