package app

// StopReason is logged on shutdown so operators can tell signals from
// internal failures.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopAppStop    StopReason = "app_stop"
)
