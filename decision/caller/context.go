// Package caller models who is asking and how urgently.
package caller

import "strings"

// Device is the caller's device class.
type Device string

const (
	DeviceUnknown Device = ""
	DeviceDesktop Device = "desktop"
	DeviceMobile  Device = "mobile"
	DeviceTablet  Device = "tablet"
)

// Urgency orders how soon the caller needs the result.
type Urgency int

const (
	UrgencyLow Urgency = iota
	UrgencyMedium
	UrgencyHigh
)

func (u Urgency) String() string {
	switch u {
	case UrgencyMedium:
		return "medium"
	case UrgencyHigh:
		return "high"
	default:
		return "low"
	}
}

// ParseUrgency maps free text to an urgency level. Absent or unknown
// values are low.
func ParseUrgency(s string) Urgency {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "medium", "med", "normal":
		return UrgencyMedium
	case "high", "urgent", "critical":
		return UrgencyHigh
	default:
		return UrgencyLow
	}
}

// ParseDevice maps a device string to a Device. Unknown values map to
// DeviceUnknown; the transport layer rejects them before this point.
func ParseDevice(s string) Device {
	switch Device(strings.ToLower(strings.TrimSpace(s))) {
	case DeviceDesktop:
		return DeviceDesktop
	case DeviceMobile:
		return DeviceMobile
	case DeviceTablet:
		return DeviceTablet
	default:
		return DeviceUnknown
	}
}

// Context is the read-only caller context passed to every stage.
type Context struct {
	UserID          string
	Role            string
	ClientID        string
	Location        string
	Device          Device
	BehaviorSummary string
	Urgency         Urgency
}
