package session

import "fmt"

const (
	alertTitleConflict = "WhatsApp session conflict"
	alertTitleFailed   = "WhatsApp session failed"
	alertTitleLoggedIn = "WhatsApp session needs pairing"

	alertDetailConflictFormat = "%s\nAnother device or server is using these credentials. Free them there, then POST /sessions/%s/restart."
	alertDetailFailedFormat   = "%s\nAutomatic reconnection gave up. POST /sessions/%s/restart to try again."
	alertDetailLoggedOut      = "The phone removed this linked device. Scan a new QR code or request a pairing code."

	reasonStartRequested   = "start requested"
	reasonStopRequested    = "stop requested"
	reasonRestartRequested = "restart requested"
	reasonLoggedOut        = "logged out"
	reasonQRIssued         = "qr code issued"
	reasonPollFailed       = "status poll failed"
)

func conflictDetail(account, reason string) string {
	return fmt.Sprintf(alertDetailConflictFormat, reason, account)
}

func failedDetail(account, reason string) string {
	return fmt.Sprintf(alertDetailFailedFormat, reason, account)
}

// StatusDescription is the operator-facing explanation of a status.
func StatusDescription(s Status) string {
	switch s {
	case StatusStopped:
		return "Session is not running."
	case StatusStarting:
		return "Connecting to WhatsApp."
	case StatusAwaitingAuth:
		return "Waiting for a QR scan or pairing code."
	case StatusWorking:
		return "Connected and receiving messages."
	case StatusFailed:
		return "Reconnection gave up. Restart the session."
	case StatusConflict:
		return "Another session uses these credentials. Resolve it, then restart."
	default:
		return "Unknown status."
	}
}
