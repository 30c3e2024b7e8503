package devices

// Status is derived from the latest location sample and open SOS intents.
type Status string

const (
	StatusOffline Status = "offline"
	StatusOnline  Status = "online"
	StatusMoving  Status = "moving"
	StatusSOS     Status = "sos"
)

// DefaultMovingThresholdKmh is the speed above which a device is moving.
const DefaultMovingThresholdKmh = 5.0

// DeriveStatus applies sos > moving > online > offline.
func DeriveStatus(hasSample bool, speedKmh float64, sosOpen bool, movingThresholdKmh float64) Status {
	switch {
	case sosOpen:
		return StatusSOS
	case !hasSample:
		return StatusOffline
	case speedKmh > movingThresholdKmh:
		return StatusMoving
	default:
		return StatusOnline
	}
}
