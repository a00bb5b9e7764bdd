// Package items implements the item registry: the
// static table associating each recognized (service-id, subtype) pair with
// a typed payload schema, plus the concrete item types themselves.
package items

// Well-known service identifiers, matching the legacy RetroShare wire
// assignments.
const (
	ServiceHeartbeat     uint16 = 0x0016
	ServiceStatus        uint16 = 0x0102
	ServiceRTT           uint16 = 0x1011
	ServiceDiscovery     uint16 = 0x0011
	ServiceInfo          uint16 = 0x0020
	ServiceTurtle        uint16 = 0x0014
	ServiceGxsID         uint16 = 0x0211
	ServiceChat          uint16 = 0x0012
	ServiceBandwidthCtrl uint16 = 0x0021

	// ServiceSliceProbe is not a real registered service: the slice-probe
	// item is sent with service=0xaabb, subtype=0xcc and is
	// recognized structurally rather than through the registry.
	ServiceSliceProbe uint16 = 0xaabb
)

// Item is any decoded, typed protocol payload. Encode must round-trip
// byte-for-byte with the bytes Decode was given.
type Item interface {
	ServiceID() uint16
	Subtype() uint8
	Encode() []byte
}
