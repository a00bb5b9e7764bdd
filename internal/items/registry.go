package items

import "fmt"

// key identifies one registered (service-id, subtype) payload schema.
type key struct {
	service uint16
	subtype uint8
}

// decodeFunc parses a raw payload (everything after the 8-byte item
// header) into a typed Item.
type decodeFunc func(payload []byte) (Item, error)

// Registry is the static (service-id, subtype) → schema table.
// Unknown pairs are not an error to look up; the caller
// (the multiplexer) is expected to log a warning and drop the item.
type Registry struct {
	decoders map[key]decodeFunc
}

// NewRegistry builds the registry pre-populated with every item type this
// module knows how to decode.
func NewRegistry() *Registry {
	reg := &Registry{decoders: make(map[key]decodeFunc)}
	reg.register(ServiceHeartbeat, 0x01, func(p []byte) (Item, error) { return Heartbeat{}, nil })
	reg.register(ServiceBandwidthCtrl, 0x01, wrap(DecodeBandwidthLimit))
	reg.register(ServiceStatus, 0x01, wrap(DecodeStatus))
	reg.register(ServiceRTT, rttSubtypePing, wrap(DecodeRTTPing))
	reg.register(ServiceRTT, rttSubtypePong, wrap(DecodeRTTPong))
	reg.register(ServiceInfo, subtypeServiceInfo, wrap(DecodeServiceInfo))
	reg.register(ServiceTurtle, TurtleSubtypeOpenTunnel, wrap(DecodeOpenTunnel))
	reg.register(ServiceTurtle, TurtleSubtypeTunnelOK, wrap(DecodeTunnelOK))
	reg.register(ServiceTurtle, TurtleSubtypeGenericData, wrap(DecodeGenericData))
	reg.register(ServiceDiscovery, DiscoverySubtypePGPList, wrap(DecodePGPList))
	reg.register(ServiceDiscovery, DiscoverySubtypeContact, wrap(DecodeContact))
	reg.register(ServiceChat, ChatSubtypeDefault, wrap(DecodeChatMessage))
	reg.register(ServiceChat, ChatSubtypeLobbyChallenge, wrap(DecodeLobbyChallenge))
	reg.register(ServiceChat, ChatSubtypeLobbyMsg, wrap(DecodeLobbyMsg))
	reg.register(ServiceGxsID, SubtypeTransaction, wrap(DecodeTransactionItem))
	reg.register(ServiceGxsID, SubtypeGrp, wrap(DecodeGroupItem))
	reg.register(ServiceGxsID, SubtypeSyncGrpReq, wrap(DecodeSyncGrpReq))
	return reg
}

func (r *Registry) register(serviceID uint16, subtype uint8, fn decodeFunc) {
	r.decoders[key{serviceID, subtype}] = fn
}

// wrap adapts a concretely-typed decode function to decodeFunc.
func wrap[T Item](fn func([]byte) (T, error)) decodeFunc {
	return func(payload []byte) (Item, error) {
		return fn(payload)
	}
}

// ErrUnknownItem is returned by Decode when (serviceID, subtype) has no
// registered schema.
var ErrUnknownItem = fmt.Errorf("items: no registered schema for service/subtype")

// Decode looks up the schema for (serviceID, subtype) and parses payload.
// Unregistered pairs return ErrUnknownItem; the caller drops the item with
// a warning rather than treating this as a connection-fatal error.
func (r *Registry) Decode(serviceID uint16, subtype uint8, payload []byte) (Item, error) {
	fn, ok := r.decoders[key{serviceID, subtype}]
	if !ok {
		return nil, fmt.Errorf("%w: service=0x%04x subtype=0x%02x", ErrUnknownItem, serviceID, subtype)
	}
	return fn(payload)
}

// Registered reports whether (serviceID, subtype) has a schema.
func (r *Registry) Registered(serviceID uint16, subtype uint8) bool {
	_, ok := r.decoders[key{serviceID, subtype}]
	return ok
}
