package vehicle

import "github.com/kwv/trackmesh/protocol"

// A listener registered with a Router implements one or more of the
// capability interfaces below. Each method is called only for notifications of
// the matching kind.

type PositionListener interface {
	OnPositionUpdate(protocol.PositionUpdate) error
}

type TransitionListener interface {
	OnTransitionUpdate(protocol.TransitionUpdate) error
}

type IntersectionListener interface {
	OnIntersectionUpdate(protocol.IntersectionUpdate) error
}

type ChargerListener interface {
	OnChargerInfo(protocol.ChargerInfo) error
}

type BatteryListener interface {
	OnBattery(protocol.Battery) error
}

type PingListener interface {
	OnPingResponse() error
}

type VersionListener interface {
	OnVersionResponse(protocol.VersionResponse) error
}

type DelocalizedListener interface {
	OnDelocalized() error
}

type OffsetListener interface {
	OnOffsetUpdate(protocol.OffsetUpdate) error
}

type ConnectionListener interface {
	OnConnectionChange(connected bool) error
}

// handler is a listener bound to one capability.
type handler func(n protocol.Notification) error

// binders resolve a listener against the capability of each notification kind.
// Kinds without an entry, such as KindDefault, are never delivered.
var binders = [protocol.NumKinds]func(l any) (handler, bool){
	protocol.KindPositionUpdate: func(l any) (handler, bool) {
		c, ok := l.(PositionListener)
		if !ok {
			return nil, false
		}
		return func(n protocol.Notification) error { return c.OnPositionUpdate(*n.Position) }, true
	},
	protocol.KindTransitionUpdate: func(l any) (handler, bool) {
		c, ok := l.(TransitionListener)
		if !ok {
			return nil, false
		}
		return func(n protocol.Notification) error { return c.OnTransitionUpdate(*n.Transition) }, true
	},
	protocol.KindIntersectionUpdate: func(l any) (handler, bool) {
		c, ok := l.(IntersectionListener)
		if !ok {
			return nil, false
		}
		return func(n protocol.Notification) error { return c.OnIntersectionUpdate(*n.Intersection) }, true
	},
	protocol.KindChargerInfo: func(l any) (handler, bool) {
		c, ok := l.(ChargerListener)
		if !ok {
			return nil, false
		}
		return func(n protocol.Notification) error { return c.OnChargerInfo(*n.Charger) }, true
	},
	protocol.KindBattery: func(l any) (handler, bool) {
		c, ok := l.(BatteryListener)
		if !ok {
			return nil, false
		}
		return func(n protocol.Notification) error { return c.OnBattery(*n.Battery) }, true
	},
	protocol.KindPingResponse: func(l any) (handler, bool) {
		c, ok := l.(PingListener)
		if !ok {
			return nil, false
		}
		return func(_ protocol.Notification) error { return c.OnPingResponse() }, true
	},
	protocol.KindVersionResponse: func(l any) (handler, bool) {
		c, ok := l.(VersionListener)
		if !ok {
			return nil, false
		}
		return func(n protocol.Notification) error { return c.OnVersionResponse(*n.Version) }, true
	},
	protocol.KindDelocalized: func(l any) (handler, bool) {
		c, ok := l.(DelocalizedListener)
		if !ok {
			return nil, false
		}
		return func(_ protocol.Notification) error { return c.OnDelocalized() }, true
	},
	protocol.KindOffsetUpdate: func(l any) (handler, bool) {
		c, ok := l.(OffsetListener)
		if !ok {
			return nil, false
		}
		return func(n protocol.Notification) error { return c.OnOffsetUpdate(*n.Offset) }, true
	},
	protocol.KindConnected: func(l any) (handler, bool) {
		c, ok := l.(ConnectionListener)
		if !ok {
			return nil, false
		}
		return func(n protocol.Notification) error { return c.OnConnectionChange(n.Connection.Connected) }, true
	},
}
