package main

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
)

const (
	notifyBusName = "org.freedesktop.Notifications"
	notifyPath    = "/org/freedesktop/Notifications"
	notifyIface   = "org.freedesktop.Notifications"
	appName       = "wifictl"
)

// Icon hints from the freedesktop icon naming spec.
const (
	iconConnected    = "network-wireless"
	iconDisconnected = "network-wireless-disconnected"
	iconOffline      = "network-wireless-offline"
	iconError        = "network-error"
)

// Notifier receives one message per orchestrator outcome. It must not block.
type Notifier interface {
	Notify(title, body, icon string)
}

// dbusNotifier posts desktop notifications over the session bus.
type dbusNotifier struct {
	conn *dbus.Conn
	log  zerolog.Logger
}

func newDBusNotifier(log zerolog.Logger) (*dbusNotifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect to session bus: %w", err)
	}
	// Quick check that a notification daemon is on the bus.
	var owned bool
	if err := conn.BusObject().Call("org.freedesktop.DBus.NameHasOwner", 0, notifyBusName).Store(&owned); err != nil {
		conn.Close()
		return nil, fmt.Errorf("query %s owner: %w", notifyBusName, err)
	}
	if !owned {
		conn.Close()
		return nil, fmt.Errorf("%s not found on session bus", notifyBusName)
	}
	return &dbusNotifier{conn: conn, log: log}, nil
}

// Notify sends without waiting for a reply.
func (n *dbusNotifier) Notify(title, body, icon string) {
	obj := n.conn.Object(notifyBusName, notifyPath)
	call := obj.Go(notifyIface+".Notify", dbus.FlagNoReplyExpected, nil,
		appName, uint32(0), icon, title, body, []string{}, map[string]dbus.Variant{}, int32(-1))
	if call.Err != nil {
		n.log.Warn().Err(call.Err).Str("title", title).Msg("desktop notification failed")
	}
}

func (n *dbusNotifier) close() {
	n.conn.Close()
}

// logNotifier writes notifications to the log. Used when no notification
// daemon is reachable or notifications are disabled.
type logNotifier struct {
	log zerolog.Logger
}

func (n logNotifier) Notify(title, body, icon string) {
	n.log.Info().Str("title", title).Str("icon", icon).Msg(body)
}
