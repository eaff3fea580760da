package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNoInterface means no wireless interface was configured or found.
var ErrNoInterface = errors.New("no wireless interface")

const scanFields = "ACTIVE,SIGNAL,FREQ,SSID,BSSID,SECURITY"

// Tool is the set of external actions the engine drives. Every method blocks
// until the underlying command exits.
type Tool interface {
	Scan(ctx context.Context) (Result, error)
	Connect(ctx context.Context, ssid, password string) (Result, error)
	Disconnect(ctx context.Context) (Result, error)
	SetRadio(ctx context.Context, enabled bool) (Result, error)
	RadioStatus(ctx context.Context) (Result, error)
	Rescan(ctx context.Context) (Result, error)
}

// nmcli drives NetworkManager's command-line client. Every interface-scoped
// command names the interface explicitly.
type nmcli struct {
	bin   string
	iface string
	run   Runner
}

func newNmcli(bin, iface string, run Runner) *nmcli {
	return &nmcli{bin: bin, iface: iface, run: run}
}

func (n *nmcli) Scan(ctx context.Context) (Result, error) {
	return n.run.Run(ctx, n.bin, "-t", "-f", scanFields, "device", "wifi", "list", "--rescan", "no", "ifname", n.iface)
}

func (n *nmcli) Connect(ctx context.Context, ssid, password string) (Result, error) {
	args := []string{"device", "wifi", "connect", ssid}
	if password != "" {
		args = append(args, "password", password)
	}
	args = append(args, "ifname", n.iface)
	return n.run.Run(ctx, n.bin, args...)
}

func (n *nmcli) Disconnect(ctx context.Context) (Result, error) {
	return n.run.Run(ctx, n.bin, "device", "disconnect", n.iface)
}

func (n *nmcli) SetRadio(ctx context.Context, enabled bool) (Result, error) {
	state := "off"
	if enabled {
		state = "on"
	}
	return n.run.Run(ctx, n.bin, "radio", "wifi", state)
}

func (n *nmcli) RadioStatus(ctx context.Context) (Result, error) {
	return n.run.Run(ctx, n.bin, "radio", "wifi")
}

func (n *nmcli) Rescan(ctx context.Context) (Result, error) {
	return n.run.Run(ctx, n.bin, "device", "wifi", "rescan", "ifname", n.iface)
}

// detectInterface returns the first wifi device the tool knows about.
func detectInterface(ctx context.Context, run Runner, bin string) (string, error) {
	res, err := run.Run(ctx, bin, "-t", "-f", "DEVICE,TYPE", "device")
	if err != nil {
		return "", err
	}
	if !res.OK() {
		return "", fmt.Errorf("list devices: exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	for _, line := range strings.Split(res.Stdout, "\n") {
		fields := splitTerse(strings.TrimSpace(line))
		if len(fields) >= 2 && fields[1] == "wifi" && fields[0] != "" {
			return fields[0], nil
		}
	}
	return "", ErrNoInterface
}
