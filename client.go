package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// ErrDaemonUnreachable is returned when the daemon socket cannot be reached.
var ErrDaemonUnreachable = errors.New("daemon unreachable")

func ipcCall(sock string, req IPCRequest) (IPCResponse, error) {
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("%w: %v (is `wifictl daemon` running?)", ErrDaemonUnreachable, err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return IPCResponse{}, fmt.Errorf("send request: %w", err)
	}

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return IPCResponse{}, fmt.Errorf("read response: %w", err)
	}
	if resp.Error != "" {
		return resp, errors.New(resp.Error)
	}
	return resp, nil
}

// sortForDisplay orders the active network first, then by signal strength.
func sortForDisplay(aps []AccessPoint) []AccessPoint {
	out := append([]AccessPoint(nil), aps...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Active != out[j].Active {
			return out[i].Active
		}
		return out[i].Strength > out[j].Strength
	})
	return out
}

func writeNetworks(w io.Writer, aps []AccessPoint, format string) error {
	aps = sortForDisplay(aps)
	switch format {
	case "json":
		return json.NewEncoder(w).Encode(aps)
	case "yaml":
		return encodeYAML(w, aps)
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "\tSSID\tSIGNAL\tFREQ\tSECURITY\tBSSID")
		for _, ap := range aps {
			mark := ""
			if ap.Active {
				mark = "*"
			}
			security := ap.Security
			if !ap.IsSecure() {
				security = "open"
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n", mark, ap.SSID, ap.Strength, ap.Frequency, security, ap.BSSID)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
}

func writeStatus(w io.Writer, st DaemonStatus, format string) error {
	switch format {
	case "json":
		return json.NewEncoder(w).Encode(st)
	case "yaml":
		return encodeYAML(w, st)
	case "table", "":
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}

	radio := "disabled"
	if st.RadioEnabled {
		radio = "enabled"
	}
	active := st.ActiveSSID
	if active == "" {
		active = "-"
	}
	fmt.Fprintf(w, "interface: %s\nradio:     %s\nnetworks:  %d\nactive:    %s\n", st.Interface, radio, st.Networks, active)
	if st.ConfigError != "" {
		fmt.Fprintf(w, "error:     %s\n", st.ConfigError)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERB\tPHASE\tLAST\tTARGET\tDETAIL")
	for _, v := range allVerbs {
		vs, ok := st.Verbs[v]
		if !ok {
			continue
		}
		last := string(vs.LastOutcome)
		if last == "" {
			last = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v, vs.Phase, last, vs.Target, strings.TrimSpace(vs.LastError))
	}
	return tw.Flush()
}

func encodeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	if err := enc.Encode(v); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}
