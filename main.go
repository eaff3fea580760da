package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

type options struct {
	configFile string
	socket     string
	logLevel   string
	output     string
}

func (o *options) load() (Config, error) {
	cfg, err := loadConfig(o.configFile)
	if err != nil {
		return Config{}, err
	}
	if o.socket != "" {
		cfg.Socket = o.socket
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, nil
}

// call loads the config and sends req to the daemon.
func (o *options) call(req IPCRequest) (IPCResponse, error) {
	cfg, err := o.load()
	if err != nil {
		return IPCResponse{}, err
	}
	return ipcCall(cfg.Socket, req)
}

// printOp reports the id of an operation the daemon accepted.
func printOp(cmd *cobra.Command, resp IPCResponse) error {
	return json.NewEncoder(cmd.OutOrStdout()).Encode(resp)
}

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "wifictl",
		Short:         "Keep a live list of nearby Wi-Fi networks and connect to them",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&o.configFile, "config", "", "config file (default $XDG_CONFIG_HOME/wifictl/config.yaml)")
	root.PersistentFlags().StringVar(&o.socket, "socket", "", "daemon socket path")
	root.PersistentFlags().StringVar(&o.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		&cobra.Command{
			Use:   "daemon",
			Short: "Run the daemon that owns the network registry",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := o.load()
				if err != nil {
					return err
				}
				log, err := newLogger(cfg.Log)
				if err != nil {
					return fmt.Errorf("configure logging: %w", err)
				}
				ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				return runDaemon(ctx, cfg, log)
			},
		},
		newStatusCmd(o),
		newListCmd(o),
		newConnectCmd(o),
		&cobra.Command{
			Use:   "disconnect",
			Short: "Disconnect the wireless interface",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				resp, err := o.call(IPCRequest{Command: "disconnect"})
				if err != nil {
					return err
				}
				return printOp(cmd, resp)
			},
		},
		&cobra.Command{
			Use:       "radio on|off|toggle",
			Short:     "Switch the Wi-Fi radio",
			Args:      cobra.ExactArgs(1),
			ValidArgs: []string{"on", "off", "toggle"},
			RunE: func(cmd *cobra.Command, args []string) error {
				req := IPCRequest{Command: "radio"}
				switch args[0] {
				case "on":
					req.Enabled = true
				case "off":
				case "toggle":
					req.Command = "radio-toggle"
				default:
					return fmt.Errorf("unknown radio state %q", args[0])
				}
				resp, err := o.call(req)
				if err != nil {
					return err
				}
				return printOp(cmd, resp)
			},
		},
		&cobra.Command{
			Use:   "rescan",
			Short: "Ask for a fresh scan",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				resp, err := o.call(IPCRequest{Command: "rescan"})
				if err != nil {
					return err
				}
				return printOp(cmd, resp)
			},
		},
	)
	return root
}

func newStatusCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show radio state and operation status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := o.call(IPCRequest{Command: "status"})
			if err != nil {
				return err
			}
			if resp.Status == nil {
				return fmt.Errorf("daemon returned no status")
			}
			return writeStatus(cmd.OutOrStdout(), *resp.Status, o.output)
		},
	}
	cmd.Flags().StringVarP(&o.output, "output", "o", "table", "output format: table, json or yaml")
	return cmd
}

func newListCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List visible networks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := o.call(IPCRequest{Command: "list"})
			if err != nil {
				return err
			}
			return writeNetworks(cmd.OutOrStdout(), resp.Networks, o.output)
		},
	}
	cmd.Flags().StringVarP(&o.output, "output", "o", "table", "output format: table, json or yaml")
	return cmd
}

func newConnectCmd(o *options) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "connect <ssid>",
		Short: "Connect to a network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := o.call(IPCRequest{Command: "connect", SSID: args[0], Password: password})
			if err != nil {
				return err
			}
			return printOp(cmd, resp)
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "network password (omit for open networks or saved profiles)")
	return cmd
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
