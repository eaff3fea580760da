package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ipcTimeout bounds how long one request may hold a connection.
const ipcTimeout = 10 * time.Second

type daemon struct {
	engine *Engine
	log    zerolog.Logger
}

func (d *daemon) handleRequest(ctx context.Context, req IPCRequest) IPCResponse {
	var (
		id  string
		err error
	)
	switch req.Command {
	case "status":
		st := d.engine.Status()
		return IPCResponse{Status: &st}
	case "list":
		return IPCResponse{Networks: d.engine.Networks()}
	case "connect":
		if req.SSID == "" {
			return IPCResponse{Error: "ssid is required"}
		}
		id, err = d.engine.Connect(ctx, req.SSID, req.Password)
	case "disconnect":
		id, err = d.engine.Disconnect(ctx)
	case "radio":
		id, err = d.engine.SetRadio(ctx, req.Enabled)
	case "radio-toggle":
		id, err = d.engine.ToggleRadio(ctx)
	case "rescan":
		id, err = d.engine.Rescan(ctx)
	default:
		return IPCResponse{Error: fmt.Sprintf("unknown command: %q", req.Command)}
	}
	if err != nil {
		return IPCResponse{Error: err.Error()}
	}
	return IPCResponse{OpID: id}
}

func (d *daemon) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(ipcTimeout))

	var req IPCRequest
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		resp := IPCResponse{Error: "invalid request: " + err.Error()}
		json.NewEncoder(conn).Encode(resp)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, ipcTimeout)
	defer cancel()
	resp := d.handleRequest(ctx, req)
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		d.log.Debug().Err(err).Str("command", req.Command).Msg("write response failed")
	}
}

// serve accepts connections until ctx is cancelled. It returns only once
// every connection handler has finished.
func (d *daemon) serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var conns sync.WaitGroup
	defer conns.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				// Listener closed by shutdown.
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		conns.Add(1)
		go func() {
			defer conns.Done()
			d.handleConn(ctx, conn)
		}()
	}
}

// poll keeps radio state and registry fresh. interval 0 polls once.
func (d *daemon) poll(ctx context.Context, interval time.Duration) error {
	if err := d.engine.Poll(ctx); err != nil {
		return nil
	}
	if interval == 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.engine.Poll(ctx); err != nil {
				return nil
			}
		}
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func newNotifier(cfg Config, log zerolog.Logger) (Notifier, func()) {
	if !cfg.Notifications {
		return logNotifier{log: log}, func() {}
	}
	n, err := newDBusNotifier(log)
	if err != nil {
		log.Warn().Err(err).Msg("desktop notifications unavailable, logging them instead")
		return logNotifier{log: log}, func() {}
	}
	return n, n.close
}

func runDaemon(ctx context.Context, cfg Config, log zerolog.Logger) error {
	run := execRunner{timeout: cfg.CommandTimeout}

	iface := cfg.Interface
	if iface == "" {
		var err error
		iface, err = detectInterface(ctx, run, cfg.Nmcli)
		if err != nil {
			return fmt.Errorf("detect wireless interface: %w", err)
		}
		log.Info().Str("interface", iface).Msg("detected wireless interface")
	}

	notifier, closeNotifier := newNotifier(cfg, log)
	defer closeNotifier()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engine := NewEngine(EngineConfig{
		Tool:      newNmcli(cfg.Nmcli, iface, run),
		Interface: iface,
		Notifier:  notifier,
		Metrics:   newMetrics(reg),
		Logger:    log,
	})

	sock := cfg.Socket
	os.Remove(sock) // remove stale socket
	ln, err := net.Listen("unix", sock)
	if err != nil {
		return fmt.Errorf("listen %s: %w", sock, err)
	}
	os.Chmod(sock, 0700)
	defer os.Remove(sock)

	d := &daemon{engine: engine, log: log}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(ctx) })
	g.Go(func() error { return d.serve(ctx, ln) })
	g.Go(func() error { return d.poll(ctx, cfg.ScanInterval) })
	if cfg.MetricsListen != "" {
		g.Go(func() error { return serveMetrics(ctx, cfg.MetricsListen, reg, log) })
	}

	log.Info().Str("socket", sock).Str("interface", iface).Dur("scan_interval", cfg.ScanInterval).Msg("listening")
	err = g.Wait()
	log.Info().Msg("shutting down")
	return err
}
