package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/haasonsaas/eventlive/internal/api"
	"github.com/haasonsaas/eventlive/internal/backoff"
	"github.com/haasonsaas/eventlive/internal/credentials"
	"github.com/haasonsaas/eventlive/internal/hubclient"
	"github.com/haasonsaas/eventlive/internal/livesession"
	"github.com/haasonsaas/eventlive/internal/presence"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// =============================================================================
// Live Command Handlers
// =============================================================================

func runLive(cmd *cobra.Command, eventID, metricsAddr string, noRefresh bool) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())
	cfg := rt.cfg

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if fs, ok := rt.store.(*credentials.FileStore); ok && cfg.Credentials.Watch {
		if err := fs.Watch(ctx); err != nil {
			rt.logger.Warn("credential watch unavailable", "error", err)
		}
	}

	if metricsAddr == "" && cfg.Metrics.Enabled {
		metricsAddr = cfg.Metrics.Addr
	}
	if metricsAddr != "" {
		stop, err := serveMetrics(rt, metricsAddr)
		if err != nil {
			return err
		}
		defer stop()
	}

	if !noRefresh {
		refresher, err := api.NewRefreshScheduler(rt.client, rt.store, cfg.API.RefreshSchedule, cfg.API.RefreshSkew, rt.logger)
		if err != nil {
			return err
		}
		refresher.Start()
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			_ = refresher.Stop(stopCtx)
		}()
	}

	hub := hubclient.NewClient(hubclient.Config{
		URL:               cfg.HubURL(),
		TokenSource:       credentials.NewTokenSource(rt.store),
		ReconnectSchedule: backoff.Schedule(cfg.Hub.ReconnectSchedule),
		StartRetryDelay:   cfg.Hub.StartRetryDelay,
		HandshakeTimeout:  cfg.Hub.HandshakeTimeout,
		KeepAliveInterval: cfg.Hub.KeepAliveInterval,
		ServerTimeout:     cfg.Hub.ServerTimeout,
		InvokeTimeout:     cfg.Hub.InvokeTimeout,
		ExtraEvents:       cfg.Hub.ExtraEvents,
		Metrics:           rt.metrics,
		Tracer:            rt.tracer,
	}, rt.logger)

	controller := livesession.NewController(hub, rt.client, rt.client.CurrentUser, livesession.Config{
		LeaveGrace: cfg.Session.LeaveGrace,
		Presence: presence.Config{
			LogCapacity:   cfg.Presence.LogCapacity,
			RemountWindow: cfg.Presence.RemountWindow,
			RecentJoinTTL: cfg.Presence.RecentJoinTTL,
			LeaveTimeout:  cfg.Presence.LeaveTimeout,
		},
		Metrics: rt.metrics,
		Tracer:  rt.tracer,
	}, rt.logger)
	defer controller.Close()

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	renderer := newLiveRenderer(cmd.OutOrStdout())
	enterErr := controller.Enter(ctx, eventID)
	snap := controller.Snapshot()
	renderer.Render(snap)
	if snap.State == livesession.StateDenied {
		if enterErr != nil {
			rt.logger.Debug("live session denied", "error", enterErr)
		}
		return explain(deniedError(snap, enterErr))
	}
	if enterErr != nil {
		return explain(enterErr)
	}

	return liveLoop(ctx, controller, renderer, signals, cfg.Presence.LeaveTimeout+cfg.Session.LeaveGrace, rt.logger)
}

// liveLoop renders until the session ends. The first signal leaves the room
// gracefully; a second one unloads and returns without waiting for the leave.
func liveLoop(ctx context.Context, controller *livesession.Controller, renderer *liveRenderer, signals <-chan os.Signal, unloadWait time.Duration, logger *slog.Logger) error {
	var leaveDone chan struct{}
	for {
		select {
		case <-controller.Updates():
			renderer.Render(controller.Snapshot())

		case <-leaveDone:
			renderer.Render(controller.Snapshot())
			return nil

		case sig := <-signals:
			if leaveDone != nil {
				logger.Info("second signal, unloading", "signal", sig.String())
				done := controller.Unload()
				renderer.Render(controller.Snapshot())
				_ = backoff.SleepUntilDone(context.Background(), done, unloadWait)
				return nil
			}
			logger.Info("leaving live session", "signal", sig.String())
			leaveDone = make(chan struct{})
			go func(done chan struct{}) {
				defer close(done)
				controller.Leave(context.WithoutCancel(ctx))
			}(leaveDone)

		case <-ctx.Done():
			<-controller.Unload()
			return ctx.Err()
		}
	}
}

func deniedError(snap livesession.Snapshot, cause error) error {
	reason := snap.DenialReason
	if reason == "" {
		reason = "access denied"
	}
	if cause != nil {
		return fmt.Errorf("%s: %w", reason, cause)
	}
	return errors.New(reason)
}

func serveMetrics(rt *cliRuntime, addr string) (func(), error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen: %w", err)
	}
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("metrics server error", "error", err)
		}
	}()
	rt.logger.Info("serving metrics", "addr", listener.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}

// =============================================================================
// Live View Rendering
// =============================================================================

// liveRenderer prints status changes and activity not yet shown.
type liveRenderer struct {
	out     io.Writer
	loc     *time.Location
	header  bool
	status  string
	printed map[string]struct{}
}

func newLiveRenderer(out io.Writer) *liveRenderer {
	return &liveRenderer{out: out, loc: time.Local, printed: map[string]struct{}{}}
}

// Render prints what changed since the previous snapshot.
func (r *liveRenderer) Render(s livesession.Snapshot) {
	if !r.header && s.Event != nil {
		r.header = true
		fmt.Fprintf(r.out, "%s\n", s.Event.Title)
		if s.Event.Location != "" {
			fmt.Fprintf(r.out, "  %s\n", s.Event.Location)
		}
		if s.Member != nil {
			fmt.Fprintf(r.out, "  Attending as %s\n", s.Member.DisplayName())
		}
		fmt.Fprintln(r.out)
	}

	if status := statusLine(s); status != r.status {
		r.status = status
		fmt.Fprintln(r.out, status)
	}

	// The log is newest first; print oldest first.
	current := make(map[string]struct{}, len(s.Events))
	for i := len(s.Events) - 1; i >= 0; i-- {
		ev := s.Events[i]
		current[ev.ID] = struct{}{}
		if _, ok := r.printed[ev.ID]; ok {
			continue
		}
		fmt.Fprint(r.out, formatActivity(ev, r.loc))
	}
	r.printed = current
}

func statusLine(s livesession.Snapshot) string {
	switch s.State {
	case livesession.StateIdle:
		if s.EventID == "" {
			return "Not attending"
		}
		return "Left the event"
	case livesession.StateAuthorizing:
		return "Checking access..."
	case livesession.StateDenied:
		return "Access denied: " + s.DenialReason
	case livesession.StateLeaving:
		return "Leaving the event..."
	}

	parts := []string{"[" + connectionBadge(s.Connection) + "]"}
	if id := s.Connection.ShortID(); id != "" {
		parts = append(parts, "conn "+id)
	}
	if s.HasViewers {
		parts = append(parts, fmt.Sprintf("viewers: %d", s.Viewers))
	} else {
		parts = append(parts, "viewers: n/a")
	}
	if s.State == livesession.StateActive {
		parts = append(parts, "in room")
	} else {
		parts = append(parts, "joining")
	}
	line := strings.Join(parts, " | ")
	if s.Connection.LastError != "" && !s.Connection.IsConnected() {
		line += " (" + s.Connection.LastError + ")"
	}
	return line
}

func connectionBadge(conn hubclient.Connection) string {
	switch {
	case conn.IsConnected():
		return "Connected"
	case conn.IsConnecting():
		return "Connecting..."
	case conn.IsReconnecting():
		return "Reconnecting..."
	default:
		return "Disconnected"
	}
}

func formatActivity(ev hubclient.ActivityEvent, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", ev.ReceivedAt.In(loc).Format(time.TimeOnly), ev.Name)
	payload := bytes.TrimSpace(ev.Payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return b.String()
	}
	var indented bytes.Buffer
	if err := json.Indent(&indented, payload, "  ", "  "); err != nil {
		fmt.Fprintf(&b, "  %s\n", payload)
		return b.String()
	}
	fmt.Fprintf(&b, "  %s\n", indented.String())
	return b.String()
}
