package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/groblegark/coop-sub001/internal/config"
	"github.com/groblegark/coop-sub001/internal/coopapi"
	"github.com/groblegark/coop-sub001/internal/detect"
	"github.com/groblegark/coop-sub001/internal/eventlog"
	"github.com/groblegark/coop-sub001/internal/logger"
	"github.com/groblegark/coop-sub001/internal/profile"
	"github.com/groblegark/coop-sub001/internal/ptybackend"
	"github.com/groblegark/coop-sub001/internal/ringbuf"
	"github.com/groblegark/coop-sub001/internal/screen"
	"github.com/groblegark/coop-sub001/internal/session"
	"github.com/groblegark/coop-sub001/internal/transcript"
	coopgrpc "github.com/groblegark/coop-sub001/internal/transport/grpc"
	coophttp "github.com/groblegark/coop-sub001/internal/transport/http"
	coopws "github.com/groblegark/coop-sub001/internal/transport/ws"
)

func main() {
	var cfgPath string
	var agentFlag string
	var sessionDir string

	root := &cobra.Command{
		Use:   "coopd -- <agent command> [args...]",
		Short: "coopd runs an interactive terminal agent as a programmable network service",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Init(envOr("COOP_LOG_LEVEL", "info"), envOr("COOP_LOG_FILE", "")); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			agent := agentFlag
			if agent == "" {
				agent = filepath.Base(args[0])
			}

			var cfg *config.CoopConfig
			if cfgPath != "" {
				var err error
				cfg, err = config.LoadCoopConfig(cfgPath)
				if err != nil {
					return fmt.Errorf("load coop config: %w", err)
				}
			} else {
				cwd, _ := os.Getwd()
				cfg = config.DiscoverCoopConfig(cwd, agent, args)
			}

			return run(cmd.Context(), cfg, agent, args, sessionDir)
		},
	}

	root.Flags().StringVar(&cfgPath, "config", "", "path to coop.yaml (defaults to ./coop.yaml, falls back to built-in defaults)")
	root.Flags().StringVar(&agentFlag, "agent", "", "agent name surfaced in health/status (defaults to the command's basename)")
	root.Flags().StringVar(&sessionDir, "session-dir", "", "directory for the event log and transcript snapshots (disabled when empty)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// run wires every component spec describes into one running session and
// serves it over HTTP, WebSocket, and gRPC until the process is signaled
// or the child agent exits.
func run(ctx context.Context, cfg *config.CoopConfig, agent string, command []string, sessionDir string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	ring := ringbuf.New(4*1024*1024, nil)
	scr := screen.New(cfg.Cols, cfg.Rows)
	profiles := profileState(cfg.Profiles)
	events := eventlog.New(sessionDir)
	sessionCfg := session.DefaultConfig()

	store := session.NewStore(ring, scr, profiles, events, sessionCfg)
	inputTx := make(chan session.InputEvent, 64)
	store.InputTx = inputTx
	store.NudgeEncoder = session.ClaudeEncoder{Pacing: sessionCfg.Pacing}
	store.RespondEncoder = session.ClaudeEncoder{Pacing: sessionCfg.Pacing}

	backend, err := ptybackend.NewNative(ptybackend.Config{
		Bin:  command[0],
		Args: command[1:],
		Cols: cfg.Cols,
		Rows: cfg.Rows,
	})
	if err != nil {
		return fmt.Errorf("spawn pty backend: %w", err)
	}

	detectors := []detect.Detector{
		&detect.ProcessWatcher{PID: store.ChildPID},
		&detect.ScreenDetector{Snapshot: store.Screen.Snapshot},
	}
	if sessionDir != "" {
		fifoPath := filepath.Join(sessionDir, "hooks.fifo")
		if err := syscall.Mkfifo(fifoPath, 0o600); err != nil && !os.IsExist(err) {
			logger.Warn("coopd: could not create hook FIFO, tier-1 detection disabled", "path", fifoPath, "err", err)
		} else {
			detectors = append(detectors, &detect.HookDetector{FIFOPath: fifoPath, Log: events})
		}
	}

	sess := session.New(ctx, session.Params{
		Backend:    backend,
		Detectors:  detectors,
		Store:      store,
		ConsumerIn: inputTx,
		Cols:       cfg.Cols,
		Rows:       cfg.Rows,
		Encoder:    store.RespondEncoder,
	})

	var transcripts *transcript.State
	if sessionDir != "" {
		transcripts, err = transcript.New(filepath.Join(sessionDir, "transcripts"), filepath.Join(sessionDir, "session.jsonl"))
		if err != nil {
			return fmt.Errorf("init transcripts: %w", err)
		}
	}

	stopState := coopapi.NewStopState(toStopConfig(cfg.Stop), httpSelfURL(cfg.Listen.HTTP)+"/api/v1/hooks/stop/resolve")
	startState := coopapi.NewStartState(toStartConfig(cfg.Start))

	runDone := make(chan struct{})
	var exitCode, exitSignal int
	go func() {
		exitCode, exitSignal = sess.Run(ctx)
		close(runDone)
	}()

	wsDeps := coopws.NewDeps(store)

	httpSrv := &http.Server{
		Addr: cfg.Listen.HTTP,
		Handler: coophttp.NewMux(coophttp.Deps{
			Store:       store,
			AgentName:   agent,
			WSClients:   func() int { return int(wsDeps.ClientCount.Load()) },
			Stop:        stopState,
			Start:       startState,
			Transcripts: transcripts,
		}),
	}

	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/ws", wsDeps.Handler)
	wsSrv := &http.Server{Addr: cfg.Listen.WS, Handler: wsMux}

	grpcSrv := coopgrpc.NewServer(&coopgrpc.Service{Store: store, AgentName: agent, WSClients: func() int { return int(wsDeps.ClientCount.Load()) }})

	errCh := make(chan error, 3)
	go func() {
		logger.Info("coopd: http listening", "addr", cfg.Listen.HTTP)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		if cfg.Listen.WS == cfg.Listen.HTTP {
			return
		}
		logger.Info("coopd: ws listening", "addr", cfg.Listen.WS)
		if err := wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("ws server: %w", err)
		}
	}()
	go func() {
		lis, err := net.Listen("tcp", cfg.Listen.GRPC)
		if err != nil {
			errCh <- fmt.Errorf("grpc listen: %w", err)
			return
		}
		logger.Info("coopd: grpc listening", "addr", cfg.Listen.GRPC)
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("coopd: shutting down")
	case <-runDone:
		logger.Info("coopd: agent process exited", "code", exitCode, "signal", exitSignal)
	case err := <-errCh:
		logger.Error("coopd: transport error", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = wsSrv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()

	<-runDone
	if exitSignal != 0 {
		return fmt.Errorf("agent terminated by signal %d", exitSignal)
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
	return nil
}

func profileState(specs []config.ProfileSpec) *profile.State {
	state := profile.New()
	if len(specs) == 0 {
		return state
	}
	entries := make([]profile.Entry, len(specs))
	for i, s := range specs {
		entries[i] = profile.Entry{Name: s.Name, Credentials: s.Env}
	}
	cfg := profile.DefaultConfig()
	state.Register(entries, &cfg)
	return state
}

func toStopConfig(spec config.StopConfigSpec) coopapi.StopConfig {
	cfg := coopapi.StopConfig{Prompt: spec.Prompt}
	switch spec.Mode {
	case "signal":
		cfg.Mode = coopapi.StopSignal
	default:
		cfg.Mode = coopapi.StopAllow
	}
	if len(spec.Schema) > 0 {
		fields := make(map[string]coopapi.StopSchemaField, len(spec.Schema))
		for k, f := range spec.Schema {
			fields[k] = coopapi.StopSchemaField{
				Required:     f.Required,
				Enum:         f.Enum,
				Description:  f.Description,
				Descriptions: f.Descriptions,
			}
		}
		cfg.Schema = &coopapi.StopSchema{Fields: fields}
	}
	return cfg
}

func toStartConfig(spec config.StartConfigSpec) coopapi.StartConfig {
	cfg := coopapi.StartConfig{Text: spec.Text, Shell: spec.Shell}
	if len(spec.Event) > 0 {
		cfg.Event = make(map[string]coopapi.StartEventConfig, len(spec.Event))
		for k, v := range spec.Event {
			cfg.Event[k] = coopapi.StartEventConfig{Text: v.Text, Shell: v.Shell}
		}
	}
	return cfg
}

func httpSelfURL(addr string) string {
	if addr == "" {
		return "http://localhost:8080"
	}
	if addr[0] == ':' {
		return "http://localhost" + addr
	}
	return "http://" + addr
}
