// Command flockd is the CLI for a Flock node.
//
// Usage:
//
//	flockd serve --config flock.yaml
//	flockd version
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/flockmesh/flock/pkg/a2a"
	"github.com/flockmesh/flock/pkg/config"
	"github.com/flockmesh/flock/pkg/logger"
	"github.com/flockmesh/flock/pkg/node"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start a Flock node."`

	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("flockd %s\n", version)
	return nil
}

// ServeCmd starts a node: it wires every collaborator via pkg/node,
// registers the agents named in config, serves the A2A/HTTP surface,
// and runs the mesh-wide scheduler until a signal asks it to stop.
type ServeCmd struct {
	Config string `short:"c" help:"Path to config file." type:"path"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	log := logger.New("flockd", logger.ParseLevel(cli.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	cfg, err := loadConfig(c.Config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	n, err := node.Open(ctx, cfg, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening node: %w", err)
	}

	for _, a := range cfg.Agents {
		archetypeText, err := loadArchetype(a.ArchetypeFile)
		if err != nil {
			return fmt.Errorf("loading archetype for agent %s: %w", a.AgentID, err)
		}
		spec := node.AgentSpec{
			AgentID:       a.AgentID,
			Role:          agentRole(a.Role),
			Name:          a.Name,
			Description:   a.Description,
			Archetype:     a.Archetype,
			ArchetypeText: archetypeText,
			Send:          echoSessionSend,
		}
		if _, err := n.RegisterAgent(ctx, spec); err != nil {
			return fmt.Errorf("registering agent %s: %w", a.AgentID, err)
		}
		log.Info("registered agent", "agent_id", a.AgentID, "role", a.Role)
	}

	n.StartScheduler(ctx)

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: n.Handler(),
	}

	serveErrCh := make(chan error, 1)
	go func() {
		log.Info("node listening", "node_id", cfg.NodeID, "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErrCh:
		if err != nil {
			return fmt.Errorf("serving http: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown error", "error", err)
	}
	if err := n.Shutdown(shutdownCtx); err != nil {
		log.Warn("node shutdown error", "error", err)
	}
	return nil
}

// loadConfig loads the YAML file at path if given, otherwise falls back to
// in-process defaults (a single-node, in-memory config suitable for
// local experimentation, grounded on the teacher's zero-config serve
// path).
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		cfg.NodeID = "local"
		return cfg, nil
	}
	return config.Load(path)
}

// loadArchetype reads an archetype template file, if one is declared.
// An agent with no ArchetypeFile gets no synthesized skills.
func loadArchetype(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// agentRole maps a config role string to the flock-specific AgentRole,
// defaulting unrecognized or empty values to worker.
func agentRole(role string) a2a.AgentRole {
	switch a2a.AgentRole(role) {
	case a2a.RoleOrchestrator, a2a.RoleSysadmin, a2a.RoleWorker, a2a.RoleSystem:
		return a2a.AgentRole(role)
	default:
		return a2a.RoleWorker
	}
}

// echoSessionSend is a placeholder SessionSend: no real LLM/session
// runtime is in scope here, so a registered agent simply echoes the
// prompt it was sent back as its response. A host embedding flockd
// with an actual model backend supplies its own SessionSend to
// node.AgentSpec instead.
func echoSessionSend(ctx context.Context, agentID, prompt string, sessionKey string) (string, error) {
	return fmt.Sprintf("echo(%s): %s", agentID, prompt), nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("flockd"),
		kong.Description("Flock - multi-agent swarm control plane"),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
