// Package node wires one Flock node's collaborators into a running
// process: the shared store, every domain store and registry, the A2A
// dispatch surface, and the mesh-wide scheduler that ticks AWAKE agents
// (spec.md §5, §9). Grounded on the teacher's cmd/hector/main.go
// ServeCmd.Run wiring order: one shared DB handle passed to every
// store that needs persistence, then the session runtime, then
// per-agent executors, then the HTTP server, in that dependency order.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flockmesh/flock/internal/store"
	"github.com/flockmesh/flock/internal/store/memstore"
	"github.com/flockmesh/flock/internal/store/sqlitestore"
	"github.com/flockmesh/flock/pkg/a2a"
	"github.com/flockmesh/flock/pkg/a2aclient"
	"github.com/flockmesh/flock/pkg/a2aserver"
	"github.com/flockmesh/flock/pkg/assignment"
	"github.com/flockmesh/flock/pkg/audit"
	"github.com/flockmesh/flock/pkg/bridge"
	"github.com/flockmesh/flock/pkg/card"
	"github.com/flockmesh/flock/pkg/channel"
	"github.com/flockmesh/flock/pkg/config"
	"github.com/flockmesh/flock/pkg/executor"
	"github.com/flockmesh/flock/pkg/home"
	"github.com/flockmesh/flock/pkg/httpapi"
	"github.com/flockmesh/flock/pkg/metrics"
	"github.com/flockmesh/flock/pkg/migration"
	"github.com/flockmesh/flock/pkg/noderegistry"
	"github.com/flockmesh/flock/pkg/task"
	"github.com/flockmesh/flock/pkg/triage"
)

// AgentSpec describes one agent this node hosts, enough to build its
// Home, card, and Executor (spec.md §4.2's archetype-driven card
// synthesis plus §4.6's per-agent executor).
type AgentSpec struct {
	AgentID       string
	Role          a2a.AgentRole
	Name          string
	Description   string
	Archetype     string
	ArchetypeText string // markdown template body, for card.SynthesizeSkills
	Send          executor.SessionSend
}

// Node is one running Flock node: every domain collaborator plus the
// HTTP surface that fronts them.
type Node struct {
	Config *config.Config
	Logger *slog.Logger

	KV store.KV

	Homes       *home.Store
	Assignments *assignment.Store
	Registry    *noderegistry.Registry
	Tasks       *task.Store
	Audit       audit.Log
	Triage      *triage.Capture
	Cards       *card.Registry

	Channels *channel.Store
	Messages *channel.MessageStore
	Bridges  *channel.BridgeStore
	Loop     *bridge.LoopStateTracker
	Archives *bridge.ArchiveDriver
	Inbound  *bridge.Handler
	Echo     *bridge.EchoTracker

	MigrationEngine   *migration.Engine
	MigrationHandlers *migration.Handlers
	Transport         migration.Transport

	Resolver a2aclient.Resolver
	Client   *a2aclient.Client
	Server   *a2aserver.Server

	Metrics *metrics.Metrics

	executors map[string]*executor.Executor

	mu              sync.Mutex
	schedulerCtx    context.Context
	schedulerCancel context.CancelFunc
	wg              sync.WaitGroup
}

// Open builds every store and registry a node needs from cfg, opening
// (or creating) the backing KV file at storePath; an empty storePath or
// ":memory:" selects an in-memory store.
// Agents are registered afterward with RegisterAgent, mirroring the
// teacher's pattern of building the runtime first and wiring
// per-agent executors off of it second.
func Open(ctx context.Context, cfg *config.Config, storePath string) (*Node, error) {
	if cfg == nil {
		return nil, fmt.Errorf("node: nil config")
	}
	logger := newLogger(cfg)

	kv, err := openStore(storePath)
	if err != nil {
		return nil, fmt.Errorf("node: opening store: %w", err)
	}

	homes, err := home.Open(ctx, kv)
	if err != nil {
		return nil, fmt.Errorf("node: opening home store: %w", err)
	}
	assignments, err := assignment.Open(ctx, kv)
	if err != nil {
		return nil, fmt.Errorf("node: opening assignment store: %w", err)
	}
	tasks, err := task.Open(ctx, kv)
	if err != nil {
		return nil, fmt.Errorf("node: opening task store: %w", err)
	}
	metricsReg := metrics.New()
	auditLog, err := audit.Open(ctx, kv, logger.With("component", "audit"), metricsReg)
	if err != nil {
		return nil, fmt.Errorf("node: opening audit log: %w", err)
	}
	channels, err := channel.Open(ctx, kv)
	if err != nil {
		return nil, fmt.Errorf("node: opening channel store: %w", err)
	}
	messages, err := channel.OpenMessageStore(ctx, kv)
	if err != nil {
		return nil, fmt.Errorf("node: opening message store: %w", err)
	}
	bridges, err := channel.OpenBridgeStore(ctx, kv)
	if err != nil {
		return nil, fmt.Errorf("node: opening bridge store: %w", err)
	}

	var parentCfg *noderegistry.ParentConfig
	if cfg.Parent.Endpoint != "" {
		parentCfg = &noderegistry.ParentConfig{
			Endpoint:     cfg.Parent.Endpoint,
			Timeout:      cfg.Parent.Timeout,
			CacheTTL:     cfg.Parent.CacheTTL,
			MaxCacheSize: cfg.Parent.MaxCacheSize,
		}
	}
	registry := noderegistry.New(parentCfg)
	registry.Register(noderegistry.Entry{
		NodeID:      cfg.NodeID,
		A2AEndpoint: cfg.HTTP.Endpoint,
		Status:      noderegistry.StatusOnline,
	})

	cards := card.NewRegistry()
	triageCapture := triage.New(cfg.Executor.TriageExpiry)
	loopStates := bridge.NewLoopStateTracker()

	transport := migration.NewHTTPTransport()
	migrationEngine, err := migration.Open(ctx, migration.Config{
		Homes:       homes,
		Assignments: assignments,
		Nodes:       registry,
		Transport:   transport,
		Logger:      logger.With("component", "migration"),
		KV:          kv,
		Metrics:     metricsReg,
	})
	if err != nil {
		return nil, fmt.Errorf("node: opening migration engine: %w", err)
	}
	migrationHandlers := migration.NewHandlers(migration.HandlersConfig{
		Engine:      migrationEngine,
		NodeID:      cfg.NodeID,
		HomeDir:     storePath,
		ProjectsDir: storePath,
		Capacity:    0,
		Logger:      logger.With("component", "migration-handlers"),
	})

	server := a2aserver.New(a2aserver.Config{
		NodeID:    cfg.NodeID,
		Migration: migrationHandlers,
		Logger:    logger.With("component", "a2aserver"),
		Metrics:   metricsReg,
	})

	resolver := buildResolver(cfg, server, registry)
	client := a2aclient.New(server, resolver, cfg.BasePath)

	archives := &bridge.ArchiveDriver{Channels: channels, Messages: messages, Bridges: bridges}
	echoTracker := bridge.NewEchoTracker()
	inbound := &bridge.Handler{
		Channels:  channels,
		Messages:  messages,
		Bridges:   bridges,
		LoopState: loopStates,
		Echo:      echoTracker,
		Logger:    logger.With("component", "bridge"),
	}

	n := &Node{
		Config:            cfg,
		Logger:            logger,
		KV:                kv,
		Homes:             homes,
		Assignments:       assignments,
		Registry:          registry,
		Tasks:             tasks,
		Audit:             auditLog,
		Triage:            triageCapture,
		Cards:             cards,
		Channels:          channels,
		Messages:          messages,
		Bridges:           bridges,
		Loop:              loopStates,
		Archives:          archives,
		Inbound:           inbound,
		Echo:              echoTracker,
		MigrationEngine:   migrationEngine,
		MigrationHandlers: migrationHandlers,
		Transport:         transport,
		Resolver:          resolver,
		Client:            client,
		Server:            server,
		Metrics:           metricsReg,
		executors:         make(map[string]*executor.Executor),
	}
	return n, nil
}

// buildResolver picks the A2A routing topology named by cfg.Central
// (spec.md §4.3): a node with Central disabled is a Peer; one with
// Central enabled and not itself central is a worker in the
// central topology; one with Central.IsCentral true is the central
// node itself.
func buildResolver(cfg *config.Config, server *a2aserver.Server, registry *noderegistry.Registry) a2aclient.Resolver {
	if !cfg.Central.Enabled {
		return &a2aclient.PeerResolver{Server: server, Registry: registry}
	}
	if cfg.Central.IsCentral {
		return &a2aclient.CentralCentralResolver{PeerResolver: &a2aclient.PeerResolver{Server: server, Registry: registry}}
	}
	return &a2aclient.CentralWorkerResolver{
		Server:            server,
		CentralEndpoint:   cfg.Central.Endpoint,
		CentralSysadminID: cfg.Central.SysadminID,
		LocalSysadminID:   cfg.Central.SysadminID,
	}
}

func openStore(path string) (store.KV, error) {
	if path == "" || path == ":memory:" {
		return memstore.New(), nil
	}
	return sqlitestore.Open(path)
}

func newLogger(cfg *config.Config) *slog.Logger {
	return slog.Default().With("node_id", cfg.NodeID)
}

// RegisterAgent creates the agent's Home, its card (with archetype-
// synthesized skills when ArchetypeText is given), and a wired
// Executor, then registers the resulting dispatcher with the A2A
// server (spec.md §4.2, §4.6).
func (n *Node) RegisterAgent(ctx context.Context, spec AgentSpec) (*executor.Executor, error) {
	if _, err := n.Homes.Create(ctx, spec.AgentID, n.Config.NodeID); err != nil {
		return nil, fmt.Errorf("node: creating home for %s: %w", spec.AgentID, err)
	}

	var skills []card.Skill
	if spec.ArchetypeText != "" {
		skills = card.SynthesizeSkills(spec.Archetype, spec.ArchetypeText)
	}
	entry := card.Entry{
		Card: card.Card{
			Name:        spec.Name,
			Description: spec.Description,
			Version:     "1.0.0",
			URL:         n.Config.HTTP.Endpoint + n.Config.BasePath + "/a2a/" + spec.AgentID,
			Skills:      skills,
		},
		Meta: card.Meta{Role: spec.Role, Archetype: spec.Archetype, NodeID: n.Config.NodeID},
	}
	n.Cards.Register(spec.AgentID, entry)
	n.Registry.UpdateAgents(n.Config.NodeID, n.registeredAgentIDs())

	ex := executor.New(executor.Config{
		AgentID:         spec.AgentID,
		Send:            spec.Send,
		Tasks:           n.Tasks,
		Audit:           n.Audit,
		Triage:          n.Triage,
		ResponseTimeout: n.Config.Executor.ResponseTimeout,
		Logger:          n.Logger.With("agent_id", spec.AgentID),
		Metrics:         n.Metrics,
	})

	n.mu.Lock()
	n.executors[spec.AgentID] = ex
	n.mu.Unlock()

	n.Server.RegisterAgent(spec.AgentID, ex, entry)
	return ex, nil
}

func (n *Node) registeredAgentIDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]string, 0, len(n.executors))
	for id := range n.executors {
		ids = append(ids, id)
	}
	return ids
}

// Handler returns the node's HTTP surface (spec.md §6's four routes).
func (n *Node) Handler() http.Handler {
	return httpapi.Mux(httpapi.Config{
		BasePath: n.Config.BasePath,
		NodeID:   n.Config.NodeID,
		Server:   n.Server,
		Health:   n.health,
		Metrics:  n.Metrics,
		Logger:   n.Logger.With("component", "httpapi"),
	})
}

func (n *Node) health() httpapi.HealthStatus {
	return httpapi.HealthStatus{
		Status: "ok",
		NodeID: n.Config.NodeID,
		Agents: n.registeredAgentIDs(),
	}
}

// wakeAgentPrompt is the synthetic "continue your pending work" prompt the
// scheduler sends an AWAKE agent each tick. Open Question resolution:
// spec.md §5 names the scheduler's existence ("a periodic scheduler
// that ticks AWAKE agents") but not what a tick sends; a system-op
// message through the normal Executor.Execute path keeps audit/task
// bookkeeping uniform rather than inventing a side channel.
const wakeAgentPrompt = "Check your channels and pending tasks for anything to act on."

// StartScheduler launches the mesh-wide periodic tick that drives every
// AWAKE agent (spec.md §5). An agent with nothing left to do is
// expected to call back into bridge.LoopStateTracker.Sleep itself; the
// scheduler only invokes, it never forces an agent back to SLEEP.
func (n *Node) StartScheduler(ctx context.Context) {
	n.mu.Lock()
	if n.schedulerCancel != nil {
		n.mu.Unlock()
		return
	}
	schedCtx, cancel := context.WithCancel(ctx)
	n.schedulerCtx = schedCtx
	n.schedulerCancel = cancel
	n.mu.Unlock()

	interval := n.Config.Scheduler.TickInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-schedCtx.Done():
				return
			case <-ticker.C:
				n.tick(schedCtx)
			}
		}
	}()
}

// tick fans every AWAKE agent's wake-up out onto its own goroutine via
// errgroup, so one agent's slow or hanging Execute call never delays
// the others' wake-up in the same tick. Per-agent errors are logged at
// the call site; the first one is also returned by g.Wait and logged
// once more as a tick-level warning. tick itself returns nothing.
func (n *Node) tick(ctx context.Context) {
	n.Metrics.RecordLoopTick(n.Config.NodeID)

	var g errgroup.Group
	for _, agentID := range n.Loop.AwakeAgents() {
		n.mu.Lock()
		ex, ok := n.executors[agentID]
		n.mu.Unlock()
		if !ok {
			continue
		}
		n.Metrics.RecordLoopWake(agentID)

		agentID, ex := agentID, ex
		g.Go(func() error {
			msg := a2a.Message{
				Role:  a2a.RoleUser,
				Parts: []a2a.Part{{Kind: a2a.PartKindText, Text: wakeAgentPrompt}},
			}
			if _, err := ex.Execute(ctx, "scheduler", msg, "", nil); err != nil {
				n.Logger.Warn("scheduler tick failed", "agent_id", agentID, "error", err)
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		n.Logger.Warn("scheduler tick completed with errors", "error", err)
	}
}

// Shutdown stops the scheduler and releases the backing store.
func (n *Node) Shutdown(ctx context.Context) error {
	n.mu.Lock()
	cancel := n.schedulerCancel
	n.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	n.wg.Wait()
	if n.KV != nil {
		return n.KV.Close()
	}
	return nil
}
