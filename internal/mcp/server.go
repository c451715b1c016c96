// Package mcp provides an MCP (Model Context Protocol) server that lets an
// agent preview sweeps and inspect the run ledger. It never launches the
// engine.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nvandessel/chaosrun/internal/config"
	"github.com/nvandessel/chaosrun/internal/logging"
	"github.com/nvandessel/chaosrun/internal/ratelimit"
)

// Server wraps the MCP SDK server.
type Server struct {
	server     *sdk.Server
	root       string
	driver     *config.Config
	ledgerPath string
	limiters   ratelimit.ToolLimiters
	audit      *AuditLogger
	logger     *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "chaosrun")
	Version string // Server version
	Root    string // Workspace root; tool paths are resolved against it

	// Driver supplies engine runtime and path defaults. Nil means config.Default().
	Driver *config.Config

	// LedgerPath overrides <root>/<logs dir>/ledger.db.
	LedgerPath string

	// AuditPath overrides <root>/.chaosrun/audit.jsonl.
	AuditPath string

	Logger *slog.Logger
}

// NewServer creates a new MCP server with the chaos tools registered.
func NewServer(cfg *Config) (*Server, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}

	driver := cfg.Driver
	if driver == nil {
		driver = config.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	ledgerPath := cfg.LedgerPath
	if ledgerPath == "" {
		ledgerPath = filepath.Join(root, driver.Paths.LogsDir, "ledger.db")
	}
	auditPath := cfg.AuditPath
	if auditPath == "" {
		auditPath = filepath.Join(root, ".chaosrun", "audit.jsonl")
	}

	audit, err := NewAuditLogger(auditPath)
	if err != nil {
		// Auditing is best effort; the tools work without it.
		logger.Warn("audit log disabled", "error", err)
		audit = nil
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	s := &Server{
		server:     mcpServer,
		root:       root,
		driver:     driver,
		ledgerPath: ledgerPath,
		limiters:   ratelimit.NewToolLimiters(),
		audit:      audit,
		logger:     logger,
	}
	s.registerTools()

	return s, nil
}

// Run serves over stdio until the client disconnects, ctx is cancelled or
// the process receives SIGINT/SIGTERM.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := s.server.Run(ctx, &sdk.StdioTransport{})
	s.Close()
	return err
}

// Close releases the audit log.
func (s *Server) Close() error {
	return s.audit.Close()
}
