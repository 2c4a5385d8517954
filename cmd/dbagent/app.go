package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/relaydb/dbagent/internal/audit"
	"github.com/relaydb/dbagent/internal/convengine"
	"github.com/relaydb/dbagent/internal/convengine/providers"
	"github.com/relaydb/dbagent/internal/credential"
	"github.com/relaydb/dbagent/internal/dbadapter"
	"github.com/relaydb/dbagent/internal/mcp"
	"github.com/relaydb/dbagent/internal/migration"
	"github.com/relaydb/dbagent/internal/models"
	"github.com/relaydb/dbagent/internal/observability"
	"github.com/relaydb/dbagent/internal/sessionstore"
	"github.com/relaydb/dbagent/internal/skills"
	"github.com/relaydb/dbagent/internal/toolregistry"
	exectools "github.com/relaydb/dbagent/internal/tools/exec"
)

// app bundles the collaborators every command needs, assembled once from
// Config so commands don't each repeat the wiring.
type app struct {
	cfg        Config
	store      *sessionstore.PostgresStore
	adapter    dbadapter.Adapter
	audit      *audit.Service
	skills     *skills.Manager
	mcp        *mcp.Manager
	credential *credential.Store
	metrics    *observability.Metrics

	// provider carries whichever provider profile won the registry-vs-config
	// resolution in newApp, so llmClient doesn't have to repeat it.
	provider ProviderConfig
}

// newApp opens the session store and, if connection details are present,
// the default database adapter. The database connection is optional —
// `dbagent migrate status` and `dbagent skills list` don't need one.
//
// The durable connection/provider registry (internal/sessionstore's
// RegistryStore surface) is the authority, per spec.md §4.10's design note
// that active-connection/default-provider facts belong to the store, not
// in-process globals: an active connection or default provider saved via
// `dbagent connection activate` / `dbagent provider set-default` wins over
// the config file. The config file remains the bootstrap path — the first
// `connection add` has nothing to read yet.
func newApp(ctx context.Context, cfg Config, requireDB bool) (*app, error) {
	openCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	store, err := sessionstore.NewPostgresStoreFromDSN(openCtx, cfg.Store.DSN, sessionstore.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	auditLogger, err := audit.NewLogger(audit.Config{Enabled: true, Level: audit.LevelInfo, Format: audit.FormatJSON, Output: "stderr"})
	if err != nil {
		return nil, fmt.Errorf("build audit logger: %w", err)
	}
	auditSvc := audit.NewService(store, auditLogger)

	a := &app{cfg: cfg, store: store, audit: auditSvc, credential: credential.New(), provider: cfg.Provider, metrics: observability.NewMetrics()}

	conn, connPassword, err := a.resolveConnection(ctx)
	if err != nil && requireDB {
		return nil, err
	}
	if conn != nil {
		adapter, err := dbadapter.New(openCtx, conn, connPassword)
		if err != nil {
			if requireDB {
				return nil, fmt.Errorf("open database connection: %w", err)
			}
			fmt.Fprintf(os.Stderr, "warning: could not open database connection: %v\n", err)
		} else {
			a.adapter = adapter
		}
	} else if requireDB {
		return nil, fmt.Errorf("no database connection configured (run `dbagent connection add` or set connection.* in config)")
	}

	if p, err := a.store.GetDefaultProvider(ctx); err == nil {
		a.provider = ProviderConfig{
			Kind:      string(p.Kind),
			APIKey:    a.credential.Decrypt(p.APIKeyEncrypted),
			Model:     p.Model,
			BaseURL:   p.BaseURL,
			MaxTokens: cfg.Provider.MaxTokens,
		}
	}

	mgr, err := skills.NewManager(&skills.SkillsConfig{}, ".", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: skills discovery unavailable: %v\n", err)
	} else if err := mgr.Discover(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: skills discovery failed: %v\n", err)
	} else {
		a.skills = mgr
	}

	a.mcp = mcp.NewManager(&mcp.Config{}, slog.Default())

	return a, nil
}

func (a *app) close() {
	if a.store != nil {
		_ = a.store.DB().Close()
	}
	if a.adapter != nil {
		_ = a.adapter.Close()
	}
	if a.mcp != nil {
		_ = a.mcp.Stop()
	}
	if a.audit != nil {
		_ = a.audit.Close()
	}
}

// resolveConnection decides which connection dbadapter.New should open:
// the registry's active connection (password decrypted via the
// credential store) if one is recorded, otherwise the config file's
// connection block. Returns a nil model with no error when neither source
// names a database — the caller decides whether that's fatal.
func (a *app) resolveConnection(ctx context.Context) (*models.Connection, string, error) {
	if active, err := a.store.GetActiveConnection(ctx); err == nil {
		return active, a.credential.Decrypt(active.PasswordEncrypted), nil
	} else if err != sessionstore.ErrNotFound {
		return nil, "", fmt.Errorf("load active connection: %w", err)
	}
	if a.cfg.Connection.Database == "" {
		return nil, "", nil
	}
	return a.cfg.Connection.toModel(), a.cfg.Connection.Password, nil
}

// llmClient builds the resolved provider's LLMClient.
func (a *app) llmClient() (convengine.LLMClient, error) {
	p := a.provider
	if p.APIKey == "" {
		return nil, fmt.Errorf("no provider API key configured (run `dbagent provider add`, set provider.api_key, or DBAGENT_PROVIDER_API_KEY)")
	}
	switch p.Kind {
	case "openai":
		return providers.NewOpenAIClient(providers.OpenAIConfig{APIKey: p.APIKey, Model: p.Model, BaseURL: p.BaseURL}), nil
	case "claude", "":
		return providers.NewAnthropicClient(providers.AnthropicConfig{APIKey: p.APIKey, Model: p.Model, MaxTokens: p.MaxTokens}), nil
	default:
		return nil, fmt.Errorf("unsupported provider kind %q", p.Kind)
	}
}

// skillEntries snapshots the currently-eligible skills as a name-keyed map,
// the shape toolregistry.Build and convengine.Config both expect.
func (a *app) skillEntries() map[string]*skills.SkillEntry {
	out := map[string]*skills.SkillEntry{}
	if a.skills == nil {
		return out
	}
	for _, entry := range a.skills.ListEligible() {
		content, err := a.skills.LoadContent(entry.Name)
		if err == nil {
			entry.Content = content
		}
		out[entry.Name] = entry
	}
	return out
}

// newEngine builds a conversation Engine over the app's collaborators for
// one session, wiring the tool catalog via toolregistry.
func (a *app) newEngine(llm convengine.LLMClient, migrationHandler *migration.Handler, sessionID string) *convengine.Engine {
	toolServers := convengine.NewToolServerManager(a.mcp)
	execManager := exectools.NewManager(".")
	entries := a.skillEntries()

	engine := convengine.New(convengine.Config{
		LLM:              llm,
		Store:            a.store,
		Audit:            a.audit,
		Migration:        migrationHandler,
		Adapter:          a.adapter,
		ToolServers:      toolServers,
		ExecManager:      execManager,
		Skills:           entries,
		SessionID:        sessionID,
		Language:         a.cfg.Language,
		SystemPromptBase: systemPrompt,
		Metrics:          a.metrics,
	})
	engine.SetToolCatalog(toolregistry.Build(a.cfg.Language, toolServers, entries))
	return engine
}

const systemPrompt = `You are a careful database operations assistant. You can inspect schemas, ` +
	`run read-only queries freely, and propose mutations — but every mutating statement requires ` +
	`operator confirmation before it runs. Prefer the safe, read-only tools when you are only ` +
	`exploring. When a tool result comes back as an error, explain it in plain language before ` +
	`deciding whether to retry.`
