package accruald

import (
	"fmt"
	"log/slog"
	"math"
	"path/filepath"

	"stakeledger/config"
	"stakeledger/core/oracle"
	"stakeledger/core/outbox"
	"stakeledger/core/state"
	"stakeledger/native/accrual"
	nativecommon "stakeledger/native/common"
	"stakeledger/observability/logging"
	"stakeledger/rpc"
	"stakeledger/rpc/middleware"
	"stakeledger/storage"
)

// Node bundles the long-lived components of the daemon.
type Node struct {
	Engine *accrual.Engine
	State  *state.Manager
	Outbox *outbox.Store
	// Rates is nil when no oracle feed is configured.
	Rates accrual.RatioSource

	db storage.Database
}

// Open builds the engine over the LevelDB state in cfg.DataDir, seeds the tier
// schedule on first start and opens the outbox.
func Open(cfg config.Config, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	engine, err := accrual.NewEngine(cfg.Accrual.EngineParams())
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	node := &Node{Engine: engine, State: state.NewManager(db), db: db}

	engine.SetState(node.State)
	engine.SetPauses(nativecommon.NewPauseSet(cfg.PausedModules...))
	engine.SetAuthorizer(rpc.NewAdminSet(cfg.Auth.Admins...))
	engine.SetEmitter(logging.NewEventLogger(logger))

	if err := engine.Bootstrap(cfg.Accrual.EngineTiers()); err != nil {
		node.Close()
		return nil, fmt.Errorf("bootstrap tiers: %w", err)
	}
	if err := node.State.Commit(); err != nil {
		node.Close()
		return nil, fmt.Errorf("commit bootstrap: %w", err)
	}

	if cfg.OracleFeed != "" {
		feed, err := oracle.LoadFeed(cfg.OracleFeed)
		if err != nil {
			node.Close()
			return nil, fmt.Errorf("load oracle feed: %w", err)
		}
		node.Rates = feed
		logger.Info("oracle feed loaded", slog.Int("pairs", len(feed.Pairs())))
	}

	box, err := openOutbox(cfg.OutboxPath)
	if err != nil {
		node.Close()
		return nil, fmt.Errorf("open outbox: %w", err)
	}
	node.Outbox = box
	return node, nil
}

// Close releases the outbox and the state database.
func (n *Node) Close() {
	if n == nil {
		return
	}
	if n.Outbox != nil {
		_ = n.Outbox.Close()
	}
	if n.db != nil {
		n.db.Close()
	}
}

func authConfig(c config.AuthConfig) middleware.AuthConfig {
	return middleware.AuthConfig{
		HMACSecret: c.HMACSecret,
		Issuer:     c.Issuer,
		Audience:   c.Audience,
		ClockSkew:  c.ClockSkew.Duration,
	}
}

func rateLimit(c config.RateLimitConfig) middleware.RateLimit {
	return middleware.RateLimit{RequestsPerSecond: c.RequestsPerSecond, Burst: c.Burst}
}

func quota(c config.QuotaConfig) nativecommon.Quota {
	window := c.Window.Seconds()
	if window > math.MaxUint32 {
		window = math.MaxUint32
	}
	return nativecommon.Quota{
		MaxRequestsPerWindow: c.MaxRequestsPerWindow,
		MaxAmountPerWindow:   c.MaxAmountPerWindow,
		WindowSeconds:        uint32(window),
	}
}

func dirOf(path string) string {
	return filepath.Dir(path)
}
