// =================================
// File: internal/position/manager.go
// =================================
package position

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-trader/internal/executor"
	"github.com/rovshanmuradov/solana-trader/internal/guard"
)

// Soft rejections: the entry is skipped, nothing was submitted.
var (
	ErrKillSwitch          = errors.New("kill switch active, new entries halted")
	ErrCapacityExceeded    = errors.New("position or exposure limit reached")
	ErrInsufficientCapital = errors.New("insufficient free capital")
	ErrEntryInFlight       = errors.New("entry already in flight for mint")
	ErrMintCoolingDown     = errors.New("mint is under post-loss cooldown")
)

// BalanceReader reads the wallet's live token balance so a full exit
// can trim to what is actually on chain. Nil disables the trim.
type BalanceReader interface {
	TokenBalanceRaw(ctx context.Context, mint string) (uint64, error)
}

// Config tunes the manager.
type Config struct {
	StartingEquityUsdc float64
	DefaultSlippageBps int
	UseBundle          bool
	Cooldown           time.Duration
	LiquidityLookback  time.Duration
	LiquidityRetention time.Duration
}

// Manager owns the position table, the reserved-capital counter, the
// in-flight entry set, and the portfolio risk counters. It is the only
// mutator of all four.
type Manager struct {
	cfg      Config
	exec     executor.Executor
	guards   *guard.Engine
	rules    *Evaluator
	store    *Store
	balances BalanceReader
	logger   *zap.Logger

	mu                sync.Mutex
	open              map[string]*Position
	closed            []*Position
	inFlight          map[string]struct{}
	reservedUsdc      float64
	dailyPnlUsdc      float64
	consecutiveLosses int
	lastLossTime      *time.Time
	cooldownUntil     map[string]time.Time
	liquidity         map[string][]liquiditySample

	updateRunning bool
}

type liquiditySample struct {
	at    time.Time
	depth float64
}

func NewManager(cfg Config, exec executor.Executor, guards *guard.Engine, rules *Evaluator, store *Store, balances BalanceReader, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		cfg:           cfg,
		exec:          exec,
		guards:        guards,
		rules:         rules,
		store:         store,
		balances:      balances,
		logger:        logger.Named("position"),
		open:          make(map[string]*Position),
		inFlight:      make(map[string]struct{}),
		cooldownUntil: make(map[string]time.Time),
		liquidity:     make(map[string][]liquiditySample),
	}

	if store != nil {
		snapshot, err := store.Load()
		if err != nil {
			return nil, fmt.Errorf("restore positions: %w", err)
		}
		for _, p := range snapshot.Open {
			m.open[p.ID] = p
		}
		m.closed = snapshot.Closed
		m.dailyPnlUsdc = snapshot.Stats.DailyPnlUsdc
		m.consecutiveLosses = snapshot.Stats.ConsecutiveLosses
		m.lastLossTime = snapshot.Stats.LastLossTime
	}
	return m, nil
}

// OpenPosition runs the entry gates, reserves capital, executes the
// buy, and materializes the position. The reservation and the in-flight
// mark are released on every path out.
func (m *Manager) OpenPosition(ctx context.Context, mint string, sizeUsdc float64, slippageBps int, plan *ExitPlan) (*Position, error) {
	if slippageBps <= 0 {
		slippageBps = m.cfg.DefaultSlippageBps
	}

	if err := m.admitEntry(mint, sizeUsdc); err != nil {
		m.logger.Info("Entry skipped",
			zap.String("mint", mint),
			zap.Float64("size_usdc", sizeUsdc),
			zap.String("reason", err.Error()))
		return nil, err
	}
	defer m.releaseEntry(mint, sizeUsdc)

	usdcRaw := uint64(math.Round(sizeUsdc * 1e6))
	result, err := m.exec.BuyToken(ctx, mint, usdcRaw, slippageBps, m.cfg.UseBundle)
	if err != nil {
		m.logger.Warn("Entry buy failed",
			zap.String("mint", mint),
			zap.Float64("size_usdc", sizeUsdc),
			zap.Error(err))
		return nil, fmt.Errorf("buy %s: %w", mint, err)
	}

	tokens := result.TokenAmount()
	if tokens <= 0 {
		return nil, fmt.Errorf("buy %s: zero tokens received", mint)
	}
	spent := result.UsdcAmount()

	p := &Position{
		ID:              uuid.NewString(),
		Mint:            mint,
		Status:          StatusOpen,
		EntryPrice:      spent / tokens,
		EntryTime:       result.ExecutedAt,
		InitialSizeUsdc: spent,
		InitialTokens:   tokens,
		InitialRaw:      result.TokenRaw,
		TokenDecimals:   result.TokenDecimals,
		EntrySignature:  result.Signature,
		FillSource:      string(result.Source),
		RemainingRaw:    result.TokenRaw,
		CurrentPrice:    spent / tokens,
		RemainingPct:    100,
	}
	p.refreshDerived()

	m.mu.Lock()
	m.open[p.ID] = p
	if plan != nil {
		p.Plan = plan
	}
	m.mu.Unlock()

	m.logger.Info("🚀 Position opened",
		zap.String("id", p.ID),
		zap.String("mint", mint),
		zap.Float64("entry_price", p.EntryPrice),
		zap.Float64("tokens", tokens),
		zap.Float64("usdc", spent),
		zap.String("fill_source", p.FillSource))

	m.persist()
	return p, nil
}

// admitEntry runs every synchronous gate and, when all pass, marks the
// mint in flight and reserves the capital in one critical section.
func (m *Manager) admitEntry(mint string, sizeUsdc float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if check := m.guards.CheckKillSwitch(guard.KillSwitchState{
		RealizedPnLPct:    m.dailyPnlPctLocked(),
		ConsecutiveLosses: m.consecutiveLosses,
	}); !check.Passed {
		return fmt.Errorf("%w: %s", ErrKillSwitch, check.Reason)
	}

	if until, ok := m.cooldownUntil[mint]; ok {
		if time.Now().Before(until) {
			return fmt.Errorf("%w: until %s", ErrMintCoolingDown, until.Format(time.RFC3339))
		}
		delete(m.cooldownUntil, mint)
	}

	committed := m.committedUsdcLocked()
	if check := m.guards.CheckCapacity(guard.PortfolioState{
		OpenPositions:  len(m.open),
		CommittedUsdc:  committed + m.reservedUsdc,
		StartingEquity: m.cfg.StartingEquityUsdc,
	}, sizeUsdc); !check.Passed {
		return fmt.Errorf("%w: %s", ErrCapacityExceeded, check.Reason)
	}

	available := m.cfg.StartingEquityUsdc + m.dailyPnlUsdc - committed - m.reservedUsdc
	if available < sizeUsdc {
		return fmt.Errorf("%w: %.2f available, %.2f requested", ErrInsufficientCapital, available, sizeUsdc)
	}

	if _, executing := m.inFlight[mint]; executing {
		return ErrEntryInFlight
	}

	m.inFlight[mint] = struct{}{}
	m.reservedUsdc += sizeUsdc
	return nil
}

func (m *Manager) releaseEntry(mint string, sizeUsdc float64) {
	m.mu.Lock()
	delete(m.inFlight, mint)
	m.reservedUsdc -= sizeUsdc
	m.mu.Unlock()
}

// UpdatePositions runs one monitoring cycle. Cycles never overlap; a
// call while one is running returns immediately. Positions update
// sequentially, and one position's failure never aborts the rest.
func (m *Manager) UpdatePositions(ctx context.Context) {
	m.mu.Lock()
	if m.updateRunning {
		m.mu.Unlock()
		return
	}
	m.updateRunning = true
	openNow := make([]*Position, 0, len(m.open))
	for _, p := range m.open {
		openNow = append(openNow, p)
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.updateRunning = false
		m.mu.Unlock()
		m.persist()
	}()

	for _, p := range openNow {
		if ctx.Err() != nil {
			return
		}
		if err := m.updatePosition(ctx, p); err != nil {
			m.logger.Warn("Position update failed",
				zap.String("id", p.ID),
				zap.String("mint", p.Mint),
				zap.Error(err))
		}
	}
}

func (m *Manager) updatePosition(ctx context.Context, p *Position) error {
	m.mu.Lock()
	if p.Status != StatusOpen || p.RemainingRaw == 0 {
		m.mu.Unlock()
		return nil
	}
	remaining := p.RemainingRaw
	m.mu.Unlock()

	quote, err := m.exec.GetQuote(ctx, p.Mint, executor.USDCMint, remaining, m.cfg.DefaultSlippageBps)
	if err != nil {
		return fmt.Errorf("price quote: %w", err)
	}

	usdcOut := float64(quote.OutAmountRaw()) / 1e6
	tokens := p.TokensOf(remaining)
	if tokens <= 0 || usdcOut <= 0 {
		return fmt.Errorf("degenerate quote for %s", p.Mint)
	}
	price := usdcOut / tokens

	impact, _ := quote.PriceImpact()
	liquidityChange := m.recordLiquidity(p.ID, depthEstimate(usdcOut, impact))

	m.mu.Lock()
	p.CurrentPrice = price
	p.CurrentPnlPct = (price - p.EntryPrice) / p.EntryPrice * 100
	if p.CurrentPnlPct > p.PeakPnlPct {
		p.PeakPnlPct = p.CurrentPnlPct
	}
	p.refreshDerived()

	metrics := Metrics{
		PnlPct:             p.CurrentPnlPct,
		PeakPnlPct:         p.PeakPnlPct,
		HoldMinutes:        time.Since(p.EntryTime).Minutes(),
		LiquidityChangePct: liquidityChange,
		TP1Hit:             p.TP1Hit,
		TP2Hit:             p.TP2Hit,
	}
	plan := p.Plan
	m.mu.Unlock()

	var decision *ExitDecision
	if plan != nil {
		decision = plan.Evaluate(metrics.PnlPct)
	} else {
		decision = m.rules.Evaluate(metrics)
	}
	if decision == nil {
		return nil
	}

	m.logger.Info("📉 Exit signal",
		zap.String("id", p.ID),
		zap.String("mint", p.Mint),
		zap.String("type", decision.Type),
		zap.Float64("sell_pct", decision.SellPct),
		zap.Float64("pnl_pct", metrics.PnlPct),
		zap.String("reason", decision.Reason))

	return m.executeExit(ctx, p, decision)
}

// depthEstimate turns a quote's price impact into a pool depth proxy:
// the shallower the pool, the more our own size moves it.
func depthEstimate(usdcValue, impact float64) float64 {
	if impact < 1e-6 {
		impact = 1e-6
	}
	return usdcValue / impact
}

// recordLiquidity appends a depth sample and reports the change versus
// the oldest sample still inside the lookback window. Samples past the
// retention window are pruned.
func (m *Manager) recordLiquidity(positionID string, depth float64) float64 {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	samples := append(m.liquidity[positionID], liquiditySample{at: now, depth: depth})

	kept := samples[:0]
	for _, s := range samples {
		if now.Sub(s.at) <= m.cfg.LiquidityRetention {
			kept = append(kept, s)
		}
	}
	m.liquidity[positionID] = kept

	var baseline *liquiditySample
	for i := range kept {
		if now.Sub(kept[i].at) <= m.cfg.LiquidityLookback {
			baseline = &kept[i]
			break
		}
	}
	if baseline == nil || baseline.depth <= 0 || baseline.at.Equal(now) {
		return 0
	}
	return (depth - baseline.depth) / baseline.depth * 100
}

// executeExit sells the decided fraction of the tracked remaining
// tokens. The outcome is recorded as a PositionExit either way; only a
// successful sell mutates the token accounting.
func (m *Manager) executeExit(ctx context.Context, p *Position, decision *ExitDecision) error {
	m.mu.Lock()
	tracked := p.RemainingRaw
	m.mu.Unlock()

	fullExit := decision.SellPct >= 99.9
	sellRaw := uint64(math.Floor(float64(tracked) * decision.SellPct / 100))
	if fullExit {
		sellRaw = tracked
	}

	// A full exit reconciles against the live balance: fee dust means
	// the chain may hold slightly less than we track. The other way
	// around we still sell only the tracked amount, never tokens this
	// position does not believe it owns.
	if fullExit && m.balances != nil {
		onChain, err := m.balances.TokenBalanceRaw(ctx, p.Mint)
		if err != nil {
			m.logger.Warn("Live balance read failed, selling tracked amount",
				zap.String("mint", p.Mint), zap.Error(err))
		} else if onChain < tracked {
			m.logger.Info("Trimming full exit to on-chain balance",
				zap.String("mint", p.Mint),
				zap.Uint64("tracked_raw", tracked),
				zap.Uint64("on_chain_raw", onChain),
				zap.Uint64("dust_raw", tracked-onChain))
			sellRaw = onChain
		} else if onChain > tracked {
			m.logger.Info("On-chain balance exceeds tracked amount, selling tracked only",
				zap.String("mint", p.Mint),
				zap.Uint64("tracked_raw", tracked),
				zap.Uint64("on_chain_raw", onChain),
				zap.Uint64("orphan_raw", onChain-tracked))
		}
	}

	if sellRaw == 0 {
		m.logger.Info("Exit skipped, zero sell amount",
			zap.String("id", p.ID),
			zap.String("type", decision.Type))
		m.recordExit(p, PositionExit{
			Type:      decision.Type,
			SellPct:   decision.SellPct,
			Success:   false,
			Error:     "zero sell amount",
			Timestamp: time.Now().UTC(),
		})
		return nil
	}

	result, err := m.exec.SellToken(ctx, p.Mint, sellRaw, m.cfg.DefaultSlippageBps, m.cfg.UseBundle)
	if err != nil {
		// The position stays open untouched; the next cycle
		// re-evaluates the same condition.
		m.recordExit(p, PositionExit{
			Type:          decision.Type,
			SellPct:       decision.SellPct,
			TokensSoldRaw: 0,
			Success:       false,
			Error:         err.Error(),
			Timestamp:     time.Now().UTC(),
		})
		return fmt.Errorf("sell %s: %w", p.Mint, err)
	}

	soldRaw := result.TokenRaw
	exit := PositionExit{
		Type:          decision.Type,
		SellPct:       decision.SellPct,
		TokensSold:    result.TokenAmount(),
		TokensSoldRaw: soldRaw,
		UsdcReceived:  result.UsdcAmount(),
		Price:         result.PriceUsdc,
		Signature:     result.Signature,
		Success:       true,
		Timestamp:     result.ExecutedAt,
	}

	m.mu.Lock()
	if soldRaw >= p.RemainingRaw {
		p.RemainingRaw = 0
	} else {
		p.RemainingRaw -= soldRaw
	}
	switch decision.Type {
	case ExitTakeProfit:
		p.TP1Hit = true
		p.StopMovedToBreakeven = true
	case ExitTakeProfit2:
		p.TP2Hit = true
	}
	p.Exits = append(p.Exits, exit)
	p.refreshDerived()
	remainingAfter := p.RemainingRaw
	shouldClose := remainingAfter == 0 || fullExit
	m.mu.Unlock()

	m.logger.Info("💰 Exit executed",
		zap.String("id", p.ID),
		zap.String("mint", p.Mint),
		zap.String("type", decision.Type),
		zap.Float64("tokens_sold", exit.TokensSold),
		zap.Float64("usdc_received", exit.UsdcReceived),
		zap.Uint64("remaining_raw", remainingAfter))

	if shouldClose {
		m.closePosition(p, decision.Type)
	}
	m.persist()
	return nil
}

func (m *Manager) recordExit(p *Position, exit PositionExit) {
	m.mu.Lock()
	p.Exits = append(p.Exits, exit)
	m.mu.Unlock()
	m.persist()
}

// closePosition finalizes the position: realized PnL feeds the daily
// counter, and a losing close starts the loss streak and the mint's
// cooldown. Close is terminal.
func (m *Manager) closePosition(p *Position, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.Status == StatusClosed {
		return
	}
	now := time.Now().UTC()
	p.Status = StatusClosed
	p.CloseReason = reason
	p.ClosedAt = &now

	realized := p.RealizedPnlUsdc()
	m.dailyPnlUsdc += realized
	if realized < 0 {
		m.consecutiveLosses++
		m.lastLossTime = &now
		if m.cfg.Cooldown > 0 {
			m.cooldownUntil[p.Mint] = now.Add(m.cfg.Cooldown)
		}
	} else {
		m.consecutiveLosses = 0
	}

	delete(m.open, p.ID)
	delete(m.liquidity, p.ID)
	m.closed = append(m.closed, p)

	m.logger.Info("🏁 Position closed",
		zap.String("id", p.ID),
		zap.String("mint", p.Mint),
		zap.String("reason", reason),
		zap.Float64("realized_usdc", realized),
		zap.Float64("daily_pnl_usdc", m.dailyPnlUsdc),
		zap.Int("consecutive_losses", m.consecutiveLosses))
}

// persist snapshots state to the day-keyed file. Best effort: a failed
// save is logged, in-memory state stays authoritative.
func (m *Manager) persist() {
	if m.store == nil {
		return
	}
	m.mu.Lock()
	snapshot := &Snapshot{
		Open:   make([]*Position, 0, len(m.open)),
		Closed: append([]*Position(nil), m.closed...),
		Stats: Stats{
			DailyPnlUsdc:      m.dailyPnlUsdc,
			ConsecutiveLosses: m.consecutiveLosses,
			LastLossTime:      m.lastLossTime,
		},
	}
	for _, p := range m.open {
		snapshot.Open = append(snapshot.Open, p)
	}
	m.mu.Unlock()

	if err := m.store.Save(snapshot); err != nil {
		m.logger.Error("Snapshot save failed", zap.Error(err))
	}
}

func (m *Manager) dailyPnlPctLocked() float64 {
	if m.cfg.StartingEquityUsdc <= 0 {
		return 0
	}
	return m.dailyPnlUsdc / m.cfg.StartingEquityUsdc * 100
}

// committedUsdcLocked is the cost basis still tied up in open
// positions, scaled by what remains of each.
func (m *Manager) committedUsdcLocked() float64 {
	total := 0.0
	for _, p := range m.open {
		total += p.InitialSizeUsdc * p.RemainingPct / 100
	}
	return total
}

// OpenPositions returns a copy of the open set for reporting.
func (m *Manager) OpenPositions() []*Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Position, 0, len(m.open))
	for _, p := range m.open {
		out = append(out, p)
	}
	return out
}

// Stats reports the current portfolio counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		DailyPnlUsdc:      m.dailyPnlUsdc,
		ConsecutiveLosses: m.consecutiveLosses,
		LastLossTime:      m.lastLossTime,
	}
}

// ReservedUsdc reports capital currently reserved by in-flight entries.
func (m *Manager) ReservedUsdc() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reservedUsdc
}

// Close persists a final snapshot.
func (m *Manager) Close() {
	m.persist()
}
