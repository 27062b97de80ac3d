// Package evolution runs the background jobs that keep the memory store
// healthy over time: consolidating near-duplicate memories, recalibrating
// importance from observed usage, decaying untraversed links, and
// archiving memories whose decayed importance has fallen below a floor
// Each job runs in its own bounded pass and commits its
// own mutations independently; a failure in one job never blocks another.
package evolution

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/scrypster/memorycore/internal/audit"
	"github.com/scrypster/memorycore/internal/llm"
	"github.com/scrypster/memorycore/internal/storage"
	"github.com/scrypster/memorycore/pkg/types"
)

// Backend is the slice of storage capabilities the evolution jobs need.
type Backend interface {
	storage.MemoryStore
	storage.SearchProvider
	storage.LinkStore
	storage.CooldownStore
}

// Config tunes every job. Durations are parsed once at construction by the
// composition root from internal/config's string fields.
type Config struct {
	ConsolidationInterval     time.Duration
	ConsolidationMinSimilarity float64
	ConsolidationCooldownDays int

	RecalibrationInterval time.Duration

	DecayInterval      time.Duration
	DecayThresholdDays float64
	DecayFactor        float64
	DecayFloor         float64

	ArchivalInterval    time.Duration
	ArchivalImportanceThreshold float64
	ArchivalInactivityDays      float64
}

func (c *Config) normalize() {
	if c.ConsolidationInterval <= 0 {
		c.ConsolidationInterval = 24 * time.Hour
	}
	if c.ConsolidationMinSimilarity <= 0 {
		c.ConsolidationMinSimilarity = 0.85
	}
	if c.ConsolidationCooldownDays <= 0 {
		c.ConsolidationCooldownDays = 14
	}
	if c.RecalibrationInterval <= 0 {
		c.RecalibrationInterval = 24 * time.Hour
	}
	if c.DecayInterval <= 0 {
		c.DecayInterval = 24 * time.Hour
	}
	if c.DecayThresholdDays <= 0 {
		c.DecayThresholdDays = 90
	}
	if c.DecayFactor <= 0 {
		c.DecayFactor = 0.9
	}
	if c.DecayFloor <= 0 {
		c.DecayFloor = 0.1
	}
	if c.ArchivalInterval <= 0 {
		c.ArchivalInterval = 24 * time.Hour
	}
	if c.ArchivalImportanceThreshold <= 0 {
		c.ArchivalImportanceThreshold = 1.0
	}
	if c.ArchivalInactivityDays <= 0 {
		c.ArchivalInactivityDays = 180
	}
}

// Scheduler hosts the four evolution jobs and runs them on independent
// tickers: a cancelable context plus a WaitGroup that Shutdown drains,
// rather than an unbounded fire-and-forget goroutine per job.
type Scheduler struct {
	store    Backend
	enricher llm.Enricher
	audit    *audit.Logger
	cfg      Config

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a Scheduler. audit may be nil when the caller doesn't
// want supplementary structured events beyond what the storage layer
// already appends for Update/Archive/Supersede.
func New(store Backend, enricher llm.Enricher, auditLog *audit.Logger, cfg Config) *Scheduler {
	cfg.normalize()
	return &Scheduler{store: store, enricher: enricher, audit: auditLog, cfg: cfg}
}

// Start launches all four jobs on their configured intervals. It returns
// immediately; jobs run in background goroutines until ctx is canceled or
// Shutdown is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("evolution: scheduler already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true

	s.runPeriodic(runCtx, "consolidation", s.cfg.ConsolidationInterval, func(ctx context.Context) error {
		_, err := s.RunConsolidation(ctx, nil)
		return err
	})
	s.runPeriodic(runCtx, "recalibration", s.cfg.RecalibrationInterval, s.RunRecalibration)
	s.runPeriodic(runCtx, "link-decay", s.cfg.DecayInterval, s.RunLinkDecay)
	s.runPeriodic(runCtx, "archival", s.cfg.ArchivalInterval, s.RunArchival)

	return nil
}

// Shutdown cancels every job and waits for the in-flight pass (if any) of
// each to return.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("evolution: scheduler not started")
	}
	s.cancel()
	s.started = false
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) runPeriodic(ctx context.Context, name string, interval time.Duration, job func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := job(ctx); err != nil {
					log.Printf("evolution: %s pass failed: %v", name, err)
				}
			}
		}
	}()
}

// --- Consolidation ---

// ConsolidationReport tallies the outcome of one RunConsolidation pass, so
// a synchronous on-demand invocation can report what it did rather than
// only success/failure.
type ConsolidationReport struct {
	Scope      string
	Merged     int
	Superseded int
	KeptBoth   int
	Errors     int
}

// RunConsolidation finds near-duplicate memory pairs within scope (or, when
// scope is nil, every namespace currently holding memories) and applies the
// enricher's merge/supersede/keep-both decision to each, skipping pairs
// still within their keep-both cooldown window. At most one action is
// applied per memory per run: once a.ID or b.ID has been merged or
// superseded earlier in this pass, later pairs referencing it are skipped.
func (s *Scheduler) RunConsolidation(ctx context.Context, scope *types.Namespace) (ConsolidationReport, error) {
	report := ConsolidationReport{Scope: "all"}
	var namespaces []types.Namespace
	if scope != nil {
		report.Scope = scope.String()
		namespaces = []types.Namespace{*scope}
	} else {
		discovered, err := s.discoverNamespaces(ctx)
		if err != nil {
			return report, fmt.Errorf("evolution: discover namespaces: %w", err)
		}
		namespaces = discovered
	}

	now := time.Now().UTC()
	settled := make(map[types.MemoryID]bool)
	for _, ns := range namespaces {
		candidates, err := s.store.FindConsolidationCandidates(ctx, ns, s.cfg.ConsolidationMinSimilarity)
		if err != nil {
			log.Printf("evolution: find consolidation candidates in %s: %v", ns, err)
			continue
		}

		for _, c := range candidates {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			default:
			}

			if settled[c.A.ID] || settled[c.B.ID] {
				continue
			}

			inCooldown, err := s.store.InCooldown(ctx, c.A.ID, c.B.ID, s.cfg.ConsolidationCooldownDays, now)
			if err != nil {
				log.Printf("evolution: consolidation cooldown check for %s/%s: %v", c.A.ID, c.B.ID, err)
				continue
			}
			if inCooldown {
				continue
			}

			action, err := s.consolidatePair(ctx, c)
			if err != nil {
				log.Printf("evolution: consolidate %s/%s: %v", c.A.ID, c.B.ID, err)
				report.Errors++
				continue
			}
			settled[c.A.ID] = true
			settled[c.B.ID] = true
			switch action {
			case llm.ConsolidationMerge:
				report.Merged++
			case llm.ConsolidationSupersede:
				report.Superseded++
			case llm.ConsolidationKeepBoth:
				report.KeptBoth++
			}
		}
	}
	return report, nil
}

// discoverNamespaces returns the distinct namespaces currently holding at
// least one non-archived memory, by paging through List once.
func (s *Scheduler) discoverNamespaces(ctx context.Context) ([]types.Namespace, error) {
	seen := make(map[string]types.Namespace)
	opts := storage.ListOptions{Limit: 100}
	opts.Normalize()
	for page := 1; ; page++ {
		opts.Page = page
		result, err := s.store.List(ctx, opts)
		if err != nil {
			return nil, err
		}
		for _, m := range result.Items {
			seen[m.Namespace.String()] = m.Namespace
		}
		if !result.HasMore {
			break
		}
	}
	out := make([]types.Namespace, 0, len(seen))
	for _, ns := range seen {
		out = append(out, ns)
	}
	return out, nil
}

func (s *Scheduler) consolidatePair(ctx context.Context, c storage.ConsolidationCandidate) (llm.ConsolidationAction, error) {
	decision := s.enricher.Consolidate(ctx, *c.A, *c.B)
	now := time.Now().UTC()

	switch decision.Action {
	case llm.ConsolidationMerge:
		merged, err := types.NewMemoryNote(types.NewMemoryNoteParams{
			Namespace:  c.A.Namespace,
			Content:    decision.MergedContent,
			Summary:    c.A.Summary,
			Keywords:   truncateStrings(unionStrings(c.A.Keywords, c.B.Keywords), types.MaxKeywords),
			Tags:       truncateStrings(unionStrings(c.A.Tags, c.B.Tags), types.MaxTags),
			MemoryType: c.A.MemoryType,
			Importance: maxInt(c.A.Importance, c.B.Importance),
			Confidence: maxFloat(c.A.Confidence, c.B.Confidence),
			Now:        now,
		})
		if err != nil {
			return "", err
		}
		merged.Links = unionLinks(merged.ID, c.A, c.B)
		if err := s.store.Create(ctx, merged); err != nil {
			return "", fmt.Errorf("create merged memory: %w", err)
		}
		if err := s.store.Supersede(ctx, c.A.ID, merged.ID); err != nil {
			return "", fmt.Errorf("supersede %s: %w", c.A.ID, err)
		}
		if err := s.store.Supersede(ctx, c.B.ID, merged.ID); err != nil {
			return "", fmt.Errorf("supersede %s: %w", c.B.ID, err)
		}
		s.appendMerged(ctx, merged.ID, []types.MemoryID{c.A.ID, c.B.ID})

	case llm.ConsolidationSupersede:
		if decision.Kept == "" || decision.Dropped == "" {
			return "", fmt.Errorf("supersede decision missing kept/dropped ids")
		}
		if err := s.store.Supersede(ctx, decision.Dropped, decision.Kept); err != nil {
			return "", fmt.Errorf("supersede %s: %w", decision.Dropped, err)
		}
		// The survivor inherits the pair's higher importance so superseding
		// a high-importance memory never quietly demotes its content.
		if imp := maxInt(c.A.Importance, c.B.Importance); impOf(c, decision.Kept) < imp {
			if _, err := s.store.Update(ctx, decision.Kept, storage.Patch{Importance: &imp}); err != nil {
				return "", fmt.Errorf("transfer importance to %s: %w", decision.Kept, err)
			}
		}

	case llm.ConsolidationKeepBoth:
		if err := s.store.RecordCooldown(ctx, c.A.ID, c.B.ID, string(decision.Action), now); err != nil {
			return "", fmt.Errorf("record cooldown: %w", err)
		}

	default:
		return "", fmt.Errorf("unknown consolidation action %q", decision.Action)
	}
	return decision.Action, nil
}

func (s *Scheduler) appendMerged(ctx context.Context, into types.MemoryID, sources []types.MemoryID) {
	if s.audit == nil {
		return
	}
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		log.Printf("evolution: merged audit tx: %v", err)
		return
	}
	defer tx.Rollback()
	if err := s.audit.Merged(ctx, tx, into, audit.MergedDetails{Into: into, Sources: sources}); err != nil {
		log.Printf("evolution: merged audit append: %v", err)
		return
	}
	if err := tx.Commit(); err != nil {
		log.Printf("evolution: merged audit commit: %v", err)
	}
}

// --- Importance recalibration ---

// RunRecalibration recomputes importance for every non-archived memory as
//
//	new_importance = clamp(round(base*0.7 + incoming_link_boost*0.2 + access_boost*0.1), 1, 10)
//
// where incoming_link_boost = min(1, incoming_links/5) and
// access_boost = 1 - exp(-access_count/5). Both boosts saturate at 1, so a
// heavily linked, heavily read memory can offset at most a fraction of the
// base term: recalibration drifts importance toward observed usage, it never
// swings it.
func (s *Scheduler) RunRecalibration(ctx context.Context) error {
	opts := storage.ListOptions{Limit: 100}
	opts.Normalize()
	for page := 1; ; page++ {
		opts.Page = page
		result, err := s.store.List(ctx, opts)
		if err != nil {
			return fmt.Errorf("evolution: list for recalibration: %w", err)
		}
		for _, m := range result.Items {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if err := s.recalibrateOne(ctx, &m); err != nil {
				log.Printf("evolution: recalibrate %s: %v", m.ID, err)
			}
		}
		if !result.HasMore {
			break
		}
	}
	return nil
}

func (s *Scheduler) recalibrateOne(ctx context.Context, m *types.MemoryNote) error {
	incoming, err := s.store.CountIncoming(ctx, m.ID)
	if err != nil {
		return err
	}
	incomingBoost := math.Min(1, float64(incoming)/5.0)
	accessBoost := 1 - math.Exp(-float64(m.AccessCount)/5.0)

	newImportance := int(math.Round(float64(m.Importance)*0.7 + incomingBoost*0.2 + accessBoost*0.1))
	if newImportance < 1 {
		newImportance = 1
	}
	if newImportance > 10 {
		newImportance = 10
	}
	if newImportance == m.Importance {
		return nil
	}

	old := m.Importance
	if _, err := s.store.Update(ctx, m.ID, storage.Patch{Importance: &newImportance}); err != nil {
		return err
	}
	s.appendRecalibrated(ctx, m.ID, old, newImportance)
	return nil
}

func (s *Scheduler) appendRecalibrated(ctx context.Context, id types.MemoryID, oldImportance, newImportance int) {
	if s.audit == nil {
		return
	}
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		log.Printf("evolution: recalibrated audit tx: %v", err)
		return
	}
	defer tx.Rollback()
	d := audit.RecalibratedDetails{OldImportance: oldImportance, NewImportance: newImportance}
	if err := s.audit.Recalibrated(ctx, tx, id, d); err != nil {
		log.Printf("evolution: recalibrated audit append: %v", err)
		return
	}
	if err := tx.Commit(); err != nil {
		log.Printf("evolution: recalibrated audit commit: %v", err)
	}
}

// --- Link decay ---

// RunLinkDecay multiplies the strength of every link untraversed past the
// configured threshold by DecayFactor, deleting links whose strength falls
// below DecayFloor, and appends a single summary audit event for the run.
func (s *Scheduler) RunLinkDecay(ctx context.Context) error {
	links, err := s.store.ListAllLinks(ctx)
	if err != nil {
		return fmt.Errorf("evolution: list all links: %w", err)
	}

	now := time.Now().UTC()
	tau := time.Duration(s.cfg.DecayThresholdDays*24) * time.Hour
	decayed, dropped := 0, 0
	for _, l := range links {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ref := l.CreatedAt
		if l.LastTraversedAt != nil {
			ref = *l.LastTraversedAt
		}
		if now.Sub(ref) <= tau {
			continue
		}

		// Mirrors types.MemoryLink.Decay's rule, but against the configured
		// factor/floor rather than that method's fixed defaults, so
		// MEMORY_EVOLUTION_DECAY_FACTOR/_FLOOR actually take effect.
		l.Strength *= s.cfg.DecayFactor
		if l.Strength < s.cfg.DecayFloor {
			if err := s.store.DeleteLink(ctx, l.Source, l.Target, l.LinkType); err != nil {
				log.Printf("evolution: delete decayed link %s->%s: %v", l.Source, l.Target, err)
				continue
			}
			dropped++
			continue
		}

		if err := s.store.UpsertLink(ctx, l); err != nil {
			log.Printf("evolution: upsert decayed link %s->%s: %v", l.Source, l.Target, err)
			continue
		}
		decayed++
	}

	if decayed > 0 || dropped > 0 {
		s.appendDecayed(ctx, decayed, dropped)
	}
	return nil
}

func (s *Scheduler) appendDecayed(ctx context.Context, decayed, dropped int) {
	if s.audit == nil {
		return
	}
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		log.Printf("evolution: decayed audit tx: %v", err)
		return
	}
	defer tx.Rollback()
	d := audit.DecayedDetails{LinksDecayed: decayed, LinksDropped: dropped}
	if err := s.audit.Decayed(ctx, tx, nil, d); err != nil {
		log.Printf("evolution: decayed audit append: %v", err)
		return
	}
	if err := tx.Commit(); err != nil {
		log.Printf("evolution: decayed audit commit: %v", err)
	}
}

// --- Archival ---

// RunArchival archives every non-archived memory whose decayed importance
// has fallen below ArchivalImportanceThreshold and whose last activity
// predates ArchivalInactivityDays.
func (s *Scheduler) RunArchival(ctx context.Context) error {
	opts := storage.ListOptions{Limit: 100}
	opts.Normalize()
	now := time.Now().UTC()

	for page := 1; ; page++ {
		opts.Page = page
		result, err := s.store.List(ctx, opts)
		if err != nil {
			return fmt.Errorf("evolution: list for archival: %w", err)
		}
		for _, m := range result.Items {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if s.shouldArchive(&m, now) {
				if err := s.store.Archive(ctx, m.ID); err != nil {
					log.Printf("evolution: archive %s: %v", m.ID, err)
					continue
				}
				s.appendArchived(ctx, m.ID, "decayed_importance_below_threshold")
			}
		}
		if !result.HasMore {
			break
		}
	}
	return nil
}

func (s *Scheduler) shouldArchive(m *types.MemoryNote, now time.Time) bool {
	decayed := types.DecayedImportance(m, now)
	if decayed >= s.cfg.ArchivalImportanceThreshold {
		return false
	}
	lastActivity := m.UpdatedAt
	if m.LastAccessedAt != nil && m.LastAccessedAt.After(lastActivity) {
		lastActivity = *m.LastAccessedAt
	}
	inactiveDays := now.Sub(lastActivity).Hours() / 24.0
	return inactiveDays >= s.cfg.ArchivalInactivityDays
}

func (s *Scheduler) appendArchived(ctx context.Context, id types.MemoryID, reason string) {
	if s.audit == nil {
		return
	}
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		log.Printf("evolution: archived audit tx: %v", err)
		return
	}
	defer tx.Rollback()
	d := audit.ArchivedDetails{Reason: reason}
	if err := s.audit.Archived(ctx, tx, id, d); err != nil {
		log.Printf("evolution: archived audit append: %v", err)
		return
	}
	if err := tx.Commit(); err != nil {
		log.Printf("evolution: archived audit commit: %v", err)
	}
}

// --- helpers ---

func truncateStrings(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// unionLinks combines both memories' outgoing links onto the merged note,
// dropping edges that point at either original (both are about to be
// superseded) and deduping on (target, link_type).
func unionLinks(source types.MemoryID, a, b *types.MemoryNote) []types.MemoryLink {
	seen := make(map[string]bool)
	var out []types.MemoryLink
	for _, l := range append(append([]types.MemoryLink{}, a.Links...), b.Links...) {
		if l.Target == a.ID || l.Target == b.ID || l.Target == source {
			continue
		}
		key := string(l.Target) + "|" + string(l.LinkType)
		if seen[key] {
			continue
		}
		seen[key] = true
		l.Source = source
		out = append(out, l)
	}
	return out
}

func impOf(c storage.ConsolidationCandidate, id types.MemoryID) int {
	if c.A.ID == id {
		return c.A.Importance
	}
	return c.B.Importance
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func maxInt(a, b int) int {
	if b > a {
		return b
	}
	return a
}

func maxFloat(a, b float64) float64 {
	if b > a {
		return b
	}
	return a
}
