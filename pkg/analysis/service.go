package analysis

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vigilsec/vigil/pkg/config"
	"github.com/vigilsec/vigil/pkg/httputil"
	"github.com/vigilsec/vigil/pkg/persist"
	"github.com/vigilsec/vigil/pkg/session"
)

const persistTimeout = 5 * time.Second

// Service is the engine facade: one call takes a conversational turn
// through validation, caching, orchestration, aggregation, adjustment,
// and audit persistence.
type Service struct {
	orchestrator *Orchestrator
	cache        *ResultCache
	aggregator   *Aggregator
	adjuster     *Adjuster
	history      session.HistoryStore
	audit        persist.AuditStore
	persistSlots *httputil.Semaphore
	now          func() time.Time
}

// NewService wires the engine from its configuration. registry must already
// hold the task set; history and audit may be nil, which disables session
// context and audit persistence respectively.
func NewService(cfg *config.Config, registry *Registry, history session.HistoryStore, audit persist.AuditStore) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pool := httputil.NewSemaphore(cfg.Workers)
	orch, err := NewOrchestrator(registry, pool, cfg.TaskTimeout)
	if err != nil {
		return nil, err
	}

	rules, err := LoadFilterRules(cfg.FilterRulesPath)
	if err != nil {
		return nil, err
	}
	if len(rules) > 0 {
		log.Printf("[STARTUP] loaded %d filter rules from %s", len(rules), cfg.FilterRulesPath)
	}

	baselines := NewBaselineStore(cfg.SmoothingAlpha)
	patterns := NewPatternHistory(cfg.PatternIncrement)

	if audit == nil {
		audit = persist.NopStore{}
	}

	return &Service{
		orchestrator: orch,
		cache:        NewResultCache(cfg.CacheTTL, cfg.CacheCapacity),
		aggregator:   NewAggregator(cfg),
		adjuster:     NewAdjuster(cfg, baselines, patterns, rules),
		history:      history,
		audit:        audit,
		persistSlots: httputil.NewSemaphore(cfg.PersistSlots),
		now:          time.Now,
	}, nil
}

// Analyze assesses one conversational turn. Identical requests inside the
// cache TTL return the cached verdict without re-running any task. Only
// request validation can fail; task failures degrade, they never error.
func (s *Service) Analyze(ctx context.Context, req AnalysisRequest) (AnalysisVerdict, error) {
	if err := req.Validate(); err != nil {
		return AnalysisVerdict{}, err
	}
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = s.now()
	}

	hash := HashRequest(req)
	if verdict, ok := s.cache.Get(hash); ok {
		return verdict, nil
	}

	conv := s.conversationContext(ctx, req.SessionID)
	outputs := s.orchestrator.Run(ctx, req, conv)

	indicators := CollectIndicators(outputs)
	counterpartPresent := strings.TrimSpace(req.CounterpartText) != ""
	score, escalation := s.aggregator.Aggregate(outputs, indicators, counterpartPresent)

	verdict := AnalysisVerdict{
		ID:             uuid.NewString(),
		RequestHash:    hash,
		ModuleOutputs:  outputs,
		AggregateScore: score,
		Escalation:     escalation,
		FinalAction:    actionForEscalation(escalation),
		ComputedAt:     s.now(),
	}
	verdict = s.adjuster.Adjust(verdict, req)

	s.cache.Put(hash, verdict)
	s.recordTurn(ctx, req, verdict)
	s.persistAsync(req, verdict)
	return verdict, nil
}

// CacheLen exposes the number of live cache entries for health reporting.
func (s *Service) CacheLen() int {
	return s.cache.Len()
}

// DroppedPersists reports how many audit writes were shed under load.
func (s *Service) DroppedPersists() int64 {
	return s.persistSlots.DroppedCount()
}

// conversationContext loads and summarizes session history. Any failure
// falls back to no context; history is advisory.
func (s *Service) conversationContext(ctx context.Context, sessionID string) *ConversationContext {
	if s.history == nil || sessionID == "" {
		return nil
	}
	state, err := s.history.Get(ctx, sessionID)
	if err != nil {
		log.Printf("[WARN] session history lookup failed for %s: %v", sessionID, err)
		return nil
	}
	if state == nil {
		return nil
	}
	sum := state.Summarize()
	return &ConversationContext{
		TotalMessages:          sum.TotalMessages,
		UserMessages:           sum.UserMessages,
		CounterpartMessages:    sum.CounterpartMessages,
		RecentThreatCount:      sum.RecentThreatCount,
		SessionDurationSeconds: sum.SessionDurationSeconds,
	}
}

// recordTurn appends the assessed turn, and the counterpart turn when one
// came with the request, to session history.
func (s *Service) recordTurn(ctx context.Context, req AnalysisRequest, verdict AnalysisVerdict) {
	if s.history == nil || req.SessionID == "" {
		return
	}
	if req.CounterpartText != "" {
		err := s.history.RecordTurn(ctx, req.SessionID, req.IdentityID, session.TurnRecord{
			Timestamp:       req.ReceivedAt,
			FromCounterpart: true,
			Length:          len(req.CounterpartText),
		})
		if err != nil {
			log.Printf("[WARN] session history write failed for %s: %v", req.SessionID, err)
		}
	}
	err := s.history.RecordTurn(ctx, req.SessionID, req.IdentityID, session.TurnRecord{
		Timestamp:   req.ReceivedAt,
		Length:      len(req.Text),
		ThreatScore: verdict.AggregateScore,
		Escalation:  verdict.Escalation.String(),
	})
	if err != nil {
		log.Printf("[WARN] session history write failed for %s: %v", req.SessionID, err)
	}
}

// persistAsync writes the audit record on a bounded number of background
// slots. When all slots are busy the write is shed and counted, never
// queued; the verdict has already been returned to the caller.
func (s *Service) persistAsync(req AnalysisRequest, verdict AnalysisVerdict) {
	if _, ok := s.audit.(persist.NopStore); ok {
		return
	}
	if !s.persistSlots.TryAcquire() {
		log.Printf("[WARN] audit persistence saturated, dropping verdict %s (total dropped: %d)",
			verdict.ID, s.persistSlots.DroppedCount())
		return
	}
	go func() {
		defer s.persistSlots.Release()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		detail, err := json.Marshal(verdict.ModuleOutputs)
		if err != nil {
			log.Printf("[WARN] audit detail encoding failed for %s: %v", verdict.ID, err)
			detail = nil
		}
		rec := persist.Record{
			VerdictID:          verdict.ID,
			RequestHash:        verdict.RequestHash,
			SessionID:          req.SessionID,
			IdentityID:         req.IdentityID,
			Source:             req.Source,
			AggregateScore:     verdict.AggregateScore,
			Escalation:         verdict.Escalation.String(),
			AdjustedConfidence: verdict.AdjustedConfidence,
			FinalAction:        string(verdict.FinalAction),
			Filtered:           verdict.Filtered,
			NeedsReview:        verdict.NeedsReview,
			Detail:             detail,
			ComputedAt:         verdict.ComputedAt,
		}
		if err := s.audit.Save(ctx, rec); err != nil {
			log.Printf("[WARN] audit persistence failed for %s: %v", verdict.ID, err)
		}
	}()
}
