package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"unify/internal/domain"
	"unify/internal/platform/config"
	"unify/internal/profile"
	"unify/pkg/platform/sentinel"

	"unify/internal/identity/metrics"
)

// Store is the profile store collaborator: read-by-id plus conditional,
// version-checked writes. Identifier bindings are part of the same write so
// the reverse index never drifts from the profiles it points at.
type Store interface {
	Get(ctx context.Context, profileID string) (*domain.Profile, error)
	Create(ctx context.Context, p *domain.Profile, bindings []domain.Identifier) error
	Update(ctx context.Context, p *domain.Profile, prevVersion int64, bindings []domain.Identifier) error
}

// CandidateFinder yields candidate profiles for an event.
type CandidateFinder interface {
	FindCandidates(ctx context.Context, event domain.IdentityEvent) ([]domain.Candidate, error)
}

// MatchScorer computes confidence for one (event, candidate) pair.
type MatchScorer interface {
	Score(event domain.IdentityEvent, cand domain.Candidate, prof *domain.Profile) Score
}

// Deduper remembers processed event IDs across workers and instances.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (string, bool, error)
	Mark(ctx context.Context, eventID, profileID string) error
}

// Auditor records one MergeDecision per processed event.
type Auditor interface {
	Emit(ctx context.Context, decision domain.MergeDecision) error
}

// Notifier publishes the produced interfaces: change notifications for
// accepted merges and review emissions for the ambiguous band.
type Notifier interface {
	NotifyChange(ctx context.Context, n domain.ChangeNotification) error
	EmitReview(ctx context.Context, event domain.IdentityEvent, decision domain.MergeDecision) error
}

// scoredCandidate pairs a candidate with its loaded profile and score for
// ranking.
type scoredCandidate struct {
	cand  domain.Candidate
	prof  *domain.Profile
	score Score
}

// Resolver owns the golden record: it decides merge/create/review for every
// event and is the only component that mutates profiles.
type Resolver struct {
	cfg     config.Resolver
	store   Store
	finder  CandidateFinder
	scorer  MatchScorer
	policy  Policy
	guard   *KeyedMutex
	dedupe  Deduper
	audit   Auditor
	notify  Notifier
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

func NewResolver(
	cfg config.Resolver,
	store Store,
	finder CandidateFinder,
	scorer MatchScorer,
	policy Policy,
	dedupe Deduper,
	audit Auditor,
	notify Notifier,
	logger *slog.Logger,
	m *metrics.Metrics,
) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("profile store is required")
	}
	if finder == nil {
		return nil, errors.New("candidate finder is required")
	}
	if scorer == nil {
		return nil, errors.New("match scorer is required")
	}
	if policy == nil {
		policy = DefaultRuleTable()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 2 * time.Second
	}
	return &Resolver{
		cfg:     cfg,
		store:   store,
		finder:  finder,
		scorer:  scorer,
		policy:  policy,
		guard:   NewKeyedMutex(),
		dedupe:  dedupe,
		audit:   audit,
		notify:  notify,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer("unify/identity"),
		now:     time.Now,
	}, nil
}

// Resolve processes one event end to end: candidate lookup, scoring, and the
// merge decision, serialized per merge key. It returns the MergeDecision
// audit record; a non-nil error means the event was not applied and should be
// redelivered (except for malformed events, which must bounce to ingestion).
func (r *Resolver) Resolve(ctx context.Context, event domain.IdentityEvent) (domain.MergeDecision, error) {
	if err := event.Validate(); err != nil {
		return domain.MergeDecision{}, err
	}

	start := r.now()
	ctx, span := r.tracer.Start(ctx, "identity.resolve",
		trace.WithAttributes(
			attribute.String("event.id", event.EventID),
			attribute.String("event.source", string(event.Source)),
		))
	defer span.End()

	key := MergeKey(event)
	unlock := r.guard.Lock(key)
	defer unlock()

	decision, err := r.resolveLocked(ctx, event)
	if err != nil {
		return domain.MergeDecision{}, err
	}

	span.SetAttributes(attribute.String("decision", string(decision.Decision)))
	if r.metrics != nil {
		r.metrics.ObserveResolve(string(event.Source), string(decision.Decision), r.now().Sub(start))
	}
	if r.audit != nil {
		if err := r.audit.Emit(ctx, decision); err != nil {
			r.logf(ctx, slog.LevelWarn, "audit emit failed", "event_id", event.EventID, "error", err)
		}
	}
	return decision, nil
}

func (r *Resolver) resolveLocked(ctx context.Context, event domain.IdentityEvent) (domain.MergeDecision, error) {
	// Shared dedupe fast path: a redelivered event resolves as a no-op
	// referencing the state it already produced.
	if r.dedupe != nil {
		profileID, seen, err := r.dedupe.Seen(ctx, event.EventID)
		if err != nil {
			r.logf(ctx, slog.LevelWarn, "dedupe check failed, continuing", "event_id", event.EventID, "error", err)
		} else if seen {
			if r.metrics != nil {
				r.metrics.DuplicateEvents.Inc()
			}
			return r.newDecision(event, profileID, domain.DecisionMatched, 1.0, "duplicate_delivery", nil), nil
		}
	}

	for attempt := 1; attempt <= r.cfg.MaxRetries; attempt++ {
		decision, err := r.attempt(ctx, event)
		if errors.Is(err, sentinel.ErrConflict) {
			if r.metrics != nil {
				r.metrics.VersionConflicts.Inc()
			}
			r.logf(ctx, slog.LevelWarn, "optimistic lock conflict",
				"event_id", event.EventID, "attempt", attempt, "max", r.cfg.MaxRetries)
			continue
		}
		if err != nil {
			return domain.MergeDecision{}, err
		}
		return decision, nil
	}

	// Retries exhausted: demote to review rather than failing the event.
	// Forward progress beats strict resolution for rare races.
	decision := r.newDecision(event, "", domain.DecisionHeldForReview, 0, "conflict_retries_exhausted", nil)
	r.emitReview(ctx, event, decision)
	return decision, nil
}

// attempt runs one full lookup/score/decide cycle against a fresh read of the
// stored state.
func (r *Resolver) attempt(ctx context.Context, event domain.IdentityEvent) (domain.MergeDecision, error) {
	candidates, err := r.finder.FindCandidates(ctx, event)
	if err != nil {
		return domain.MergeDecision{}, fmt.Errorf("candidate lookup: %w", err)
	}

	ranked, err := r.rank(ctx, event, candidates)
	if err != nil {
		return domain.MergeDecision{}, err
	}

	if len(ranked) > 0 && ranked[0].score.Value >= r.cfg.MergeThreshold {
		return r.merge(ctx, event, ranked[0])
	}
	if len(ranked) > 0 && ranked[0].score.Value >= r.cfg.ReviewThreshold {
		best := ranked[0]
		decision := r.newDecision(event, best.prof.ProfileID, domain.DecisionHeldForReview,
			best.score.Value, best.score.Rule, best.score.MatchedKinds)
		r.emitReview(ctx, event, decision)
		return decision, nil
	}
	return r.create(ctx, event)
}

// rank loads and scores every candidate profile, highest score first. Ties
// break on matched-kind count, then profile ID, so ordering is deterministic.
func (r *Resolver) rank(ctx context.Context, event domain.IdentityEvent, candidates []domain.Candidate) ([]scoredCandidate, error) {
	ranked := make([]scoredCandidate, 0, len(candidates))
	for _, cand := range candidates {
		prof, err := r.getProfile(ctx, cand.ProfileID)
		if errors.Is(err, sentinel.ErrNotFound) {
			// Index entry outlived its profile; treat as no candidate.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load candidate %s: %w", cand.ProfileID, err)
		}
		ranked = append(ranked, scoredCandidate{cand: cand, prof: prof, score: r.scorer.Score(event, cand, prof)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score.Value != ranked[j].score.Value {
			return ranked[i].score.Value > ranked[j].score.Value
		}
		if len(ranked[i].score.MatchedKinds) != len(ranked[j].score.MatchedKinds) {
			return len(ranked[i].score.MatchedKinds) > len(ranked[j].score.MatchedKinds)
		}
		return ranked[i].prof.ProfileID < ranked[j].prof.ProfileID
	})
	return ranked, nil
}

// merge applies the event into the winning candidate's profile. All mutation
// happens on a clone; the stored profile only changes if the conditional
// write succeeds, so cancellation mid-merge never leaks partial state.
func (r *Resolver) merge(ctx context.Context, event domain.IdentityEvent, best scoredCandidate) (domain.MergeDecision, error) {
	prof := best.prof
	if prof.HasAppliedEvent(event.EventID) {
		if r.metrics != nil {
			r.metrics.DuplicateEvents.Inc()
		}
		return r.newDecision(event, prof.ProfileID, domain.DecisionMatched,
			best.score.Value, "duplicate_delivery", best.score.MatchedKinds), nil
	}

	next := prof.Clone()
	changed, bindings := r.applyEvent(next, event)
	next.Version = prof.Version + 1
	next.UpdatedAt = r.now()

	if err := next.CheckInvariants(); err != nil {
		return domain.MergeDecision{}, fmt.Errorf("merge invariant violated: %w", err)
	}
	if err := r.updateProfile(ctx, next, prof.Version, bindings); err != nil {
		return domain.MergeDecision{}, err
	}
	r.markApplied(ctx, event.EventID, next.ProfileID)

	decision := r.newDecision(event, next.ProfileID, domain.DecisionMatched,
		best.score.Value, best.score.Rule, best.score.MatchedKinds)
	r.notifyChange(ctx, domain.ChangeNotification{
		ProfileID:         next.ProfileID,
		Version:           next.Version,
		ChangedAttributes: changed,
		Decision:          domain.DecisionMatched,
	})
	return decision, nil
}

// create starts a new golden record from the event.
func (r *Resolver) create(ctx context.Context, event domain.IdentityEvent) (domain.MergeDecision, error) {
	now := r.now()
	prof := &domain.Profile{
		ProfileID:  uuid.NewString(),
		Attributes: make(map[string]domain.AttributeRecord),
		Consent:    make(map[domain.Channel]bool),
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	changed, bindings := r.applyEvent(prof, event)

	if err := prof.CheckInvariants(); err != nil {
		return domain.MergeDecision{}, fmt.Errorf("create invariant violated: %w", err)
	}
	if err := r.createProfile(ctx, prof, bindings); err != nil {
		return domain.MergeDecision{}, fmt.Errorf("create profile: %w", err)
	}
	r.markApplied(ctx, event.EventID, prof.ProfileID)

	decision := r.newDecision(event, prof.ProfileID, domain.DecisionCreated, 0, "new_identity", nil)
	r.notifyChange(ctx, domain.ChangeNotification{
		ProfileID:         prof.ProfileID,
		Version:           prof.Version,
		ChangedAttributes: changed,
		Decision:          domain.DecisionCreated,
	})
	return decision, nil
}

// applyEvent folds the event into the profile: identifier union, precedence
// governed attributes, consent intersection, dedupe window, and engagement
// tracking. It returns the changed attribute names and the identifier
// bindings the store must index in the same write.
func (r *Resolver) applyEvent(p *domain.Profile, event domain.IdentityEvent) (changed []string, bindings []domain.Identifier) {
	for _, ident := range event.Identifiers {
		if p.HasIdentifier(ident.Kind, ident.Value) {
			continue
		}
		p.Identifiers = append(p.Identifiers, domain.IdentifierRecord{
			Kind:            ident.Kind,
			Value:           ident.Value,
			FirstSeenSource: event.Source,
			FirstSeenAt:     event.OccurredAt,
		})
		bindings = append(bindings, ident)
	}

	if p.Attributes == nil {
		p.Attributes = make(map[string]domain.AttributeRecord)
	}
	for name, attr := range event.Attributes {
		current, exists := p.Attributes[name]
		if exists && !r.policy.Wins(name, attr, event.OccurredAt, current) {
			continue
		}
		if exists && current.Value == attr.Value && current.Source == attr.Source {
			continue
		}
		p.Attributes[name] = domain.AttributeRecord{
			Value:     attr.Value,
			Source:    attr.Source,
			UpdatedAt: event.OccurredAt,
		}
		changed = append(changed, name)
	}
	sort.Strings(changed)

	// Consent can only tighten through merge.
	if p.Consent == nil {
		p.Consent = make(map[domain.Channel]bool)
	}
	for channel, state := range event.Consent {
		if existing, ok := p.Consent[channel]; ok {
			p.Consent[channel] = existing && state.Granted
		} else {
			p.Consent[channel] = state.Granted
		}
	}

	p.RecordEvent(event.EventID)
	profile.Track(p, event, r.now())
	return changed, bindings
}

func (r *Resolver) newDecision(event domain.IdentityEvent, profileID string, d domain.Decision, score float64, rule string, kinds []domain.IdentifierKind) domain.MergeDecision {
	return domain.MergeDecision{
		DecisionID:         uuid.NewString(),
		EventID:            event.EventID,
		ProfileID:          profileID,
		Decision:           d,
		Score:              score,
		Rule:               rule,
		MatchedIdentifiers: kinds,
		Timestamp:          r.now(),
	}
}

// Store access is bounded by the configured timeout so a hung backend fails
// the event into redelivery instead of stalling the partition.

func (r *Resolver) getProfile(ctx context.Context, profileID string) (*domain.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()
	return r.store.Get(ctx, profileID)
}

func (r *Resolver) createProfile(ctx context.Context, p *domain.Profile, bindings []domain.Identifier) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()
	return r.store.Create(ctx, p, bindings)
}

func (r *Resolver) updateProfile(ctx context.Context, p *domain.Profile, prevVersion int64, bindings []domain.Identifier) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()
	return r.store.Update(ctx, p, prevVersion, bindings)
}

func (r *Resolver) markApplied(ctx context.Context, eventID, profileID string) {
	if r.dedupe == nil {
		return
	}
	if err := r.dedupe.Mark(ctx, eventID, profileID); err != nil {
		r.logf(ctx, slog.LevelWarn, "dedupe mark failed", "event_id", eventID, "error", err)
	}
}

func (r *Resolver) notifyChange(ctx context.Context, n domain.ChangeNotification) {
	if r.notify == nil {
		return
	}
	if err := r.notify.NotifyChange(ctx, n); err != nil {
		r.logf(ctx, slog.LevelWarn, "change notification failed", "profile_id", n.ProfileID, "error", err)
	}
}

func (r *Resolver) emitReview(ctx context.Context, event domain.IdentityEvent, decision domain.MergeDecision) {
	if r.metrics != nil {
		r.metrics.ReviewEmitted.Inc()
	}
	if r.notify == nil {
		return
	}
	if err := r.notify.EmitReview(ctx, event, decision); err != nil {
		r.logf(ctx, slog.LevelWarn, "review emission failed", "event_id", event.EventID, "error", err)
	}
}

func (r *Resolver) logf(ctx context.Context, level slog.Level, msg string, args ...any) {
	if r.logger == nil {
		return
	}
	r.logger.Log(ctx, level, msg, args...)
}
