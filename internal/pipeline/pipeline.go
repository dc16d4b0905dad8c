// Package pipeline runs the seven-step comparative market analysis: it
// enriches a property through independently fallible providers, values it,
// summarizes it and publishes progress to the session store.
package pipeline

import (
	"context"
	"errors"
	"math"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cma-engine/internal/config"
	"github.com/sells-group/cma-engine/internal/deepening"
	"github.com/sells-group/cma-engine/internal/metrics"
	"github.com/sells-group/cma-engine/internal/model"
	"github.com/sells-group/cma-engine/internal/session"
	"github.com/sells-group/cma-engine/internal/store"
	"github.com/sells-group/cma-engine/internal/valuation"
)

const (
	defaultStepTimeout       = 45 * time.Second
	defaultDegradedThreshold = 85
	defaultBonusMinScore     = 85
	defaultBonusMinSteps     = 6
	defaultMaxBonusQueries   = 3

	// stepOrchestration names work outside the seven steps in an
	// UnhandledError.
	stepOrchestration = "orchestration"

	errorMessage    = "The analysis failed unexpectedly."
	errorSuggestion = "Retry the analysis. If the problem persists, check the property details."
)

// Archive keeps finished sessions after they expire from the session store.
type Archive interface {
	SaveAnalysis(ctx context.Context, session *model.AnalysisSession) error
	GetAnalysis(ctx context.Context, id string) (*model.AnalysisSession, error)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithArchive persists every terminal session.
func WithArchive(a Archive) Option {
	return func(p *Pipeline) { p.archive = a }
}

// WithValuation replaces the default valuation engine.
func WithValuation(v *valuation.Engine) Option {
	return func(p *Pipeline) { p.valuation = v }
}

// Pipeline orchestrates analyses. It is safe for concurrent use; each
// analysis owns its session exclusively.
type Pipeline struct {
	cfg       config.PipelineConfig
	sessions  session.Store
	deep      *deepening.Engine
	providers Providers
	valuation *valuation.Engine
	archive   Archive
	wg        sync.WaitGroup
}

// New creates a Pipeline. deep may be nil to disable progressive deepening.
func New(cfg config.PipelineConfig, sessions session.Store, deep *deepening.Engine, providers Providers, opts ...Option) *Pipeline {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = defaultStepTimeout
	}
	if cfg.DegradedThreshold <= 0 {
		cfg.DegradedThreshold = defaultDegradedThreshold
	}
	if cfg.BonusMinScore <= 0 {
		cfg.BonusMinScore = defaultBonusMinScore
	}
	if cfg.BonusMinSteps <= 0 {
		cfg.BonusMinSteps = defaultBonusMinSteps
	}
	if cfg.MaxBonusQueries <= 0 {
		cfg.MaxBonusQueries = defaultMaxBonusQueries
	}

	p := &Pipeline{
		cfg:       cfg,
		sessions:  sessions,
		deep:      deep,
		providers: providers.withDefaults(),
		valuation: valuation.New(valuation.DefaultConfig()),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Validate checks the fields every analysis needs.
func Validate(p model.PropertyDescriptor) error {
	var missing []string
	if strings.TrimSpace(p.Address) == "" {
		missing = append(missing, "address")
	}
	if strings.TrimSpace(p.City) == "" {
		missing = append(missing, "city")
	}
	if strings.TrimSpace(p.Province) == "" {
		missing = append(missing, "province")
	}
	if len(missing) > 0 {
		return &InputValidationError{Fields: missing}
	}
	return nil
}

// Analyze runs a full analysis and returns the report. It fails only with
// an *InputValidationError before any session exists, an *UnhandledError
// when a step or report assembly panics, or a session store error at
// creation.
func (p *Pipeline) Analyze(ctx context.Context, property model.PropertyDescriptor) (*model.CMAReport, *Meta, error) {
	r, err := p.begin(ctx, property)
	if err != nil {
		return nil, nil, err
	}
	return r.execute(ctx)
}

// Start creates the session and runs the analysis in the background. The
// returned id can be polled with Status. The analysis outlives ctx.
func (p *Pipeline) Start(ctx context.Context, property model.PropertyDescriptor) (string, error) {
	r, err := p.begin(ctx, property)
	if err != nil {
		return "", err
	}

	bg := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_, _, _ = r.execute(bg)
	}()
	return r.sess.ID, nil
}

// Status returns the current state of a session, falling back to the
// archive once the session has expired from the store.
func (p *Pipeline) Status(ctx context.Context, id string) (*model.AnalysisSession, error) {
	s, err := p.sessions.Get(ctx, id)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, session.ErrNotFound) {
		return nil, eris.Wrapf(err, "pipeline: get session %s", id)
	}

	if p.archive != nil {
		archived, aerr := p.archive.GetAnalysis(ctx, id)
		if aerr == nil {
			return archived, nil
		}
		if !errors.Is(aerr, store.ErrNotFound) {
			return nil, eris.Wrapf(aerr, "pipeline: get archived session %s", id)
		}
	}
	return nil, ErrSessionNotFound
}

// Wait blocks until background analyses and post-analysis recording finish.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// run is the state of one analysis. It is owned by a single goroutine.
type run struct {
	p        *Pipeline
	sess     *model.AnalysisSession
	input    model.PropertyDescriptor
	enhanced model.PropertyDescriptor
	bundle   model.EnrichmentBundle
	estimate model.ValuationEstimate
	summary  model.NarrativeSummary
	strategy *model.Strategy
	outcomes []StepOutcome
	log      *zap.Logger

	// storeCtx survives caller cancellation so the session always reaches
	// a terminal status.
	storeCtx context.Context
}

func (p *Pipeline) begin(ctx context.Context, property model.PropertyDescriptor) (*run, error) {
	if err := Validate(property); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	fp := deepening.Fingerprint(property)
	sess := &model.AnalysisSession{
		ID:          uuid.NewString(),
		Fingerprint: fp,
		Status:      model.SessionPending,
		TotalSteps:  TotalSteps,
		Steps:       []model.StepRecord{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	r := &run{
		p:        p,
		sess:     sess,
		input:    property.Clone(),
		enhanced: property.Clone(),
		log: zap.L().With(
			zap.String("session_id", sess.ID),
			zap.String("fingerprint", fp[:12]),
		),
		storeCtx: context.WithoutCancel(ctx),
	}

	if err := p.sessions.Put(r.storeCtx, sess); err != nil {
		return nil, eris.Wrap(err, "pipeline: create session")
	}
	return r, nil
}

type stepFunc func(ctx context.Context, out *StepOutcome)

func (r *run) execute(ctx context.Context) (report *model.CMAReport, meta *Meta, err error) {
	metrics.SessionsStarted.Inc()
	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()

	// Anything panicking between steps still terminates the session.
	defer func() {
		if v := recover(); v != nil {
			step := r.sess.CurrentStep
			if step == "" {
				step = stepOrchestration
			}
			report, meta, err = r.fail(&UnhandledError{
				SessionID: r.sess.ID,
				Step:      step,
				Value:     v,
				Stack:     debug.Stack(),
			})
		}
	}()

	r.transition(model.SessionAnalyzing)
	r.save()
	r.log.Info("pipeline: analysis started",
		zap.String("address", r.input.FullAddress()),
		zap.String("property_type", r.input.PropertyType),
	)

	r.loadStrategy(ctx)

	steps := []stepFunc{
		r.analyzeLocation,
		r.analyzeCondition,
		r.geolocate,
		r.fetchMarketData,
		r.fetchComparables,
		r.fetchDevelopments,
		r.generateSummary,
	}
	for i, fn := range steps {
		out := r.runStep(ctx, i+1, StepNames[i], fn)
		if !out.Concluded() {
			return r.fail(out.Unhandled)
		}
	}

	return r.finish(ctx)
}

// runStep is the isolation boundary around a step: it applies the step
// deadline, converts panics into an UnhandledError, records the step and
// publishes progress once the step has ended.
func (r *run) runStep(ctx context.Context, number int, name string, fn stepFunc) StepOutcome {
	out := StepOutcome{Number: number, Name: name, Details: map[string]any{}}
	started := time.Now().UTC()

	r.sess.CurrentStep = name
	r.sess.Steps = append(r.sess.Steps, model.StepRecord{
		Number:    number,
		Name:      name,
		Status:    model.StepStarted,
		StartedAt: started,
	})

	stepCtx, cancel := context.WithTimeout(ctx, r.p.cfg.StepTimeout)
	func() {
		defer func() {
			if v := recover(); v != nil {
				out.Unhandled = &UnhandledError{
					SessionID: r.sess.ID,
					Step:      name,
					Value:     v,
					Stack:     debug.Stack(),
				}
			}
		}()
		fn(stepCtx, &out)
	}()
	cancel()

	ended := time.Now().UTC()
	out.Duration = ended.Sub(started)
	out.Status = model.StepCompleted
	if !out.Concluded() || out.Critical != nil || (len(out.Errors) > 0 && !out.Fallback) {
		out.Status = model.StepFailed
	}

	rec := &r.sess.Steps[len(r.sess.Steps)-1]
	rec.Status = out.Status
	rec.EndedAt = &ended
	rec.Details = out.Details
	rec.Error = stepErrorText(&out)

	if out.Concluded() {
		r.sess.CompletedSteps = min(r.sess.CompletedSteps+1, r.sess.TotalSteps)
	}
	r.sess.UpdatedAt = ended
	r.publish()
	r.outcomes = append(r.outcomes, out)
	observeStep(&out)

	fields := []zap.Field{
		zap.Int("step", number),
		zap.String("name", name),
		zap.Int64("duration_ms", out.Duration.Milliseconds()),
	}
	switch {
	case out.Unhandled != nil:
		r.log.Error("pipeline: step panicked", append(fields, zap.Any("panic", out.Unhandled.Value))...)
	case out.Status == model.StepFailed:
		r.log.Warn("pipeline: step failed", append(fields, zap.Errors("errors", stepErrors(&out)))...)
	default:
		r.log.Info("pipeline: step complete", fields...)
	}

	r.save()
	return out
}

func (r *run) finish(ctx context.Context) (*model.CMAReport, *Meta, error) {
	r.sess.CurrentStep = ""
	score := QualityScore(r.sess.CompletedSteps, r.sess.TotalSteps)
	r.sess.QualityScore = score

	status := model.SessionCompleted
	if score < r.p.cfg.DegradedThreshold || r.sess.CriticalErrorCount > 0 {
		status = model.SessionDegraded
	}

	findings := r.bonusResearch(ctx, score)
	report := r.assemble(findings)

	r.sess.Report = report
	r.transition(status)
	r.save()
	observeSession(r.sess)

	r.log.Info("pipeline: analysis finished",
		zap.String("status", string(status)),
		zap.Int("quality_score", score),
		zap.Int("completed_steps", r.sess.CompletedSteps),
		zap.Int("critical_errors", r.sess.CriticalErrorCount),
		zap.Float64("estimated_value", report.Valuation.Estimated),
	)

	r.recordAsync(report)
	return report, r.meta(), nil
}

func (r *run) fail(u *UnhandledError) (*model.CMAReport, *Meta, error) {
	r.sess.Report = nil
	r.sess.QualityScore = QualityScore(r.sess.CompletedSteps, r.sess.TotalSteps)
	r.sess.Error = errorMessage
	r.sess.Suggestion = errorSuggestion
	r.sess.CurrentStep = ""
	r.transition(model.SessionError)
	r.save()
	observeSession(r.sess)

	r.log.Error("pipeline: analysis aborted",
		zap.String("step", u.Step),
		zap.Any("panic", u.Value),
		zap.ByteString("stack", u.Stack),
	)

	r.recordAsync(nil)
	return nil, r.meta(), u
}

func (r *run) assemble(findings []model.ResearchFinding) *model.CMAReport {
	b := r.bundle
	report := &model.CMAReport{
		Property:              r.enhanced.Clone(),
		Summary:               r.summary,
		MarketTrends:          b.Market,
		Comparables:           nonNil(b.Comparables),
		TotalComparables:      b.TotalComparables,
		Amenities:             nonNil(b.Amenities),
		Mobility:              b.Mobility,
		Developments:          nonNil(b.Developments),
		NeighborhoodNarrative: b.NeighborhoodNarrative,
		Valuation:             r.estimate,
		Coordinates:           b.Coordinates,
		BonusResearch:         findings,
		GeneratedAt:           time.Now().UTC(),
	}
	return report
}

// recordAsync feeds the deepening history, regional learning and the
// archive without delaying the caller. Failures are only logged.
func (r *run) recordAsync(report *model.CMAReport) {
	snapshot := r.sess.Clone()
	bundle := r.bundle
	property := r.input
	level := r.level()
	p := r.p
	log := r.log

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if v := recover(); v != nil {
				log.Error("pipeline: post-analysis recording panicked", zap.Any("panic", v))
			}
		}()
		ctx := r.storeCtx

		if p.archive != nil {
			if err := p.archive.SaveAnalysis(ctx, snapshot); err != nil {
				log.Warn("pipeline: archive analysis failed", zap.Error(err))
			}
		}
		if report == nil {
			return
		}

		if p.deep != nil {
			gaps := deepening.IdentifyDataGaps(report, bundle.Amenities, bundle.Comparables, bundle.Developments)
			if _, err := p.deep.RecordAnalysis(ctx, property, snapshot.ID, snapshot.QualityScore, deepening.LevelLabel(level), gaps); err != nil {
				log.Warn("pipeline: record deepening failed", zap.Error(err))
			}
		}

		if err := p.providers.Learning.RecordLearning(ctx, property, report, bundle.Comparables, snapshot.ID, snapshot.QualityScore); err != nil {
			metrics.ProviderErrors.WithLabelValues(ProviderLearning, "false").Inc()
			log.Warn("pipeline: record learning failed", zap.Error(err))
		}
	}()
}

func (r *run) loadStrategy(ctx context.Context) {
	if r.p.deep == nil {
		return
	}
	strategy, err := r.p.deep.GetDeepeningStrategy(ctx, r.input)
	if err != nil {
		r.log.Warn("pipeline: deepening strategy unavailable", zap.Error(err))
		return
	}
	r.strategy = strategy
	if strategy != nil {
		r.log.Info("pipeline: repeat analysis",
			zap.Int("level", strategy.NextLevel),
			zap.Strings("focus_areas", strategy.FocusAreas),
		)
	}
}

// level is the deepening level of this analysis.
func (r *run) level() int {
	if r.strategy == nil {
		return 1
	}
	return r.strategy.NextLevel
}

func (r *run) transition(next model.SessionStatus) {
	if !r.sess.Status.CanTransition(next) {
		r.log.Warn("pipeline: illegal status transition",
			zap.String("from", string(r.sess.Status)),
			zap.String("to", string(next)),
		)
		return
	}
	r.sess.Status = next
	r.sess.UpdatedAt = time.Now().UTC()
}

// save writes the full session snapshot.
func (r *run) save() {
	if err := r.p.sessions.Put(r.storeCtx, r.sess); err != nil {
		r.log.Warn("pipeline: save session failed", zap.Error(err))
	}
}

// publish sends the progress message for the step that just ended.
func (r *run) publish() {
	err := r.p.sessions.UpdateProgress(r.storeCtx, model.Progress{
		SessionID:      r.sess.ID,
		CompletedSteps: r.sess.CompletedSteps,
		TotalSteps:     r.sess.TotalSteps,
		CurrentStep:    r.sess.CurrentStep,
	})
	if err != nil {
		r.log.Warn("pipeline: publish progress failed", zap.Error(err))
	}
}

func (r *run) meta() *Meta {
	return &Meta{
		SessionID:      r.sess.ID,
		Status:         r.sess.Status,
		CompletedSteps: r.sess.CompletedSteps,
		TotalSteps:     r.sess.TotalSteps,
		QualityScore:   r.sess.QualityScore,
		CriticalErrors: r.sess.CriticalErrorCount,
		Level:          r.level(),
		Outcomes:       r.outcomes,
	}
}

// QualityScore is the rounded percentage of steps that ran to conclusion.
func QualityScore(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(completed) / float64(total) * 100))
}

func stepErrors(out *StepOutcome) []error {
	errs := make([]error, 0, len(out.Errors)+1)
	if out.Critical != nil {
		errs = append(errs, out.Critical)
	}
	for _, e := range out.Errors {
		errs = append(errs, e)
	}
	return errs
}

func stepErrorText(out *StepOutcome) string {
	if out.Unhandled != nil {
		return out.Unhandled.Error()
	}
	errs := stepErrors(out)
	if len(errs) == 0 {
		return ""
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
