package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/cma-engine/internal/deepening"
	"github.com/sells-group/cma-engine/internal/metrics"
	"github.com/sells-group/cma-engine/internal/model"
)

const maxFindingsPerQuery = 5

// bonusResearch runs extra web searches for high-quality analyses. It
// never fails; errors and panics are logged and the findings may be empty.
func (r *run) bonusResearch(ctx context.Context, score int) (findings []model.ResearchFinding) {
	defer func() {
		if v := recover(); v != nil {
			r.log.Error("pipeline: bonus research panicked", zap.Any("panic", v))
			findings = nil
		}
	}()

	cfg := r.p.cfg
	if !cfg.BonusResearch || score < cfg.BonusMinScore || r.sess.CompletedSteps < cfg.BonusMinSteps {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.StepTimeout)
	defer cancel()

	queries := r.researchQueries(ctx)
	results := make([][]model.ResearchFinding, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			defer func() {
				if v := recover(); v != nil {
					r.log.Error("pipeline: bonus search panicked", zap.String("query", q), zap.Any("panic", v))
				}
			}()
			hits, err := r.p.providers.Search.SearchWeb(gctx, q)
			if err != nil {
				metrics.ProviderErrors.WithLabelValues(ProviderSearch, "false").Inc()
				r.log.Warn("pipeline: bonus search failed", zap.String("query", q), zap.Error(err))
				return nil
			}
			for _, h := range hits[:min(len(hits), maxFindingsPerQuery)] {
				results[i] = append(results[i], model.ResearchFinding{
					Query:   q,
					Title:   h.Title,
					URL:     h.URL,
					Snippet: h.Snippet,
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		findings = append(findings, res...)
	}
	r.log.Info("pipeline: bonus research complete",
		zap.Int("queries", len(queries)),
		zap.Int("findings", len(findings)),
	)
	return findings
}

// researchQueries fills the level's query budget from the deepening
// strategy first, then AI suggestions, then the static list.
func (r *run) researchQueries(ctx context.Context) []string {
	budget := deepening.QueryBudget(r.level(), r.p.cfg.MaxBonusQueries)
	queries := make([]string, 0, budget)
	seen := make(map[string]bool, budget)

	add := func(source string, candidates []string) {
		for _, q := range candidates {
			q = strings.TrimSpace(q)
			if len(queries) == budget {
				return
			}
			if q == "" || seen[strings.ToLower(q)] {
				continue
			}
			seen[strings.ToLower(q)] = true
			queries = append(queries, q)
			metrics.BonusQueries.WithLabelValues(source).Inc()
		}
	}

	if r.strategy != nil {
		add("strategy", r.strategy.AdditionalQueries)
	}
	if len(queries) < budget {
		suggested, err := r.suggestQueries(ctx, budget-len(queries))
		if err != nil {
			r.log.Warn("pipeline: query suggestion failed, using static queries", zap.Error(err))
		} else {
			add("ai", suggested)
		}
	}
	add("static", StaticQueries(r.enhanced))
	return queries
}

// suggestQueries asks the summarizer for n queries, turning a panic into
// an error so the static list takes over.
func (r *run) suggestQueries(ctx context.Context, n int) (queries []string, err error) {
	defer func() {
		if v := recover(); v != nil {
			queries, err = nil, eris.Errorf("pipeline: query suggestion panicked: %v", v)
		}
	}()
	return r.p.providers.Summarizer.SuggestQueries(ctx, r.enhanced, n)
}

// StaticQueries is the fixed research list used when no better queries
// are available.
func StaticQueries(p model.PropertyDescriptor) []string {
	area := strings.TrimSpace(p.City + " " + p.Province)
	kind := p.PropertyType
	if kind == "" {
		kind = "property"
	}
	return []string{
		fmt.Sprintf("%s for sale %s price per square metre", kind, area),
		fmt.Sprintf("%s real estate market report", area),
		fmt.Sprintf("%s new infrastructure and urban planning projects", area),
	}
}
