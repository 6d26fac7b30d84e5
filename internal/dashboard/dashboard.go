// Package dashboard assembles the supervisor view from every collection.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/microplan/internal/aggregate"
	"github.com/ajitpratap0/microplan/internal/classifier"
	"github.com/ajitpratap0/microplan/internal/models"
	"github.com/ajitpratap0/microplan/internal/stock"
	"github.com/ajitpratap0/microplan/internal/store"
)

// Filter narrows the dashboard. Empty fields, and Ward "All", match everything.
type Filter struct {
	Ward     string           `json:"ward"`
	Risk     models.RiskLevel `json:"risk,omitempty"`
	Typology string           `json:"typology,omitempty"`
}

// VisitSummary aggregates outreach visits.
type VisitSummary struct {
	Total                  int            `json:"total"`
	ByRisk                 map[string]int `json:"byRisk"`
	RiskPercentages        map[string]int `json:"riskPercentages"`
	Filtered               int            `json:"filtered"`
	CommoditiesDistributed int            `json:"commoditiesDistributed"`
	ClinicRegistrationRate int            `json:"clinicRegistrationRate"`
	FlagCounts             map[string]int `json:"flagCounts"`
}

// HotspotSummary aggregates hotspot profiles.
type HotspotSummary struct {
	Total               int            `json:"total"`
	ByTypology          map[string]int `json:"byTypology"`
	TypologyPercentages map[string]int `json:"typologyPercentages"`
	Filtered            int            `json:"filtered"`
	ByPriority          map[string]int `json:"byPriority"`
	ByWard              map[string]int `json:"byWard"`
	EstimatedPopulation int            `json:"estimatedPopulation"`
}

// RegistrySummary aggregates the key-population registry.
type RegistrySummary struct {
	Total               int                        `json:"total"`
	ByKPType            map[string]int             `json:"byKpType"`
	PendingVerification int                        `json:"pendingVerification"`
	Caseload            []classifier.CaseloadAlert `json:"caseload"`
}

// Summary is the full dashboard.
type Summary struct {
	Filter      Filter          `json:"filter"`
	Wards       []string        `json:"wards"`
	Visits      VisitSummary    `json:"visits"`
	Hotspots    HotspotSummary  `json:"hotspots"`
	Registry    RegistrySummary `json:"registry"`
	Stock       []stock.Line    `json:"stock"`
	GeneratedAt time.Time       `json:"generatedAt"`
}

// Data is the raw input of a dashboard.
type Data struct {
	Visits   []models.OutreachVisit
	Hotspots []models.HotspotProfile
	Registry []models.KPRecord
	Stock    []models.StockItem
}

// Builder fetches collections and summarises them.
type Builder struct {
	store      store.Store
	classifier *classifier.Classifier
	lowRatio   float64
	logger     *slog.Logger
}

// New creates a dashboard builder. lowRatio <= 0 selects stock.DefaultLowRatio.
func New(st store.Store, cls *classifier.Classifier, lowRatio float64, logger *slog.Logger) *Builder {
	if lowRatio <= 0 {
		lowRatio = stock.DefaultLowRatio
	}
	return &Builder{store: st, classifier: cls, lowRatio: lowRatio, logger: logger}
}

// Load fetches all four collections concurrently.
func (b *Builder) Load(ctx context.Context) (*Data, error) {
	var d Data
	g, gctx := errgroup.WithContext(ctx)
	fetch := func(collection string, decode func([]store.Document)) {
		g.Go(func() error {
			docs, err := store.Fetch(gctx, b.store, store.Query{Collection: collection})
			if err != nil {
				return fmt.Errorf("fetching %s: %w", collection, err)
			}
			decode(docs)
			return nil
		})
	}
	fetch(store.CollectionOutreachVisits, func(docs []store.Document) { d.Visits = store.DecodeOutreachVisits(docs, b.logger) })
	fetch(store.CollectionHotspotProfiles, func(docs []store.Document) { d.Hotspots = store.DecodeHotspots(docs, b.logger) })
	fetch(store.CollectionKPRegistry, func(docs []store.Document) { d.Registry = store.DecodeKPRecords(docs, b.logger) })
	fetch(store.CollectionStockItems, func(docs []store.Document) { d.Stock = store.DecodeStockItems(docs, b.logger) })
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Build loads every collection and summarises it under f.
func (b *Builder) Build(ctx context.Context, f Filter) (*Summary, error) {
	start := time.Now()
	d, err := b.Load(ctx)
	if err != nil {
		return nil, err
	}
	s := Summarize(b.classifier, b.lowRatio, f, *d)
	b.logger.Debug("dashboard built", "ward", f.Ward, "visits", s.Visits.Total, "hotspots", s.Hotspots.Total, "elapsed", time.Since(start))
	return &s, nil
}

func inWard(ward, want string) bool {
	return want == "" || want == aggregate.AllWards || ward == want
}

// Summarize computes the dashboard from already loaded data.
func Summarize(cls *classifier.Classifier, lowRatio float64, f Filter, d Data) Summary {
	s := Summary{Filter: f, GeneratedAt: time.Now().UTC()}
	if s.Filter.Ward == "" {
		s.Filter.Ward = aggregate.AllWards
	}

	s.Wards = mergeWards(
		aggregate.Wards(d.Visits, func(v models.OutreachVisit) string { return v.Ward }),
		aggregate.Wards(d.Hotspots, func(h models.HotspotProfile) string { return h.Ward }),
		aggregate.Wards(d.Registry, func(k models.KPRecord) string { return k.Ward }),
	)

	s.Visits = summarizeVisits(cls, f, d.Visits)
	s.Hotspots = summarizeHotspots(f, d.Hotspots)
	s.Registry = summarizeRegistry(cls, f, d.Registry)
	s.Stock = stock.Lines(d.Stock, lowRatio)
	sort.Slice(s.Stock, func(i, j int) bool { return s.Stock[i].Name < s.Stock[j].Name })
	return s
}

func summarizeVisits(cls *classifier.Classifier, f Filter, visits []models.OutreachVisit) VisitSummary {
	res := aggregate.Aggregate(visits, aggregate.Options[models.OutreachVisit]{
		Ward:         f.Ward,
		WardOf:       func(v models.OutreachVisit) string { return v.Ward },
		CategoriesOf: func(v models.OutreachVisit) []string { return []string{string(v.RiskLevel)} },
		Category:     string(f.Risk),
	})
	inScope := aggregate.Filter(visits, func(v models.OutreachVisit) bool { return inWard(v.Ward, f.Ward) })

	registered := aggregate.SumBy(inScope, func(v models.OutreachVisit) int {
		if v.IsRegisteredAtClinic {
			return 1
		}
		return 0
	})
	flags := map[string]int{}
	for _, v := range inScope {
		for _, fl := range cls.OutreachFlags(v) {
			flags[fl]++
		}
	}
	return VisitSummary{
		Total:                  res.Total,
		ByRisk:                 res.ByCategory,
		RiskPercentages:        res.Percentages,
		Filtered:               len(res.Filtered),
		CommoditiesDistributed: aggregate.SumBy(inScope, func(v models.OutreachVisit) int { return v.Commodities.Total() }),
		ClinicRegistrationRate: aggregate.Percent(registered, len(inScope)),
		FlagCounts:             flags,
	}
}

func summarizeHotspots(f Filter, hotspots []models.HotspotProfile) HotspotSummary {
	res := aggregate.Aggregate(hotspots, aggregate.Options[models.HotspotProfile]{
		Ward:         f.Ward,
		WardOf:       func(h models.HotspotProfile) string { return h.Ward },
		CategoriesOf: func(h models.HotspotProfile) []string { return h.Typology },
		Category:     f.Typology,
	})
	inScope := aggregate.Filter(hotspots, func(h models.HotspotProfile) bool { return inWard(h.Ward, f.Ward) })
	return HotspotSummary{
		Total:               res.Total,
		ByTypology:          res.ByCategory,
		TypologyPercentages: res.Percentages,
		Filtered:            len(res.Filtered),
		ByPriority:          aggregate.CountBy(inScope, func(h models.HotspotProfile) string { return string(h.PriorityLevel) }),
		// Geographic status always covers every ward.
		ByWard:              aggregate.CountBy(hotspots, func(h models.HotspotProfile) string { return h.Ward }),
		EstimatedPopulation: aggregate.SumBy(inScope, func(h models.HotspotProfile) int { return h.TotalPopulation() }),
	}
}

func summarizeRegistry(cls *classifier.Classifier, f Filter, recs []models.KPRecord) RegistrySummary {
	inScope := aggregate.Filter(recs, func(k models.KPRecord) bool { return inWard(k.Ward, f.Ward) })
	byType := aggregate.CountBy(inScope, func(k models.KPRecord) string { return string(k.KPType) })

	counts := make(map[models.KPType]int, len(byType))
	for k, n := range byType {
		counts[models.KPType(k)] = n
	}
	return RegistrySummary{
		Total:    len(inScope),
		ByKPType: byType,
		PendingVerification: aggregate.SumBy(inScope, func(k models.KPRecord) int {
			if k.VerificationStatus == models.VerificationPending {
				return 1
			}
			return 0
		}),
		Caseload: cls.Caseload(counts),
	}
}

func mergeWards(lists ...[]string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, l := range lists {
		for _, w := range l {
			if !seen[w] {
				seen[w] = true
				out = append(out, w)
			}
		}
	}
	sort.Strings(out)
	return out
}
