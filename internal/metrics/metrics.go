// Package metrics provides application-level counters using stdlib expvar.
// Counters are exported on the /debug/vars HTTP endpoint served by the API.
package metrics

import "expvar"

// Operation counters.
var (
	VisitsSubmitted        = expvar.NewInt("microplan_visits_submitted_total")
	HotspotsProfiled       = expvar.NewInt("microplan_hotspots_profiled_total")
	Registrations          = expvar.NewInt("microplan_registrations_total")
	DuplicateRegistrations = expvar.NewInt("microplan_duplicate_registrations_total")
	Recommendations        = expvar.NewInt("microplan_recommendations_total")
	RecommendationFailures = expvar.NewInt("microplan_recommendation_failures_total")
	StoreWriteErrors       = expvar.NewInt("microplan_store_write_errors_total")
	OutboxRetried          = expvar.NewInt("microplan_outbox_retried_total")
	UINCollisions          = expvar.NewInt("microplan_uin_collisions_total")
	StockDispensed         = expvar.NewInt("microplan_stock_dispensed_units_total")
)

// Inc increments the given counter by 1.
func Inc(counter *expvar.Int) { counter.Add(1) }

// Add increments the given counter by n.
func Add(counter *expvar.Int, n int) { counter.Add(int64(n)) }
