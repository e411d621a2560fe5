package health

import (
	"context"
	"time"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates that a signature backend is down but another still serves.
	Degraded Status = "degraded"
	// Unhealthy indicates that uploads cannot be decided.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// DefaultCheckTimeout bounds each component check.
const DefaultCheckTimeout = 5 * time.Second

// Report aggregates health check results. Corpus holds the item count of
// every reachable reference store, keyed by its embedding space.
type Report struct {
	Status Status
	Checks map[string]CheckResult
	Corpus map[string]int
}

// Service coordinates health checks.
type Service struct {
	stores   []ReferenceStore
	backends []BackendChecker
	timeout  time.Duration
}

// New creates a Service. Stores are reported as "database:<space>",
// backends under their Name.
func New(stores []ReferenceStore, backends ...BackendChecker) *Service {
	return &Service{stores: stores, backends: backends, timeout: DefaultCheckTimeout}
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult, len(s.stores)+len(s.backends))
	corpus := make(map[string]int, len(s.stores))

	dbOK := true
	for _, st := range s.stores {
		space := st.Space().String()
		var n int
		ok := s.run(ctx, func(ctx context.Context) error {
			if err := st.Ping(ctx); err != nil {
				return err
			}
			var err error
			n, err = st.Count(ctx)
			return err
		})
		checks["database:"+space] = result(ok)
		if !ok {
			dbOK = false
			continue
		}
		corpus[space] = n
	}

	up := 0
	for _, b := range s.backends {
		ok := s.run(ctx, b.HealthCheck)
		checks["backend:"+b.Name()] = result(ok)
		if ok {
			up++
		}
	}

	status := Healthy
	switch {
	case !dbOK || len(s.stores) == 0 || (len(s.backends) > 0 && up == 0):
		status = Unhealthy
	case up < len(s.backends):
		status = Degraded
	}

	return Report{Status: status, Checks: checks, Corpus: corpus}
}

func (s *Service) run(ctx context.Context, fn func(context.Context) error) bool {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return fn(ctx) == nil
}

func result(ok bool) CheckResult {
	if ok {
		return CheckOK
	}
	return CheckError
}
