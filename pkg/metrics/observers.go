package metrics

import "time"

// StoreObserver records object store operation telemetry. It satisfies the
// store package's Observer interface.
type StoreObserver struct {
	r *Registry
}

// StoreObserver returns the store telemetry adapter for this registry.
func (r *Registry) StoreObserver() *StoreObserver {
	return &StoreObserver{r: r}
}

// ObserveOperation records one store call's latency and, on failure, a
// connection error.
func (o *StoreObserver) ObserveOperation(op string, duration time.Duration, err error) {
	o.r.StoreLatency.Observe(float64(duration.Milliseconds()))
	if err != nil {
		o.r.StoreConnectionErrors.Inc()
	}
}

// PipelineObserver records path coordinator telemetry. It satisfies the
// syncer package's CoordinatorObserver interface.
type PipelineObserver struct {
	r *Registry
}

// PipelineObserver returns the coordinator telemetry adapter.
func (r *Registry) PipelineObserver() *PipelineObserver {
	return &PipelineObserver{r: r}
}

// InFlightChanged tracks the size of the in-flight set.
func (o *PipelineObserver) InFlightChanged(count int) {
	o.r.FilesInProgress.Set(float64(count))
}

// StaleEvicted counts abandoned in-flight entries that timed out.
func (o *PipelineObserver) StaleEvicted() {
	o.r.ProcessingTimeouts.Inc()
}
