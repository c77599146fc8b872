package metrics

// Wrapper adapts Metrics to the narrow recorder interfaces declared by the
// store, training, prediction, rules, fusion and api packages.
type Wrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *Wrapper {
	return &Wrapper{m: m}
}

// Tenant model store

func (w *Wrapper) CacheHitInc() { w.m.CacheHits.Inc() }
func (w *Wrapper) CacheMissInc() { w.m.CacheMisses.Inc() }
func (w *Wrapper) ModelLoadFailureInc() { w.m.ModelLoadFailures.Inc() }
func (w *Wrapper) CachedModelsSet(n float64) { w.m.CachedModels.Set(n) }

// Training

func (w *Wrapper) TrainingInc() { w.m.TrainingsTotal.Inc() }
func (w *Wrapper) TrainingFailureInc() { w.m.TrainingFailures.Inc() }

func (w *Wrapper) TrainingDurationObserve(seconds float64) {
	w.m.TrainingDuration.Observe(seconds)
}

func (w *Wrapper) ModelAccuracyObserve(v float64) {
	w.m.ModelAccuracy.Observe(v)
}

// Prediction

func (w *Wrapper) PredictionInc() { w.m.PredictionsTotal.Inc() }
func (w *Wrapper) PredictionFailureInc() { w.m.PredictionFailures.Inc() }

func (w *Wrapper) PredictionLatencyObserve(seconds float64) {
	w.m.PredictionLatency.Observe(seconds)
}

func (w *Wrapper) PredictionScoreObserve(p float64) {
	w.m.PredictionScores.Observe(p)
}

// Expert rules

func (w *Wrapper) RuleEvaluationInc() { w.m.RuleEvaluations.Inc() }

func (w *Wrapper) RuleMatchInc(rule string) {
	w.m.RuleMatches.WithLabelValues(rule).Inc()
}

// Fusion

func (w *Wrapper) DetectionInc(decision string) {
	w.m.Detections.WithLabelValues(decision).Inc()
}

// HTTP surface

func (w *Wrapper) ErrorsInc() { w.m.ErrorsTotal.Inc() }
func (w *Wrapper) StreamsAdd(delta float64) { w.m.ActiveStreams.Add(delta) }

func (w *Wrapper) ErrorRate() float64 {
	return w.m.GetErrorRate()
}
