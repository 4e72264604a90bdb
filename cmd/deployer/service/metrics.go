package service

import "time"

// Recorder receives engine outcomes; telemetry.Metrics satisfies it
type Recorder interface {
	IncPromotion(env, outcome string)
	IncFlow(env, result string)
	IncRollback(env, outcome string)
	ObserveDuration(operation string, start time.Time)
}

type nopRecorder struct{}

func (nopRecorder) IncPromotion(string, string)       {}
func (nopRecorder) IncFlow(string, string)            {}
func (nopRecorder) IncRollback(string, string)        {}
func (nopRecorder) ObserveDuration(string, time.Time) {}

func orNop(r Recorder) Recorder {
	if r == nil {
		return nopRecorder{}
	}
	return r
}
