package session

import "time"

// Recorder accumulates events for one run and persists the file when
// the run finishes. A nil *Recorder is valid and records nothing, so
// callers can wire it unconditionally.
type Recorder struct {
	run   *Run
	store *FileStore
}

// NewRecorder starts a run record. The file is written on Finish.
func NewRecorder(store *FileStore, mode, query string) *Recorder {
	if store == nil {
		return nil
	}
	return &Recorder{
		store: store,
		run: &Run{
			ID:        generateID(),
			Mode:      mode,
			Query:     query,
			Status:    StatusRunning,
			Events:    []Event{},
			StartedAt: time.Now(),
		},
	}
}

// RunID returns the run's identifier, or "" on a nil recorder.
func (r *Recorder) RunID() string {
	if r == nil {
		return ""
	}
	return r.run.ID
}

// Decompose records the decomposition outcome.
func (r *Recorder) Decompose(planID string, stepCount int, err error) {
	if r == nil {
		return
	}
	r.run.PlanID = planID
	ev := Event{Type: EventDecompose, Step: stepCount, Content: planID}
	if err != nil {
		ev.Error = err.Error()
		ev.Success = boolPtr(false)
	} else {
		ev.Success = boolPtr(true)
	}
	r.run.AddEvent(ev)
}

// LLMCall records one model round trip.
func (r *Recorder) LLMCall(model string, latency time.Duration, tokensIn, tokensOut int, cacheHitRate *float64, err error) {
	if r == nil {
		return
	}
	ev := Event{
		Type:         EventLLMCall,
		Model:        model,
		DurationMs:   latency.Milliseconds(),
		TokensIn:     tokensIn,
		TokensOut:    tokensOut,
		CacheHitRate: cacheHitRate,
	}
	if err != nil {
		ev.Error = err.Error()
		ev.Success = boolPtr(false)
	}
	r.run.AddEvent(ev)
}

// StepStart records a plan step being picked up.
func (r *Recorder) StepStart(stepNr int, skill string) {
	if r == nil {
		return
	}
	r.run.AddEvent(Event{Type: EventStepStart, Step: stepNr, Skill: skill})
}

// StepEnd records a step reaching a terminal status.
func (r *Recorder) StepEnd(stepNr int, skill, status, result string, d time.Duration) {
	if r == nil {
		return
	}
	r.run.AddEvent(Event{
		Type:       EventStepEnd,
		Step:       stepNr,
		Skill:      skill,
		Content:    result,
		Success:    boolPtr(status == "completed"),
		DurationMs: d.Milliseconds(),
	})
}

// SkillCall records a subprocess invocation.
func (r *Recorder) SkillCall(stepNr int, skill, command string, success bool, errMsg, stderr string, d time.Duration) {
	if r == nil {
		return
	}
	r.run.AddEvent(Event{
		Type:       EventSkillCall,
		Step:       stepNr,
		Skill:      skill,
		Command:    command,
		Content:    stderr,
		Success:    boolPtr(success),
		Error:      errMsg,
		DurationMs: d.Milliseconds(),
	})
}

// Finish closes the run and writes the file. Returns the Save error so
// the caller can log it; the run outcome itself is unaffected.
func (r *Recorder) Finish(output string, runErr error) error {
	if r == nil {
		return nil
	}
	r.run.AddEvent(Event{Type: EventFinal, Content: output})
	r.run.Output = output
	r.run.EndedAt = time.Now()
	if runErr != nil {
		r.run.Status = StatusFailed
		r.run.Error = runErr.Error()
	} else {
		r.run.Status = StatusComplete
	}
	return r.store.Save(r.run)
}

func boolPtr(b bool) *bool { return &b }
