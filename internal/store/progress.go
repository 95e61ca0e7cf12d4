package store

// StageProgress is a read-model row derived from the event log: one entry
// per stage the run has touched, suitable for timeline rendering. It is
// never persisted; rebuild it from ListEvents.
type StageProgress struct {
	RunID       string
	Stage       string
	Status      string
	Seq         int64
	StartedAt   string
	CompletedAt string
	Error       string
	Provider    string
	Degraded    bool
	GateAction  string
	GateStatus  string
}

// BuildStageTimeline folds an ordered event slice into per-stage progress
// rows, preserving first-seen stage order.
func BuildStageTimeline(events []RunEvent) []StageProgress {
	order := []string{}
	byStage := map[string]StageProgress{}

	upsert := func(stage string, apply func(progress *StageProgress)) {
		if stage == "" {
			return
		}
		progress, ok := byStage[stage]
		if !ok {
			progress = StageProgress{Stage: stage}
			order = append(order, stage)
		}
		apply(&progress)
		byStage[stage] = progress
	}

	for _, event := range events {
		event := event
		switch event.Kind {
		case EventStageStarted:
			upsert(event.Stage, func(progress *StageProgress) {
				progress.RunID = event.RunID
				progress.Status = "running"
				progress.Seq = event.Seq
				progress.StartedAt = event.Timestamp
			})
		case EventStageCompleted:
			upsert(event.Stage, func(progress *StageProgress) {
				progress.RunID = event.RunID
				progress.Status = "completed"
				progress.CompletedAt = event.Timestamp
				if provider := firstString(event.Payload, "provider"); provider != "" {
					progress.Provider = provider
				}
				if firstBool(event.Payload, "degraded") {
					progress.Degraded = true
				}
			})
		case EventApprovalRequested, EventCaptchaDetected:
			upsert(event.Stage, func(progress *StageProgress) {
				progress.RunID = event.RunID
				if progress.Status == "" || progress.Status == "running" {
					progress.Status = "waiting"
				}
				progress.GateAction = event.Action
				progress.GateStatus = event.ApprovalStatus
			})
		case EventApprovalResolved:
			upsert(event.Stage, func(progress *StageProgress) {
				progress.RunID = event.RunID
				progress.GateAction = event.Action
				progress.GateStatus = firstString(event.Payload, "decision")
				if progress.Status == "waiting" {
					progress.Status = "running"
				}
			})
		case EventError:
			upsert(event.Stage, func(progress *StageProgress) {
				progress.RunID = event.RunID
				progress.Status = "failed"
				progress.Error = firstString(event.Payload, "error")
				progress.CompletedAt = event.Timestamp
			})
		case EventBlocked:
			upsert(event.Stage, func(progress *StageProgress) {
				progress.RunID = event.RunID
				progress.Status = "blocked"
				if detail := firstString(event.Payload, "detail", "reason"); detail != "" {
					progress.Error = detail
				}
				progress.CompletedAt = event.Timestamp
			})
		}
	}

	timeline := make([]StageProgress, 0, len(order))
	for _, stage := range order {
		timeline = append(timeline, byStage[stage])
	}
	return timeline
}
