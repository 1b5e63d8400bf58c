package types

// ---- Pipeline state (retained on "pipeline/state") ----

type PipelineState struct {
	Level  string `json:"level"`  // "disabled", "enabled"
	Status string `json:"status"` // freeform short code
	TS     int64  `json:"ts_ns"`
}

// ---- Batch progress (retained on "pipeline/batch") ----

type BatchPhase string

const (
	BatchIdle     BatchPhase = "idle"
	BatchRunning  BatchPhase = "running"
	BatchFinished BatchPhase = "finished"
)

type BatchStatus struct {
	Phase     BatchPhase `json:"phase"`
	Total     uint32     `json:"total"`
	Decoded   uint32     `json:"decoded"`
	Refreshed uint32     `json:"refreshed"`
	TS        int64      `json:"ts_ns"`
}

// ---- Stage events (non-retained on "pipeline/event/<name>") ----

type StageAbandoned struct {
	Stage    string `json:"stage"` // "decode", "transfer"
	Attempts int    `json:"attempts"`
	Reason   string `json:"reason"`
	TS       int64  `json:"ts_ns"`
}

// ---- Per-pipe introspection ----

type PipeState string

const (
	PipeFree       PipeState = "free"
	PipeUsed       PipeState = "used"
	PipeUsedActive PipeState = "used_active"
)

type PipeStatus struct {
	ID          int          `json:"id"`
	State       PipeState    `json:"state"`
	JobID       string       `json:"job_id,omitempty"`
	Window      UpdateWindow `json:"window"`
	Mode        UpdateMode   `json:"mode"`
	TotalFrames uint32       `json:"total_frames"`
	Decoded     uint32       `json:"decoded"`
	Refreshed   uint32       `json:"refreshed"`
}
