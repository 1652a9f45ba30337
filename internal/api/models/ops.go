package models

// Health represents the liveness or readiness of the bridge.
type Health struct {
	Status  HealthStatus           `json:"status"`
	Time    Timestamp              `json:"time"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SystemStatus is the body of GET /v1/ops/status.
type SystemStatus struct {
	Status     HealthStatus      `json:"status"`
	Time       Timestamp         `json:"time"`
	Sync       SyncStatus        `json:"sync"`
	Subsystems []SubsystemStatus `json:"subsystems"`
}

// SyncStatus summarizes the sync loop.
type SyncStatus struct {
	CollectionPath      string     `json:"collectionPath"`
	OutputPath          string     `json:"outputPath"`
	TotalCycles         int64      `json:"totalCycles"`
	WrittenCycles       int64      `json:"writtenCycles"`
	EmptyCycles         int64      `json:"emptyCycles"`
	FailedCycles        int64      `json:"failedCycles"`
	ConsecutiveFailures int64      `json:"consecutiveFailures"`
	LastCycleAt         *Timestamp `json:"lastCycleAt,omitempty"`
	LastSuccessAt       *Timestamp `json:"lastSuccessAt,omitempty"`
	LastOutcome         string     `json:"lastOutcome,omitempty"`
	LastRows            int        `json:"lastRows"`
	LastDurationMs      int64      `json:"lastDurationMs"`
	LastError           *string    `json:"lastError,omitempty"`
	LastErrorKind       *string    `json:"lastErrorKind,omitempty"`
}

// SubsystemStatus represents the status of a dependency such as the store.
type SubsystemStatus struct {
	Name          string       `json:"name"`
	Status        HealthStatus `json:"status"`
	CircuitState  string       `json:"circuitState,omitempty"`
	LastSuccessAt *Timestamp   `json:"lastSuccessAt,omitempty"`
	LastFailureAt *Timestamp   `json:"lastFailureAt,omitempty"`
	Detail        *string      `json:"detail,omitempty"`
}
