package types

// AdapterStatus summarizes one adapter tracked by the pipeline for /status.
type AdapterStatus struct {
	// example: 0f8fad5b-d9cb-469f-a165-70867728950e
	AdapterID string `json:"adapter_id" example:"0f8fad5b-d9cb-469f-a165-70867728950e"`
	// Name the adapter is registered under inside the pipeline.
	// example: lora_0f8fad5b-d9cb-469f-a165-70867728950e
	Name string `json:"name" example:"lora_0f8fad5b-d9cb-469f-a165-70867728950e"`
	// Storage key the weights were fetched from.
	// example: loras/0f8fad5b-d9cb-469f-a165-70867728950e/lora.safetensors
	SourceKey string `json:"source_key" example:"loras/0f8fad5b-d9cb-469f-a165-70867728950e/lora.safetensors"`
	// Whether the adapter is part of the active set.
	// example: true
	Attached bool `json:"attached" example:"true"`
	// Last time the adapter served a request (unix seconds).
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix" example:"1700000000"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Overall pipeline state (loading, ready, error).
	// example: ready
	State string `json:"state" example:"ready"`
	// Accelerator reported by the backend.
	// example: cuda
	Device string `json:"device,omitempty" example:"cuda"`
	// Where the base model was loaded from.
	// example: stabilityai/stable-diffusion-xl-base-1.0
	ModelSource string `json:"model_source,omitempty" example:"stabilityai/stable-diffusion-xl-base-1.0"`
	// Adapters currently loaded into the pipeline.
	Adapters []AdapterStatus `json:"adapters"`
	// Adapter ids with weights present in the local cache.
	CachedAdapters []string `json:"cached_adapters,omitempty"`
	// Requests waiting for the pipeline.
	// example: 0
	QueueLen int `json:"queue_len" example:"0"`
	// Requests currently holding the pipeline (0 or 1).
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// example: 32
	MaxQueueDepth int `json:"max_queue_depth" example:"32"`
	// Last error observed by the manager (if any).
	Error string `json:"error,omitempty"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Total adapter evictions.
	// example: 2
	EvictionsTotal uint64 `json:"evictions_total" example:"2"`
	// Most recent manager lifecycle events, oldest first.
	RecentEvents []EventStatus `json:"recent_events,omitempty"`
}

// EventStatus is one manager lifecycle event.
type EventStatus struct {
	// example: attach_done
	Name      string `json:"name" example:"attach_done"`
	AdapterID string `json:"adapter_id,omitempty"`
	// Unix seconds.
	// example: 1700000000
	Time   int64          `json:"time" example:"1700000000"`
	Fields map[string]any `json:"fields,omitempty"`
}
