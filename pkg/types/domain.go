package types

// TrainLoRARequest is the payload for POST /v1/images/train-lora.
type TrainLoRARequest struct {
	// example: u1
	UserID string `json:"user_id" example:"u1"`
	// Prefix (or s3://bucket/prefix URI) holding the training photos.
	// example: s3://illustrations/training/u1/
	TrainingImagesS3Path string `json:"training_images_s3_path" example:"s3://illustrations/training/u1/"`
	// Optional human-readable name.
	// example: grandma
	LoRAName *string `json:"lora_name,omitempty" example:"grandma"`
	// example: 0.0001
	LearningRate *float64 `json:"learning_rate,omitempty" example:"0.0001"`
	// example: 100
	NumTrainEpochs *int `json:"num_train_epochs,omitempty" example:"100"`
	// example: 16
	LoRARank *int `json:"lora_rank,omitempty" example:"16"`
	// example: 32
	LoRAAlpha *int `json:"lora_alpha,omitempty" example:"32"`
}

// TrainLoRAResponse is returned when a training job is accepted.
type TrainLoRAResponse struct {
	// example: 7c9e6679-7425-40de-944b-e07fc1f90ae7
	JobID string `json:"job_id" example:"7c9e6679-7425-40de-944b-e07fc1f90ae7"`
	// example: pending
	Status string `json:"status" example:"pending"`
	// example: 0f8fad5b-d9cb-469f-a165-70867728950e
	LoRAID string `json:"lora_id,omitempty" example:"0f8fad5b-d9cb-469f-a165-70867728950e"`
}

// TrainingJobStatus is returned by GET /v1/images/train-lora/{job_id}.
type TrainingJobStatus struct {
	// example: 7c9e6679-7425-40de-944b-e07fc1f90ae7
	JobID string `json:"job_id" example:"7c9e6679-7425-40de-944b-e07fc1f90ae7"`
	// One of pending, running, completed, failed.
	// example: completed
	Status string `json:"status" example:"completed"`
	// example: 0f8fad5b-d9cb-469f-a165-70867728950e
	LoRAID string `json:"lora_id,omitempty" example:"0f8fad5b-d9cb-469f-a165-70867728950e"`
	// example: s3://illustrations/loras/0f8fad5b-d9cb-469f-a165-70867728950e/lora.safetensors
	LoRAS3URI string `json:"lora_s3_uri,omitempty" example:"s3://illustrations/loras/0f8fad5b-d9cb-469f-a165-70867728950e/lora.safetensors"`
	// Set when status is failed.
	ErrorMessage string `json:"error_message,omitempty"`
}
