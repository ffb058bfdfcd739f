package types

// GenerateRequest is the payload for POST /v1/images/memory and
// POST /v1/images/subject. Optional numeric fields are pointers so the
// server can tell "absent" from "zero" and substitute its defaults.
type GenerateRequest struct {
	// Owner of the avatar/subject image and of the generated output.
	// example: u1
	UserID string `json:"user_id" example:"u1"`
	// Content prompt. Required for memory illustrations, ignored for subject.
	// example: riding a bike along the river at dusk
	Prompt string `json:"prompt,omitempty" example:"riding a bike along the river at dusk"`
	// Number of denoising steps.
	// example: 30
	NumInferenceSteps *int `json:"num_inference_steps,omitempty" example:"30"`
	// Influence of the conditioning image (IP-Adapter), 0..1.
	// example: 0.33
	IPAdapterScale *float64 `json:"ip_adapter_scale,omitempty" example:"0.33"`
	// Overrides the service negative prompt.
	// example: blurry, watermark
	NegativePrompt *string `json:"negative_prompt,omitempty" example:"blurry, watermark"`
	// Overrides the service style prompt.
	// example: monochrome, graphic novel illustration
	StylePrompt *string `json:"style_prompt,omitempty" example:"monochrome, graphic novel illustration"`
	// Optional trained adapter to apply.
	// example: 0f8fad5b-d9cb-469f-a165-70867728950e
	LoRAID *string `json:"lora_id,omitempty" example:"0f8fad5b-d9cb-469f-a165-70867728950e"`
	// Classifier-free guidance scale.
	// example: 5
	GuidanceScale *float64 `json:"guidance_scale,omitempty" example:"5"`
	// Seed for reproducible output; 0 or omitted lets the backend choose.
	// example: 42
	Seed *int64 `json:"seed,omitempty" example:"42"`
}

// S3ImageData references one uploaded image.
type S3ImageData struct {
	// example: s3://illustrations/generated/u1/subject_1a2b3c4d.png
	S3URI string `json:"s3_uri" example:"s3://illustrations/generated/u1/subject_1a2b3c4d.png"`
}

// S3ImageResponse is returned by the generation endpoints.
type S3ImageResponse struct {
	Data []S3ImageData `json:"data"`
}

// HealthResponse is returned by GET /health/.
type HealthResponse struct {
	// example: healthy
	Status string `json:"status" example:"healthy"`
	// example: Illustration generation service is ready
	Message string `json:"message" example:"Illustration generation service is ready"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
