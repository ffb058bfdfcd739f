package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"illustrationd/internal/training"
	"illustrationd/pkg/types"
)

// startTraining queues an adapter training job.
//
// @Summary      Start adapter training
// @Description  Queues a LoRA training job on the images under training_images_s3_path and returns immediately.
// @Tags         training
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      types.TrainLoRARequest  true  "Training parameters"
// @Success      202   {object}  types.TrainLoRAResponse
// @Failure      400   {object}  types.ErrorResponse
// @Failure      401   {object}  types.ErrorResponse
// @Failure      415   {object}  types.ErrorResponse
// @Failure      422   {object}  types.ErrorResponse
// @Failure      429   {object}  types.ErrorResponse
// @Router       /v1/images/train-lora [post]
func (h *handlers) startTraining(w http.ResponseWriter, r *http.Request) {
	if h.opts.Training == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "training is not configured")
		return
	}
	var in types.TrainLoRARequest
	if !h.decodeJSON(w, r, &in) {
		return
	}
	req := training.StartRequest{
		UserID:         in.UserID,
		ImagesPath:     in.TrainingImagesS3Path,
		LearningRate:   in.LearningRate,
		NumTrainEpochs: in.NumTrainEpochs,
		LoRARank:       in.LoRARank,
		LoRAAlpha:      in.LoRAAlpha,
	}
	if in.LoRAName != nil {
		req.LoRAName = *in.LoRAName
	}
	job, err := h.opts.Training.Start(r.Context(), req)
	if err != nil {
		h.fail(w, r, err, "training")
		return
	}
	writeJSON(w, http.StatusAccepted, types.TrainLoRAResponse{
		JobID:  job.JobID,
		Status: string(job.Status),
		LoRAID: job.LoRAID,
	})
}

// trainingStatus reports one training job.
//
// @Summary      Training job status
// @Tags         training
// @Produce      json
// @Security     BearerAuth
// @Param        job_id  path      string  true  "Job id"
// @Success      200     {object}  types.TrainingJobStatus
// @Failure      401     {object}  types.ErrorResponse
// @Failure      404     {object}  types.ErrorResponse
// @Router       /v1/images/train-lora/{job_id} [get]
func (h *handlers) trainingStatus(w http.ResponseWriter, r *http.Request) {
	if h.opts.Training == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "training is not configured")
		return
	}
	job, err := h.opts.Training.Status(r.Context(), chi.URLParam(r, "job_id"))
	if training.IsJobNotFound(err) {
		writeJSONError(w, http.StatusNotFound, "training job not found")
		return
	}
	if err != nil {
		h.fail(w, r, err, "training")
		return
	}
	writeJSON(w, http.StatusOK, types.TrainingJobStatus{
		JobID:        job.JobID,
		Status:       string(job.Status),
		LoRAID:       job.LoRAID,
		LoRAS3URI:    job.S3URI,
		ErrorMessage: job.ErrorMessage,
	})
}
