package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"orderdocs/internal/batch"
)

type createBatchRequest struct {
	OrderIDs   []string `json:"order_ids"`
	DeadlineMs int64    `json:"deadline_ms"`
}

type createBatchResponse struct {
	BatchID string       `json:"batch_id"`
	Status  batch.Status `json:"status"`
}

type batchResponse struct {
	ID         string             `json:"id"`
	Status     batch.Status       `json:"status"`
	CreatedAt  string             `json:"created_at"`
	OrderIDs   []string           `json:"order_ids"`
	Result     *batch.BatchResult `json:"result,omitempty"`
	ArchiveURL string             `json:"archive_url,omitempty"`
}

type API struct {
	batchManager *batch.Manager
}

func NewAPI(batchManager *batch.Manager) *API {
	return &API{batchManager: batchManager}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/batches", a.CreateBatch)
		api.GET("/batches/:id", a.GetBatch)
		api.GET("/batches/:id/archive", a.DownloadArchive)
	}
}

// CreateBatch validates and submits a batch of order identifiers.
func (a *API) CreateBatch(c *gin.Context) {
	if a.batchManager.IsBusy() {
		log.Warn().Msg("rejecting batch: server is at max concurrency")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server busy"})
		return
	}

	var req createBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn().Err(err).Msg("invalid create batch request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	submitted, err := a.batchManager.Submit(req.OrderIDs, time.Duration(req.DeadlineMs)*time.Millisecond)
	if err != nil {
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, batch.ErrBatchTooLarge):
			status = http.StatusRequestEntityTooLarge
		case errors.Is(err, batch.ErrBusy):
			status = http.StatusServiceUnavailable
		}
		log.Warn().Err(err).Msg("batch rejected")
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	log.Info().Str("batch_id", submitted.ID).Int("orders", len(submitted.OrderIDs)).Msg("batch submitted")
	c.JSON(http.StatusCreated, createBatchResponse{BatchID: submitted.ID, Status: submitted.Status})
}

// GetBatch returns the batch status and, once finished, the per-order ledger.
func (a *API) GetBatch(c *gin.Context) {
	id := c.Param("id")
	if foundBatch, ok := a.batchManager.GetBatch(id); ok {
		c.JSON(http.StatusOK, a.toBatchResponse(foundBatch))
		return
	}
	log.Warn().Str("batch_id", id).Msg("batch not found on get")
	c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
}

// DownloadArchive serves the archive when the batch has finished.
func (a *API) DownloadArchive(c *gin.Context) {
	id := c.Param("id")
	foundBatch, ok := a.batchManager.GetBatch(id)
	if !ok {
		log.Warn().Str("batch_id", id).Msg("batch not found on download")
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	}
	if foundBatch.Status != batch.StatusReady || foundBatch.ArchivePath == "" {
		log.Warn().Str("batch_id", id).Str("status", string(foundBatch.Status)).Msg("archive not ready to download")
		c.JSON(http.StatusBadRequest, gin.H{"error": "archive not ready"})
		return
	}
	log.Info().Str("batch_id", id).Str("path", foundBatch.ArchivePath).Msg("serving archive download")
	c.FileAttachment(foundBatch.ArchivePath, "orders-"+foundBatch.ID+".zip")
}

func (a *API) toBatchResponse(batchEntity *batch.Batch) batchResponse {
	resp := batchResponse{
		ID:        batchEntity.ID,
		Status:    batchEntity.Status,
		CreatedAt: batchEntity.CreatedAt.UTC().Format(time.RFC3339),
		OrderIDs:  batchEntity.OrderIDs,
		Result:    batchEntity.Result,
	}
	if batchEntity.Status == batch.StatusReady {
		resp.ArchiveURL = "/api/v1/batches/" + batchEntity.ID + "/archive"
	}
	return resp
}
