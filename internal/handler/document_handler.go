package handler

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-chat-search-rag/internal/domain"
	"github.com/arturoeanton/go-chat-search-rag/internal/service"
)

const embeddingStreamTimeout = 5 * time.Minute

// DocumentHandler handles document upload, listing and embedding progress.
type DocumentHandler struct {
	documents *service.DocumentService
}

// NewDocumentHandler creates a new document handler.
func NewDocumentHandler(documents *service.DocumentService) *DocumentHandler {
	return &DocumentHandler{documents: documents}
}

// Register sets up document routes. Every route needs an authenticated caller.
func (h *DocumentHandler) Register(router fiber.Router) {
	docs := router.Group("/documents", requireUser)
	docs.Post("/upload", h.Upload)
	docs.Post("/", h.Attach)
	docs.Get("/", h.List)
	docs.Post("/cleanup", h.Cleanup)
	docs.Delete("/:id", h.Delete)
	docs.Get("/:id/embedding", h.EmbeddingStatus)
	docs.Get("/:id/embedding/stream", h.StreamEmbedding)
}

// Upload ingests a multipart file.
func (h *DocumentHandler) Upload(c fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "no file provided")
	}
	f, err := file.Open()
	if err != nil {
		return respondError(c, fmt.Errorf("open upload: %w", err))
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return respondError(c, fmt.Errorf("read upload: %w", err))
	}

	conversationID := c.Query("conversation_id")
	if conversationID == "" {
		conversationID = c.FormValue("conversation_id")
	}

	doc, err := h.documents.Upload(c.Context(), service.UploadInput{
		Filename:       file.Filename,
		ContentType:    file.Header.Get("Content-Type"),
		Data:           data,
		Owner:          owner(c),
		ConversationID: conversationID,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"document_id":  doc.ID,
		"filename":     doc.Filename,
		"content_type": doc.ContentType,
		"chunk_count":  doc.ChunkCount,
		"expires_at":   doc.ExpiresAt,
	})
}

// Attach saves a document reference on a conversation.
func (h *DocumentHandler) Attach(c fiber.Ctx) error {
	var req struct {
		ConversationID string `json:"conversation_id"`
		DocumentID     string `json:"document_id"`
		Filename       string `json:"filename"`
		ContentType    string `json:"content_type"`
	}
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.DocumentID == "" || req.ConversationID == "" {
		return badRequest(c, "conversation_id and document_id are required")
	}

	if err := h.documents.Attach(c.Context(), owner(c), req.DocumentID, req.ConversationID, req.Filename, req.ContentType); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"document_id": req.DocumentID, "conversation_id": req.ConversationID})
}

// List returns the caller's documents, optionally for one conversation.
func (h *DocumentHandler) List(c fiber.Ctx) error {
	docs, err := h.documents.List(c.Context(), owner(c), c.Query("conversation_id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"documents": docs, "count": len(docs)})
}

// Delete removes one document and its chunks.
func (h *DocumentHandler) Delete(c fiber.Ctx) error {
	if err := h.documents.Delete(c.Context(), owner(c), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Cleanup deletes expired documents immediately.
func (h *DocumentHandler) Cleanup(c fiber.Ctx) error {
	n, err := h.documents.Cleanup(c.Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"deleted": n})
}

// EmbeddingStatus returns the document's embedding job.
func (h *DocumentHandler) EmbeddingStatus(c fiber.Ctx) error {
	job, err := h.documents.EmbeddingStatus(c.Context(), owner(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(job)
}

// StreamEmbedding streams embedding progress via Server-Sent Events until the job ends.
func (h *DocumentHandler) StreamEmbedding(c fiber.Ctx) error {
	id := c.Params("id")
	job, err := h.documents.EmbeddingStatus(c.Context(), owner(c), id)
	if err != nil {
		return respondError(c, err)
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	queue := h.documents.Queue()
	if job.Done() || queue == nil {
		return c.SendString(jobEvent(job))
	}

	ch := queue.Subscribe(id)
	// The job may have finished between the status read and the subscription.
	if latest, ok := queue.Status(id); ok {
		job = latest
	}

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer queue.Unsubscribe(id, ch)

		w.WriteString(jobEvent(job))
		if err := w.Flush(); err != nil || job.Done() {
			return
		}

		timeout := time.After(embeddingStreamTimeout)
		for {
			select {
			case update, ok := <-ch:
				if !ok {
					return
				}
				w.WriteString(jobEvent(update))
				if err := w.Flush(); err != nil || update.Done() {
					return
				}
			case <-timeout:
				fmt.Fprintf(w, "event: timeout\ndata: {\"error\":\"timeout\"}\n\n")
				w.Flush()
				return
			}
		}
	})
}

// jobEvent renders a job update; terminal states use their status as the event name.
func jobEvent(job domain.EmbeddingJob) string {
	data, _ := json.Marshal(job)
	event := "progress"
	if job.Done() {
		event = job.Status
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)
}
