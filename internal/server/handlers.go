package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/corpuslabs/corpusd/internal/ollama"
	"github.com/corpuslabs/corpusd/internal/pipeline"
	"github.com/corpuslabs/corpusd/internal/retrieval"
	"github.com/corpuslabs/corpusd/internal/store"
)

const answerPrompt = `Use the following context to answer the question. If the answer is not in the context, say that the document does not contain it.

Context:
%s

Question: %s

Answer:`

const noContextAnswer = "No relevant information was found in the selected documents."

func buildAnswerPrompt(context, question string) string {
	return fmt.Sprintf(answerPrompt, context, question)
}

// UploadResponse is the body returned by POST /api/documents.
type UploadResponse struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
}

// SearchResponse is the body returned by GET /api/search.
type SearchResponse struct {
	Query   string                `json:"query"`
	Results []retrieval.Candidate `json:"results"`
	Count   int                   `json:"count"`
}

// AskRequest is the body for POST /api/ask.
type AskRequest struct {
	DocumentID string `json:"document_id"`
	Question   string `json:"question"`
}

// AskResponse is the body returned by POST /api/ask.
type AskResponse struct {
	Answer  string                `json:"answer"`
	Sources []retrieval.Candidate `json:"sources"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field 'file' is required")
	}
	if !s.formats.Supported(fileHeader.Filename) {
		return echo.NewHTTPError(http.StatusUnsupportedMediaType,
			"unsupported file format: "+filepath.Ext(fileHeader.Filename))
	}
	if max := s.cfg.Ingest.MaxFileSize; max > 0 && fileHeader.Size > max {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			"file exceeds maximum size of "+strconv.FormatInt(max, 10)+" bytes")
	}

	id := uuid.NewString()
	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	dst := filepath.Join(s.cfg.Ingest.UploadDir, id+ext)
	if err := saveUpload(fileHeader, dst); err != nil {
		s.logger.Error("saving upload", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "could not store uploaded file")
	}

	doc := &store.Document{
		ID:       id,
		Filename: fileHeader.Filename,
		FilePath: dst,
		Format:   ext,
	}
	if err := s.docs.Create(c.Request().Context(), doc); err != nil {
		_ = os.Remove(dst)
		s.logger.Error("creating document record", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "could not create document")
	}

	if err := s.queue.Enqueue(pipeline.Job{DocumentID: id, Path: dst}); err != nil {
		_ = s.docs.Delete(c.Request().Context(), id)
		_ = os.Remove(dst)
		if errors.Is(err, pipeline.ErrQueueFull) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "ingestion queue is full, retry later")
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, "ingestion is not accepting jobs")
	}

	return c.JSON(http.StatusAccepted, UploadResponse{
		ID:       id,
		Filename: fileHeader.Filename,
		Status:   store.StatusProcessing,
	})
}

func saveUpload(fileHeader *multipart.FileHeader, dst string) error {
	src, err := fileHeader.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, src)
	return err
}

func (s *Server) handleListDocuments(c echo.Context) error {
	docs, err := s.docs.List(c.Request().Context())
	if err != nil {
		s.logger.Error("listing documents", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "could not list documents")
	}
	return c.JSON(http.StatusOK, docs)
}

func (s *Server) handleGetDocument(c echo.Context) error {
	doc, err := s.docs.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "document not found")
	}
	if err != nil {
		s.logger.Error("getting document", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "could not load document")
	}
	return c.JSON(http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	doc, err := s.docs.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "document not found")
	}
	if err != nil {
		s.logger.Error("getting document", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "could not load document")
	}

	if err := s.vectors.DeleteDocument(ctx, id); err != nil {
		s.logger.Error("deleting document vectors", zap.String("document_id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "could not delete document chunks")
	}
	if err := s.docs.Delete(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("deleting document record", zap.String("document_id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "could not delete document")
	}
	if err := os.Remove(doc.FilePath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("removing uploaded file", zap.String("path", doc.FilePath), zap.Error(err))
	}

	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSearch(c echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter 'q' is required")
	}
	documentID := c.QueryParam("document_id")
	if documentID != "" {
		if _, err := s.docs.Get(c.Request().Context(), documentID); errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "document not found")
		}
	}

	results, err := s.engine.Search(c.Request().Context(), query, documentID)
	if err != nil {
		return s.serviceError(c, "search", err)
	}

	if limit := c.QueryParam("top_k"); limit != "" {
		k, err := strconv.Atoi(limit)
		if err != nil || k <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "top_k must be a positive integer")
		}
		if k < len(results) {
			results = results[:k]
		}
	}
	if results == nil {
		results = []retrieval.Candidate{}
	}

	return c.JSON(http.StatusOK, SearchResponse{Query: query, Results: results, Count: len(results)})
}

func (s *Server) handleAsk(c echo.Context) error {
	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question is required")
	}
	ctx := c.Request().Context()
	if req.DocumentID != "" {
		if _, err := s.docs.Get(ctx, req.DocumentID); errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "document not found")
		}
	}

	candidates, err := s.engine.Search(ctx, req.Question, req.DocumentID)
	if err != nil {
		return s.serviceError(c, "ask", err)
	}
	if len(candidates) == 0 {
		return c.JSON(http.StatusOK, AskResponse{Answer: noContextAnswer, Sources: []retrieval.Candidate{}})
	}

	prompt := buildAnswerPrompt(s.engine.BuildContext(candidates), req.Question)
	answer, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return s.serviceError(c, "ask", err)
	}

	return c.JSON(http.StatusOK, AskResponse{Answer: answer, Sources: candidates})
}

// serviceError maps model-service failures to HTTP statuses the client
// can act on.
func (s *Server) serviceError(c echo.Context, op string, err error) error {
	s.logger.Error(op+" failed", zap.Error(err))
	switch {
	case errors.Is(err, ollama.ErrModelNotFound):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ollama.ErrUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "model service is unavailable")
	case errors.Is(err, ollama.ErrBadRequest):
		return echo.NewHTTPError(http.StatusBadGateway, "model service rejected the request")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, op+" failed")
	}
}
