// Package analysis implements the sync-project-knowledge function: it pulls a
// project document out of object storage, extracts PDF text when it can, asks
// the hosted LLM for a structured bill of quantities and writes the result
// back onto the document row.
package analysis

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"buildtrack/api/internal/metrics"
	"buildtrack/api/internal/realtime"
	"buildtrack/api/internal/session"
	"buildtrack/api/internal/storage"
	"buildtrack/api/internal/store"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// DocumentStore is the slice of the store the function writes through.
type DocumentStore interface {
	GetProjectDocument(ctx context.Context, documentID string) (store.ProjectDocument, error)
	MarkDocumentProcessing(ctx context.Context, documentID string) error
	CompleteDocumentAnalysis(ctx context.Context, documentID, summary string, analysis json.RawMessage, extractedText string) error
	FailDocumentAnalysis(ctx context.Context, documentID, message string) error
}

type ObjectStore interface {
	Download(ctx context.Context, bucket, key string) (io.ReadCloser, storage.Object, error)
}

type Locker interface {
	Acquire(ctx context.Context, name string) (*session.Lock, error)
}

// Completer is satisfied by *openai.Client.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Options struct {
	Model           string
	MaxExtractBytes int64
	Timeout         time.Duration
}

type Request struct {
	ProjectID  string `json:"projectId"`
	CompanyID  string `json:"companyId"`
	DocumentID string `json:"documentId"`
}

type Response struct {
	Success          bool   `json:"success"`
	DocumentID       string `json:"documentId"`
	Summary          string `json:"summary"`
	HasExtractedText bool   `json:"hasExtractedText"`
}

// Error carries the HTTP status the function responds with.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func fail(status int, message string, err error) *Error {
	return &Error{Status: status, Message: message, Err: err}
}

type Service struct {
	docs    DocumentStore
	objects ObjectStore
	locks   Locker
	llm     Completer
	events  realtime.Publisher
	logger  *zap.Logger
	opts    Options
}

func NewService(docs DocumentStore, objects ObjectStore, locks Locker, llm Completer, events realtime.Publisher, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxExtractBytes <= 0 {
		opts.MaxExtractBytes = 10 << 20
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.Model == "" {
		opts.Model = openai.GPT4oMini
	}
	return &Service{
		docs:    docs,
		objects: objects,
		locks:   locks,
		llm:     llm,
		events:  events,
		logger:  logger.Named("analysis"),
		opts:    opts,
	}
}

// NewLLMClient builds an OpenAI-compatible client for baseURL.
func NewLLMClient(baseURL, apiKey string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return openai.NewClientWithConfig(cfg)
}

// Run analyzes one document. Once the row is marked processing every path
// leaves it completed or failed.
func (s *Service) Run(ctx context.Context, req Request) (Response, error) {
	req.ProjectID = strings.TrimSpace(req.ProjectID)
	req.CompanyID = strings.TrimSpace(req.CompanyID)
	req.DocumentID = strings.TrimSpace(req.DocumentID)
	if req.ProjectID == "" || req.CompanyID == "" || req.DocumentID == "" {
		return Response{}, fail(http.StatusBadRequest, "projectId, companyId and documentId are required", nil)
	}

	doc, err := s.docs.GetProjectDocument(ctx, req.DocumentID)
	if errors.Is(err, sql.ErrNoRows) {
		return Response{}, fail(http.StatusNotFound, "document not found", nil)
	}
	if err != nil {
		return Response{}, fail(http.StatusInternalServerError, "load document", err)
	}
	if doc.ProjectID != req.ProjectID || doc.CompanyID != req.CompanyID {
		return Response{}, fail(http.StatusNotFound, "document not found", nil)
	}

	// Without Redis there is no lock and concurrent runs simply race.
	if s.locks != nil {
		lock, err := s.locks.Acquire(ctx, doc.ID)
		if errors.Is(err, session.ErrLocked) {
			return Response{}, fail(http.StatusConflict, "document is already being analyzed", nil)
		}
		if err != nil {
			return Response{}, fail(http.StatusInternalServerError, "acquire analysis lock", err)
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("release analysis lock", zap.String("document_id", doc.ID), zap.Error(err))
			}
		}()
	}

	logger := s.logger.With(zap.String("document_id", doc.ID), zap.String("category", doc.Category))

	if err := s.docs.MarkDocumentProcessing(ctx, doc.ID); err != nil {
		return Response{}, fail(http.StatusInternalServerError, "mark document processing", err)
	}
	doc.ProcessingStatus = store.ProcessingRunning
	s.publish(ctx, doc)

	resp, runErr := s.analyze(ctx, doc, logger)
	if runErr != nil {
		s.markFailed(ctx, doc, runErr, logger)
		metrics.IncrementDocumentAnalysis(doc.Category, "failed")
		return Response{}, runErr
	}
	metrics.IncrementDocumentAnalysis(doc.Category, "completed")
	return resp, nil
}

func (s *Service) analyze(ctx context.Context, doc store.ProjectDocument, logger *zap.Logger) (Response, *Error) {
	text := s.extractText(ctx, doc, logger)

	meta := documentMeta{
		Name:        doc.Name,
		Category:    doc.Category,
		ContentType: doc.ContentType,
		SizeBytes:   doc.SizeBytes,
	}
	completion, err := s.complete(ctx, systemPrompt(doc.Category), userPrompt(meta, text))
	if err != nil {
		return Response{}, classifyLLMError(err)
	}

	raw, boq, err := parseToolCall(completion)
	if err != nil {
		return Response{}, fail(http.StatusInternalServerError, "invalid analysis response", err)
	}

	if err := s.docs.CompleteDocumentAnalysis(ctx, doc.ID, boq.Summary, raw, text); err != nil {
		return Response{}, fail(http.StatusInternalServerError, "save analysis", err)
	}

	doc.ProcessingStatus = store.ProcessingCompleted
	doc.AISummary = boq.Summary
	doc.AIAnalysis = raw
	s.publish(ctx, doc)

	logger.Info("document analyzed",
		zap.Int("line_items", len(boq.LineItems)),
		zap.Bool("has_text", text != ""),
	)
	return Response{
		Success:          true,
		DocumentID:       doc.ID,
		Summary:          boq.Summary,
		HasExtractedText: text != "",
	}, nil
}

// extractText returns "" whenever extraction is skipped or fails; the
// analysis then runs on metadata alone.
func (s *Service) extractText(ctx context.Context, doc store.ProjectDocument, logger *zap.Logger) string {
	if s.objects == nil || !isPDF(doc.ContentType, doc.Name) {
		return ""
	}
	if doc.SizeBytes > s.opts.MaxExtractBytes {
		logger.Info("skipping text extraction for large file", zap.Int64("size_bytes", doc.SizeBytes))
		return ""
	}

	body, _, err := s.objects.Download(ctx, doc.Bucket, doc.ObjectKey)
	if err != nil {
		logger.Warn("download for extraction failed", zap.Error(err))
		return ""
	}
	defer body.Close()

	text, err := extractPDFText(body, s.opts.MaxExtractBytes)
	if err != nil {
		logger.Warn("pdf text extraction failed", zap.Error(err))
		return ""
	}
	return text
}

func (s *Service) complete(ctx context.Context, system, user string) (openai.ChatCompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	started := time.Now()
	resp, err := s.llm.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Tools:       []openai.Tool{toolDefinition()},
		ToolChoice:  forcedToolChoice(),
		Temperature: 0.1,
	})
	metrics.RecordLLMCallLatency(s.opts.Model, llmStatus(err), time.Since(started))
	return resp, err
}

func llmStatus(err error) string {
	if err == nil {
		return "ok"
	}
	if code := httpStatusOf(err); code != 0 {
		return strconv.Itoa(code)
	}
	return "error"
}

func httpStatusOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// classifyLLMError passes rate limiting and billing failures through to the
// caller; everything else is a 500.
func classifyLLMError(err error) *Error {
	switch httpStatusOf(err) {
	case http.StatusTooManyRequests:
		return fail(http.StatusTooManyRequests, "rate limit exceeded, try again later", err)
	case http.StatusPaymentRequired:
		return fail(http.StatusPaymentRequired, "AI credits exhausted", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fail(http.StatusInternalServerError, "analysis timed out", err)
	}
	return fail(http.StatusInternalServerError, "analysis request failed", err)
}

func (s *Service) markFailed(ctx context.Context, doc store.ProjectDocument, cause *Error, logger *zap.Logger) {
	logger.Error("document analysis failed", zap.Int("status", cause.Status), zap.Error(cause))

	message := cause.Message
	if cause.Err != nil {
		message = fmt.Sprintf("%s: %v", cause.Message, cause.Err)
	}
	if len(message) > 1000 {
		message = truncateUTF8(message, 1000)
	}

	persistCtx := context.WithoutCancel(ctx)
	if err := s.docs.FailDocumentAnalysis(persistCtx, doc.ID, message); err != nil {
		logger.Error("mark document failed", zap.Error(err))
		return
	}
	doc.ProcessingStatus = store.ProcessingFailed
	doc.ErrorMessage = message
	s.publish(persistCtx, doc)
}

func (s *Service) publish(ctx context.Context, doc store.ProjectDocument) {
	if s.events == nil {
		return
	}
	change := realtime.NewChange("project_documents", realtime.Update, doc.ProjectID, doc)
	change.CompanyID = doc.CompanyID
	if err := s.events.Publish(ctx, change); err != nil {
		s.logger.Warn("publish document change", zap.String("document_id", doc.ID), zap.Error(err))
	}
}
