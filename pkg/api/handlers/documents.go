package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/necyber/elephie/pkg/api/response"
	"github.com/necyber/elephie/pkg/memory"
	"github.com/necyber/elephie/pkg/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// DocumentService is the document surface of the memory store.
type DocumentService interface {
	AddDocument(ctx context.Context, doc *storage.Document) error
	RemoveDocument(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*storage.Document, error)
	List(ctx context.Context, filter *storage.DocumentFilter) ([]*storage.Document, int, error)
	RebuildKeywords(ctx context.Context) (memory.Report, error)
}

// DocumentHandler handles document endpoints.
type DocumentHandler struct {
	docs   DocumentService
	logger handlerLogger
}

type handlerLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NewDocumentHandler creates a new document handler.
func NewDocumentHandler(docs DocumentService, log handlerLogger) *DocumentHandler {
	return &DocumentHandler{
		docs:   docs,
		logger: log,
	}
}

// --- Request/Response types ---

type putDocumentRequest struct {
	ID       string            `json:"id" validate:"required"`
	Name     string            `json:"name"`
	Content  string            `json:"content" validate:"required"`
	DocTime  string            `json:"doc_time" validate:"omitempty,datetime=2006-01-02"`
	Tag      string            `json:"tag"`
	Source   string            `json:"source"`
	Metadata map[string]string `json:"metadata"`
}

type listDocumentsResponse struct {
	Documents []*storage.Document `json:"documents"`
	Total     int                 `json:"total"`
	Limit     int                 `json:"limit"`
	Offset    int                 `json:"offset"`
}

type putDocumentResponse struct {
	Document *storage.Document `json:"document"`
	Rebuild  *memory.Report    `json:"rebuild,omitempty"`
}

// PutDocument handles POST /api/v1/documents. The keyword index is rebuilt
// afterwards unless ?rebuild=false.
func (h *DocumentHandler) PutDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req putDocumentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), getRequestID(ctx))
		return
	}

	doc := &storage.Document{
		ID:       req.ID,
		Name:     req.Name,
		Content:  req.Content,
		DocTime:  req.DocTime,
		Tag:      req.Tag,
		Source:   req.Source,
		Metadata: req.Metadata,
	}
	if doc.Name == "" {
		doc.Name = doc.ID
	}

	if err := h.docs.AddDocument(ctx, doc); err != nil {
		h.logger.Error("Failed to store document", "doc_id", req.ID, "error", err)
		h.writeError(w, r, err, "Failed to store document")
		return
	}

	resp := putDocumentResponse{}
	if rebuildRequested(r) {
		report, err := h.docs.RebuildKeywords(ctx)
		if err != nil {
			h.logger.Error("Failed to rebuild keyword index", "error", err)
			response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "Document stored but keyword index rebuild failed", getRequestID(ctx))
			return
		}
		resp.Rebuild = &report
	}

	stored, err := h.docs.Get(ctx, req.ID)
	if err != nil {
		h.writeError(w, r, err, "Failed to read back document")
		return
	}
	resp.Document = stored
	response.JSON(w, http.StatusCreated, resp)
}

// GetDocument handles GET /api/v1/documents/{id}
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	doc, err := h.docs.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, "Failed to get document")
		return
	}
	response.JSON(w, http.StatusOK, doc)
}

// ListDocuments handles GET /api/v1/documents?name=&prefix=&limit=&offset=
func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	limit, err := intParam(q.Get("limit"), defaultListLimit)
	if err != nil || limit < 0 {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Invalid limit", getRequestID(ctx))
		return
	}
	if limit == 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Invalid offset", getRequestID(ctx))
		return
	}

	docs, total, err := h.docs.List(ctx, &storage.DocumentFilter{
		Name:   q.Get("name"),
		Prefix: q.Get("prefix"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.logger.Error("Failed to list documents", "error", err)
		h.writeError(w, r, err, "Failed to list documents")
		return
	}
	if docs == nil {
		docs = []*storage.Document{}
	}

	response.JSON(w, http.StatusOK, listDocumentsResponse{
		Documents: docs,
		Total:     total,
		Limit:     limit,
		Offset:    offset,
	})
}

// DeleteDocument handles DELETE /api/v1/documents/{id}. The keyword index is
// rebuilt afterwards unless ?rebuild=false.
func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := documentID(w, r)
	if !ok {
		return
	}

	if err := h.docs.RemoveDocument(ctx, id); err != nil {
		h.writeError(w, r, err, "Failed to delete document")
		return
	}
	if rebuildRequested(r) {
		if _, err := h.docs.RebuildKeywords(ctx); err != nil {
			h.logger.Error("Failed to rebuild keyword index", "error", err)
			response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "Document deleted but keyword index rebuild failed", getRequestID(ctx))
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// RebuildIndex handles POST /api/v1/index/rebuild
func (h *DocumentHandler) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	report, err := h.docs.RebuildKeywords(r.Context())
	if err != nil {
		h.logger.Error("Failed to rebuild keyword index", "error", err)
		h.writeError(w, r, err, "Failed to rebuild keyword index")
		return
	}
	response.JSON(w, http.StatusOK, report)
}

func (h *DocumentHandler) writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	requestID := getRequestID(r.Context())
	switch {
	case errors.Is(err, memory.ErrNotFound), storage.IsNotFound(err):
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "Document not found", requestID)
	case errors.Is(err, memory.ErrInvalidDocumentID):
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, "Document ID is required", requestID)
	default:
		response.Fail(w, err, fallback, requestID)
	}
}

// documentID reads the {id} route parameter. Document ids contain spaces
// and punctuation, so clients percent-encode them.
func documentID(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := chi.URLParam(r, "id")
	id, err := url.PathUnescape(raw)
	if err != nil {
		id = raw
	}
	if id == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Document ID is required", getRequestID(r.Context()))
		return "", false
	}
	return id, true
}

func rebuildRequested(r *http.Request) bool {
	v := r.URL.Query().Get("rebuild")
	if v == "" {
		return true
	}
	b, err := strconv.ParseBool(v)
	return err != nil || b
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
