package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/personal-health-manager/internal/apperr"
	"github.com/iliyamo/personal-health-manager/internal/middleware"
	"github.com/iliyamo/personal-health-manager/internal/storage"
)

const (
	msgDocumentNotFound = "Document not found"
	msgStorageFailed    = "Document storage is unavailable"
)

// DocumentSigner issues presigned URLs.  *storage.Documents implements it.
type DocumentSigner interface {
	PresignUpload(ctx context.Context, userID, filename, contentType string, size int64) (storage.Upload, error)
	PresignDownload(ctx context.Context, userID, key string) (string, time.Time, error)
}

// DocumentHandler serves the document routes.  Only upload and download URLs
// are real; the rest are placeholders.
type DocumentHandler struct {
	Signer DocumentSigner
}

func NewDocumentHandler(s DocumentSigner) *DocumentHandler {
	return &DocumentHandler{Signer: s}
}

type uploadReq struct {
	Filename    string `json:"filename" validate:"required,max=255"`
	ContentType string `json:"content_type" validate:"omitempty,max=127"`
	Size        int64  `json:"size" validate:"required,gt=0"`
}

type downloadResp struct {
	URL       string    `json:"download_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

var (
	ListDocuments  = placeholder("Get documents", "")
	GetDocument    = placeholder("Get document %s", "document_id")
	DeleteDocument = placeholder("Delete document %s", "document_id")
)

// Upload returns a presigned PUT the client uses to send the file directly
// to the bucket.
func (h *DocumentHandler) Upload(c echo.Context) error {
	var req uploadReq
	if err := bind(c, &req); err != nil {
		return err
	}
	u, _ := middleware.CurrentUser(c)

	up, err := h.Signer.PresignUpload(c.Request().Context(), u.ID, req.Filename, req.ContentType, req.Size)
	switch {
	case errors.Is(err, storage.ErrUnsupportedType):
		return apperr.Validation(MsgInvalidRequest).
			WithDetails([]FieldError{{Field: "filename", Rule: "file_type"}})
	case errors.Is(err, storage.ErrTooLarge):
		return apperr.Validation(MsgInvalidRequest).
			WithDetails([]FieldError{{Field: "size", Rule: "max_file_size"}})
	case err != nil:
		return apperr.Wrap(apperr.KindStorage, msgStorageFailed, err)
	}
	return c.JSON(http.StatusOK, up)
}

// Download returns a presigned GET for one of the caller's documents.
func (h *DocumentHandler) Download(c echo.Context) error {
	key := c.QueryParam("key")
	if key == "" {
		return apperr.Validation(MsgInvalidRequest).
			WithDetails([]FieldError{{Field: "key", Rule: "required"}})
	}
	u, _ := middleware.CurrentUser(c)

	url, exp, err := h.Signer.PresignDownload(c.Request().Context(), u.ID, key)
	switch {
	case errors.Is(err, storage.ErrForeignKey):
		return apperr.NotFound(msgDocumentNotFound)
	case err != nil:
		return apperr.Wrap(apperr.KindStorage, msgStorageFailed, err)
	}
	return c.JSON(http.StatusOK, downloadResp{URL: url, ExpiresAt: exp})
}
