package tool

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/toolbox/internal/api/respond"
	"github.com/aliskhannn/toolbox/internal/converter"
	"github.com/aliskhannn/toolbox/internal/executor"
	"github.com/aliskhannn/toolbox/internal/model"
	"github.com/aliskhannn/toolbox/internal/registry"
	"github.com/aliskhannn/toolbox/internal/service/conversion"
	"github.com/aliskhannn/toolbox/internal/token"
)

// formFile is the multipart field carrying the upload.
const formFile = "file"

// service defines the conversion operations used by the handlers.
type service interface {
	Kinds() []model.Kind
	Stage(ctx context.Context, kind model.Kind, up conversion.Upload) (model.Record, error)
	Get(kind model.Kind, tok string) (model.Record, error)
	Download(ctx context.Context, kind model.Kind, tok string) (*executor.Delivery, error)
	Sweep(ctx context.Context, kind model.Kind) (registry.SweepResult, error)
	SweepAll(ctx context.Context) []registry.SweepResult
	Retention() time.Duration
}

// Handler provides HTTP handlers for the conversion tools.
type Handler struct {
	service   service
	maxUpload int64
}

// NewHandler creates a new Handler. maxUpload limits the request body in bytes.
func NewHandler(s service, maxUpload int64) *Handler {
	return &Handler{service: s, maxUpload: maxUpload}
}

// StageResponse is returned after an upload was staged.
type StageResponse struct {
	Token       string     `json:"token"`
	Kind        model.Kind `json:"kind"`
	DisplayName string     `json:"display_name"`
	DownloadURL string     `json:"download_url"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"` // the link is invalid afterwards
}

// Kinds lists the available tools.
func (h *Handler) Kinds(c *ginext.Context) {
	respond.OK(c, h.service.Kinds())
}

// Upload validates the uploaded file with the tool's options and stages a conversion.
// Every form field other than the file is passed on as an option.
func (h *Handler) Upload(c *ginext.Context) {
	kind, ok := h.kind(c)
	if !ok {
		return
	}

	if h.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	}

	// Parse the multipart form with a 10MB max memory limit; larger files spill to disk.
	if err := c.Request.ParseMultipartForm(10 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond.Fail(c, http.StatusRequestEntityTooLarge, fmt.Errorf("file is too large"))
			return
		}

		zlog.Logger.Err(err).Msg("failed to parse multipart form")
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("parse multipart form failed"))
		return
	}
	defer c.Request.MultipartForm.RemoveAll()

	file, header, err := c.Request.FormFile(formFile)
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("please choose a file"))
		return
	}
	defer file.Close()

	params := make(model.Params, len(c.Request.MultipartForm.Value))
	for k, v := range c.Request.MultipartForm.Value {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}

	rec, err := h.service.Stage(c.Request.Context(), kind, conversion.Upload{
		Filename: header.Filename,
		Body:     file,
		Params:   params,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	zlog.Logger.Info().
		Str("kind", string(kind)).
		Str("token", rec.Token).
		Str("filename", header.Filename).
		Int64("size", header.Size).
		Msg("conversion staged")

	respond.Created(c, StageResponse{
		Token:       rec.Token,
		Kind:        rec.Kind,
		DisplayName: rec.DisplayName,
		DownloadURL: fmt.Sprintf("/api/tools/%s/%s/download", rec.Kind, rec.Token),
		CreatedAt:   rec.CreatedAt,
		ExpiresAt:   rec.CreatedAt.Add(h.service.Retention()),
	})
}

// Get returns the metadata of a staged conversion.
func (h *Handler) Get(c *ginext.Context) {
	kind, tok, ok := h.target(c)
	if !ok {
		return
	}

	rec, err := h.service.Get(kind, tok)
	if err != nil {
		h.fail(c, err)
		return
	}

	respond.OK(c, rec)
}

// Download runs the conversion if needed and streams the result as an attachment.
// The token is consumed once the response is written, even if the client went away.
func (h *Handler) Download(c *ginext.Context) {
	kind, tok, ok := h.target(c)
	if !ok {
		return
	}

	d, err := h.service.Download(c.Request.Context(), kind, tok)
	if err != nil {
		h.fail(c, err)
		return
	}
	defer d.Close()

	respond.Attachment(c, d.DisplayName, d.ContentType, d.Size, d)

	zlog.Logger.Info().
		Str("kind", string(d.Kind())).
		Str("token", d.Token()).
		Int64("size", d.Size).
		Msg("conversion delivered")
}

// Sweep evicts delivered and expired conversions. The optional "kind" query
// parameter limits the sweep to one tool.
func (h *Handler) Sweep(c *ginext.Context) {
	raw := c.Query("kind")
	if raw == "" {
		respond.OK(c, h.service.SweepAll(c.Request.Context()))
		return
	}

	kind, ok := model.ParseKind(raw)
	if !ok {
		respond.Fail(c, http.StatusNotFound, fmt.Errorf("unknown tool %q", raw))
		return
	}

	res, err := h.service.Sweep(c.Request.Context(), kind)
	if err != nil {
		h.fail(c, err)
		return
	}

	respond.OK(c, []registry.SweepResult{res})
}

func (h *Handler) kind(c *ginext.Context) (model.Kind, bool) {
	raw := c.Param("kind")

	kind, ok := model.ParseKind(raw)
	if !ok {
		respond.Fail(c, http.StatusNotFound, fmt.Errorf("unknown tool %q", raw))
		return "", false
	}

	return kind, true
}

func (h *Handler) target(c *ginext.Context) (model.Kind, string, bool) {
	kind, ok := h.kind(c)
	if !ok {
		return "", "", false
	}

	tok := c.Param("token")
	if !token.Valid(tok) {
		respond.Fail(c, http.StatusNotFound, errExpired)
		return "", "", false
	}

	return kind, tok, true
}

var (
	errExpired  = errors.New("invalid or expired download link")
	errConsumed = errors.New("the file was already downloaded")
)

// fail maps service errors onto HTTP responses.
func (h *Handler) fail(c *ginext.Context, err error) {
	switch {
	case errors.Is(err, converter.ErrInvalidInput):
		var ie *converter.InputError
		if errors.As(err, &ie) {
			err = errors.New(ie.Message)
		}
		respond.Fail(c, http.StatusBadRequest, err)
	case errors.Is(err, conversion.ErrUnknownKind):
		respond.Fail(c, http.StatusNotFound, err)
	case errors.Is(err, registry.ErrNotFound):
		respond.Fail(c, http.StatusNotFound, errExpired)
	case errors.Is(err, registry.ErrGone):
		respond.Fail(c, http.StatusGone, errConsumed)
	case errors.Is(err, executor.ErrSourceInvalid):
		zlog.Logger.Warn().Err(err).Msg("staged source is unusable")
		respond.Fail(c, http.StatusUnprocessableEntity, fmt.Errorf("the uploaded file is missing or empty"))
	case errors.Is(err, executor.ErrConversionFailed):
		zlog.Logger.Err(err).Msg("conversion failed")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("conversion failed, please try again"))
	default:
		zlog.Logger.Err(err).Msg("request failed")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("internal error"))
	}
}
