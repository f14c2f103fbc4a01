package clips

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hbomb79/Vidra/internal/acquire"
	"github.com/hbomb79/Vidra/internal/clip"
	"github.com/hbomb79/Vidra/internal/extract"
	"github.com/hbomb79/Vidra/internal/tiktok"
	"github.com/hbomb79/Vidra/pkg/logger"
	"github.com/labstack/echo/v4"
)

var controllerLogger = logger.Get("ClipsController")

type (
	// ClipDto is the response for the primary lookup endpoint. Exactly
	// one of ClipFilePath (cache hit), ClipBase64 (fresh acquisition) or
	// ImagePaths (album) is populated alongside the metadata.
	ClipDto struct {
		ID               string        `json:"clip_id"`
		Metadata         clip.Metadata `json:"metadata"`
		FromCache        bool          `json:"from_cache"`
		ClipFilePath     string        `json:"clip_file_path,omitempty"`
		ClipBase64       string        `json:"clip_base64,omitempty"`
		ImagePaths       []string      `json:"image_paths,omitempty"`
		EnrichmentTaskID *uuid.UUID    `json:"enrichment_task_id,omitempty"`
	}

	lookupRequest struct {
		URL string `query:"url" validate:"required,min=4"`
	}

	// AcquisitionService coordinates the acquisition of a clip.
	AcquisitionService interface {
		Get(ctx context.Context, clipID string) (*acquire.Artifact, error)
	}

	// RecordLookup serves the cached record for the file-serving
	// endpoints without triggering an upstream acquisition.
	RecordLookup interface {
		Lookup(clipID string) (*clip.Record, error)
	}

	ThumbnailExtractor interface {
		ExtractFrame(ctx context.Context, path string) ([]byte, error)
	}

	Controller struct {
		validate     *validator.Validate
		service      AcquisitionService
		records      RecordLookup
		thumbnails   ThumbnailExtractor
		audioDirPath string
	}
)

func New(validate *validator.Validate, service AcquisitionService, records RecordLookup, thumbnails ThumbnailExtractor, audioDirPath string) *Controller {
	return &Controller{
		validate:     validate,
		service:      service,
		records:      records,
		thumbnails:   thumbnails,
		audioDirPath: audioDirPath,
	}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.lookup)
	eg.GET("/:id/media/", controller.media)
	eg.GET("/:id/thumbnail/", controller.thumbnail)
	eg.GET("/:id/page/:audioID/", controller.landingPage)
}

// lookup is the primary acquisition endpoint. The share link provided
// via the 'url' query param is resolved and the clip behind it acquired,
// from cache where possible.
func (controller *Controller) lookup(ec echo.Context) error {
	var request lookupRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to bind query parameters")
	}
	if err := controller.validate.Struct(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "mandatory 'url' query parameter is missing or malformed")
	}

	resolved := tiktok.ResolveShareURL(ec.Request().Context(), request.URL)
	clipID, err := extract.ClipID(resolved)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("link does not reference a recognisable clip: %s", err.Error()))
	}

	artifact, err := controller.service.Get(ec.Request().Context(), clipID)
	if err != nil {
		return acquisitionError(clipID, err)
	}

	dto := &ClipDto{
		ID:               clipID,
		Metadata:         artifact.Record.Metadata,
		FromCache:        artifact.FromCache,
		EnrichmentTaskID: artifact.EnrichmentTaskID,
	}
	switch {
	case artifact.Album != nil:
		dto.ImagePaths = artifact.Album.ImagePaths
	case artifact.FromCache:
		dto.ClipFilePath = artifact.Record.MediaPath
	default:
		dto.ClipBase64 = base64.StdEncoding.EncodeToString(artifact.Media)
	}

	return ec.JSON(http.StatusOK, dto)
}

// media serves the stored primary media file for a cached clip.
func (controller *Controller) media(ec echo.Context) error {
	record, err := controller.cachedRecord(ec.Param("id"))
	if err != nil {
		return err
	}

	return ec.File(record.MediaPath)
}

// thumbnail extracts and serves the first frame of the stored media
// file. Extraction happens on demand; nothing is persisted.
func (controller *Controller) thumbnail(ec echo.Context) error {
	record, err := controller.cachedRecord(ec.Param("id"))
	if err != nil {
		return err
	}

	frame, err := controller.thumbnails.ExtractFrame(ec.Request().Context(), record.MediaPath)
	if err != nil {
		controllerLogger.Emit(logger.ERROR, "Thumbnail extraction for clip %s failed: %s\n", record.ID, err.Error())
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to extract thumbnail")
	}

	return ec.Blob(http.StatusOK, "image/jpeg", frame)
}

// landingPage renders a minimal page referencing both the primary media
// and a secondary audio file. Both files must exist; the absence of
// either is a distinct not-found.
func (controller *Controller) landingPage(ec echo.Context) error {
	record, err := controller.cachedRecord(ec.Param("id"))
	if err != nil {
		return err
	}

	audioID, err := uuid.Parse(ec.Param("audioID"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "audio ID is not a valid UUID")
	}

	audioPath := filepath.Join(controller.audioDirPath, audioID.String()+".mp3")
	if _, err := os.Stat(audioPath); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "no audio file found with the ID provided")
	}

	page, err := renderLandingPage(record, audioID.String())
	if err != nil {
		controllerLogger.Emit(logger.ERROR, "Failed to render landing page for clip %s: %s\n", record.ID, err.Error())
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to render page")
	}

	return ec.HTML(http.StatusOK, page)
}

// cachedRecord fetches the cached record for the clip ID path param,
// mapping a missing or invalid record to the appropriate HTTP error.
func (controller *Controller) cachedRecord(clipID string) (*clip.Record, error) {
	if err := controller.validate.Var(clipID, "required,numeric"); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "clip ID must be numeric")
	}

	record, err := controller.records.Lookup(clipID)
	if err != nil {
		controllerLogger.Emit(logger.ERROR, "Record lookup for clip %s failed: %s\n", clipID, err.Error())
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "failed to look up clip")
	}
	if record == nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "no cached clip found with the ID provided")
	}

	return record, nil
}

// acquisitionError maps coordinator failures on to HTTP error
// responses.
func acquisitionError(clipID string, err error) error {
	switch {
	case errors.Is(err, tiktok.ErrClipNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "no clip found upstream with the ID extracted from the link")
	case errors.Is(err, extract.ErrInvalidIdentifier):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		controllerLogger.Emit(logger.ERROR, "Acquisition of clip %s failed: %s\n", clipID, err.Error())
		return echo.NewHTTPError(http.StatusInternalServerError, "clip acquisition failed")
	}
}
