package audio

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Controller serves the secondary audio files retrieved by the
// enrichment pipeline.
type Controller struct {
	audioDirPath string
}

func New(audioDirPath string) *Controller {
	return &Controller{audioDirPath: audioDirPath}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/:id/", controller.get)
}

func (controller *Controller) get(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "audio ID is not a valid UUID")
	}

	path := filepath.Join(controller.audioDirPath, id.String()+".mp3")
	if _, err := os.Stat(path); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "no audio file found with the ID provided")
	}

	return ec.File(path)
}
