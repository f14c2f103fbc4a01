package enrichments

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Vidra/internal/enrich"
	"github.com/labstack/echo/v4"
)

type (
	// TaskDto is the poll response for an enrichment task.
	TaskDto struct {
		ID          uuid.UUID `json:"id"`
		Status      string    `json:"status"`
		MusicFileID string    `json:"music_file_id,omitempty"`
		Failure     string    `json:"failure,omitempty"`
	}

	// TaskService is the registry slice this controller consumes.
	TaskService interface {
		Poll(ctx context.Context, taskID uuid.UUID, maxWait time.Duration) (*enrich.TaskResult, error)
	}

	Controller struct {
		service TaskService
	}
)

func New(service TaskService) *Controller {
	return &Controller{service: service}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/:id/", controller.poll)
}

// poll blocks up to the requested wait (in seconds, capped by the
// registry) for the task to reach a terminal state. A terminal result
// is consumed by this read; repeating the request reports not-found.
func (controller *Controller) poll(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "enrichment task ID is not a valid UUID")
	}

	maxWait := enrich.MaxPollWait
	if rawWait := ec.QueryParam("wait"); rawWait != "" {
		seconds, err := strconv.Atoi(rawWait)
		if err != nil || seconds < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "'wait' query parameter must be a non-negative integer")
		}

		maxWait = time.Second * time.Duration(seconds)
	}

	result, err := controller.service.Poll(ec.Request().Context(), id, maxWait)
	if err != nil {
		if errors.Is(err, enrich.ErrTaskNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "no enrichment task found with the ID provided")
		}

		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.JSON(http.StatusOK, &TaskDto{
		ID:          result.ID,
		Status:      result.Status.String(),
		MusicFileID: result.MusicFileID,
		Failure:     result.Failure,
	})
}
