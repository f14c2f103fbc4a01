package api

import (
	"context"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/hbomb79/Vidra/internal/api/audio"
	"github.com/hbomb79/Vidra/internal/api/clips"
	"github.com/hbomb79/Vidra/internal/api/enrichments"
	"github.com/hbomb79/Vidra/pkg/logger"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

var log = logger.Get("API")

type (
	RestConfig struct {
		HostAddr string `yaml:"host_address" env:"API_HOST_ADDR" env-default:"0.0.0.0:8080"`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// The RestGateway is a thin wrapper around the Echo HTTP router. Its
	// sole responsibility is to create the routes Vidra exposes and
	// delegate them to the controllers.
	RestGateway struct {
		config                *RestConfig
		ec                    *echo.Echo
		clipsController       controller
		audioController       controller
		enrichmentsController controller
	}
)

// NewRestGateway constructs the Echo router and populates it with the
// routes defined by the various controllers.
func NewRestGateway(
	config *RestConfig,
	acquisitions clips.AcquisitionService,
	records clips.RecordLookup,
	thumbnails clips.ThumbnailExtractor,
	enrichmentService enrichments.TaskService,
	audioDirPath string,
) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true

	validate := validator.New()
	gateway := &RestGateway{
		config:                config,
		ec:                    ec,
		clipsController:       clips.New(validate, acquisitions, records, thumbnails, audioDirPath),
		audioController:       audio.New(audioDirPath),
		enrichmentsController: enrichments.New(enrichmentService),
	}

	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	ec.Pre(middleware.AddTrailingSlash())

	clipRoutes := ec.Group("/api/vidra/v1/clips")
	gateway.clipsController.SetRoutes(clipRoutes)

	audioRoutes := ec.Group("/api/vidra/v1/audio")
	gateway.audioController.SetRoutes(audioRoutes)

	enrichmentRoutes := ec.Group("/api/vidra/v1/enrichments")
	gateway.enrichmentsController.SetRoutes(enrichmentRoutes)

	return gateway
}

func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	wg := &sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gateway.ec.Start(gateway.config.HostAddr); err != nil {
			ctxCancel(err)
		}
	}()

	go func(ec *echo.Echo) {
		<-ctx.Done()
		ec.Close()
	}(gateway.ec)

	wg.Wait()

	// Return cancellation cause if any, otherwise nil as parent context
	// cancellation is not an error case we should report.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}
