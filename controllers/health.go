package controllers

import (
	"context"
	"net/http"
	"time"

	restful "github.com/emicklei/go-restful/v3"
	"go.uber.org/zap"
)

// Pinger is satisfied by repositories.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthController answers the Consul HTTP check.
type HealthController struct {
	pinger Pinger
	logger *zap.Logger
}

func NewHealthController(pinger Pinger, logger *zap.Logger) *HealthController {
	return &HealthController{pinger: pinger, logger: logger.Named("health")}
}

type HealthResponse struct {
	Status string `json:"status"`
}

func (ctl *HealthController) RegisterRoutes(ws *restful.WebService) {
	ws.Path("/healthz").Produces(restful.MIME_JSON)
	ws.Route(ws.GET("").To(ctl.healthHandler).
		Doc("Report whether the database is reachable").
		Returns(http.StatusOK, "Healthy", HealthResponse{}).
		Returns(http.StatusServiceUnavailable, "Database unreachable", HealthResponse{}))
}

func (ctl *HealthController) healthHandler(request *restful.Request, response *restful.Response) {
	ctx, cancel := context.WithTimeout(request.Request.Context(), 2*time.Second)
	defer cancel()

	if err := ctl.pinger.Ping(ctx); err != nil {
		ctl.logger.Warn("Database ping failed", zap.Error(err))
		_ = response.WriteHeaderAndJson(http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"}, restful.MIME_JSON)
		return
	}
	_ = response.WriteHeaderAndJson(http.StatusOK, HealthResponse{Status: "ok"}, restful.MIME_JSON)
}
