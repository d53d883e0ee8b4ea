package controllers

import (
	"fmt"
	"net/http"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	restful "github.com/emicklei/go-restful/v3"
	"go.uber.org/zap"

	"user-directory/interceptors"
)

// APIDocsPath serves the generated OpenAPI document.
const APIDocsPath = "/apidocs.json"

// NewContainer assembles the HTTP surface: request logging, panic recovery,
// JSON errors for unknown routes, the resources and their OpenAPI document.
func NewContainer(logger *zap.Logger, users *UserController, health *HealthController) *restful.Container {
	container := restful.NewContainer()
	container.Filter(interceptors.RequestLogger(logger))

	container.DoNotRecover(false)
	container.RecoverHandler(func(reason interface{}, w http.ResponseWriter) {
		logger.Error("Recovered from panic", zap.String("reason", fmt.Sprint(reason)), zap.Stack("stack"))
		w.Header().Set("Content-Type", restful.MIME_JSON)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"Internal Server Error"}`))
	})

	container.ServiceErrorHandler(func(serviceErr restful.ServiceError, _ *restful.Request, response *restful.Response) {
		message := serviceErr.Message
		if serviceErr.Code == http.StatusNotFound {
			message = "404 Not Found"
		}
		writeMessage(response, serviceErr.Code, message)
	})

	// Paths outside every WebService root never reach the dispatcher.
	container.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", restful.MIME_JSON)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"404 Not Found"}`))
	}))

	userWS := new(restful.WebService)
	users.RegisterRoutes(userWS)
	container.Add(userWS)

	healthWS := new(restful.WebService)
	health.RegisterRoutes(healthWS)
	container.Add(healthWS)

	container.Add(restfulspec.NewOpenAPIService(restfulspec.Config{
		WebServices: container.RegisteredWebServices(),
		APIPath:     APIDocsPath,
	}))
	return container
}
