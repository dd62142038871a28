package router

import (
	"net/http"

	"marketplace-chat/backend/api/openapi"
	"marketplace-chat/backend/pkg/validator"

	"github.com/gin-gonic/gin"
)

func passThrough(c *gin.Context) { c.Next() }

// openAPIValidation builds request validators for the versioned and legacy
// route groups. The embedded document is used unless OPENAPI_SCHEMA_PATH
// points elsewhere. Validation failures at startup disable it with a warning.
func (r *Router) openAPIValidation() (v1 gin.HandlerFunc, legacy gin.HandlerFunc) {
	if !r.Config.OpenAPI.Validate {
		return passThrough, passThrough
	}

	build := func(strip string) (*validator.OpenAPIValidator, error) {
		if path := r.Config.OpenAPI.SchemaPath; path != "" {
			return validator.NewOpenAPIValidatorFromFile(path, strip)
		}
		return validator.NewOpenAPIValidator(openapi.Document, strip)
	}

	versioned, err := build("/api/v1")
	if err != nil {
		r.Logger.LogError(err, "Failed to initialize OpenAPI validator, validation disabled")
		return passThrough, passThrough
	}
	unversioned, err := build("")
	if err != nil {
		r.Logger.LogError(err, "Failed to initialize OpenAPI validator, validation disabled")
		return passThrough, passThrough
	}

	// Serve the contract next to the API it describes
	r.Engine.GET("/api/docs/openapi.yaml", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/yaml", openapi.Document)
	})
	r.Logger.Info("OpenAPI validation enabled", "schema_path", r.Config.OpenAPI.SchemaPath)

	return versioned.Middleware(), unversioned.Middleware()
}
