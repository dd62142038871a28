package validator

import (
	"fmt"
	"strings"
	"sync"

	"marketplace-chat/backend/pkg/errors"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/gin-gonic/gin"
)

// OpenAPIValidator validates requests against an OpenAPI document
type OpenAPIValidator struct {
	doc    *openapi3.T
	router routers.Router
	// stripPrefix lets versioned route groups reuse the unversioned paths
	stripPrefix string
	mutex       sync.RWMutex
}

// NewOpenAPIValidator builds a validator from raw YAML or JSON
func NewOpenAPIValidator(data []byte, stripPrefix string) (*OpenAPIValidator, error) {
	doc, router, err := load(func(l *openapi3.Loader) (*openapi3.T, error) { return l.LoadFromData(data) })
	if err != nil {
		return nil, err
	}
	return &OpenAPIValidator{doc: doc, router: router, stripPrefix: stripPrefix}, nil
}

// NewOpenAPIValidatorFromFile loads the document from disk
func NewOpenAPIValidatorFromFile(path, stripPrefix string) (*OpenAPIValidator, error) {
	doc, router, err := load(func(l *openapi3.Loader) (*openapi3.T, error) { return l.LoadFromFile(path) })
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI schema from %s: %w", path, err)
	}
	return &OpenAPIValidator{doc: doc, router: router, stripPrefix: stripPrefix}, nil
}

func load(fn func(*openapi3.Loader) (*openapi3.T, error)) (*openapi3.T, routers.Router, error) {
	loader := openapi3.NewLoader()
	doc, err := fn(loader)
	if err != nil {
		return nil, nil, err
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, nil, fmt.Errorf("invalid OpenAPI schema: %w", err)
	}
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating OpenAPI router: %w", err)
	}
	return doc, router, nil
}

// Middleware returns a Gin middleware function that validates requests against the OpenAPI schema
func (v *OpenAPIValidator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		req := c.Request
		if v.stripPrefix != "" && strings.HasPrefix(req.URL.Path, v.stripPrefix) {
			req = req.Clone(req.Context())
			req.URL.Path = strings.TrimPrefix(req.URL.Path, v.stripPrefix)
			req.URL.RawPath = ""
		}

		v.mutex.RLock()
		route, pathParams, err := v.router.FindRoute(req)
		v.mutex.RUnlock()
		if err != nil {
			// Not described by the document
			c.Next()
			return
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    req,
			PathParams: pathParams,
			Route:      route,
			Options: &openapi3filter.Options{
				AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
				MultiError:         false,
				// multipart bodies carry uploads and are checked by the handler
				ExcludeRequestBody: strings.HasPrefix(req.Header.Get("Content-Type"), "multipart/"),
			},
		}

		if err := openapi3filter.ValidateRequest(req.Context(), input); err != nil {
			c.Error(errors.NewValidationError("Invalid request").WithDetails(err.Error()))
			c.Abort()
			return
		}

		// ValidateRequest rewinds the body on the request it read from
		c.Request.Body = req.Body
		c.Next()
	}
}
