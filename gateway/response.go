package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/example/storefront/pkg/service"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Response is the envelope every endpoint answers with. Code mirrors the HTTP status.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
	Code    int    `json:"code"`
}

func respond(c *gin.Context, code int, message string, data any) {
	c.JSON(code, Response{Success: code < http.StatusBadRequest, Message: message, Data: data, Code: code})
}

func ok(c *gin.Context, message string, data any) {
	respond(c, http.StatusOK, message, data)
}

func created(c *gin.Context, message string, data any) {
	respond(c, http.StatusCreated, message, data)
}

func abort(c *gin.Context, code int, message string, data any) {
	c.AbortWithStatusJSON(code, Response{Success: false, Message: message, Data: data, Code: code})
}

// fail maps service errors onto the HTTP status taxonomy.
func (g *Gateway) fail(c *gin.Context, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		abort(c, http.StatusUnprocessableEntity, "Validation error", verr.Fields)
	case errors.Is(err, service.ErrNotFound):
		abort(c, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, service.ErrConflict):
		abort(c, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, service.ErrUnauthorized):
		c.Header("WWW-Authenticate", "Bearer")
		abort(c, http.StatusUnauthorized, err.Error(), nil)
	case errors.Is(err, service.ErrForbidden):
		abort(c, http.StatusForbidden, err.Error(), nil)
	case errors.Is(err, service.ErrTooManyTries):
		abort(c, http.StatusTooManyRequests, err.Error(), nil)
	default:
		g.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		abort(c, http.StatusInternalServerError, err.Error(), nil)
	}
}

var registerTagNames sync.Once

// useJSONNames makes validator report fields by their json/form names.
func useJSONNames() {
	registerTagNames.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			for _, tag := range []string{"json", "form"} {
				name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
				if name == "-" {
					return ""
				}
				if name != "" {
					return name
				}
			}
			return f.Name
		})
	})
}

func fieldLocation(source, namespace string) []string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	location := []string{source}
	for _, p := range parts {
		name, index, found := strings.Cut(p, "[")
		location = append(location, name)
		if found {
			location = append(location, strings.TrimSuffix(index, "]"))
		}
	}
	return location
}

// bindError turns decoding and validation failures into a 422 ValidationError.
func bindError(source string, err error) error {
	var (
		verrs     validator.ValidationErrors
		typeErr   *json.UnmarshalTypeError
		syntaxErr *json.SyntaxError
		numErr    *strconv.NumError
	)
	switch {
	case errors.As(err, &verrs):
		return &service.ValidationError{Fields: lo.Map(verrs, func(fe validator.FieldError, _ int) service.FieldError {
			return service.FieldError{
				Type:     "value_error." + fe.Tag(),
				Location: fieldLocation(source, fe.Namespace()),
				Message:  validationMessage(fe),
			}
		})}
	case errors.As(err, &typeErr):
		return &service.ValidationError{Fields: []service.FieldError{{
			Type:     "type_error",
			Location: append([]string{source}, strings.Split(typeErr.Field, ".")...),
			Message:  "expected " + typeErr.Type.String(),
		}}}
	case errors.As(err, &syntaxErr), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return &service.ValidationError{Fields: []service.FieldError{{
			Type:     "json_invalid",
			Location: []string{source},
			Message:  "request body is not valid JSON",
		}}}
	case errors.As(err, &numErr):
		return &service.ValidationError{Fields: []service.FieldError{{
			Type:     "type_error",
			Location: []string{source},
			Message:  numErr.Error(),
		}}}
	}
	return &service.ValidationError{Fields: []service.FieldError{{
		Type:     "value_error",
		Location: []string{source},
		Message:  err.Error(),
	}}}
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field required"
	case "email":
		return "value is not a valid email address"
	case "url":
		return "value is not a valid url"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "len":
		return "must have length " + fe.Param()
	}
	return "failed on the " + fe.Tag() + " rule"
}

func (g *Gateway) bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		g.fail(c, bindError("body", err))
		return false
	}
	return true
}

func (g *Gateway) bindQuery(c *gin.Context, dst any) bool {
	if err := c.ShouldBindQuery(dst); err != nil {
		g.fail(c, bindError("query", err))
		return false
	}
	return true
}

// uintParam parses a snowflake id from the path.
func (g *Gateway) uintParam(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		g.fail(c, &service.ValidationError{Fields: []service.FieldError{{
			Type:     "type_error.integer",
			Location: []string{"path", name},
			Message:  "value is not a valid integer",
		}}})
		return 0, false
	}
	return id, true
}
