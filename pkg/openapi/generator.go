// Package openapi builds an OpenAPI 3 document from the handlers registered
// on a typedhttp router.
package openapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/pavelpascari/covidapi/pkg/typedhttp"
	"gopkg.in/yaml.v3"
)

// Config holds OpenAPI generation configuration.
type Config struct {
	Info    Info     `json:"info"`
	Servers []Server `json:"servers,omitempty"`
	// BearerAuth declares an optional JWT bearer scheme on every operation.
	BearerAuth bool `json:"bearer_auth,omitempty"`
	// ErrorType, when set, becomes the "Error" component referenced by every
	// documented 4xx and 5xx response.
	ErrorType reflect.Type `json:"-"`
}

// Info represents OpenAPI info object.
type Info struct {
	Title       string   `json:"title"`
	Version     string   `json:"version"`
	Description string   `json:"description,omitempty"`
	Contact     *Contact `json:"contact,omitempty"`
	License     *License `json:"license,omitempty"`
}

// Server represents OpenAPI server object.
type Server struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// Contact represents OpenAPI contact object.
type Contact struct {
	Name  string `json:"name,omitempty"`
	URL   string `json:"url,omitempty"`
	Email string `json:"email,omitempty"`
}

// License represents OpenAPI license object.
type License struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

const (
	errorComponent  = "Error"
	bearerComponent = "bearerAuth"
)

var rawResponseType = reflect.TypeOf(typedhttp.RawResponse{})

// Generator generates OpenAPI specifications from TypedHTTP routers.
type Generator struct {
	config Config
}

// NewGenerator creates a new OpenAPI generator.
func NewGenerator(config *Config) *Generator {
	return &Generator{
		config: *config,
	}
}

// Generate creates an OpenAPI specification from a TypedHTTP router.
func (g *Generator) Generate(router *typedhttp.TypedRouter) (*openapi3.T, error) {
	spec := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       g.config.Info.Title,
			Version:     g.config.Info.Version,
			Description: g.config.Info.Description,
		},
		Paths: &openapi3.Paths{},
		Components: &openapi3.Components{
			Schemas: make(map[string]*openapi3.SchemaRef),
		},
	}

	if c := g.config.Info.Contact; c != nil {
		spec.Info.Contact = &openapi3.Contact{Name: c.Name, URL: c.URL, Email: c.Email}
	}
	if l := g.config.Info.License; l != nil {
		spec.Info.License = &openapi3.License{Name: l.Name, URL: l.URL}
	}

	for _, server := range g.config.Servers {
		spec.Servers = append(spec.Servers, &openapi3.Server{
			URL:         server.URL,
			Description: server.Description,
		})
	}

	if g.config.ErrorType != nil {
		schema, err := g.createSchemaFromType(g.config.ErrorType)
		if err != nil {
			return nil, fmt.Errorf("failed to create error schema: %w", err)
		}
		spec.Components.Schemas[errorComponent] = schema
	}

	if g.config.BearerAuth {
		spec.Components.SecuritySchemes = openapi3.SecuritySchemes{
			bearerComponent: &openapi3.SecuritySchemeRef{
				Value: openapi3.NewJWTSecurityScheme(),
			},
		}
	}

	handlers := router.GetHandlers()
	for i := range handlers {
		if err := g.processHandler(spec, &handlers[i]); err != nil {
			return nil, fmt.Errorf("failed to process handler %s %s: %w",
				handlers[i].Method, handlers[i].Path, err)
		}
	}

	return spec, nil
}

// processHandler adds one registration to the document.
func (g *Generator) processHandler(spec *openapi3.T, reg *typedhttp.HandlerRegistration) error {
	pathItem := spec.Paths.Find(reg.Path)
	if pathItem == nil {
		pathItem = &openapi3.PathItem{}
		spec.Paths.Set(reg.Path, pathItem)
	}

	operation := &openapi3.Operation{
		Summary:     reg.Metadata.Summary,
		Description: reg.Metadata.Description,
		Tags:        reg.Metadata.Tags,
		Responses:   &openapi3.Responses{},
	}

	if reg.RequestType != nil {
		parameters, err := g.extractParameters(reg.RequestType)
		if err != nil {
			return fmt.Errorf("failed to extract parameters: %w", err)
		}
		operation.Parameters = parameters
	}

	if err := g.addResponses(spec, operation, reg); err != nil {
		return err
	}

	if g.config.BearerAuth {
		// Anonymous access stays valid, so an empty requirement is listed too.
		operation.Security = &openapi3.SecurityRequirements{
			openapi3.NewSecurityRequirement(),
			openapi3.NewSecurityRequirement().Authenticate(bearerComponent),
		}
	}

	switch reg.Method {
	case http.MethodGet:
		pathItem.Get = operation
	case http.MethodPost:
		pathItem.Post = operation
	case http.MethodPut:
		pathItem.Put = operation
	case http.MethodPatch:
		pathItem.Patch = operation
	case http.MethodDelete:
		pathItem.Delete = operation
	case http.MethodHead:
		pathItem.Head = operation
	case http.MethodOptions:
		pathItem.Options = operation
	default:
		return fmt.Errorf("unsupported method %q", reg.Method)
	}

	return nil
}

func (g *Generator) addResponses(spec *openapi3.T, operation *openapi3.Operation, reg *typedhttp.HandlerRegistration) error {
	successSchema, err := g.createResponseSchema(reg.ResponseType)
	if err != nil {
		return fmt.Errorf("failed to create response schema: %w", err)
	}

	responses := reg.Metadata.Responses
	if len(responses) == 0 {
		status := "200"
		if reg.Method == http.MethodPost {
			status = "201"
		}
		responses = map[string]typedhttp.ResponseSpec{
			status: {Description: http.StatusText(atoi(status)), ContentTypes: []string{"application/json"}},
		}
	}

	statuses := make([]string, 0, len(responses))
	for status := range responses {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)

	for _, status := range statuses {
		rs := responses[status]
		description := rs.Description
		if description == "" {
			description = http.StatusText(atoi(status))
		}

		schema := successSchema
		if code := atoi(status); code >= http.StatusBadRequest {
			schema = g.errorSchemaRef(spec)
		}

		response := &openapi3.Response{Description: &description}
		if len(rs.ContentTypes) > 0 {
			response.Content = make(openapi3.Content, len(rs.ContentTypes))
			for _, ct := range rs.ContentTypes {
				response.Content[ct] = &openapi3.MediaType{Schema: schema}
			}
		}
		operation.Responses.Set(status, &openapi3.ResponseRef{Value: response})
	}

	return nil
}

func (g *Generator) errorSchemaRef(spec *openapi3.T) *openapi3.SchemaRef {
	schema, ok := spec.Components.Schemas[errorComponent]
	if !ok {
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}}
	}
	return &openapi3.SchemaRef{Ref: "#/components/schemas/" + errorComponent, Value: schema.Value}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// extractParameters extracts OpenAPI parameters from request type.
func (g *Generator) extractParameters(requestType reflect.Type) (openapi3.Parameters, error) {
	var parameters openapi3.Parameters

	for requestType.Kind() == reflect.Ptr {
		requestType = requestType.Elem()
	}
	if requestType.Kind() != reflect.Struct {
		return nil, nil
	}

	for i := 0; i < requestType.NumField(); i++ {
		field := requestType.Field(i)
		if !field.IsExported() {
			continue
		}

		if name := field.Tag.Get("query"); name != "" {
			param, err := g.createParameter(&field, openapi3.ParameterInQuery, name)
			if err != nil {
				return nil, err
			}
			parameters = append(parameters, param)
		}

		if name := field.Tag.Get("header"); name != "" {
			param, err := g.createParameter(&field, openapi3.ParameterInHeader, name)
			if err != nil {
				return nil, err
			}
			parameters = append(parameters, param)
		}
	}

	return parameters, nil
}

// createParameter creates an OpenAPI parameter from a struct field.
func (g *Generator) createParameter(field *reflect.StructField, in, name string) (*openapi3.ParameterRef, error) {
	schema, err := g.createSchemaFromType(field.Type)
	if err != nil {
		return nil, err
	}

	validate := field.Tag.Get("validate")
	g.applyValidationToSchema(schema, validate)

	if defaultValue := field.Tag.Get("default"); defaultValue != "" {
		schema.Value.Default = g.parseDefaultValue(defaultValue, field.Type)
	}

	param := &openapi3.Parameter{
		Name:        name,
		In:          in,
		Description: field.Tag.Get("description"),
		Required:    hasRule(validate, "required"),
		Schema:      schema,
	}
	if example := field.Tag.Get("example"); example != "" {
		param.Example = example
	}

	return &openapi3.ParameterRef{Value: param}, nil
}

func hasRule(validate, rule string) bool {
	for _, r := range strings.Split(validate, ",") {
		if strings.TrimSpace(r) == rule {
			return true
		}
	}
	return false
}

// createResponseSchema creates schema for response type. Raw responses carry
// their own encoding and get an unconstrained schema.
func (g *Generator) createResponseSchema(responseType reflect.Type) (*openapi3.SchemaRef, error) {
	if responseType == nil {
		return &openapi3.SchemaRef{Value: &openapi3.Schema{}}, nil
	}
	t := responseType
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == rawResponseType {
		return &openapi3.SchemaRef{Value: &openapi3.Schema{}}, nil
	}
	return g.createSchemaFromType(responseType)
}

// createSchemaFromType creates OpenAPI schema from Go type.
func (g *Generator) createSchemaFromType(t reflect.Type) (*openapi3.SchemaRef, error) {
	schema := &openapi3.Schema{}

	switch t.Kind() {
	case reflect.String:
		schema.Type = &openapi3.Types{"string"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		schema.Type = &openapi3.Types{"integer"}
	case reflect.Float32, reflect.Float64:
		schema.Type = &openapi3.Types{"number"}
	case reflect.Bool:
		schema.Type = &openapi3.Types{"boolean"}
	case reflect.Struct:
		schema.Type = &openapi3.Types{"object"}
		schema.Properties = make(openapi3.Schemas)

		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}

			jsonName := field.Tag.Get("json")
			if jsonName == "" || jsonName == "-" {
				continue
			}

			fieldName, opts, _ := strings.Cut(jsonName, ",")
			omitempty := strings.Contains(opts, "omitempty")

			fieldSchema, err := g.createSchemaFromType(field.Type)
			if err != nil {
				return nil, err
			}
			if description := field.Tag.Get("description"); description != "" {
				fieldSchema.Value.Description = description
			}
			if field.Type.Kind() == reflect.Ptr {
				fieldSchema.Value.Nullable = true
			}

			schema.Properties[fieldName] = fieldSchema
			if !omitempty {
				schema.Required = append(schema.Required, fieldName)
			}
		}
	case reflect.Slice, reflect.Array:
		schema.Type = &openapi3.Types{"array"}
		itemSchema, err := g.createSchemaFromType(t.Elem())
		if err != nil {
			return nil, err
		}
		schema.Items = itemSchema
	case reflect.Map:
		schema.Type = &openapi3.Types{"object"}
		trueVal := true
		schema.AdditionalProperties = openapi3.AdditionalProperties{Has: &trueVal}
	case reflect.Ptr:
		return g.createSchemaFromType(t.Elem())
	case reflect.Interface:
		// Any JSON value.
	case reflect.Invalid, reflect.Uintptr, reflect.Complex64, reflect.Complex128,
		reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return nil, fmt.Errorf("unsupported type %s", t)
	}

	return &openapi3.SchemaRef{Value: schema}, nil
}

// applyValidationToSchema applies validation constraints to schema.
func (g *Generator) applyValidationToSchema(schemaRef *openapi3.SchemaRef, validate string) {
	if validate == "" || schemaRef.Value == nil {
		return
	}

	schema := schemaRef.Value
	for _, rule := range strings.Split(validate, ",") {
		rule = strings.TrimSpace(rule)
		switch {
		case strings.HasPrefix(rule, "min="):
			g.applyBound(schema, rule[4:], true)
		case strings.HasPrefix(rule, "max="):
			g.applyBound(schema, rule[4:], false)
		case strings.HasPrefix(rule, "oneof="):
			for _, v := range strings.Fields(rule[6:]) {
				schema.Enum = append(schema.Enum, v)
			}
		}
	}
}

func (g *Generator) applyBound(schema *openapi3.Schema, value string, lower bool) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 || schema.Type == nil || len(*schema.Type) == 0 {
		return
	}

	switch (*schema.Type)[0] {
	case "string":
		if lower {
			schema.MinLength = uint64(n)
		} else {
			maxLen := uint64(n)
			schema.MaxLength = &maxLen
		}
	case "integer", "number":
		f := float64(n)
		if lower {
			schema.Min = &f
		} else {
			schema.Max = &f
		}
	}
}

// parseDefaultValue parses default value based on type.
func (g *Generator) parseDefaultValue(defaultValue string, t reflect.Type) interface{} {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if val, err := strconv.ParseInt(defaultValue, 10, 64); err == nil {
			return val
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if val, err := strconv.ParseUint(defaultValue, 10, 64); err == nil {
			return val
		}
	case reflect.Float32, reflect.Float64:
		if val, err := strconv.ParseFloat(defaultValue, 64); err == nil {
			return val
		}
	case reflect.Bool:
		if val, err := strconv.ParseBool(defaultValue); err == nil {
			return val
		}
	case reflect.Ptr:
		return g.parseDefaultValue(defaultValue, t.Elem())
	}

	return defaultValue
}

// GenerateJSON generates JSON representation of OpenAPI spec.
func (g *Generator) GenerateJSON(spec *openapi3.T) ([]byte, error) {
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal OpenAPI spec to JSON: %w", err)
	}

	return data, nil
}

// GenerateYAML generates YAML representation of OpenAPI spec.
func (g *Generator) GenerateYAML(spec *openapi3.T) ([]byte, error) {
	// openapi3 types only carry JSON marshalers, so go through a generic value.
	data, err := spec.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal OpenAPI spec to YAML: %w", err)
	}
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to marshal OpenAPI spec to YAML: %w", err)
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal OpenAPI spec to YAML: %w", err)
	}

	return out, nil
}

// Format selects the serialisation served by DocumentHandler.
type Format string

// Supported document formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// DocumentHandler serves the document for router. It is generated on the
// first request, after all routes have been registered.
func (g *Generator) DocumentHandler(router *typedhttp.TypedRouter, format Format) http.Handler {
	var (
		once        sync.Once
		body        []byte
		err         error
		contentType = "application/json"
	)
	if format == FormatYAML {
		contentType = "application/yaml"
	}

	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		once.Do(func() {
			body, err = g.Render(router, format)
		})
		if err != nil {
			http.Error(w, "failed to generate API document", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write(body)
	})
}

// Render generates the document for router in format.
func (g *Generator) Render(router *typedhttp.TypedRouter, format Format) ([]byte, error) {
	spec, err := g.Generate(router)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatJSON:
		return g.GenerateJSON(spec)
	case FormatYAML:
		return g.GenerateYAML(spec)
	default:
		return nil, fmt.Errorf("unsupported document format %q", format)
	}
}
