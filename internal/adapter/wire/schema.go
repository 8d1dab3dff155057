package wire

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonschema"
)

const incomingSchema = `{
	"type": "object",
	"required": ["cmd"],
	"properties": {
		"cmd":   {"type": "string", "minLength": 1},
		"evt":   {"type": ["string", "null"]},
		"nonce": {"type": ["string", "null"]},
		"args":  {"type": ["object", "null"]},
		"data":  {"type": ["object", "null"]}
	}
}`

const readySchema = `{
	"type": "object",
	"required": ["v", "config"],
	"properties": {
		"v": {"type": "number"},
		"config": {
			"type": "object",
			"properties": {
				"cdn_host":     {"type": "string"},
				"api_endpoint": {"type": "string"},
				"environment":  {"type": "string"}
			}
		},
		"user": {
			"type": "object",
			"required": ["id"],
			"properties": {"id": {"type": "string"}}
		}
	}
}`

const errorSchema = `{
	"type": "object",
	"required": ["code", "message"],
	"properties": {
		"code":    {"type": "number"},
		"message": {"type": "string"}
	}
}`

const authorizeSchema = `{
	"type": "object",
	"required": ["code"],
	"properties": {"code": {"type": "string", "minLength": 1}}
}`

const authenticateSchema = `{
	"type": "object",
	"required": ["user", "application"],
	"properties": {
		"user":        {"type": "object", "required": ["id"]},
		"application": {"type": "object", "required": ["id"]},
		"scopes":      {"type": "array", "items": {"type": "string"}},
		"expires":     {"type": "string"}
	}
}`

const tokenResponseSchema = `{
	"type": "object",
	"required": ["access_token", "refresh_token", "expires_in", "token_type"],
	"properties": {
		"access_token":  {"type": "string", "minLength": 1},
		"refresh_token": {"type": "string", "minLength": 1},
		"expires_in":    {"type": ["number", "string"]},
		"token_type":    {"type": "string", "minLength": 1},
		"scope":         {"type": "string"}
	}
}`

// Compiled schemas for every payload the core interprets.
var (
	IncomingSchema      = mustCompile("incoming", incomingSchema)
	ReadySchema         = mustCompile("ready", readySchema)
	ErrorSchema         = mustCompile("error", errorSchema)
	AuthorizeSchema     = mustCompile("authorize", authorizeSchema)
	AuthenticateSchema  = mustCompile("authenticate", authenticateSchema)
	TokenResponseSchema = mustCompile("token_response", tokenResponseSchema)
)

// Schema validates decoded JSON values.
type Schema struct {
	name   string
	schema *jsonschema.Schema
}

func mustCompile(name, src string) *Schema {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile([]byte(src))
	if err != nil {
		panic(fmt.Sprintf("wire: compile %s schema: %v", name, err))
	}
	return &Schema{name: name, schema: schema}
}

// Validate checks a value produced by json.Unmarshal into any.
func (s *Schema) Validate(data any) error {
	result := s.schema.Validate(data)
	if !result.IsValid() {
		return fmt.Errorf("%s schema: %s", s.name, result.Error())
	}
	return nil
}

// ValidateJSON decodes raw and validates it.
func (s *Schema) ValidateJSON(raw []byte) error {
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("%s schema: %w", s.name, err)
	}
	return s.Validate(data)
}
