package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message,omitempty"`
}

// BindJSON decodes and validates the body into out. On failure it writes a 400 whose
// top-level message names the first offending field, and returns false.
func BindJSON(ctx *gin.Context, out interface{}) bool {
	err := ctx.ShouldBindJSON(out)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		RespondError(ctx, http.StatusRequestEntityTooLarge, "body_too_large", "Request body is too large", nil)
		return false
	}

	message, details := describeBindError(err, out)
	RespondBadRequest(ctx, message, details)
	return false
}

func describeBindError(err error, out interface{}) (string, gin.H) {
	root := structType(out)

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		fields := make([]FieldError, 0, len(validationErrs))

		for _, fe := range validationErrs {
			name := jsonFieldName(root, fe.StructField())
			fields = append(fields, FieldError{
				Field:   name,
				Rule:    fe.Tag(),
				Param:   fe.Param(),
				Message: ruleMessage(fe.Tag(), fe.Param()),
			})
		}

		first := fields[0]
		return first.Field + " " + first.Message, gin.H{"fields": fields}
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return "Invalid request body", gin.H{"json": "invalid_json_syntax"}
	}

	if errors.Is(err, io.EOF) {
		return "Request body is required", gin.H{"json": "empty_body"}
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		name := jsonFieldName(root, typeErr.Field)
		if name == "" {
			name = strings.TrimSpace(typeErr.Field)
		}
		msg := fmt.Sprintf("must be of type %s", typeErr.Type.String())

		return name + " " + msg, gin.H{
			"json":  "invalid_json_type",
			"field": name,
			"fields": []FieldError{
				{Field: name, Rule: "type", Message: msg},
			},
		}
	}

	return "Invalid request body", gin.H{"reason": err.Error()}
}

func structType(v interface{}) reflect.Type {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t != nil && t.Kind() == reflect.Struct {
		return t
	}
	return nil
}

// jsonFieldName resolves a Go field name (or a dotted path of them) to its json tag names.
// Request bodies here are flat, but nested paths still resolve segment by segment.
func jsonFieldName(root reflect.Type, goPath string) string {
	goPath = strings.TrimSpace(goPath)
	if goPath == "" {
		return ""
	}

	current := root
	parts := strings.Split(goPath, ".")
	out := make([]string, 0, len(parts))

	for _, part := range parts {
		name := part
		if current != nil && current.Kind() == reflect.Struct {
			if sf, ok := current.FieldByName(part); ok {
				name = tagName(sf)
				current = sf.Type
				for current.Kind() == reflect.Pointer {
					current = current.Elem()
				}
			} else {
				current = nil
			}
		}
		out = append(out, name)
	}

	return strings.Join(out, ".")
}

func tagName(sf reflect.StructField) string {
	name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return sf.Name
	}
	return name
}

func ruleMessage(rule, param string) string {
	switch rule {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + param + " characters"
	case "max":
		return "must be at most " + param + " characters"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(param, " ", ", ")
	default:
		if param != "" {
			return fmt.Sprintf("failed %s validation (%s)", rule, param)
		}
		return "failed " + rule + " validation"
	}
}
