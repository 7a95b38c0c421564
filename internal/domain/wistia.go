package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MediaStatusReady is the Wistia status of a media that can be streamed
const MediaStatusReady = "ready"

// ManifestRef is the result of resolving a media identifier
type ManifestRef struct {
	Ref         MediaRef `json:"media"`
	ManifestURL string   `json:"manifest_url"`
}

// ManifestResolver resolves a media identifier into its HLS manifest
type ManifestResolver interface {
	// Resolve returns ErrUnresolvableIdentifier (wrapped) when the media is unknown or not playable
	Resolve(ctx context.Context, identifier string) (ManifestRef, error)
}

// Account is the account-level metadata returned by the Wistia Data API
type Account struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	URL        string `json:"url"`
	MediaCount int    `json:"mediaCount"`
}

// Media is the subset of media metadata needed to locate a stream
type Media struct {
	ID       int     `json:"id"`
	HashedID string  `json:"hashed_id"`
	Name     string  `json:"name"`
	Status   string  `json:"status"`
	Duration float64 `json:"duration"`
}

// IsReady checks if Wistia finished processing the media
func (m *Media) IsReady() bool {
	return m.Status == MediaStatusReady
}

// FieldError describes one invalid or missing field
type FieldError struct {
	Field   string `json:"field"`
	Problem string `json:"problem"`
}

// ParseError is returned when a Data API payload does not match the expected schema
type ParseError struct {
	Type   string
	Fields []FieldError
	Cause  error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid %s payload: %v", e.Type, e.Cause)
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Problem)
	}
	return fmt.Sprintf("invalid %s payload: %s", e.Type, strings.Join(parts, ", "))
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

var validate = validator.New()

type accountPayload struct {
	ID         *int    `json:"id" validate:"required,gt=0"`
	Name       *string `json:"name" validate:"required"`
	URL        *string `json:"url" validate:"required,url"`
	MediaCount *int    `json:"mediaCount" validate:"required,gte=0"`
}

type mediaPayload struct {
	ID       *int     `json:"id" validate:"omitempty,gt=0"`
	HashedID *string  `json:"hashed_id" validate:"required,alphanum"`
	Name     *string  `json:"name"`
	Status   *string  `json:"status" validate:"required"`
	Duration *float64 `json:"duration" validate:"omitempty,gte=0"`
}

// ParseAccount decodes and validates an account payload
func ParseAccount(data []byte) (*Account, error) {
	var p accountPayload
	if err := decodeAndValidate("account", data, &p); err != nil {
		return nil, err
	}
	return &Account{
		ID:         *p.ID,
		Name:       *p.Name,
		URL:        *p.URL,
		MediaCount: *p.MediaCount,
	}, nil
}

// ParseMedia decodes and validates a media payload
func ParseMedia(data []byte) (*Media, error) {
	var p mediaPayload
	if err := decodeAndValidate("media", data, &p); err != nil {
		return nil, err
	}
	m := &Media{
		HashedID: *p.HashedID,
		Status:   *p.Status,
	}
	if p.ID != nil {
		m.ID = *p.ID
	}
	if p.Name != nil {
		m.Name = *p.Name
	}
	if p.Duration != nil {
		m.Duration = *p.Duration
	}
	return m, nil
}

func decodeAndValidate(kind string, data []byte, out interface{}) error {
	if err := json.Unmarshal(data, out); err != nil {
		return &ParseError{Type: kind, Cause: err}
	}
	if err := validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return &ParseError{Type: kind, Cause: err}
		}
		pe := &ParseError{Type: kind}
		for _, fe := range verrs {
			pe.Fields = append(pe.Fields, FieldError{
				Field:   jsonFieldName(fe.StructField()),
				Problem: describeTag(fe.Tag()),
			})
		}
		return pe
	}
	return nil
}

func jsonFieldName(structField string) string {
	switch structField {
	case "ID":
		return "id"
	case "HashedID":
		return "hashed_id"
	case "MediaCount":
		return "mediaCount"
	default:
		return strings.ToLower(structField)
	}
}

func describeTag(tag string) string {
	switch tag {
	case "required":
		return "is missing"
	case "url":
		return "is not a valid URL"
	case "alphanum":
		return "must be alphanumeric"
	case "gt", "gte":
		return "is out of range"
	default:
		return "failed " + tag
	}
}
