// Package importer turns pasted or uploaded JSON into company records.
package importer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"logistics/api/internal/store"
)

const (
	msgNotArray   = "Invalid format: Expected an array of objects."
	msgBadJSON    = "Failed to parse JSON data. Please check your syntax."
	msgEmptyInput = "Please paste some JSON data first."
)

var ErrEmptyInput = errors.New(msgEmptyInput)

// ParseError means the input is not a JSON array.
type ParseError struct {
	Message string
	Err     error
}

func (e *ParseError) Error() string { return e.Message }

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError names the first element missing a required field.
type ValidationError struct {
	Index int
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Item at index %d is missing required '%s' field.", e.Index, e.Field)
}

// aliases lists the accepted input keys per optional field, highest priority
// first.
var aliases = []struct {
	field string
	keys  []string
}{
	{"deliveryDetails", []string{"details", "deliveryDetails", "instruction"}},
	{"contactPerson", []string{"contactPerson", "person", "contact"}},
	{"phoneNumber", []string{"phoneNumber", "phone", "mobile"}},
	{"assignedTour", []string{"tour"}},
}

// ProcessJSON validates and normalizes an import batch. Either every element
// becomes a company or none does.
func ProcessJSON(text string, newID func() string) ([]store.Company, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, &ParseError{Message: msgBadJSON, Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &ParseError{Message: msgBadJSON, Err: errors.New("trailing data after array")}
	}
	items, ok := root.([]any)
	if !ok {
		return nil, &ParseError{Message: msgNotArray}
	}

	companies := make([]store.Company, 0, len(items))
	for idx, item := range items {
		obj, _ := item.(map[string]any)
		name := requiredText(obj, "name")
		if name == "" {
			return nil, &ValidationError{Index: idx, Field: "name"}
		}
		address := requiredText(obj, "address")
		if address == "" {
			return nil, &ValidationError{Index: idx, Field: "address"}
		}

		c := store.Company{
			ID:      newID(),
			Name:    name,
			Address: address,
			Images:  images(obj["images"]),
		}
		for _, alias := range aliases {
			value := firstTruthy(obj, alias.keys)
			switch alias.field {
			case "deliveryDetails":
				c.DeliveryDetails = value
			case "contactPerson":
				c.ContactPerson = value
			case "phoneNumber":
				c.PhoneNumber = value
			case "assignedTour":
				c.AssignedTour = value
			}
		}
		companies = append(companies, c)
	}
	return companies, nil
}

// requiredText reads a required field. Non-zero numbers count as present and
// keep their literal text, so {"name": 42} yields "42".
func requiredText(obj map[string]any, key string) string {
	return firstTruthy(obj, []string{key})
}

func firstTruthy(obj map[string]any, keys []string) string {
	for _, key := range keys {
		switch v := obj[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			if n, err := v.Float64(); err == nil && n != 0 {
				return v.String()
			}
		}
	}
	return ""
}

func images(v any) []string {
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}
