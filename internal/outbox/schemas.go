package outbox

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"example.com/reserve/pkg/events"
)

// SchemaCatalogEntry maps event type to schema definition.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = buildSchemaCatalog()

func buildSchemaCatalog() map[string]SchemaCatalogEntry {
	catalog := make(map[string]SchemaCatalogEntry, len(events.Types()))
	for _, eventType := range events.Types() {
		payload, _ := events.PayloadOf(eventType)
		schema, err := jsonSchemaFor(reflect.TypeOf(payload))
		if err != nil {
			panic(fmt.Sprintf("outbox: schema for %s: %v", eventType, err))
		}
		catalog[eventType] = SchemaCatalogEntry{Schema: schema}
	}
	return catalog
}

var timeType = reflect.TypeOf(time.Time{})

// jsonSchemaFor renders a closed JSON schema for a flat payload struct. Every
// tagged field is required; amounts are unsigned integers.
func jsonSchemaFor(t reflect.Type) (string, error) {
	type property struct {
		Type    string `json:"type"`
		Format  string `json:"format,omitempty"`
		Minimum *int   `json:"minimum,omitempty"`
	}
	zero := 0

	props := make(map[string]property, t.NumField())
	required := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}

		var p property
		switch {
		case f.Type == timeType:
			p = property{Type: "string", Format: "date-time"}
		case f.Type.Kind() == reflect.String:
			p = property{Type: "string"}
		case f.Type.Kind() == reflect.Bool:
			p = property{Type: "boolean"}
		case f.Type.Kind() >= reflect.Uint && f.Type.Kind() <= reflect.Uint64:
			p = property{Type: "integer", Minimum: &zero}
		case f.Type.Kind() >= reflect.Int && f.Type.Kind() <= reflect.Int64:
			p = property{Type: "integer"}
		default:
			return "", fmt.Errorf("field %s: unsupported kind %s", f.Name, f.Type.Kind())
		}
		props[name] = p
		required = append(required, name)
	}

	doc := struct {
		Type                 string              `json:"type"`
		Title                string              `json:"title"`
		Properties           map[string]property `json:"properties"`
		Required             []string            `json:"required"`
		AdditionalProperties bool                `json:"additionalProperties"`
	}{
		Type:       "object",
		Title:      t.Name(),
		Properties: props,
		Required:   required,
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
