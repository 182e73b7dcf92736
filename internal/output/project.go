package output

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"boards-wiql/internal/api"
	"boards-wiql/internal/richtext"
)

// DefaultRichTextFields hold HTML produced by the work item form editor.
var DefaultRichTextFields = []string{"System.Description"}

var defaultProjector = NewProjector(DefaultRichTextFields)

// Projector renders record fields for display. Rich-text fields are reduced
// to plain text; reference names match case-insensitively.
type Projector struct {
	richText map[string]bool
}

func NewProjector(richTextFields []string) Projector {
	richText := make(map[string]bool, len(richTextFields))
	for _, ref := range richTextFields {
		if ref = strings.TrimSpace(ref); ref != "" {
			richText[strings.ToLower(ref)] = true
		}
	}
	return Projector{richText: richText}
}

// Project maps a record to one display value per field, in the given order.
// Missing or falsy values become "".
func Project(item api.WorkItem, fields []string) []string {
	return defaultProjector.Project(item, fields)
}

// ProjectText renders a record as "Title: value" lines, skipping empty values.
func ProjectText(item api.WorkItem, fields []string, headers []string) string {
	return defaultProjector.ProjectText(item, fields, headers)
}

// FieldValue formats one field with the default rich-text set.
func FieldValue(fields map[string]interface{}, name string) string {
	return defaultProjector.FieldValue(fields, name)
}

func (p Projector) Project(item api.WorkItem, fields []string) []string {
	row := make([]string, 0, len(fields))
	for _, f := range fields {
		row = append(row, p.FieldValue(item.Fields, f))
	}
	return row
}

func (p Projector) ProjectText(item api.WorkItem, fields []string, headers []string) string {
	lines := []string{}
	for i, f := range fields {
		value := p.FieldValue(item.Fields, f)
		if value == "" {
			continue
		}
		label := f
		if i < len(headers) && headers[i] != "" {
			label = headers[i]
		}
		lines = append(lines, label+": "+value)
	}
	return strings.Join(lines, "\n")
}

func (p Projector) FieldValue(fields map[string]interface{}, name string) string {
	raw, ok := fields[name]
	if !ok || isFalsy(raw) {
		return ""
	}
	if p.richText[strings.ToLower(name)] {
		if s, ok := raw.(string); ok {
			return richtext.PlainText(s)
		}
	}
	return stringify(raw)
}

func isFalsy(v interface{}) bool {
	if v == nil {
		return true
	}
	switch val := v.(type) {
	case string:
		return val == ""
	case bool:
		return !val
	case float64:
		return val == 0
	case json.Number:
		f, err := val.Float64()
		return err == nil && f == 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() == 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() == 0
	case reflect.Float32:
		return rv.Float() == 0
	}
	return false
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case json.Number:
		return val.String()
	case map[string]interface{}:
		if identity := identityString(val); identity != "" {
			return identity
		}
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if isFalsy(item) {
				continue
			}
			parts = append(parts, stringify(item))
		}
		return strings.Join(parts, "; ")
	}
	return fmt.Sprint(v)
}

// identityString formats an identity reference as "Display Name<unique@name>".
func identityString(val map[string]interface{}) string {
	if dn, ok := val["displayName"].(string); ok && dn != "" {
		if un, ok := val["uniqueName"].(string); ok && un != "" {
			return fmt.Sprintf("%s<%s>", dn, un)
		}
		return dn
	}
	if un, ok := val["uniqueName"].(string); ok && un != "" {
		return un
	}
	return ""
}
