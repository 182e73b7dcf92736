package cli

import (
	"strings"

	"boards-wiql/internal/errs"
)

func parseAssignment(input string) (string, string, error) {
	parts := strings.SplitN(input, "=", 2)
	if len(parts) != 2 {
		return "", "", errs.New(errs.CodeInvalidArgs, "expected Field=Value", input)
	}
	field := strings.TrimSpace(parts[0])
	if field == "" {
		return "", "", errs.New(errs.CodeInvalidArgs, "field name is required", input)
	}
	return field, parts[1], nil
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
