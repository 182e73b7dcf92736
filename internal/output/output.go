package output

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"

	"boards-wiql/internal/errs"
)

type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error ErrorDetail `json:"error"`
}

func Envelope(err error) ErrorEnvelope {
	env := ErrorEnvelope{Error: ErrorDetail{Code: errs.CodeInternal, Message: err.Error()}}
	if appErr, ok := errs.As(err); ok {
		env.Error.Code = appErr.Code
		env.Error.Message = appErr.Error()
		env.Error.Details = appErr.Details
	}
	return env
}

func WriteError(w io.Writer, err error, jsonMode bool) {
	if jsonMode {
		data, _ := json.Marshal(Envelope(err))
		fmt.Fprintln(w, string(data))
		return
	}
	red := color.New(color.FgRed)
	red.Fprintln(w, "error: "+err.Error())
}

func PrintJSON(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// PrintTable writes header and rows as aligned columns. Cells are truncated
// to width runes when width > 0.
func PrintTable(w io.Writer, header []string, rows [][]string, width int) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	writeRow(tw, header, width)
	for _, row := range rows {
		writeRow(tw, row, width)
	}
	_ = tw.Flush()
}

func writeRow(w io.Writer, cells []string, width int) {
	for i, cell := range cells {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, truncate(cell, width))
	}
	fmt.Fprintln(w)
}

func truncate(s string, width int) string {
	if width <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width <= 3 {
		return string(runes[:width])
	}
	return string(runes[:width-3]) + "..."
}
