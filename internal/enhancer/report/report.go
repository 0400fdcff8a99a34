// Package report recovers the settings report tpai prints with
// --showSettings. The report is a JSON object embedded in free-form console
// output after a "Final Settings for <file>" line.
package report

import (
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/danshapiro/topazbridge/internal/tpai"
)

// Reasons attached to a ReportParseWarning.
const (
	ReasonEmptyOutput     = "empty output"
	ReasonNoMarker        = "marker not found"
	ReasonNoObject        = "no object after marker"
	ReasonUnterminated    = "unterminated object"
	ReasonInvalidJSON     = "invalid json"
	ReasonUnexpectedShape = "unexpected shape"
)

const shapeSchema = `{
  "type": "object",
  "properties": {
    "autoPilotSettings": {"type": "object"}
  }
}`

var reportSchema = jsonschema.MustCompileString("settings-report.schema.json", shapeSchema)

// Report is the parsed settings report. Both objects are empty when nothing
// could be recovered; Warning then says why.
type Report struct {
	User      Object
	Autopilot Object
	Warning   *tpai.ReportParseWarning
}

// UserText is the user settings in display form.
func (r Report) UserText() string { return Display(r.User) }

// AutopilotText is the autopilot settings in display form.
func (r Report) AutopilotText() string { return Display(r.Autopilot) }

// Display renders o as indented JSON with double quotes swapped for single
// quotes, which is how the host shows settings text.
func Display(o Object) string {
	if o == nil {
		o = Object{}
	}
	return strings.ReplaceAll(o.Indented(), `"`, `'`)
}

// Extract parses stdout. It never fails; problems are reported through
// Report.Warning.
func Extract(stdout string) Report {
	empty := func(reason string, err error) Report {
		return Report{User: Object{}, Autopilot: Object{}, Warning: &tpai.ReportParseWarning{Reason: reason, Err: err}}
	}
	if strings.TrimSpace(stdout) == "" {
		return empty(ReasonEmptyOutput, nil)
	}
	raw, reason := Locate(stdout)
	if reason != "" {
		return empty(reason, nil)
	}

	obj, err := DecodeObject(raw)
	if err != nil {
		return empty(ReasonInvalidJSON, err)
	}

	rep := Report{User: obj.Without(tpai.AutopilotKey), Autopilot: Object{}}
	if err := checkShape(raw); err != nil {
		rep.Warning = &tpai.ReportParseWarning{Reason: ReasonUnexpectedShape, Err: err}
		return rep
	}
	if v, ok := obj.Get(tpai.AutopilotKey); ok {
		if ap, ok := v.(Object); ok {
			rep.Autopilot = ap
		}
	}
	return rep
}

// Locate returns the JSON text of the first object following the first
// settings marker. On failure the returned reason is non-empty.
func Locate(stdout string) (string, string) {
	at := strings.Index(stdout, tpai.SettingsMarker)
	if at < 0 {
		return "", ReasonNoMarker
	}
	rest := stdout[at+len(tpai.SettingsMarker):]
	open := strings.IndexByte(rest, '{')
	if open < 0 {
		return "", ReasonNoObject
	}
	rest = rest[open:]

	depth := 0
	inString := false
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return rest[:i+1], ""
			}
		}
	}
	return "", ReasonUnterminated
}

func checkShape(raw string) error {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return err
	}
	return reportSchema.Validate(v)
}
