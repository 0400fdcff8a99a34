package settings

import (
	"sort"
	"strconv"
	"strings"

	"github.com/danshapiro/topazbridge/internal/tpai"
)

// Labels names the positional parameters of each capability. tpai only
// understands param1..paramN; the labels are for configuration and display
// and may be overridden since their meaning differs between tool versions.
type Labels map[Kind][]string

func DefaultLabels() Labels {
	return Labels{
		KindUpscale: {"denoise", "deblur", "fix_compression"},
		KindSharpen: {"strength", "denoise"},
		KindFace:    {"strength"},
		KindDenoise: {"strength", "minor_deblur"},
	}
}

// Merge returns a copy of l with the entries in override replacing whole
// per-capability lists.
func (l Labels) Merge(override Labels) Labels {
	out := Labels{}
	for k, v := range l {
		out[k] = append([]string(nil), v...)
	}
	for k, v := range override {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Position resolves name to a 1-based parameter position. Literal "paramN"
// is always accepted.
func (l Labels) Position(k Kind, name string, count int) (int, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if rest, ok := strings.CutPrefix(name, "param"); ok {
		if n, err := strconv.Atoi(rest); err == nil {
			if n < 1 || n > count {
				return 0, tpai.Configf(string(k)+".params", "%s: %s has %d positional params", name, k, count)
			}
			return n, nil
		}
	}
	for i, label := range l[k] {
		if strings.EqualFold(strings.TrimSpace(label), name) {
			if i+1 > count {
				return 0, tpai.Configf(string(k)+".params", "label %q maps to param%d but %s has %d", name, i+1, k, count)
			}
			return i + 1, nil
		}
	}
	return 0, tpai.Configf(string(k)+".params", "unknown param %q (labels: %s)", name, strings.Join(l[k], ", "))
}

// Label returns the display label for position pos, falling back to paramN.
func (l Labels) Label(k Kind, pos int) string {
	if pos >= 1 && pos <= len(l[k]) && strings.TrimSpace(l[k][pos-1]) != "" {
		return l[k][pos-1]
	}
	return "param" + strconv.Itoa(pos)
}

// ApplyParams assigns labelled values onto c. Keys are applied in sorted
// order so conflicting aliases resolve the same way every time.
func ApplyParams(c Positional, l Labels, params map[string]float64) error {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, name := range keys {
		pos, err := l.Position(c.Kind(), name, c.ParamCount())
		if err != nil {
			return err
		}
		c.SetParam(pos, params[name])
	}
	return nil
}
