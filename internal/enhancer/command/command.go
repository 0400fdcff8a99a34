// Package command turns global options and capability settings into the
// argument vector for one tpai invocation.
package command

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/danshapiro/topazbridge/internal/enhancer/settings"
	"github.com/danshapiro/topazbridge/internal/tpai"
)

// Options are the per-batch global flags.
type Options struct {
	Executable  string
	OutputDir   string
	Format      string
	Compression int
}

// Invocation is a fully built command line. Args excludes the executable.
type Invocation struct {
	Executable string
	Args       []string
}

// Argv returns the executable followed by Args.
func (inv Invocation) Argv() []string {
	return append([]string{inv.Executable}, inv.Args...)
}

// String renders the invocation for logs, quoting arguments that contain
// whitespace or quotes. The result is never handed to a shell.
func (inv Invocation) String() string {
	parts := make([]string, 0, len(inv.Args)+1)
	for _, a := range inv.Argv() {
		if a == "" || strings.ContainsAny(a, " \t\n\"'") {
			a = strconv.Quote(a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// Index returns the position of arg in Args, or -1.
func (inv Invocation) Index(arg string) int {
	for i, a := range inv.Args {
		if a == arg {
			return i
		}
	}
	return -1
}

// Build assembles the command line for inputPath. Compression is validated
// here; the executable path is checked by the runner before spawning.
func Build(opts Options, set settings.Set, inputPath string) (Invocation, error) {
	if opts.Compression < tpai.MinCompression || opts.Compression > tpai.MaxCompression {
		return Invocation{}, tpai.Configf("compression", "%d out of range [%d,%d]", opts.Compression, tpai.MinCompression, tpai.MaxCompression)
	}
	if strings.TrimSpace(inputPath) == "" {
		return Invocation{}, tpai.Configf("input", "input path is required")
	}
	if err := set.Validate(); err != nil {
		return Invocation{}, err
	}
	format := strings.TrimSpace(opts.Format)
	if format == "" {
		format = "png"
	}

	args := []string{
		tpai.FlagOutput, opts.OutputDir,
		tpai.FlagCompression, strconv.Itoa(opts.Compression),
		tpai.FlagFormat, format,
		tpai.FlagShowSettings,
	}
	if set.AnyEnabled() {
		args = append(args, tpai.FlagOverride)
	}
	for _, c := range set.Capabilities() {
		if !c.IsEnabled() {
			continue
		}
		args = append(args, capabilityArgs(c)...)
	}
	args = append(args, inputPath)
	return Invocation{Executable: opts.Executable, Args: args}, nil
}

func capabilityArgs(c settings.Capability) []string {
	switch v := c.(type) {
	case *settings.Upscale:
		return []string{
			tpai.FlagUpscale,
			kv("model", v.Model),
			kv("param1", formatFloat(v.Param1)),
			kv("param2", formatFloat(v.Param2)),
			kv("param3", formatFloat(v.Param3)),
			kv("mode", v.Mode),
			kv("resolution", strconv.Itoa(v.Resolution)),
			kv("resolutionUnit", strconv.Itoa(v.ResolutionUnit)),
			kv("locked", formatBool(v.Locked)),
		}
	case *settings.Sharpen:
		return []string{
			tpai.FlagSharpen,
			kv("model", SharpenModel(v.Model)),
			kv("param1", formatFloat(v.Param1)),
			kv("param2", formatFloat(v.Param2)),
			kv("compression", formatFloat(v.Compression)),
			kv("isLens", formatBool(v.IsLens)),
			kv("auto", formatBool(v.Auto)),
			kv("mask", formatBool(v.Mask)),
			kv("locked", formatBool(v.Locked)),
		}
	case *settings.FaceRecovery:
		args := []string{
			tpai.FlagFace,
			kv("model", v.Model),
			kv("param1", formatFloat(v.Param1)),
			kv("version", strconv.Itoa(v.Version)),
			kv("faceOption", v.FaceOption),
			kv("creativity", strconv.Itoa(v.Creativity)),
			kv("locked", formatBool(v.Locked)),
		}
		if len(v.FaceParts) > 0 {
			args = append(args, kv("faceParts", formatList(v.FaceParts)))
		}
		return args
	case *settings.Denoise:
		return []string{
			tpai.FlagDenoise,
			kv("model", v.Model),
			kv("param1", formatFloat(v.Param1)),
			kv("param2", formatFloat(v.Param2)),
			kv("recover_detail", formatFloat(v.OriginalDetail)),
			kv("auto", formatBool(v.Auto)),
			kv("mask", formatBool(v.Mask)),
			kv("locked", formatBool(v.Locked)),
		}
	case *settings.CropPad:
		return []string{
			tpai.FlagCrop,
			kv("cropLeft", strconv.Itoa(v.CropLeft)),
			kv("cropTop", strconv.Itoa(v.CropTop)),
			kv("cropRight", strconv.Itoa(v.CropRight)),
			kv("cropBottom", strconv.Itoa(v.CropBottom)),
			tpai.FlagPad,
			kv("padLeft", strconv.Itoa(v.PadLeft)),
			kv("padTop", strconv.Itoa(v.PadTop)),
			kv("padRight", strconv.Itoa(v.PadRight)),
			kv("padBottom", strconv.Itoa(v.PadBottom)),
		}
	case *settings.TextRecovery:
		return []string{
			tpai.FlagText,
			kv("param1_normal", formatFloat(v.Param1Normal)),
			kv("param2_normal", formatFloat(v.Param2Normal)),
			kv("param3_normal", formatFloat(v.Param3Normal)),
			kv("param1_noisy", formatFloat(v.Param1Noisy)),
			kv("param2_noisy", formatFloat(v.Param2Noisy)),
			kv("param3_noisy", formatFloat(v.Param3Noisy)),
			kv("param4", formatFloat(v.Param4)),
			kv("auto", formatBool(v.Auto)),
			kv("locked", formatBool(v.Locked)),
		}
	case *settings.SuperFocus:
		return []string{
			tpai.FlagSuperFocus,
			kv("superFocusStrength", formatFloat(v.Amount)),
			kv("gamma", formatFloat(v.Radius)),
			kv("auto", formatBool(v.Auto)),
			kv("locked", formatBool(v.Locked)),
		}
	}
	return nil
}

// SharpenModel prefixes model with "Sharpen " unless it already has it.
func SharpenModel(model string) string {
	if strings.HasPrefix(model, "Sharpen ") {
		return model
	}
	return "Sharpen " + model
}

func kv(k, v string) string { return k + "=" + v }

func formatBool(b bool) string { return strconv.FormatBool(b) }

// formatFloat prints the shortest representation that round-trips, always
// with a decimal point: 1 -> "1.0", 0.13 -> "0.13".
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// formatList renders a JSON array in the spacing tpai documents:
// ["hair", "necks"].
func formatList(items []string) string {
	quoted := make([]string, 0, len(items))
	for _, it := range items {
		b, _ := json.Marshal(strings.TrimSpace(it))
		quoted = append(quoted, string(b))
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
