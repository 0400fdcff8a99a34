// Package settings holds the per-capability configuration passed to tpai.
// Each capability is a fixed struct with documented defaults; Validate
// rejects out-of-range values with a *tpai.ConfigurationError.
package settings

import (
	"math"
	"strconv"
	"strings"

	"github.com/danshapiro/topazbridge/internal/tpai"
)

type Kind string

const (
	KindUpscale    Kind = "upscale"
	KindSharpen    Kind = "sharpen"
	KindFace       Kind = "face"
	KindDenoise    Kind = "denoise"
	KindCropPad    Kind = "crop_pad"
	KindText       Kind = "text"
	KindSuperFocus Kind = "superfocus"
)

// Order is the order in which capabilities appear on the command line.
var Order = []Kind{KindUpscale, KindSharpen, KindFace, KindDenoise, KindCropPad, KindText, KindSuperFocus}

const (
	MaxResolution     = 300
	MaxResolutionUnit = 3
	MinFaceVersion    = 1
	MaxFaceVersion    = 3
	MaxFaceCreativity = 5
	MaxCropPad        = 10000
)

// Upscale known models. The list is advisory; tpai decides what it accepts.
var UpscaleModels = []string{"Standard v2", "Standard v1", "High fidelity v2", "High fidelity v1", "Low resolution", "Graphics"}

var SharpenModels = []string{"Standard", "Standard V2", "Strong", "Natural", "Lens Blur", "Lens Blur V2", "Motion Blur", "Refocus"}

var DenoiseModels = []string{"Normal", "Normal V2", "Strong", "Strong V2", "Extreme"}

type Upscale struct {
	Enabled        bool    `yaml:"enabled" json:"enabled"`
	Model          string  `yaml:"model" json:"model"`
	Param1         float64 `yaml:"param1" json:"param1"`
	Param2         float64 `yaml:"param2" json:"param2"`
	Param3         float64 `yaml:"param3" json:"param3"`
	Mode           string  `yaml:"mode" json:"mode"`
	Resolution     int     `yaml:"resolution" json:"resolution"`
	ResolutionUnit int     `yaml:"resolution_unit" json:"resolution_unit"`
	Locked         bool    `yaml:"locked" json:"locked"`
}

func DefaultUpscale() Upscale {
	return Upscale{
		Enabled:        true,
		Model:          "Standard v2",
		Param1:         0.13,
		Param2:         0.39,
		Param3:         0.78,
		Mode:           "scale",
		Resolution:     72,
		ResolutionUnit: 1,
	}
}

func (u *Upscale) Kind() Kind      { return KindUpscale }
func (u *Upscale) IsEnabled() bool { return u != nil && u.Enabled }
func (u *Upscale) ParamCount() int { return 3 }
func (u *Upscale) SetParam(pos int, v float64) {
	setPositional(pos, v, &u.Param1, &u.Param2, &u.Param3)
}

func (u *Upscale) Validate() error {
	if err := requireModel(KindUpscale, u.Model); err != nil {
		return err
	}
	if err := checkUnit(KindUpscale, "param", u.Param1, u.Param2, u.Param3); err != nil {
		return err
	}
	if err := checkInt(KindUpscale, "resolution", u.Resolution, 1, MaxResolution); err != nil {
		return err
	}
	return checkInt(KindUpscale, "resolution_unit", u.ResolutionUnit, 0, MaxResolutionUnit)
}

type Sharpen struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	Model       string  `yaml:"model" json:"model"`
	Param1      float64 `yaml:"param1" json:"param1"`
	Param2      float64 `yaml:"param2" json:"param2"`
	Compression float64 `yaml:"compression" json:"compression"`
	IsLens      bool    `yaml:"is_lens" json:"is_lens"`
	Auto        bool    `yaml:"auto" json:"auto"`
	Mask        bool    `yaml:"mask" json:"mask"`
	Locked      bool    `yaml:"locked" json:"locked"`
}

func DefaultSharpen() Sharpen {
	return Sharpen{
		Enabled:     true,
		Model:       "Standard V2",
		Param1:      0.065,
		Param2:      0.22,
		Compression: 0.49,
		Auto:        true,
		Mask:        true,
	}
}

func (s *Sharpen) Kind() Kind      { return KindSharpen }
func (s *Sharpen) IsEnabled() bool { return s != nil && s.Enabled }
func (s *Sharpen) ParamCount() int { return 2 }
func (s *Sharpen) SetParam(pos int, v float64) {
	setPositional(pos, v, &s.Param1, &s.Param2)
}

func (s *Sharpen) Validate() error {
	if err := requireModel(KindSharpen, s.Model); err != nil {
		return err
	}
	if err := checkUnit(KindSharpen, "param", s.Param1, s.Param2); err != nil {
		return err
	}
	return checkUnit(KindSharpen, "compression", s.Compression)
}

type FaceRecovery struct {
	Enabled    bool     `yaml:"enabled" json:"enabled"`
	Model      string   `yaml:"model" json:"model"`
	Param1     float64  `yaml:"param1" json:"param1"`
	Version    int      `yaml:"version" json:"version"`
	FaceOption string   `yaml:"face_option" json:"face_option"`
	Creativity int      `yaml:"creativity" json:"creativity"`
	Locked     bool     `yaml:"locked" json:"locked"`
	FaceParts  PartList `yaml:"face_parts" json:"face_parts"`
}

func DefaultFaceRecovery() FaceRecovery {
	return FaceRecovery{
		Enabled:    true,
		Model:      "Face Perfect",
		Param1:     0.8,
		Version:    2,
		FaceOption: "auto",
		FaceParts:  PartList{"hair", "necks"},
	}
}

func (f *FaceRecovery) Kind() Kind      { return KindFace }
func (f *FaceRecovery) IsEnabled() bool { return f != nil && f.Enabled }
func (f *FaceRecovery) ParamCount() int { return 1 }
func (f *FaceRecovery) SetParam(pos int, v float64) {
	setPositional(pos, v, &f.Param1)
}

func (f *FaceRecovery) Validate() error {
	if err := requireModel(KindFace, f.Model); err != nil {
		return err
	}
	if err := checkUnit(KindFace, "param", f.Param1); err != nil {
		return err
	}
	if err := checkInt(KindFace, "version", f.Version, MinFaceVersion, MaxFaceVersion); err != nil {
		return err
	}
	if err := checkInt(KindFace, "creativity", f.Creativity, 0, MaxFaceCreativity); err != nil {
		return err
	}
	for i, p := range f.FaceParts {
		if strings.TrimSpace(p) == "" {
			return tpai.Configf(string(KindFace)+".face_parts", "entry %d is empty", i)
		}
	}
	return nil
}

type Denoise struct {
	Enabled        bool    `yaml:"enabled" json:"enabled"`
	Model          string  `yaml:"model" json:"model"`
	Param1         float64 `yaml:"param1" json:"param1"`
	Param2         float64 `yaml:"param2" json:"param2"`
	OriginalDetail float64 `yaml:"original_detail" json:"original_detail"`
	Auto           bool    `yaml:"auto" json:"auto"`
	Mask           bool    `yaml:"mask" json:"mask"`
	Locked         bool    `yaml:"locked" json:"locked"`
}

func DefaultDenoise() Denoise {
	return Denoise{
		Enabled: true,
		Model:   "Normal V2",
		Param1:  0.27,
		Param2:  0.02,
		Auto:    true,
		Mask:    true,
	}
}

func (d *Denoise) Kind() Kind      { return KindDenoise }
func (d *Denoise) IsEnabled() bool { return d != nil && d.Enabled }
func (d *Denoise) ParamCount() int { return 2 }
func (d *Denoise) SetParam(pos int, v float64) {
	setPositional(pos, v, &d.Param1, &d.Param2)
}

func (d *Denoise) Validate() error {
	if err := requireModel(KindDenoise, d.Model); err != nil {
		return err
	}
	if err := checkUnit(KindDenoise, "param", d.Param1, d.Param2); err != nil {
		return err
	}
	return checkUnit(KindDenoise, "original_detail", d.OriginalDetail)
}

type TextRecovery struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Param1Normal float64 `yaml:"param1_normal" json:"param1_normal"`
	Param2Normal float64 `yaml:"param2_normal" json:"param2_normal"`
	Param3Normal float64 `yaml:"param3_normal" json:"param3_normal"`
	Param1Noisy  float64 `yaml:"param1_noisy" json:"param1_noisy"`
	Param2Noisy  float64 `yaml:"param2_noisy" json:"param2_noisy"`
	Param3Noisy  float64 `yaml:"param3_noisy" json:"param3_noisy"`
	Param4       float64 `yaml:"param4" json:"param4"`
	Auto         bool    `yaml:"auto" json:"auto"`
	Locked       bool    `yaml:"locked" json:"locked"`
}

func DefaultTextRecovery() TextRecovery {
	return TextRecovery{
		Enabled:      true,
		Param1Normal: 0.166,
		Param2Normal: 0.627,
		Param3Normal: 0.936,
		Param1Noisy:  0.272,
		Param2Noisy:  0.024,
		Param3Noisy:  0,
		Param4:       0.9,
		Auto:         true,
	}
}

func (t *TextRecovery) Kind() Kind      { return KindText }
func (t *TextRecovery) IsEnabled() bool { return t != nil && t.Enabled }

func (t *TextRecovery) Validate() error {
	return checkUnit(KindText, "param",
		t.Param1Normal, t.Param2Normal, t.Param3Normal,
		t.Param1Noisy, t.Param2Noisy, t.Param3Noisy, t.Param4)
}

type SuperFocus struct {
	Enabled bool    `yaml:"enabled" json:"enabled"`
	Amount  float64 `yaml:"amount" json:"amount"`
	Radius  float64 `yaml:"radius" json:"radius"`
	Auto    bool    `yaml:"auto" json:"auto"`
	Locked  bool    `yaml:"locked" json:"locked"`
}

func DefaultSuperFocus() SuperFocus {
	return SuperFocus{Enabled: true, Amount: 0.5, Radius: 0.5, Auto: true}
}

func (s *SuperFocus) Kind() Kind      { return KindSuperFocus }
func (s *SuperFocus) IsEnabled() bool { return s != nil && s.Enabled }

func (s *SuperFocus) Validate() error {
	if err := checkUnit(KindSuperFocus, "amount", s.Amount); err != nil {
		return err
	}
	return checkUnit(KindSuperFocus, "radius", s.Radius)
}

// CropPad is disabled unless explicitly requested.
type CropPad struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	CropLeft   int  `yaml:"crop_left" json:"crop_left"`
	CropTop    int  `yaml:"crop_top" json:"crop_top"`
	CropRight  int  `yaml:"crop_right" json:"crop_right"`
	CropBottom int  `yaml:"crop_bottom" json:"crop_bottom"`
	PadLeft    int  `yaml:"pad_left" json:"pad_left"`
	PadTop     int  `yaml:"pad_top" json:"pad_top"`
	PadRight   int  `yaml:"pad_right" json:"pad_right"`
	PadBottom  int  `yaml:"pad_bottom" json:"pad_bottom"`
}

func DefaultCropPad() CropPad { return CropPad{} }

func (c *CropPad) Kind() Kind      { return KindCropPad }
func (c *CropPad) IsEnabled() bool { return c != nil && c.Enabled }

func (c *CropPad) Validate() error {
	fields := []struct {
		name string
		v    int
	}{
		{"crop_left", c.CropLeft}, {"crop_top", c.CropTop}, {"crop_right", c.CropRight}, {"crop_bottom", c.CropBottom},
		{"pad_left", c.PadLeft}, {"pad_top", c.PadTop}, {"pad_right", c.PadRight}, {"pad_bottom", c.PadBottom},
	}
	for _, f := range fields {
		if err := checkInt(KindCropPad, f.name, f.v, 0, MaxCropPad); err != nil {
			return err
		}
	}
	return nil
}

func requireModel(k Kind, model string) error {
	if strings.TrimSpace(model) == "" {
		return tpai.Configf(string(k)+".model", "model is required when enabled")
	}
	return nil
}

func checkUnit(k Kind, name string, vals ...float64) error {
	for i, v := range vals {
		if math.IsNaN(v) || v < 0 || v > 1 {
			field := string(k) + "." + name
			if len(vals) > 1 {
				field = string(k) + "." + name + "[" + strconv.Itoa(i+1) + "]"
			}
			return tpai.Configf(field, "%v out of range [0,1]", v)
		}
	}
	return nil
}

func checkInt(k Kind, name string, v, lo, hi int) error {
	if v < lo || v > hi {
		return tpai.Configf(string(k)+"."+name, "%d out of range [%d,%d]", v, lo, hi)
	}
	return nil
}

func setPositional(pos int, v float64, slots ...*float64) {
	if pos >= 1 && pos <= len(slots) {
		*slots[pos-1] = v
	}
}

// UpscaleModelVariants suggests spellings to try after tpai fails to load
// model. The tool's accepted names vary in case and prefix between releases.
func UpscaleModelVariants(model string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	add(model)
	add(strings.ToLower(model))
	add(strings.ReplaceAll(model, " ", ""))
	if rest, ok := strings.CutPrefix(model, "Enhance "); ok {
		add(rest)
	} else {
		add("Enhance " + model)
	}
	for _, m := range UpscaleModels {
		add(m)
	}
	return out
}
