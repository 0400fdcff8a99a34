package settings

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Capability is implemented by every settings struct.
type Capability interface {
	Kind() Kind
	IsEnabled() bool
	Validate() error
}

// Positional is implemented by capabilities with numbered paramN values.
type Positional interface {
	Capability
	ParamCount() int
	SetParam(pos int, v float64)
}

// Set is the full collection of capability settings for one invocation.
// A nil member is treated the same as a disabled one.
type Set struct {
	Upscale      *Upscale      `yaml:"upscale,omitempty" json:"upscale,omitempty"`
	Sharpen      *Sharpen      `yaml:"sharpen,omitempty" json:"sharpen,omitempty"`
	FaceRecovery *FaceRecovery `yaml:"face,omitempty" json:"face,omitempty"`
	Denoise      *Denoise      `yaml:"denoise,omitempty" json:"denoise,omitempty"`
	CropPad      *CropPad      `yaml:"crop_pad,omitempty" json:"crop_pad,omitempty"`
	TextRecovery *TextRecovery `yaml:"text,omitempty" json:"text,omitempty"`
	SuperFocus   *SuperFocus   `yaml:"superfocus,omitempty" json:"superfocus,omitempty"`
}

// Capabilities returns the non-nil members in command-line order.
func (s Set) Capabilities() []Capability {
	var out []Capability
	for _, k := range Order {
		if c := s.Get(k); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// Get returns the member for k, or nil when absent.
func (s Set) Get(k Kind) Capability {
	switch k {
	case KindUpscale:
		if s.Upscale != nil {
			return s.Upscale
		}
	case KindSharpen:
		if s.Sharpen != nil {
			return s.Sharpen
		}
	case KindFace:
		if s.FaceRecovery != nil {
			return s.FaceRecovery
		}
	case KindDenoise:
		if s.Denoise != nil {
			return s.Denoise
		}
	case KindCropPad:
		if s.CropPad != nil {
			return s.CropPad
		}
	case KindText:
		if s.TextRecovery != nil {
			return s.TextRecovery
		}
	case KindSuperFocus:
		if s.SuperFocus != nil {
			return s.SuperFocus
		}
	}
	return nil
}

// AnyEnabled reports whether at least one capability will be emitted.
func (s Set) AnyEnabled() bool {
	for _, c := range s.Capabilities() {
		if c.IsEnabled() {
			return true
		}
	}
	return false
}

// Validate checks every enabled capability. Disabled members are never sent
// to the tool and are not checked.
func (s Set) Validate() error {
	for _, c := range s.Capabilities() {
		if !c.IsEnabled() {
			continue
		}
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Models lists the model names of enabled capabilities, for diagnostics.
func (s Set) Models() []string {
	var out []string
	if s.Upscale.IsEnabled() {
		out = append(out, s.Upscale.Model)
	}
	if s.Sharpen.IsEnabled() {
		out = append(out, s.Sharpen.Model)
	}
	if s.FaceRecovery.IsEnabled() {
		out = append(out, s.FaceRecovery.Model)
	}
	if s.Denoise.IsEnabled() {
		out = append(out, s.Denoise.Model)
	}
	return out
}

// PartList is a list of face parts. In YAML it may be written as a sequence
// or as a comma separated string ("hair,necks").
type PartList []string

// ParsePartList splits a comma separated list. Tokens are trimmed but empty
// tokens are kept so validation can reject them.
func ParsePartList(s string) PartList {
	if strings.TrimSpace(s) == "" {
		return PartList{}
	}
	parts := strings.Split(s, ",")
	out := make(PartList, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

func (p *PartList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*p = ParsePartList(node.Value)
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*p = PartList(items)
		return nil
	default:
		return fmt.Errorf("face_parts: line %d: want string or list", node.Line)
	}
}
