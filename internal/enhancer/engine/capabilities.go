package engine

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/danshapiro/topazbridge/internal/enhancer/settings"
	"github.com/danshapiro/topazbridge/internal/tpai"
)

// capabilityBlock is one entry under "capabilities". Besides the settings
// fields it accepts a params map keyed by label or paramN.
type capabilityBlock[T any] struct {
	Settings T                  `yaml:",inline"`
	Params   map[string]float64 `yaml:"params,omitempty"`
}

var capabilityAliases = map[string]settings.Kind{
	"face_recovery": settings.KindFace,
	"crop_padding":  settings.KindCropPad,
	"text_recovery": settings.KindText,
	"super_focus":   settings.KindSuperFocus,
}

// DecodeCapabilities builds a settings.Set from a capabilities mapping. Each
// present block starts from that capability's defaults; absent blocks stay
// nil and emit nothing.
func DecodeCapabilities(node *yaml.Node, labels settings.Labels) (settings.Set, error) {
	var set settings.Set
	if node == nil || node.Kind == 0 {
		return set, nil
	}
	raw := map[string]yaml.Node{}
	if err := node.Decode(&raw); err != nil {
		return set, tpai.Configf("capabilities", "%v", err)
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		n := raw[key]
		kind := settings.Kind(key)
		if alias, ok := capabilityAliases[key]; ok {
			kind = alias
		}
		var err error
		switch kind {
		case settings.KindUpscale:
			v := settings.DefaultUpscale()
			err = decodeBlock(&n, &v, labels)
			set.Upscale = &v
		case settings.KindSharpen:
			v := settings.DefaultSharpen()
			err = decodeBlock(&n, &v, labels)
			set.Sharpen = &v
		case settings.KindFace:
			v := settings.DefaultFaceRecovery()
			err = decodeBlock(&n, &v, labels)
			set.FaceRecovery = &v
		case settings.KindDenoise:
			v := settings.DefaultDenoise()
			err = decodeBlock(&n, &v, labels)
			set.Denoise = &v
		case settings.KindCropPad:
			v := settings.DefaultCropPad()
			err = decodeBlock(&n, &v, labels)
			set.CropPad = &v
		case settings.KindText:
			v := settings.DefaultTextRecovery()
			err = decodeBlock(&n, &v, labels)
			set.TextRecovery = &v
		case settings.KindSuperFocus:
			v := settings.DefaultSuperFocus()
			err = decodeBlock(&n, &v, labels)
			set.SuperFocus = &v
		default:
			return set, tpai.Configf("capabilities", "unknown capability %q", key)
		}
		if err != nil {
			return set, err
		}
	}
	return set, set.Validate()
}

func decodeBlock[T any](n *yaml.Node, dst *T, labels settings.Labels) error {
	block := capabilityBlock[T]{Settings: *dst}
	if n.Kind != 0 && !(n.Kind == yaml.ScalarNode && n.Tag == "!!null") {
		b, err := yaml.Marshal(n)
		if err != nil {
			return err
		}
		if err := decodeYAMLStrict(b, &block); err != nil {
			return tpai.Configf("capabilities", "%v", err)
		}
	}
	*dst = block.Settings
	if len(block.Params) == 0 {
		return nil
	}
	p, ok := any(dst).(settings.Positional)
	if !ok {
		return tpai.Configf("capabilities", "%T has no positional params", block.Settings)
	}
	if err := settings.ApplyParams(p, labels, block.Params); err != nil {
		return err
	}
	return nil
}

// EncodeDefaults renders the default capabilities block, used by the CLI to
// print a starting config.
func EncodeDefaults() (string, error) {
	up, sh, fa, dn := settings.DefaultUpscale(), settings.DefaultSharpen(), settings.DefaultFaceRecovery(), settings.DefaultDenoise()
	cp, tx, sf := settings.DefaultCropPad(), settings.DefaultTextRecovery(), settings.DefaultSuperFocus()
	sh.Enabled, fa.Enabled, dn.Enabled, tx.Enabled, sf.Enabled = false, false, false, false, false
	b, err := yaml.Marshal(map[string]any{"capabilities": settings.Set{
		Upscale: &up, Sharpen: &sh, FaceRecovery: &fa, Denoise: &dn, CropPad: &cp, TextRecovery: &tx, SuperFocus: &sf,
	}})
	if err != nil {
		return "", fmt.Errorf("encode defaults: %w", err)
	}
	return string(b), nil
}
