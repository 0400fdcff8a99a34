// Package tpai describes the command-line contract of the Topaz Photo AI
// `tpai` executable: flag names, the settings report marker, exit codes and
// the error taxonomy shared by the enhancer packages.
package tpai

// Global flags.
const (
	FlagOutput       = "--output"
	FlagCompression  = "--compression"
	FlagFormat       = "--format"
	FlagShowSettings = "--showSettings"
	FlagOverride     = "--override"
	FlagHelp         = "--help"
)

// Capability flags.
const (
	FlagUpscale    = "--upscale"
	FlagSharpen    = "--sharpen"
	FlagFace       = "--face"
	FlagDenoise    = "--denoise"
	FlagCrop       = "--crop"
	FlagPad        = "--pad"
	FlagText       = "--text"
	FlagSuperFocus = "--superfocus"
)

const (
	// SettingsMarker precedes the JSON settings report on stdout.
	SettingsMarker = "Final Settings for"
	// AutopilotKey is the report member holding autopilot-chosen settings.
	AutopilotKey = "autoPilotSettings"

	ModelLoadExceptionMarker = "AI Engine Load Exception: Could not load model"

	MinCompression = 0
	MaxCompression = 10
)
