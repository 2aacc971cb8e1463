package compressor

import (
	"fmt"
	"strings"
)

// DefaultQuality is used by the CLI and the HTTP layer when no quality is given.
const DefaultQuality = "medium"

// ColorMode controls how the engine treats color images.
type ColorMode int

const (
	// ColorDownsampled converts color to RGB and downsamples color images.
	ColorDownsampled ColorMode = iota
	// ColorPreserved leaves the document's color spaces untouched.
	ColorPreserved
)

// String returns the configuration name of the color mode.
func (m ColorMode) String() string {
	switch m {
	case ColorDownsampled:
		return "downsampled"
	case ColorPreserved:
		return "preserved"
	default:
		return "unknown"
	}
}

// QualityProfile is a fixed bundle of engine settings.
type QualityProfile struct {
	Name               string    `json:"name"`
	Resolution         int       `json:"resolution_dpi"`
	ColorMode          ColorMode `json:"-"`
	CompatibilityLevel string    `json:"compatibility_level"`
	Preset             string    `json:"preset"`
	Description        string    `json:"description"`
}

var profileOrder = []string{"low", "medium", "high", "max"}

var profiles = map[string]QualityProfile{
	"low": {
		Name:               "low",
		Resolution:         72,
		ColorMode:          ColorDownsampled,
		CompatibilityLevel: "1.4",
		Preset:             "/screen",
		Description:        "Low quality, smallest file size (72 dpi)",
	},
	"medium": {
		Name:               "medium",
		Resolution:         150,
		ColorMode:          ColorDownsampled,
		CompatibilityLevel: "1.4",
		Preset:             "/ebook",
		Description:        "Medium quality (150 dpi)",
	},
	"high": {
		Name:               "high",
		Resolution:         300,
		ColorMode:          ColorDownsampled,
		CompatibilityLevel: "1.4",
		Preset:             "/printer",
		Description:        "High quality (300 dpi)",
	},
	"max": {
		Name:               "max",
		Resolution:         300,
		ColorMode:          ColorPreserved,
		CompatibilityLevel: "1.4",
		Preset:             "/prepress",
		Description:        "Maximum quality, color preserving (300 dpi)",
	},
}

// LookupProfile resolves a quality name. Unknown names fail with KindInvalidProfile.
func LookupProfile(name string) (QualityProfile, error) {
	p, ok := profiles[name]
	if !ok {
		return QualityProfile{}, &Error{
			Kind: KindInvalidProfile,
			Op:   "lookup profile",
			Err:  fmt.Errorf("unknown quality %q (valid: %s)", name, strings.Join(profileOrder, ", ")),
		}
	}
	return p, nil
}

// IsValidQuality reports whether name is one of the defined profiles.
func IsValidQuality(name string) bool {
	_, ok := profiles[name]
	return ok
}

// ProfileNames returns the profile names from smallest output to highest fidelity.
func ProfileNames() []string {
	names := make([]string, len(profileOrder))
	copy(names, profileOrder)
	return names
}

// Profiles returns every profile in ProfileNames order.
func Profiles() []QualityProfile {
	all := make([]QualityProfile, 0, len(profileOrder))
	for _, name := range profileOrder {
		all = append(all, profiles[name])
	}
	return all
}

// EngineArgs returns the pdfwrite arguments for this profile, without the
// output and input operands.
func (p QualityProfile) EngineArgs() []string {
	args := []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=" + p.CompatibilityLevel,
		"-dPDFSETTINGS=" + p.Preset,
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
		"-dSAFER",
		"-dAutoRotatePages=/None",
		"-dDownsampleColorImages=true",
		"-dDownsampleGrayImages=true",
		"-dDownsampleMonoImages=true",
		"-dColorImageDownsampleType=/Bicubic",
		fmt.Sprintf("-dColorImageResolution=%d", p.Resolution),
		"-dGrayImageDownsampleType=/Bicubic",
		fmt.Sprintf("-dGrayImageResolution=%d", p.Resolution),
		"-dMonoImageDownsampleType=/Subsample",
		fmt.Sprintf("-dMonoImageResolution=%d", p.Resolution),
	}

	switch p.ColorMode {
	case ColorPreserved:
		args = append(args, "-sColorConversionStrategy=LeaveColorUnchanged")
	default:
		args = append(args, "-sColorConversionStrategy=RGB")
	}

	return args
}
