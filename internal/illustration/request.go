package illustration

import (
	"regexp"
	"strings"

	"illustrationd/internal/config"
	"illustrationd/internal/manager"
	"illustrationd/pkg/types"
)

// Kind selects the conditioning input and the prompt template.
type Kind string

const (
	// KindMemory conditions on the user's avatar and combines the content
	// prompt with the memory style.
	KindMemory Kind = "memory"
	// KindSubject conditions on the user's subject photo and uses the subject
	// prompt only.
	KindSubject Kind = "subject"
)

const (
	maxSteps         = 500
	maxGuidanceScale = 50
	maxPromptLen     = 2000
)

var (
	userIDPattern  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@-]{0,127}$`)
	adapterPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// Defaults fill in request parameters the caller left out.
type Defaults struct {
	Steps             int
	ConditioningScale float64
	GuidanceScale     float64
	NegativePrompt    string
	MemoryStylePrompt string
	SubjectPrompt     string
}

// DefaultsFromConfig takes generation defaults from the service config.
func DefaultsFromConfig(g config.GenerationConfig, ip config.IPAdapterConfig) Defaults {
	return Defaults{
		Steps:             g.Steps,
		ConditioningScale: ip.Scale,
		GuidanceScale:     g.GuidanceScale,
		NegativePrompt:    g.NegativePrompt,
		MemoryStylePrompt: g.MemoryStylePrompt,
		SubjectPrompt:     g.SubjectPrompt,
	}
}

// Request is a validated generation request with every parameter resolved.
type Request struct {
	Kind              Kind
	UserID            string
	Prompt            string
	Steps             int
	ConditioningScale float64
	GuidanceScale     float64
	NegativePrompt    string
	StylePrompt       string
	AdapterID         string
	Seed              int64
}

// NewRequest validates in and resolves optional fields from d. Validation
// failures are *Error with Kind InvalidInput.
func NewRequest(kind Kind, in types.GenerateRequest, d Defaults) (Request, error) {
	r := Request{
		Kind:              kind,
		UserID:            strings.TrimSpace(in.UserID),
		Prompt:            strings.TrimSpace(in.Prompt),
		Steps:             d.Steps,
		ConditioningScale: d.ConditioningScale,
		GuidanceScale:     d.GuidanceScale,
		NegativePrompt:    d.NegativePrompt,
	}
	switch kind {
	case KindMemory:
		r.StylePrompt = d.MemoryStylePrompt
		if r.Prompt == "" {
			return Request{}, invalid("prompt is required")
		}
	case KindSubject:
		r.StylePrompt = d.SubjectPrompt
		// Subject illustrations use the fixed subject prompt.
		r.Prompt = ""
	default:
		return Request{}, invalid("unknown illustration kind %q", kind)
	}
	if !userIDPattern.MatchString(r.UserID) {
		return Request{}, invalid("user_id must be 1-128 characters of letters, digits, '.', '_', '@' or '-'")
	}
	if len(r.Prompt) > maxPromptLen {
		return Request{}, invalid("prompt exceeds %d characters", maxPromptLen)
	}
	if in.NumInferenceSteps != nil {
		r.Steps = *in.NumInferenceSteps
	}
	if r.Steps < 1 || r.Steps > maxSteps {
		return Request{}, invalid("num_inference_steps must be within [1,%d]", maxSteps)
	}
	if in.IPAdapterScale != nil {
		r.ConditioningScale = *in.IPAdapterScale
	}
	if r.ConditioningScale < 0 || r.ConditioningScale > 1 {
		return Request{}, invalid("ip_adapter_scale must be within [0,1]")
	}
	if in.GuidanceScale != nil {
		r.GuidanceScale = *in.GuidanceScale
	}
	if r.GuidanceScale < 0 || r.GuidanceScale > maxGuidanceScale {
		return Request{}, invalid("guidance_scale must be within [0,%d]", maxGuidanceScale)
	}
	if in.NegativePrompt != nil {
		r.NegativePrompt = *in.NegativePrompt
	}
	if in.StylePrompt != nil {
		r.StylePrompt = *in.StylePrompt
	}
	if in.LoRAID != nil {
		r.AdapterID = strings.TrimSpace(*in.LoRAID)
		if r.AdapterID != "" && !adapterPattern.MatchString(r.AdapterID) {
			return Request{}, invalid("lora_id must be 1-64 characters of letters, digits, '_' or '-'")
		}
		if r.AdapterID == manager.StaticAdapterID {
			return Request{}, invalid("lora_id %q is reserved", manager.StaticAdapterID)
		}
	}
	if in.Seed != nil {
		if *in.Seed < 0 {
			return Request{}, invalid("seed must not be negative")
		}
		r.Seed = *in.Seed
	}
	return r, nil
}

// buildPrompt combines content, style and, when an adapter is applied, the
// instance prompt the adapter was trained on.
func buildPrompt(r Request, instancePrompt string, adapterApplied bool) string {
	var p string
	switch {
	case r.Prompt != "" && r.StylePrompt != "":
		p = r.Prompt + ", " + r.StylePrompt
	case r.Prompt != "":
		p = r.Prompt
	default:
		p = r.StylePrompt
	}
	if adapterApplied && instancePrompt != "" {
		p = instancePrompt + ", " + p
	}
	return p
}
