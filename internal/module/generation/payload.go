package generation

// Defaults mirror the values the public painting frontend has always sent.
const (
	defaultModel          = "nai-diffusion-3"
	defaultWidth          = 832
	defaultHeight         = 1216
	defaultSteps          = 28
	defaultScale          = 5.0
	defaultSampler        = "k_euler_ancestral"
	defaultNegativePrompt = "lowres, bad anatomy, bad hands, text, error, missing fingers, " +
		"extra digit, fewer digits, cropped, worst quality, low quality, normal quality, " +
		"jpeg artifacts, signature, watermark, username, blurry"
)

// novelaiPayload is the upstream generate-image request body.
type novelaiPayload struct {
	Input      string            `json:"input"`
	Model      string            `json:"model"`
	Action     string            `json:"action"`
	Parameters novelaiParameters `json:"parameters"`
}

type novelaiParameters struct {
	Width               int     `json:"width"`
	Height              int     `json:"height"`
	Scale               float64 `json:"scale"`
	Sampler             string  `json:"sampler"`
	Steps               int     `json:"steps"`
	Seed                int64   `json:"seed"`
	NSamples            int     `json:"n_samples"`
	UCPreset            int     `json:"ucPreset"`
	QualityToggle       bool    `json:"qualityToggle"`
	SM                  bool    `json:"sm"`
	SMDyn               bool    `json:"sm_dyn"`
	DynamicThresholding bool    `json:"dynamic_thresholding"`
	ControlnetStrength  float64 `json:"controlnet_strength"`
	Legacy              bool    `json:"legacy"`
	AddOriginalImage    bool    `json:"add_original_image"`
	UncondScale         float64 `json:"uncond_scale"`
	CFGRescale          float64 `json:"cfg_rescale"`
	NoiseSchedule       string  `json:"noise_schedule"`
	NegativePrompt      string  `json:"negative_prompt"`
}

// buildPayload maps the inbound generation request to the upstream body,
// filling absent fields with the frontend defaults and injecting the seed.
// Pure field mapping; no side effects.
func buildPayload(req *GenerateRequest, seed int64) *novelaiPayload {
	model := req.Model
	if model == "" {
		model = defaultModel
	}
	width := req.Width
	if width <= 0 {
		width = defaultWidth
	}
	height := req.Height
	if height <= 0 {
		height = defaultHeight
	}
	steps := req.Steps
	if steps <= 0 {
		steps = defaultSteps
	}
	scale := req.Scale
	if scale <= 0 {
		scale = defaultScale
	}
	sampler := req.Sampler
	if sampler == "" {
		sampler = defaultSampler
	}
	negative := req.NegativePrompt
	if negative == "" {
		negative = defaultNegativePrompt
	}
	sm := true
	if req.SM != nil {
		sm = *req.SM
	}
	smDyn := true
	if req.SMDyn != nil {
		smDyn = *req.SMDyn
	}

	return &novelaiPayload{
		Input:  req.Prompt,
		Model:  model,
		Action: "generate",
		Parameters: novelaiParameters{
			Width:              width,
			Height:             height,
			Scale:              scale,
			Sampler:            sampler,
			Steps:              steps,
			Seed:               seed,
			NSamples:           1,
			QualityToggle:      true,
			SM:                 sm,
			SMDyn:              smDyn,
			ControlnetStrength: 1,
			UncondScale:        1,
			NoiseSchedule:      "native",
			NegativePrompt:     negative,
		},
	}
}
