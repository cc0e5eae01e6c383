package generation

// GenerateRequest is the inbound generation specification.
type GenerateRequest struct {
	Prompt         string  `json:"prompt" binding:"required"`
	NegativePrompt string  `json:"negative_prompt"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"steps"`
	Scale          float64 `json:"scale"`
	Sampler        string  `json:"sampler"`
	SM             *bool   `json:"sm"`
	SMDyn          *bool   `json:"sm_dyn"`
	Model          string  `json:"model"`
}

// GenerateResponse carries the extracted image back to the client as a
// data URI, plus the role the request resolved to.
type GenerateResponse struct {
	Image     string `json:"image"`
	Role      string `json:"role"`
	Remaining *int   `json:"remaining,omitempty"`
}

// MJRequest is the inbound Midjourney relay request.
type MJRequest struct {
	Action string `json:"action" binding:"required"`
	Prompt string `json:"prompt"`
	TaskID string `json:"taskId"`
}

// CardRequest is the admin card-management body.
type CardRequest struct {
	Balance int `json:"balance" binding:"min=0"`
}

// CardResponse reports a card's stored balance.
type CardResponse struct {
	CardID  string `json:"card_id"`
	Balance int    `json:"balance"`
}
