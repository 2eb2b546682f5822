package model

// Circle is a reward tier within a program.
type Circle struct {
	ID        string `json:"id"`
	ProgramID string `json:"program_id"`
	Name      string `json:"name"`
}

// Promoter refers contacts within a program.
type Promoter struct {
	ID        string `json:"id"`
	ProgramID string `json:"program_id"`
	Name      string `json:"name"`
	Reference string `json:"reference"`
	// CircleID is the initial circle, applied only when the promoter has no membership yet.
	CircleID string `json:"circle_id,omitempty"`
}

// Link is a promoter's referral link.
type Link struct {
	ID         string `json:"id"`
	ProgramID  string `json:"program_id"`
	PromoterID string `json:"promoter_id"`
	Name       string `json:"name"`
	Reference  string `json:"reference"`
}

// ProgramConfig bundles the configuration of one affiliate program.
type ProgramConfig struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Circles     []Circle     `json:"circles"`
	Promoters   []Promoter   `json:"promoters"`
	Links       []Link       `json:"links"`
	Automations []Automation `json:"automations"`
}
