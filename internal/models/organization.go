package models

// Organization is a tenant the user belongs to. A user with no
// organizations has not finished onboarding.
type Organization struct {
	ID      ID     `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	ZipCode string `json:"zip_code,omitempty"`
	Country string `json:"country,omitempty"`
}
