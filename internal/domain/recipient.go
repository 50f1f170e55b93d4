package domain

// Recipient represents a single validated campaign recipient.
// Immutable once validated; personalization data is a flat string map
// checked against the template's declared placeholders before dispatch.
type Recipient struct {
	Address        string            `json:"address"`
	Data           map[string]string `json:"data,omitempty"`
	Timezone       string            `json:"timezone,omitempty"` // IANA name, empty means UTC
	PreferredHours []int             `json:"preferred_hours,omitempty"`
}

// Location returns the recipient's IANA timezone name, defaulting to UTC.
func (r Recipient) Location() string {
	if r.Timezone == "" {
		return "UTC"
	}
	return r.Timezone
}
