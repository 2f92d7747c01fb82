package guide

import (
	"strings"
	"time"
)

// Guide source values.
const (
	SourceFile = "file"
	SourceAPI  = "api"
)

// Guide is one municipality's waste collection and disposal instructions.
// Summary is handed to the model verbatim, so imports keep the text exactly
// as authored.
type Guide struct {
	Key       string
	Region    string
	Summary   string
	Source    string
	UpdatedAt time.Time
}

// Metadata locates the municipality an upload belongs to. City is optional
// and takes precedence over Region when present.
type Metadata struct {
	City   string `json:"city,omitempty"`
	Region string `json:"region"`
}

// LookupName returns the name used for guide resolution: City when set,
// otherwise Region.
func (m Metadata) LookupName() string {
	if m.City != "" {
		return m.City
	}
	return m.Region
}

// NormalizeKey turns a city or region name into a guide key: lower-cased,
// every " region" occurrence removed, surrounding space trimmed. "York
// Region" and "york" address the same guide.
func NormalizeKey(name string) string {
	key := strings.ReplaceAll(strings.ToLower(name), " region", "")
	return strings.TrimSpace(key)
}
