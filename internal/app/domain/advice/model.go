package advice

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Record statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Advice is the outcome of a classification returned to the caller.
type Advice struct {
	ID          string
	GuideKey    string
	Filename    string
	ContentType string
	Response    string
	Model       string
	Cached      bool
	Duration    time.Duration
	Verdict     *Verdict
}

// Record is the persisted outcome of a classification request, kept for the
// admin surface and usage accounting.
type Record struct {
	ID          string
	GuideKey    string
	Filename    string
	ContentType string
	ImageSize   int64
	ImageSHA256 string
	Model       string
	Status      string
	Response    string
	Error       string
	DurationMS  int64
	CreatedAt   time.Time
}

// Verdict is the structured portion of a model response, when present.
type Verdict struct {
	Item     string `json:"item,omitempty"`
	Material string `json:"material,omitempty"`
	Bin      string `json:"bin,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// ParseVerdict extracts a structured verdict from a model response. Models
// sometimes answer with a JSON object even when prompted conversationally;
// the object may be wrapped in prose or code fences. Returns nil when the
// response carries no recognizable verdict.
func ParseVerdict(response string) *Verdict {
	body := strings.TrimSpace(response)
	if i := strings.Index(body, "{"); i >= 0 {
		if j := strings.LastIndex(body, "}"); j > i {
			body = body[i : j+1]
		}
	}
	if !gjson.Valid(body) {
		return nil
	}
	v := &Verdict{
		Item:     gjson.Get(body, "item").String(),
		Material: gjson.Get(body, "material").String(),
		Bin:      gjson.Get(body, "bin").String(),
		Notes:    gjson.Get(body, "notes").String(),
	}
	if v.Item == "" && v.Material == "" && v.Bin == "" && v.Notes == "" {
		return nil
	}
	return v
}
