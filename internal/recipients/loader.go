package recipients

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// rawRecipient mirrors the on-disk shape before validation.
type rawRecipient struct {
	Email           *string         `json:"email"`
	Name            *string         `json:"name"`
	TripName        *string         `json:"trip_name"`
	TripDate        *string         `json:"trip_date"`
	TripCost        json.RawMessage `json:"trip_cost"`
	TripDescription *string         `json:"trip_description"`
}

// Load reads the recipients JSON file and validates each record.
// Invalid records are returned as Rejected entries, not errors: a bad row
// must not abort the whole campaign.
func Load(path string) ([]Recipient, []Rejected, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return Parse(b)
}

// Parse validates a recipients JSON array.
func Parse(b []byte) ([]Recipient, []Rejected, error) {
	var raws []rawRecipient
	if err := json.Unmarshal(b, &raws); err != nil {
		return nil, nil, fmt.Errorf("recipients: %w (expected a JSON array)", err)
	}

	var (
		valid    []Recipient
		rejected []Rejected
	)
	for _, raw := range raws {
		r, reason := validate(raw)
		if reason != "" {
			rejected = append(rejected, Rejected{
				Name:   deref(raw.Name, "Unknown"),
				Email:  deref(raw.Email, "Unknown"),
				Reason: reason,
			})
			continue
		}
		valid = append(valid, r)
	}
	return valid, rejected, nil
}

func validate(raw rawRecipient) (Recipient, string) {
	var missing []string
	if isBlank(raw.Email) {
		missing = append(missing, "email")
	}
	if isBlank(raw.Name) {
		missing = append(missing, "name")
	}
	if isBlank(raw.TripName) {
		missing = append(missing, "trip_name")
	}
	if isBlank(raw.TripDate) {
		missing = append(missing, "trip_date")
	}
	if len(raw.TripCost) == 0 || string(raw.TripCost) == "null" {
		missing = append(missing, "trip_cost")
	}
	if isBlank(raw.TripDescription) {
		missing = append(missing, "trip_description")
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Recipient{}, "Missing fields: " + strings.Join(missing, ", ")
	}

	cost, err := parseCost(raw.TripCost)
	if err != nil {
		return Recipient{}, fmt.Sprintf("Invalid trip_cost: %s", strings.Trim(string(raw.TripCost), `"`))
	}

	email := strings.TrimSpace(*raw.Email)
	if !strings.Contains(email, "@") {
		return Recipient{}, fmt.Sprintf("Invalid email: %s", email)
	}

	return Recipient{
		Email:           email,
		Name:            strings.TrimSpace(*raw.Name),
		TripName:        strings.TrimSpace(*raw.TripName),
		TripDate:        strings.TrimSpace(*raw.TripDate),
		TripCost:        cost,
		TripDescription: *raw.TripDescription,
	}, ""
}

// parseCost accepts a JSON number or a numeric string.
func parseCost(raw json.RawMessage) (float64, error) {
	s := strings.TrimSpace(string(raw))
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return 0, err
		}
		return strconv.ParseFloat(strings.TrimSpace(str), 64)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	return f, nil
}

func isBlank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

func deref(s *string, def string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return def
	}
	return *s
}
