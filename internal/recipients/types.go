package recipients

// Recipient is one entry of the recipients JSON array.
//
// TripCost is tolerant on the wire: both a JSON number and a numeric string
// are accepted (the upstream data source is hand-edited and mixes both).
type Recipient struct {
	Email           string  `json:"email"`
	Name            string  `json:"name"`
	TripName        string  `json:"trip_name"`
	TripDate        string  `json:"trip_date"`
	TripCost        float64 `json:"-"`
	TripDescription string  `json:"trip_description"`
}

// Rejected is a recipient record that failed validation, with the reason
// carried into the run report.
type Rejected struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Reason string `json:"reason"`
}
