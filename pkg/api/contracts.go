// Package api defines the wire contracts of the predict endpoint.
package api

// QueryContext describes the caller issuing the query.
type QueryContext struct {
	UserID          string `json:"user_id"`
	Role            string `json:"role,omitempty"`
	ClientID        string `json:"client_id,omitempty"`
	Location        string `json:"location,omitempty"`
	Device          string `json:"device,omitempty"`           // desktop, mobile, tablet
	BehaviorSummary string `json:"behavior_summary,omitempty"` // free text
	Urgency         string `json:"urgency,omitempty"`          // low, medium, high
}

// PredictRequest is the input of POST /api/predict.
type PredictRequest struct {
	Query   string       `json:"query"`
	Context QueryContext `json:"context"`
}

// Suggestion is a single surfaced optimization hint.
type Suggestion struct {
	Type    string `json:"type"` // performance, cost, accuracy
	Message string `json:"message"`
}

// PredictResponse is the output of POST /api/predict.
type PredictResponse struct {
	Status           string       `json:"status"` // ok, suggest_improvement, rejected
	PredictedLatency string       `json:"predicted_latency"`
	EstimatedCost    string       `json:"estimated_cost"`
	Suggestions      []Suggestion `json:"suggestions"`
	Alternatives     []string     `json:"alternatives,omitempty"`
}
