package api

import "fmt"

// ValidDevices lists accepted device classes.
var ValidDevices = []string{"desktop", "mobile", "tablet"}

// Validate checks the request shape at the transport boundary.
// It is the only request-level failure; analysis problems never fail a request.
func (r *PredictRequest) Validate() error {
	if r.Query == "" {
		return fmt.Errorf("query is required")
	}
	if r.Context.UserID == "" {
		return fmt.Errorf("context.user_id is required")
	}
	if r.Context.Device != "" {
		ok := false
		for _, d := range ValidDevices {
			if r.Context.Device == d {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("context.device must be one of %v", ValidDevices)
		}
	}
	return nil
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
