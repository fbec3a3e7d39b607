// Package middleware provides HTTP middleware components for the aggregator API.
package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// problemDetail is the minimal RFC 7807 body middleware can emit without
// importing the api package (which imports middleware).
type problemDetail struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Status        int    `json:"status"`
	Detail        string `json:"detail"`
	Instance      string `json:"instance"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// writeProblem writes an RFC 7807 application/problem+json response.
func writeProblem(w http.ResponseWriter, r *http.Request, status int, detail, correlationID string) error {
	problem := problemDetail{
		Type:          fmt.Sprintf("https://chronicle.io/problems/%d", status),
		Title:         http.StatusText(status),
		Status:        status,
		Detail:        detail,
		Instance:      r.URL.Path,
		CorrelationID: correlationID,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(problem)
}
