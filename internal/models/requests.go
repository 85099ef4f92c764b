package models

// EstimateRequest represents an estimation call received over the API.
type EstimateRequest struct {
	Participants []string
	Items        []string
	Responses    []Response
	Overrides    EstimationOverrides
}

// EstimationOverrides carries per-request estimation settings. Nil or empty
// fields fall back to the service defaults.
type EstimationOverrides struct {
	Model          string
	MaxIterations  *int
	Tolerance      *float64
	Parallelism    *int
	InitialGuess   string
	DeltaAggregate string
	Seed           *int64
	Verbose        *bool
}

// Matrix materialises the request's responses.
func (r EstimateRequest) Matrix() (*ResponseMatrix, error) {
	return NewResponseMatrix(r.Participants, r.Items, r.Responses)
}
