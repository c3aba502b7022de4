package request

// CreateAPIKey holds the request body for creating an API key.
type CreateAPIKey struct {
	Name   string   `json:"name" validate:"required,slug"`
	Scopes []string `json:"scopes" validate:"required,min=1"`
}
