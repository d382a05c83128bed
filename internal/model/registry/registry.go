// Package registry holds the catalogue of generation models the service is
// willing to talk to. Session operations themselves never validate models;
// the surrounding surface checks against this store before calling in.
package registry

// Model describes one configured generation model.
type Model struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}
