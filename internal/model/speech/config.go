package speech

// Config describes the external ASR collaborator.
type Config struct {
	BaseURL  string `json:"baseUrl"`
	APIKey   string `json:"-"`
	Model    string `json:"model"`
	Language string `json:"language"`
	Timeout  int    `json:"timeout"` // seconds
	Enabled  bool   `json:"enabled"`
}
