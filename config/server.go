package config

// ServerConfig configures `cellgrid serve`
type ServerConfig struct {
	Listen         string   `hcl:"listen,optional"`
	AllowedOrigins []string `hcl:"allowed_origins,optional"`
}

// Defaults fills in default values for unset fields
func (s *ServerConfig) Defaults() {
	if s.Listen == "" {
		s.Listen = "127.0.0.1:8420"
	}
	if len(s.AllowedOrigins) == 0 {
		s.AllowedOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
}
