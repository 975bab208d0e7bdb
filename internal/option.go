package internal

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config *Config
	// once runs a single sync and exits instead of serving.
	once bool
	// mcp serves the MCP tools over stdio instead of HTTP.
	mcp bool
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithOnce makes Run perform one sync and return its error.
func WithOnce(once bool) Option {
	return func(a *application) {
		a.once = once
	}
}

// WithMCP makes Run serve MCP over stdio instead of the HTTP API.
func WithMCP(enabled bool) Option {
	return func(a *application) {
		a.mcp = enabled
	}
}
