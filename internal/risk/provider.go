package risk

import (
	"fmt"
	"net/http"
	"strings"
)

// Provider names accepted in configuration.
const (
	ProviderHeuristic = "heuristic"
	ProviderOllama    = "ollama"
	ProviderNone      = "none"
)

// ProviderOptions select and configure an oracle.
type ProviderOptions struct {
	Provider  string
	OllamaURL string
	Model     string
	Client    *http.Client
}

// New builds the oracle named by opts.Provider.
func New(opts ProviderOptions) (Assessor, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case "", ProviderHeuristic:
		return NewHeuristic(), nil
	case ProviderOllama:
		return NewOllama(opts.OllamaURL, opts.Model, opts.Client)
	case ProviderNone, "disabled":
		return Disabled{}, nil
	default:
		return nil, fmt.Errorf("unknown risk provider %q", opts.Provider)
	}
}
