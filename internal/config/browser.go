package config

import "time"

// BrowserConfig configures the go-rod browser host.
type BrowserConfig struct {
	// DebuggerURL connects to a running Chrome instead of launching one.
	DebuggerURL string `yaml:"debugger_url"`
	// Launch is the Chrome binary followed by extra flags.
	Launch   []string `yaml:"launch"`
	Headless bool     `yaml:"headless"`
	// URL is the page detection runs in. Storage APIs need a secure
	// origin, so about:blank is not suitable.
	URL               string `yaml:"url"`
	NavigationTimeout string `yaml:"navigation_timeout"`
	EvalTimeout       string `yaml:"eval_timeout"`
}

// DefaultBrowserConfig returns sensible defaults.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		Headless:          true,
		NavigationTimeout: "30s",
		EvalTimeout:       "5s",
	}
}

// GetNavigationTimeout returns the page navigation timeout.
func (b BrowserConfig) GetNavigationTimeout() time.Duration {
	return parseDuration(b.NavigationTimeout, 30*time.Second)
}

// GetEvalTimeout returns the per-evaluation timeout.
func (b BrowserConfig) GetEvalTimeout() time.Duration {
	return parseDuration(b.EvalTimeout, 5*time.Second)
}
