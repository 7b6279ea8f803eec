// Package detect classifies whether the host browsing context is a private
// (incognito) session. It fingerprints the browser engine from the length of
// an induced error message, runs the engine's storage probe, and races the
// probe against a deadline so that every call settles exactly once.
package detect

// Engine is the browser engine family inferred from the error signature.
type Engine int

const (
	EngineUnknown Engine = iota
	EngineSafari
	EngineChromium
	EngineFirefox
)

func (e Engine) String() string {
	switch e {
	case EngineSafari:
		return "safari"
	case EngineChromium:
		return "chromium"
	case EngineFirefox:
		return "firefox"
	default:
		return "unknown"
	}
}

// Classify maps an error-message-length signature to an engine bucket.
// The signature is the length of the message thrown by
// parseInt("-1").toFixed(-1), which differs per JavaScript engine.
func Classify(signature int) Engine {
	switch signature {
	case 44, 43:
		return EngineSafari
	case 51:
		return EngineChromium
	case 25:
		return EngineFirefox
	default:
		return EngineUnknown
	}
}
