// Package interpreter runs live interpreting sessions: it relays client audio
// to a recognizer, turns final transcripts into translation jobs, and streams
// translated text and synthesized speech back to the client.
package interpreter

// State is the lifecycle position of a session.
type State int32

const (
	StateConnecting State = iota
	StateConfigured
	StateStreaming
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConfigured:
		return "configured"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TTSProvider selects which configured synthesizer is tried first.
type TTSProvider int

const (
	ProviderPrimary TTSProvider = iota
	ProviderSecondary
)

func (p TTSProvider) String() string {
	if p == ProviderSecondary {
		return "secondary"
	}
	return "primary"
}

// ParseTTSProvider accepts the role names and the vendor names of the
// default deployment.
func ParseTTSProvider(value string) (TTSProvider, bool) {
	switch value {
	case "primary", "minimax":
		return ProviderPrimary, true
	case "secondary", "speechmatics":
		return ProviderSecondary, true
	default:
		return ProviderPrimary, false
	}
}
