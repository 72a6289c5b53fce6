package mobile

// Config is the calling endpoint's environment-driven configuration.
type Config struct {
	MSCHost       string `env:"MSC_HOST" envDefault:"localhost"`
	SignalingPort int    `env:"SIGNALING_PORT" envDefault:"5011"`
	VoicePort     int    `env:"VOICE_PORT" envDefault:"5011"`

	// MSISDN identifies the subscriber placing the call.
	MSISDN string `env:"MSISDN,required"`

	// ToneHz selects the test-tone frequency used instead of a
	// microphone; device capture lives outside this repository.
	ToneHz float64 `env:"TONE_HZ" envDefault:"440"`
}
