package node

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config is the switching node's environment-driven configuration.
type Config struct {
	SignalingPort int `env:"SIGNALING_PORT" envDefault:"5011"`
	VoicePort     int `env:"VOICE_PORT" envDefault:"5011"`

	// ChargeRate is the per-minute price in L.E.
	ChargeRate     float64       `env:"CHARGE_RATE" envDefault:"5.0"`
	ChargeInterval time.Duration `env:"CHARGE_INTERVAL" envDefault:"1m"`

	VoiceDir string `env:"VOICE_DIR" envDefault:"voice"`
	CDRDir   string `env:"CDR_DIR" envDefault:"CDR"`
	CDRFile  string `env:"CDR_FILE" envDefault:"calls.cdr"`

	// EncryptionRequired makes the handshake fail-closed: endpoints that
	// cannot establish a secure channel are disconnected instead of
	// continuing on the legacy plaintext path.
	EncryptionRequired bool `env:"ENCRYPTION_REQUIRED" envDefault:"false"`

	MetricsAddr string `env:"METRICS_ADDR" envDefault:""`

	// SeedBalances holds the subscriber accounts loaded at start, as
	// msisdn:amount pairs. In a real deployment these would come from a
	// subscriber database.
	SeedBalances string `env:"SEED_BALANCES" envDefault:"01223456789:100.0,01234567890:50.0,01112223333:25.0,01020053936:5.0"`
}

// ParseBalances splits SeedBalances into subscriber amounts.
func (c *Config) ParseBalances() (map[string]float64, error) {
	out := make(map[string]float64)
	for _, pair := range strings.Split(c.SeedBalances, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		msisdn, amountStr, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("invalid balance entry %q", pair)
		}
		amount, err := strconv.ParseFloat(amountStr, 64)
		if err != nil || amount < 0 {
			return nil, fmt.Errorf("invalid balance amount %q for %s", amountStr, msisdn)
		}
		out[strings.TrimSpace(msisdn)] = amount
	}
	return out, nil
}
