// Package mobile implements the calling-endpoint side of the control and
// media protocols: the client half of the secure-channel handshake, call
// start/end signaling, and the paced outbound audio stream.
package mobile

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/switchpoint/msc/internal/audio"
	"github.com/switchpoint/msc/internal/encryption"
	"github.com/switchpoint/msc/internal/protocol"
	"github.com/switchpoint/msc/internal/voice"
)

// Client is one calling endpoint bound to a single subscriber number.
type Client struct {
	cfg    *Config
	conn   net.Conn
	reader *bufio.Reader

	writeMu sync.Mutex

	// Session key material; nil until the handshake succeeds, and the
	// endpoint then stays on the legacy plaintext path.
	key []byte
	iv  []byte
}

// Dial connects the control channel.
func Dial(cfg *Config) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.MSCHost, cfg.SignalingPort)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MSC at %s: %w", addr, err)
	}
	return &Client{cfg: cfg, conn: conn, reader: bufio.NewReader(conn)}, nil
}

// Close releases the control connection.
func (c *Client) Close() error { return c.conn.Close() }

// Encrypted reports whether a secure channel was established.
func (c *Client) Encrypted() bool { return c.key != nil }

// Handshake runs the client half of the key exchange. Any failure leaves
// the endpoint on the legacy plaintext path; only transport errors are
// returned.
func (c *Client) Handshake() error {
	line, err := c.readLine()
	if err != nil {
		return fmt.Errorf("failed to read server greeting: %w", err)
	}

	msg := protocol.Parse(line)
	if msg.Kind != protocol.KindPublicKey {
		log.Printf("[Mobile] MSC did not offer a public key, using legacy mode")
		return nil
	}

	pub, err := encryption.PublicKeyFromString(msg.Arg)
	if err != nil {
		log.Printf("[Mobile] bad public key from MSC, using legacy mode: %v", err)
		return nil
	}

	key, err := encryption.GenerateAESKey()
	if err != nil {
		return err
	}
	iv, err := encryption.GenerateIV()
	if err != nil {
		return err
	}
	encKey, err := encryption.EncryptRSA(pub, key)
	if err != nil {
		log.Printf("[Mobile] failed to encrypt session key, using legacy mode: %v", err)
		return nil
	}

	if err := c.writeLine(protocol.PrefixAESKey + base64.StdEncoding.EncodeToString(encKey)); err != nil {
		return err
	}
	if err := c.writeLine(protocol.PrefixIV + base64.StdEncoding.EncodeToString(iv)); err != nil {
		return err
	}

	line, err = c.readLine()
	if err != nil {
		return fmt.Errorf("failed to read handshake confirmation: %w", err)
	}
	if protocol.Parse(line).Kind != protocol.KindReady {
		log.Printf("[Mobile] MSC did not confirm encryption, using legacy mode")
		return nil
	}

	c.key, c.iv = key, iv
	log.Printf("[Mobile] secure channel established with MSC")
	return nil
}

// StartCall signals call start for the configured subscriber.
func (c *Client) StartCall() error {
	return c.sendSignal(protocol.StartCall(c.cfg.MSISDN))
}

// EndCall signals normal call clearing.
func (c *Client) EndCall() error {
	return c.sendSignal(protocol.EndCall(c.cfg.MSISDN))
}

// sendSignal sends a control verb, encrypted when a channel exists.
func (c *Client) sendSignal(line string) error {
	if c.key != nil {
		wrapped, err := protocol.Wrap(c.key, c.iv, line)
		if err == nil {
			return c.writeLine(wrapped)
		}
		log.Printf("[Mobile] encrypt failed, sending plaintext: %v", err)
	}
	return c.writeLine(line)
}

// Listen consumes pushed notices until the connection closes, invoking
// onTerminate for TERMINATE_CALL.
func (c *Client) Listen(onTerminate func(reason string)) {
	for {
		line, err := c.readLine()
		if err != nil {
			return
		}

		msg := protocol.Parse(line)
		if msg.Kind == protocol.KindEncrypted && c.key != nil {
			plain, err := protocol.Unwrap(c.key, c.iv, msg.Arg)
			if err != nil {
				log.Printf("[Mobile] failed to decrypt notice: %v", err)
				continue
			}
			msg = protocol.Parse(plain)
		}

		if msg.Kind == protocol.KindTerminate {
			log.Printf("[Mobile] *** CALL TERMINATED BY MSC: %s ***", msg.Arg)
			onTerminate(msg.Arg)
		}
	}
}

// Run places a call and streams audio from source until the context is
// cancelled or the node terminates the call, then signals call end.
func (c *Client) Run(ctx context.Context, source audio.Source) error {
	if err := c.Handshake(); err != nil {
		return err
	}
	if err := c.StartCall(); err != nil {
		return err
	}
	log.Printf("[Mobile] start call signaling sent for %s (encrypted: %v)", c.cfg.MSISDN, c.Encrypted())

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		c.Listen(func(string) { cancel() })
		cancel()
	}()

	mediaConn, err := net.Dial("udp", fmt.Sprintf("%s:%d", c.cfg.MSCHost, c.cfg.VoicePort))
	if err != nil {
		return fmt.Errorf("failed to open media socket: %w", err)
	}
	defer mediaConn.Close()
	sender := voice.NewSender(mediaConn, c.key, c.iv)

	err = c.streamAudio(callCtx, source, sender)

	if e := c.EndCall(); e != nil {
		log.Printf("[Mobile] failed to send end call signaling: %v", e)
	} else {
		log.Printf("[Mobile] end call signaling sent for %s", c.cfg.MSISDN)
	}
	return err
}

// streamAudio captures and sends chunks paced at their real-time
// duration, so the node hears a continuous stream.
func (c *Client) streamAudio(ctx context.Context, source audio.Source, sender *voice.Sender) error {
	sent := 0
	for {
		select {
		case <-ctx.Done():
			log.Printf("[Mobile] call finished after %d packets", sent)
			return nil
		default:
		}

		chunk, err := source.Capture()
		if err != nil {
			return fmt.Errorf("audio capture failed: %w", err)
		}
		if err := sender.Send(chunk); err != nil {
			return err
		}
		sent++

		pace := time.Duration(len(chunk)/audio.BytesPerFrame) * time.Second / audio.SampleRate
		select {
		case <-ctx.Done():
		case <-time.After(pace):
		}
	}
}

func (c *Client) writeLine(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := fmt.Fprintf(c.conn, "%s\n", line); err != nil {
		return fmt.Errorf("control write failed: %w", err)
	}
	return nil
}

func (c *Client) readLine() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return line, nil
}
