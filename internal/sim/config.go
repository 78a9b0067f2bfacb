package sim

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Encoding selects how single values travel for POKE, FORCE, PEEK and
// SETCLK. Token batches are always packed words.
type Encoding string

const (
	EncodingWords Encoding = "words"
	EncodingText  Encoding = "text"
)

func ParseEncoding(raw string) (Encoding, error) {
	switch e := Encoding(strings.ToLower(strings.TrimSpace(raw))); e {
	case EncodingWords, EncodingText:
		return e, nil
	case "":
		return EncodingWords, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEncoding, raw)
	}
}

// Config configures a Dispatcher.
type Config struct {
	// Dir holds the channel files. Empty means the working directory.
	Dir string
	// PID names the channel files. Zero means os.Getpid().
	PID int
	// PageSize is the channel region size. Zero means the OS page size.
	PageSize int
	Encoding Encoding
	// SpinYield lets spin loops yield to the Go scheduler between polls.
	SpinYield bool
	// Banner receives the startup banner. Nil means os.Stderr.
	Banner io.Writer
	Host   string
	Now    func() time.Time
}

func DefaultConfig() Config {
	return Config{
		Encoding:  EncodingWords,
		SpinYield: true,
	}
}

func (c Config) withDefaults() (Config, error) {
	if c.PID == 0 {
		c.PID = os.Getpid()
	}
	enc, err := ParseEncoding(string(c.Encoding))
	if err != nil {
		return Config{}, err
	}
	c.Encoding = enc
	if c.Banner == nil {
		c.Banner = os.Stderr
	}
	if c.Host == "" {
		if h, err := os.Hostname(); err == nil {
			c.Host = h
		}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c, nil
}
