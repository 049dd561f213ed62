// Package nestconfig parses the flat key=value configuration file used
// to start a nestream server.
package nestconfig

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/nestream/nestream/internal/nesterr"
)

// Config holds the server's runtime configuration.
type Config struct {
	// Network
	VideoPort   int
	AudioPort   int
	ControlPort int
	HTTPPort    int
	HTTPSPort   int
	MTU         int

	// Streaming settings. GOPSeconds sets the keyframe interval of every
	// session. FECPercentage is range-checked by Validate only; the FEC
	// percentage a session uses comes from /launch's fecPercent.
	FECPercentage int
	GOPSeconds    int

	// Filesystem
	DataDir string
	TLSCert string
	TLSKey  string
}

// Load reads configuration from a key=value file at path.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nesterr.New(nesterr.KindConfig, "open config file", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		decoded, err := url.QueryUnescape(value)
		if err != nil {
			decoded = value
		}

		if err := cfg.set(key, decoded); err != nil {
			return nil, nesterr.New(nesterr.KindConfig, fmt.Sprintf("parse %s", key), err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, nesterr.New(nesterr.KindConfig, "scan config file", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the well-known Moonlight/GameStream port defaults
// from spec.md §6.
func Default() *Config {
	return &Config{
		VideoPort:     47998,
		AudioPort:     48000,
		ControlPort:   47999,
		HTTPPort:      47989,
		HTTPSPort:     47984,
		MTU:           1392,
		FECPercentage: 20,
		GOPSeconds:    1,
		DataDir:       defaultDataDir(),
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir + "/moonshine"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home + "/.local/share/moonshine"
}

func (c *Config) set(key, value string) error {
	intField := func(dst *int) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}

	switch key {
	case "video_port":
		return intField(&c.VideoPort)
	case "audio_port":
		return intField(&c.AudioPort)
	case "control_port":
		return intField(&c.ControlPort)
	case "http_port":
		return intField(&c.HTTPPort)
	case "https_port":
		return intField(&c.HTTPSPort)
	case "mtu":
		return intField(&c.MTU)
	case "fec_percentage":
		return intField(&c.FECPercentage)
	case "gop_seconds":
		return intField(&c.GOPSeconds)
	case "data_dir":
		c.DataDir = value
	case "tls_cert":
		c.TLSCert = value
	case "tls_key":
		c.TLSKey = value
	}
	return nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	ports := map[string]int{
		"video_port":   c.VideoPort,
		"audio_port":   c.AudioPort,
		"control_port": c.ControlPort,
		"http_port":    c.HTTPPort,
		"https_port":   c.HTTPSPort,
	}
	for name, port := range ports {
		if port < 1 || port > 65535 {
			return nesterr.New(nesterr.KindConfig, "validate", fmt.Errorf("%s out of range: %d", name, port))
		}
	}
	if c.MTU < 576 {
		return nesterr.New(nesterr.KindConfig, "validate", fmt.Errorf("mtu too small: %d", c.MTU))
	}
	if c.FECPercentage < 0 || c.FECPercentage > 255 {
		return nesterr.New(nesterr.KindConfig, "validate", fmt.Errorf("fec_percentage out of range: %d", c.FECPercentage))
	}
	if c.DataDir == "" {
		return nesterr.New(nesterr.KindConfig, "validate", fmt.Errorf("missing data_dir"))
	}
	return nil
}
