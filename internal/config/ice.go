package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// ICEServer is the config-file form of a STUN/TURN server handed to
// browsers.
type ICEServer struct {
	URLs       []string `mapstructure:"urls" yaml:"urls"`
	Username   string   `mapstructure:"username" yaml:"username,omitempty"`
	Credential string   `mapstructure:"credential" yaml:"credential,omitempty"`
}

// WebRTCICEServers validates the configured servers and converts them to
// pion's representation.
func (c Config) WebRTCICEServers() ([]webrtc.ICEServer, error) {
	out := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for i, s := range c.ICEServers {
		server := webrtc.ICEServer{
			Username: strings.TrimSpace(s.Username),
		}
		for _, u := range s.URLs {
			if u = strings.TrimSpace(u); u != "" {
				server.URLs = append(server.URLs, u)
			}
		}
		if cred := strings.TrimSpace(s.Credential); cred != "" {
			server.Credential = cred
		}
		if err := validateICEServer(server); err != nil {
			return nil, fmt.Errorf("ice_servers[%d]: %w", i, err)
		}
		out = append(out, server)
	}
	return out, nil
}

func validateICEServer(server webrtc.ICEServer) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}

	needsCreds := false
	for _, url := range server.URLs {
		switch {
		case strings.HasPrefix(url, "stun:"), strings.HasPrefix(url, "stuns:"):
		case strings.HasPrefix(url, "turn:"), strings.HasPrefix(url, "turns:"):
			needsCreds = true
		default:
			return fmt.Errorf("unsupported url scheme: %q", url)
		}
	}

	if needsCreds {
		if server.Username == "" {
			return errors.New("turn urls require username")
		}
		if cred, ok := server.Credential.(string); !ok || cred == "" {
			return errors.New("turn urls require credential")
		}
	}
	return nil
}
