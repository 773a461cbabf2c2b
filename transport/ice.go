// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// ICEConfig holds ICE server configuration for WebRTC PeerConnections.
type ICEConfig struct {
	// Servers is the list of ICE servers (STUN + TURN) to use during
	// candidate gathering. Order matters: pion tries them in sequence.
	Servers []webrtc.ICEServer
}

// ICEConfigFromURLs builds an ICEConfig from configured STUN and TURN
// URLs. STUN entries are grouped into one server without credentials;
// TURN entries share username and credential, which are then
// required. An empty list yields host candidates only, which is
// enough for same-machine and same-LAN links.
func ICEConfigFromURLs(urls []string, username, credential string) (ICEConfig, error) {
	var stun, turn []string
	for _, url := range urls {
		url = strings.TrimSpace(url)
		switch {
		case url == "":
			continue
		case strings.HasPrefix(url, "stun:"), strings.HasPrefix(url, "stuns:"):
			stun = append(stun, url)
		case strings.HasPrefix(url, "turn:"), strings.HasPrefix(url, "turns:"):
			turn = append(turn, url)
		default:
			return ICEConfig{}, fmt.Errorf("ICE server %q: scheme must be stun, stuns, turn, or turns", url)
		}
	}

	var config ICEConfig
	if len(stun) > 0 {
		config.Servers = append(config.Servers, webrtc.ICEServer{URLs: stun})
	}
	if len(turn) > 0 {
		if username == "" || credential == "" {
			return ICEConfig{}, fmt.Errorf("TURN servers %v require a username and credential", turn)
		}
		config.Servers = append(config.Servers, webrtc.ICEServer{
			URLs:       turn,
			Username:   username,
			Credential: credential,
		})
	}
	return config, nil
}
