// Package relay is the lossy live media path: field agents publish small
// JPEG frames and short WAV chunks on a shared broadcast channel, viewers
// keep only the latest item for the device they watch.
package relay

import (
	"encoding/base64"
	"errors"
	"strings"
)

const (
	// Channel is the shared broadcast channel for every device.
	Channel = "tactical-stream"
	// EventFrame carries a MediaFrame.
	EventFrame = "frame"
	// EventAudio carries an AudioChunk.
	EventAudio = "audio"
)

// ErrMalformedDataURL is returned for payloads that are not base64 data URLs.
var ErrMalformedDataURL = errors.New("relay: malformed data url")

// MediaFrame is one video frame. Image is a data URL.
type MediaFrame struct {
	Target string `json:"vId"`
	Image  string `json:"image"`
}

// AudioChunk is about one second of audio. Audio is a data URL.
type AudioChunk struct {
	Target string `json:"vId"`
	Audio  string `json:"audio"`
}

// DataURL encodes data as a base64 data URL.
func DataURL(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ParseDataURL splits a base64 data URL.
func ParseDataURL(s string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", nil, ErrMalformedDataURL
	}
	meta, encoded, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrMalformedDataURL
	}
	contentType, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", nil, ErrMalformedDataURL
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", nil, ErrMalformedDataURL
	}
	return contentType, data, nil
}
