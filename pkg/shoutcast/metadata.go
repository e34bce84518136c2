package shoutcast

import (
	"strings"
)

// Metadata is one ICY metadata block.
type Metadata struct {
	// Title of the song currently playing
	StreamTitle string
	// URL announced alongside the title, often empty
	StreamURL string
}

// NewMetadata parses a raw block such as
// "StreamTitle='Artist - Song';StreamUrl='';" padded with NUL bytes.
func NewMetadata(b []byte) *Metadata {
	m := &Metadata{}
	raw := strings.TrimRight(string(b), "\x00")

	for _, field := range strings.Split(raw, "';") {
		key, value, ok := strings.Cut(field, "='")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "StreamTitle":
			m.StreamTitle = value
		case "StreamUrl":
			m.StreamURL = value
		}
	}
	return m
}

// Equals compares two blocks; a nil block equals nothing.
func (m *Metadata) Equals(other *Metadata) bool {
	if m == nil || other == nil {
		return false
	}
	return m.StreamTitle == other.StreamTitle && m.StreamURL == other.StreamURL
}
