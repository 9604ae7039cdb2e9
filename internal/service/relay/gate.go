package relay

import (
	"strings"

	relaymodel "github.com/luoqisheng/echobridge/internal/model/relay"
)

// Gate drops repeated interim transcripts so downstream pipelines are not
// re-run for text that has not changed. Recognizers emit a fresh hypothesis
// on every audio chunk; without this filter every language pipeline would
// re-translate near-identical partials chunk after chunk.
//
// Single-writer: only the transcript consume loop calls Accept.
type Gate struct {
	lastForwarded string
}

// NewGate returns a gate with no forwarding history.
func NewGate() *Gate {
	return &Gate{}
}

// Accept reports whether the event should be forwarded downstream.
// An event passes when its text differs from the last forwarded text, or
// when it is marked final. Empty transcripts never pass.
func (g *Gate) Accept(ev relaymodel.TranscriptEvent) bool {
	if strings.TrimSpace(ev.Text) == "" {
		return false
	}
	if !ev.IsFinal && ev.Text == g.lastForwarded {
		return false
	}
	g.lastForwarded = ev.Text
	return true
}
