package domain

import "strings"

// FrameKind identifies the kind of an outbound stream frame.
type FrameKind int

const (
	FrameWebSearch FrameKind = iota
	FrameRAG
	FrameCitations
	FrameToken
	FrameError
)

// Progress marker values carried by web search and RAG frames.
const (
	MarkerStarted   = "true"
	MarkerResults   = "results"
	MarkerNoResults = "no_results"
	MarkerFinished  = "false"
)

// StreamFrame is one event of a chat response stream.
type StreamFrame struct {
	Kind FrameKind
	Data string
}

// Payload returns the frame text using the tagged-text convention for progress frames.
// Token frames carry the upstream data payload untouched.
func (f StreamFrame) Payload() string {
	switch f.Kind {
	case FrameWebSearch:
		return "<websearch>" + f.Data + "</websearch>"
	case FrameRAG:
		return "<rag>" + f.Data + "</rag>"
	case FrameCitations:
		return "<citations>" + f.Data + "</citations>"
	default:
		return f.Data
	}
}

// SSE renders the frame as a server-sent event. Multi-line payloads are split into
// several data fields so the event stays well formed.
func (f StreamFrame) SSE() string {
	var b strings.Builder
	for _, line := range strings.Split(f.Payload(), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}
