// Package engine implements the chat persistence pipeline: transcript
// parsing, the idempotent save path with embedding generation, and the
// paginated retrieval engine.
package engine

import (
	"regexp"
	"strings"

	"github.com/scrypster/chatkeep/pkg/types"
)

// TranscriptParser attempts to recover structured turns from raw pasted
// text. Implementations return ok=false when the text carries no detectable
// conversation structure; the caller degrades to a note in that case.
type TranscriptParser interface {
	Parse(text string) (turns []types.Turn, ok bool)
}

// speakerLabelPattern matches conversation speaker markers at the start of a
// line, e.g. "User:", "Assistant:", "Human >", "AI:". Case-insensitive.
var speakerLabelPattern = regexp.MustCompile(`(?mi)^\s*(user|human|you|me|assistant|ai|bot|chatgpt|claude|gpt)\s*[:>]\s*`)

// promptLabels are the markers that open a new turn; everything else in the
// pattern is treated as a response marker.
var promptLabels = map[string]bool{
	"user":  true,
	"human": true,
	"you":   true,
	"me":    true,
}

// SpeakerLabelParser is the default TranscriptParser: it splits text on
// speaker-label lines and pairs prompt blocks with the response blocks that
// follow them.
type SpeakerLabelParser struct{}

// NewSpeakerLabelParser creates the default structural parser.
func NewSpeakerLabelParser() *SpeakerLabelParser {
	return &SpeakerLabelParser{}
}

// Parse pattern-matches alternating speaker labels into prompt/response
// pairs. It returns ok=false when no speaker labels are present or when no
// complete turn with a non-empty prompt could be assembled.
func (p *SpeakerLabelParser) Parse(text string) ([]types.Turn, bool) {
	labels := speakerLabelPattern.FindAllStringSubmatchIndex(text, -1)
	if len(labels) == 0 {
		return nil, false
	}

	// Slice the text into (speaker, content) blocks between labels.
	type block struct {
		isPrompt bool
		content  string
	}
	blocks := make([]block, 0, len(labels))
	for i, loc := range labels {
		speaker := strings.ToLower(text[loc[2]:loc[3]])
		end := len(text)
		if i+1 < len(labels) {
			end = labels[i+1][0]
		}
		content := strings.TrimSpace(text[loc[1]:end])
		if content == "" {
			continue
		}
		blocks = append(blocks, block{isPrompt: promptLabels[speaker], content: content})
	}

	// Pair each prompt block with the response block that follows it.
	// Consecutive same-speaker blocks are merged with a blank line.
	var turns []types.Turn
	for _, b := range blocks {
		if b.isPrompt {
			turns = append(turns, types.Turn{Prompt: b.content})
			continue
		}
		if len(turns) == 0 {
			// Response before any prompt: no usable structure yet.
			continue
		}
		last := &turns[len(turns)-1]
		if last.Response == "" {
			last.Response = b.content
		} else {
			last.Response += "\n\n" + b.content
		}
	}

	if len(turns) == 0 {
		return nil, false
	}
	return turns, true
}
