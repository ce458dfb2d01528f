package scanning

import (
	"strings"
)

// transcriptionPrompt is the shared prompt used by the LLM providers
const transcriptionPrompt = `You are an OCR engine. Transcribe every piece of text visible in this receipt image.

Rules:
- Output the text exactly as printed, one printed line per output line, top to bottom
- Keep numbers, currency symbols, dates, times and punctuation exactly as they appear
- Do not summarize, translate, correct or reorder anything
- Do not add commentary, headings or markdown code blocks
- If the image contains no readable text, output nothing`

// parseTranscription turns an LLM transcription into a RawOCRResult
func parseTranscription(text string) *RawOCRResult {
	text = strings.TrimSpace(text)

	// Remove markdown code blocks if present
	text = strings.TrimPrefix(text, "```text")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	return &RawOCRResult{
		FullText:       text,
		DetectionCount: countLines(text),
	}
}

// countLines counts the non-empty lines of text; LLM providers report no
// bounding boxes, so each transcribed line counts as one detection
func countLines(text string) int {
	n := 0
	for _, l := range strings.Split(text, "\n") {
		if strings.TrimSpace(l) != "" {
			n++
		}
	}
	return n
}
