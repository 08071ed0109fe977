package translate

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

const translatePromptTemplate = `You translate subtitles for a video that is playing right now.

Translate the caption line the user sends from %s into %s.

Rules:
- Reply with the translation only. No quotes, no notes, no romanization.
- Keep the register and tone of the original. Spoken dialogue stays colloquial.
- Keep speaker markers such as ">>" or "- " at the start of the line.
- Keep bracketed sound annotations like [Music] but translate the words inside them.
- If the line is already in %[2]s, return it unchanged.`

const segmentPrompt = `You re-segment machine-generated subtitles into natural caption lines.

The user sends a JSON array of records {"start": ms, "end": ms, "text": "..."} in playback order.
Merge and split the text into complete, readable caption lines of at most two short sentences.

Rules:
- Never change, translate or drop words. Only move line boundaries.
- Every output line covers the time span of the records it was built from.
- Timestamps are integer milliseconds and must not decrease.

Reply with a caption document and nothing else, in exactly this form:

CAPTIONS
<start> --> <end>
<text>

<start> --> <end>
<text>`

// languageName renders a BCP-47 tag as an English language name for
// prompts. Unparseable or empty tags fall back to the raw tag or to
// "the source language".
func languageName(tag string) string {
	if strings.TrimSpace(tag) == "" {
		return "the source language"
	}
	t, err := language.Parse(tag)
	if err != nil {
		return tag
	}
	if name := display.English.Tags().Name(t); name != "" {
		return name
	}
	return tag
}

func translatePrompt(source, target string) string {
	return fmt.Sprintf(translatePromptTemplate, languageName(source), languageName(target))
}

// cleanTranslation strips wrappers models add around a single-line answer.
func cleanTranslation(s string) string {
	s = stripMarkdown(s)
	if len(s) >= 2 {
		for _, q := range [][2]string{{`"`, `"`}, {"“", "”"}, {"「", "」"}} {
			if strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) && len(s) > len(q[0])+len(q[1]) {
				s = strings.TrimSpace(s[len(q[0]) : len(s)-len(q[1])])
				break
			}
		}
	}
	return s
}

// stripMarkdown removes optional markdown code fences that some models wrap
// around their output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	if after, ok := strings.CutPrefix(s, "```"); ok {
		// Drop an info string such as "text" or "vtt" on the fence line.
		if i := strings.IndexByte(after, '\n'); i >= 0 {
			after = after[i+1:]
		} else {
			after = ""
		}
		s = after
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
