package translator

import "strings"

const (
	openThink  = "<think>"
	closeThink = "</think>"
)

// Segment is a run of text classified as answer content or reasoning.
type Segment struct {
	Reasoning bool
	Text      string
}

// ThinkSplitter separates inline <think>...</think> regions from a text
// stream. Text that could be the start of a tag is held back until the next
// Push, so tags are never split across emitted segments. The held tail is
// at most len("</think>")-1 bytes.
type ThinkSplitter struct {
	inside bool
	tail   string
	seen   bool
}

// Push feeds the next chunk and returns the segments that are now final.
func (s *ThinkSplitter) Push(chunk string) []Segment {
	buf := s.tail + chunk
	s.tail = ""

	var segs []Segment
	for {
		tag := openThink
		if s.inside {
			tag = closeThink
		}

		if idx := strings.Index(buf, tag); idx >= 0 {
			segs = appendSegment(segs, s.inside, buf[:idx])
			buf = buf[idx+len(tag):]
			s.inside = !s.inside
			s.seen = true
			continue
		}

		hold := partialTagSuffix(buf, tag)
		segs = appendSegment(segs, s.inside, buf[:len(buf)-hold])
		s.tail = buf[len(buf)-hold:]
		return segs
	}
}

// Flush emits any held tail in the current mode.
func (s *ThinkSplitter) Flush() []Segment {
	tail := s.tail
	s.tail = ""
	return appendSegment(nil, s.inside, tail)
}

// SawTags reports whether any think tag has been consumed.
func (s *ThinkSplitter) SawTags() bool {
	return s.seen
}

func appendSegment(segs []Segment, reasoning bool, text string) []Segment {
	if text == "" {
		return segs
	}
	if n := len(segs); n > 0 && segs[n-1].Reasoning == reasoning {
		segs[n-1].Text += text
		return segs
	}
	return append(segs, Segment{Reasoning: reasoning, Text: text})
}

// partialTagSuffix returns the length of the longest suffix of buf that is
// a proper prefix of tag.
func partialTagSuffix(buf, tag string) int {
	limit := len(tag) - 1
	if limit > len(buf) {
		limit = len(buf)
	}
	for n := limit; n > 0; n-- {
		if strings.HasSuffix(buf, tag[:n]) {
			return n
		}
	}
	return 0
}

// SplitThink separates a complete text into content and reasoning.
func SplitThink(text string) (content, reasoning string, found bool) {
	var s ThinkSplitter
	segs := append(s.Push(text), s.Flush()...)

	var c, r strings.Builder
	for _, seg := range segs {
		if seg.Reasoning {
			r.WriteString(seg.Text)
		} else {
			c.WriteString(seg.Text)
		}
	}
	return c.String(), r.String(), s.SawTags()
}
