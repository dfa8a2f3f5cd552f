package metrics

import (
	"strings"
	"testing"
)

func TestFormat(t *testing.T) {
	var c Counters
	c.Asks.Add(3)
	c.Clears.Add(1)

	out := c.Format()
	if !strings.Contains(out, "contextqa_asks 3\n") {
		t.Errorf("Missing asks counter in %q", out)
	}
	if !strings.Contains(out, "contextqa_clears 1\n") {
		t.Errorf("Missing clears counter in %q", out)
	}
	if strings.Index(out, "contextqa_answer_fallbacks") > strings.Index(out, "contextqa_youtube_inits") {
		t.Errorf("Expected sorted output, got %q", out)
	}
}
