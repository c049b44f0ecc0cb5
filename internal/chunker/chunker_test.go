package chunker

import (
	"reflect"
	"strings"
	"testing"
)

func TestSplitEmptyInput(t *testing.T) {
	if got := Split("", Config{}); got != nil {
		t.Errorf("expected nil chunks for empty input, got %v", got)
	}
	if got := Split("   \n\n  ", Config{}); got != nil {
		t.Errorf("expected nil chunks for blank input, got %v", got)
	}
}

func TestSplitSingleSentence(t *testing.T) {
	chunks := Split("ROS 2 is a robotics framework.", Config{TargetTokens: 100})
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Position != 1 {
		t.Errorf("expected position 1, got %d", chunks[0].Position)
	}
	if chunks[0].Text != "ROS 2 is a robotics framework." {
		t.Errorf("unexpected chunk text: %q", chunks[0].Text)
	}
}

func TestSplitRespectsTargetSize(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("This sentence talks about sensors and actuators in detail. ")
	}
	chunks := Split(b.String(), Config{TargetTokens: 60, OverlapTokens: 0})
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		// A single sentence may push a chunk past target, but never wildly.
		if c.TokenCount > 60+EstimateTokens("This sentence talks about sensors and actuators in detail.") {
			t.Errorf("chunk %d too large: %d tokens", i, c.TokenCount)
		}
		if c.Position != i+1 {
			t.Errorf("chunk %d has position %d", i, c.Position)
		}
	}
}

func TestSplitOverlapCarriesSentences(t *testing.T) {
	text := "Alpha moves first. Bravo follows second. Charlie arrives third. " +
		"Delta lands fourth. Echo comes fifth. Foxtrot ends sixth."
	chunks := Split(text, Config{TargetTokens: 12, OverlapTokens: 4})
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1].Text
		first := strings.SplitN(chunks[i].Text, ".", 2)[0] + "."
		if !strings.Contains(prev, first) {
			t.Errorf("chunk %d does not overlap previous: %q not in %q", i, first, prev)
		}
	}
}

func TestSplitDeterministic(t *testing.T) {
	text := "SLAM enables mapping. Localization depends on sensor fusion. " +
		"Odometry drifts over time. Loop closure corrects drift."
	cfg := Config{TargetTokens: 10, OverlapTokens: 3}
	a := Split(text, cfg)
	b := Split(text, cfg)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("chunking is not deterministic:\n%v\n%v", a, b)
	}
}

func TestSplitKeepsCodeFenceIntact(t *testing.T) {
	text := "Install the package first.\n\n```bash\nsudo apt install ros-humble-desktop\nsource /opt/ros/setup.bash\n```\n\nThen verify the installation works."
	chunks := Split(text, Config{TargetTokens: 500})
	joined := ""
	for _, c := range chunks {
		joined += c.Text + "\n"
	}
	if !strings.Contains(joined, "```bash\nsudo apt install ros-humble-desktop\nsource /opt/ros/setup.bash\n```") {
		t.Errorf("code fence was split apart:\n%s", joined)
	}
}

func TestSplitHardSplitsOversizedSentences(t *testing.T) {
	long := strings.Repeat("word ", 400) // one "sentence", no terminator
	chunks := Split(long, Config{TargetTokens: 50, MaxTokens: 100})
	if len(chunks) < 2 {
		t.Fatalf("expected oversized text to be split, got %d chunks", len(chunks))
	}
	for i, c := range chunks {
		if c.TokenCount > 200 {
			t.Errorf("chunk %d exceeds hard limit: %d tokens", i, c.TokenCount)
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"one", 1},
		{"one two three four", 5}, // 4 words * 1.3
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}
