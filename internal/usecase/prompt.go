package usecase

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	keyFrameMarker = "KEY FRAMES:"
	metricsMarker  = "METRICS:"
)

// metricsInstruction asks for the structured metrics line. Requested only on
// the batch that has seen the whole swing, so the persisted metrics never
// reflect a partial frame set.
const metricsInstruction = "Near the end of your reply include a line starting with \"" + metricsMarker +
	"\" holding a JSON object of numeric swing metrics you can estimate for the complete swing (for example club path, tempo ratio, shoulder turn)."

// firstBatchInstructions introduces the analysis task. Later batches get
// continuation instructions so no batch boundary leaks into the coaching text.
func firstBatchInstructions(batch, totalBatches, frameCount int) string {
	lines := []string{
		"You are an experienced golf coach reviewing swing-sequence photos.",
		fmt.Sprintf("This message contains %d frames of one swing, ordered from address to finish.", frameCount),
		"Identify the swing positions shown, call out the two or three most impactful faults, and give concrete drills to fix them.",
		"Write directly to the golfer in an encouraging tone.",
	}
	if totalBatches == 1 {
		lines = append(lines, metricsInstruction)
	}
	lines = append(lines, "End your reply with a line starting with \""+keyFrameMarker+"\" listing the phase names of the frames most important to your coaching points.")
	intro := strings.Join(lines, "\n")
	if totalBatches > 1 {
		intro += fmt.Sprintf("\nMore frames of the same swing will follow in %d further message(s); hold your overall summary until the last one.", totalBatches-1)
	}
	return intro
}

func continuationInstructions(batch, totalBatches int) string {
	lines := []string{
		fmt.Sprintf("These frames continue the same swing (part %d of %d).", batch, totalBatches),
		"Integrate them into the analysis you have already started. Do not restart, re-introduce yourself, or repeat earlier observations.",
	}
	if batch == totalBatches {
		lines = append(lines, metricsInstruction)
	}
	lines = append(lines, "End your reply with a line starting with \""+keyFrameMarker+"\" listing the phase names of any additional key frames.")
	return strings.Join(lines, "\n")
}

// chatSystemPrompt frames the tool-assisted coaching conversation.
func chatSystemPrompt() string {
	return strings.Join([]string{
		"You are a golf coach continuing a conversation about a golfer's analyzed swings.",
		"Use the available tools to look up their swing records before answering questions about specific swings, metrics, or progress.",
		"Ground every claim in tool results; if a tool returns an error, say what you could not retrieve.",
		"Keep answers specific and practical.",
	}, "\n")
}

// mergeBatchReports combines per-batch model output into one coherent report.
// A single batch passes through verbatim; multiple batches are joined as
// sections under a synthesized heading with a short closing paragraph.
func mergeBatchReports(sections []string) string {
	if len(sections) == 1 {
		return sections[0]
	}
	var b strings.Builder
	b.WriteString("## Full Swing Analysis\n")
	for i, s := range sections {
		fmt.Fprintf(&b, "\n### Sequence %d\n\n%s\n", i+1, strings.TrimSpace(s))
	}
	b.WriteString("\nTaken together, these sequences show one continuous motion: work the earlier positions first, since faults there carry through impact and finish.\n")
	return b.String()
}

var keyFrameSplit = regexp.MustCompile(`[,\s]+`)

// parseKeyFrames extracts phase names from the structured key-frame marker in
// a model reply. Returns nil when the marker is absent.
func parseKeyFrames(reply string) []string {
	idx := strings.LastIndex(reply, keyFrameMarker)
	if idx < 0 {
		return nil
	}
	line := reply[idx+len(keyFrameMarker):]
	if nl := strings.IndexByte(line, '\n'); nl >= 0 {
		line = line[:nl]
	}
	var frames []string
	for _, tok := range keyFrameSplit.Split(strings.TrimSpace(line), -1) {
		tok = strings.Trim(tok, ".,;:")
		if tok != "" {
			frames = append(frames, tok)
		}
	}
	return frames
}

// parseMetrics extracts the numeric metrics object from a model reply.
// Absent or malformed metrics are not an error; the analysis simply carries
// none.
func parseMetrics(reply string) map[string]float64 {
	idx := strings.LastIndex(reply, metricsMarker)
	if idx < 0 {
		return nil
	}
	line := reply[idx+len(metricsMarker):]
	if nl := strings.IndexByte(line, '\n'); nl >= 0 {
		line = line[:nl]
	}
	var metrics map[string]float64
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &metrics); err != nil {
		return nil
	}
	if len(metrics) == 0 {
		return nil
	}
	return metrics
}

// collectMetrics returns the metrics from the latest batch section carrying
// them: the metrics line is requested on the final batch, which has seen the
// whole swing.
func collectMetrics(sections []string) map[string]float64 {
	for i := len(sections) - 1; i >= 0; i-- {
		if m := parseMetrics(sections[i]); m != nil {
			return m
		}
	}
	return nil
}

var phaseNumber = regexp.MustCompile(`^P(\d+)`)

// sortPhases orders swing phase names by P-number (P2 before P10), falling
// back to lexicographic for anything unnumbered.
func sortPhases(phases []string) {
	sort.Slice(phases, func(i, j int) bool {
		ni, iok := phaseNum(phases[i])
		nj, jok := phaseNum(phases[j])
		if iok && jok && ni != nj {
			return ni < nj
		}
		if iok != jok {
			return iok
		}
		return phases[i] < phases[j]
	})
}

func phaseNum(phase string) (int, bool) {
	m := phaseNumber.FindStringSubmatch(phase)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
