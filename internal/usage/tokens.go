package usage

import "strings"

// EstimateTokens approximates the Gemini token count of a prompt. Hangul
// tokenizes far denser than Latin text, so the two ranges are weighted
// separately (about 1.2 chars per token vs 3.5).
func EstimateTokens(text string) int {
	var hangul, other int
	for _, r := range text {
		if r >= 0xAC00 && r <= 0xD7A3 {
			hangul++
		} else {
			other++
		}
	}
	estimated := int(float64(hangul)/1.2 + float64(other)/3.5)
	if floor := len(strings.Fields(text)) / 3; estimated < floor {
		estimated = floor
	}
	return estimated
}
