package report

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/p-n-ai/pai-elagen/internal/generation"
)

// Summary renders stats as a few human-readable lines, with numbers
// formatted for lang.
func Summary(st generation.Stats, lang language.Tag) string {
	p := message.NewPrinter(lang)
	var b strings.Builder

	p.Fprintf(&b, "Generated %d of %d items (%d failed, %d refined)\n", st.Generated, st.Total, st.Failed, st.Refined)
	if st.Evaluated > 0 {
		p.Fprintf(&b, "Evaluated %d, passed %d (%.1f%%), mean score %.2f\n", st.Evaluated, st.Passed, st.PassRate()*100, st.MeanScore)
	}
	p.Fprintf(&b, "Tokens: %d in, %d out\n", st.InputTokens, st.OutputTokens)
	for _, k := range generation.FailureKinds {
		if n := st.Failures[k]; n > 0 {
			p.Fprintf(&b, "  %s: %d\n", k, n)
		}
	}
	return b.String()
}
