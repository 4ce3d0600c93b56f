package extract

import (
	"regexp"
	"strings"

	"github.com/esgflow/materiality/internal/document"
)

// minElementRunes drops fragments too short to carry an issue statement.
const minElementRunes = 8

var multiGapRe = regexp.MustCompile(`\S {3,}\S`)

// elementsFromText splits raw extractor output into PageElements. Pages are
// separated by form feeds (poppler's default page break marker), blocks
// within a page by blank lines. Blocks whose lines keep a columnar layout
// are tagged table-derived.
func elementsFromText(text, source string) []document.PageElement {
	var elements []document.PageElement
	for pageIdx, pageText := range strings.Split(text, "\f") {
		page := pageIdx + 1
		for _, block := range splitBlocks(pageText) {
			kind := document.KindParagraph
			if looksTabular(block) {
				kind = document.KindTable
			}
			flat := strings.Join(strings.Fields(block), " ")
			if len([]rune(flat)) < minElementRunes {
				continue
			}
			elements = append(elements, document.PageElement{
				Page:   page,
				Text:   flat,
				Kind:   kind,
				Source: source,
			})
		}
	}
	return elements
}

func splitBlocks(pageText string) []string {
	var blocks []string
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			blocks = append(blocks, strings.Join(cur, "\n"))
			cur = nil
		}
	}
	for _, line := range strings.Split(pageText, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		cur = append(cur, line)
	}
	flush()
	return blocks
}

// looksTabular reports whether a block reads like a table: box-drawing
// characters, or at least two lines aligned into columns by runs of spaces.
func looksTabular(block string) bool {
	if strings.ContainsAny(block, "│┃┼├┤─") {
		return true
	}
	columnar := 0
	for _, line := range strings.Split(block, "\n") {
		if multiGapRe.MatchString(line) {
			columnar++
		}
	}
	return columnar >= 2
}
