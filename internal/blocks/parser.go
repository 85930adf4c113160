package blocks

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

// HandwrittenThreshold is the confidence below which a LINE is reported as a
// low-confidence (likely handwritten) sentence.
const HandwrittenThreshold = 85

// Result is the full output of a parse run over one job's block list.
type Result struct {
	Form        map[string]string `json:"form"`
	Tables      []Table           `json:"table"`
	Confidence  float64           `json:"confidence"`
	Handwritten []Sentence        `json:"handwritten"`
}

// Table is an ordered sequence of rows of cell text. Rows and columns that no
// cell referenced stay empty.
type Table [][]string

// Sentence is one low-confidence line with its page and the mean confidence
// of its words.
type Sentence struct {
	Page       int     `json:"page"`
	Confidence float64 `json:"confidence"`
	Sentence   string  `json:"sentence"`
}

// Options tweak policy choices the parser supports. The zero value is the
// canonical behavior.
type Options struct {
	// DropEmptyValues drops a form field whose value resolves to empty text
	// instead of keeping it with "".
	DropEmptyValues bool
}

// Parse runs all extractors over the block list with canonical options.
func Parse(blks []Block) Result {
	return ParseWithOptions(blks, Options{})
}

// ParseWithOptions runs all extractors over the block list. It never fails:
// malformed graphs (dangling ids, self references, out-of-range cell
// coordinates) degrade to empty text or skipped entries.
func ParseWithOptions(blks []Block, opts Options) Result {
	return Result{
		Form:        ParseForm(blks, opts),
		Tables:      ParseTables(blks),
		Confidence:  AverageConfidence(blks),
		Handwritten: HandwrittenSentences(blks),
	}
}

// ParseForm extracts key/value form fields from KEY_VALUE_SET blocks.
// Keys are normalized to lower-camel-case with trailing colon/semicolon
// stripped. A key whose label resolves to empty text is skipped; a key with
// no VALUE relationship is not a field. On duplicate keys the last one wins.
func ParseForm(blks []Block, opts Options) map[string]string {
	idx := indexByID(blks)
	fields := make(map[string]string)

	for i := range blks {
		b := &blks[i]
		if b.BlockType != TypeKeyValueSet || !b.hasEntityType(EntityKey) {
			continue
		}
		key := NormalizeKey(getText(b, idx))
		if key == "" {
			continue
		}
		var valueRel *Relationship
		for j := range b.Relationships {
			if b.Relationships[j].Type == RelValue {
				valueRel = &b.Relationships[j]
				break
			}
		}
		if valueRel == nil || len(valueRel.IDs) == 0 {
			continue
		}
		value := ""
		if vb, ok := idx[valueRel.IDs[0]]; ok {
			value = getText(vb, idx)
		}
		if value == "" && opts.DropEmptyValues {
			continue
		}
		fields[key] = value
	}
	return fields
}

// getText resolves the display text of a block. WORD and LINE blocks carry
// their own text; any other block joins the texts of its CHILD-referenced
// blocks with single spaces, in declaration order. Dangling or
// self-referential ids contribute empty strings.
func getText(b *Block, idx map[string]*Block) string {
	if b.BlockType == TypeWord || b.BlockType == TypeLine {
		return b.Text
	}
	if len(b.Relationships) == 0 {
		return ""
	}
	var parts []string
	for _, rel := range b.Relationships {
		if rel.Type != RelChild {
			continue
		}
		for _, id := range rel.IDs {
			child, ok := idx[id]
			if !ok || child == b {
				parts = append(parts, "")
				continue
			}
			parts = append(parts, child.Text)
		}
	}
	return strings.Join(parts, " ")
}

var (
	reTrailingPunct = regexp.MustCompile(`[:;]$`)
	reKeySplit      = regexp.MustCompile(`[\s_\-.]+`)
)

// NormalizeKey strips one trailing colon/semicolon, trims, and converts the
// label to a lower-camel-case token: split on whitespace/underscore/hyphen/
// dot, lower-case everything, capitalize all tokens but the first.
func NormalizeKey(s string) string {
	s = strings.TrimSpace(reTrailingPunct.ReplaceAllString(s, ""))
	words := reKeySplit.Split(strings.ToLower(s), -1)
	var b strings.Builder
	for i, w := range words {
		if i == 0 || w == "" {
			b.WriteString(w)
			continue
		}
		r, size := utf8.DecodeRuneInString(w)
		b.WriteString(strings.ToUpper(string(r)))
		b.WriteString(w[size:])
	}
	return b.String()
}

// ParseTables extracts one Table per TABLE block, in block-list order. Each
// CHILD-referenced CELL lands at [RowIndex-1][ColumnIndex-1]; the table grows
// to fit whatever coordinates the cells claim. Cells without positive
// coordinates are dropped.
func ParseTables(blks []Block) []Table {
	idx := indexByID(blks)
	var tables []Table
	for i := range blks {
		if blks[i].BlockType == TypeTable {
			tables = append(tables, extractTable(&blks[i], idx))
		}
	}
	return tables
}

func extractTable(tb *Block, idx map[string]*Block) Table {
	var cells []*Block
	for _, rel := range tb.Relationships {
		if rel.Type != RelChild {
			continue
		}
		for _, id := range rel.IDs {
			if c, ok := idx[id]; ok && c.BlockType == TypeCell {
				cells = append(cells, c)
			}
		}
	}

	table := Table{}
	for _, cell := range cells {
		row, col := cell.RowIndex, cell.ColumnIndex
		if row < 1 || col < 1 {
			continue
		}
		for len(table) < row {
			table = append(table, []string{})
		}
		for len(table[row-1]) < col {
			table[row-1] = append(table[row-1], "")
		}
		table[row-1][col-1] = getText(cell, idx)
	}
	return table
}

// AverageConfidence is the arithmetic mean of Confidence over the blocks that
// carry one, or 0 when none do.
func AverageConfidence(blks []Block) float64 {
	var sum float64
	var n int
	for i := range blks {
		if blks[i].Confidence != nil {
			sum += *blks[i].Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// HandwrittenSentences reports every LINE with confidence below
// HandwrittenThreshold as a sentence rebuilt from its CHILD words. The
// sentence confidence is the mean of the word confidences rounded to two
// decimals; lines whose child ids match no WORD block are skipped.
func HandwrittenSentences(blks []Block) []Sentence {
	var out []Sentence
	for i := range blks {
		line := &blks[i]
		if line.BlockType != TypeLine || line.Confidence == nil || *line.Confidence >= HandwrittenThreshold {
			continue
		}

		var wordIDs []string
		for _, rel := range line.Relationships {
			if rel.Type == RelChild {
				wordIDs = rel.IDs
				break
			}
		}

		var words []string
		var confSum float64
		for _, id := range wordIDs {
			for j := range blks {
				if blks[j].ID == id && blks[j].BlockType == TypeWord {
					words = append(words, blks[j].Text)
					if blks[j].Confidence != nil {
						confSum += *blks[j].Confidence
					}
					break
				}
			}
		}
		if len(words) == 0 {
			continue
		}

		page := line.Page
		if page == 0 {
			page = 1
		}
		out = append(out, Sentence{
			Page:       page,
			Confidence: math.Round(confSum/float64(len(words))*100) / 100,
			Sentence:   strings.Join(words, " "),
		})
	}
	return out
}

// PlainText concatenates the text of every LINE block with single spaces.
// This is the document body handed to the classification stage.
func PlainText(blks []Block) string {
	var parts []string
	for i := range blks {
		if blks[i].BlockType == TypeLine && blks[i].Text != "" {
			parts = append(parts, blks[i].Text)
		}
	}
	return strings.Join(parts, " ")
}
