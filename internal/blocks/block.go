// Package blocks parses the flat, cross-referencing block list returned by
// the recognition engine into form fields, tables, an aggregate confidence
// score and a list of low-confidence sentences. Everything in this package is
// a pure function over in-memory data.
package blocks

// Block types emitted by the recognition engine. The engine may emit types
// outside this set; the parser ignores what it does not know.
const (
	TypeWord        = "WORD"
	TypeLine        = "LINE"
	TypeKeyValueSet = "KEY_VALUE_SET"
	TypeTable       = "TABLE"
	TypeCell        = "CELL"
)

// Relationship edge types.
const (
	RelChild = "CHILD"
	RelValue = "VALUE"
)

// EntityKey marks a KEY_VALUE_SET block as the key half of a form field.
const EntityKey = "KEY"

// Block is one node of the recognition result graph. JSON field names follow
// the engine's wire format so a persisted block dump round-trips verbatim.
type Block struct {
	ID            string         `json:"Id"`
	BlockType     string         `json:"BlockType"`
	Text          string         `json:"Text,omitempty"`
	Confidence    *float64       `json:"Confidence,omitempty"`
	Page          int            `json:"Page,omitempty"`
	RowIndex      int            `json:"RowIndex,omitempty"`
	ColumnIndex   int            `json:"ColumnIndex,omitempty"`
	EntityTypes   []string       `json:"EntityTypes,omitempty"`
	Relationships []Relationship `json:"Relationships,omitempty"`
}

// Relationship is a typed edge from one block to a list of target block ids.
// Targets may be missing from the block list; consumers treat a dangling id
// as empty text.
type Relationship struct {
	Type string   `json:"Type"`
	IDs  []string `json:"Ids"`
}

func (b *Block) hasEntityType(t string) bool {
	for _, e := range b.EntityTypes {
		if e == t {
			return true
		}
	}
	return false
}

// indexByID builds the id -> block lookup used by all traversals.
func indexByID(blks []Block) map[string]*Block {
	idx := make(map[string]*Block, len(blks))
	for i := range blks {
		idx[blks[i].ID] = &blks[i]
	}
	return idx
}
