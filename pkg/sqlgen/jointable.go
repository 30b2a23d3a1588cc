package sqlgen

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/leapstack-labs/leapbase/pkg/core"
)

// JoinTable describes the join table of a MultipleLinkedRecord field.
type JoinTable struct {
	Name         string
	Owner        string // table declaring the field
	Linked       string // table the field points at
	OwnerColumn  string
	LinkedColumn string
}

// PositionColumn keeps link order within a join table.
const PositionColumn = "position"

// JoinTableFor returns the join table of field f declared on owner.
//
// The name is the sorted pair of table names followed by the slugged
// field name, so two fields with different names never share a table.
// A self relation names its second column linked_<table>_id.
func JoinTableFor(owner string, f core.MultipleLinkedRecord) JoinTable {
	pair := []string{owner, f.Table}
	sort.Strings(pair)
	j := JoinTable{
		Name:         pair[0] + "_" + pair[1] + "_" + Slug(f.Name),
		Owner:        owner,
		Linked:       f.Table,
		OwnerColumn:  owner + "_id",
		LinkedColumn: f.Table + "_id",
	}
	if owner == f.Table {
		j.LinkedColumn = "linked_" + f.Table + "_id"
	}
	return j
}

// JoinTableName returns the name of the join table of f on owner.
func JoinTableName(owner string, f core.MultipleLinkedRecord) string {
	return JoinTableFor(owner, f).Name
}

// JoinTables returns the join tables declared by t, in field order.
func JoinTables(t *core.Table) []JoinTable {
	var out []JoinTable
	for _, f := range t.Fields {
		if m, ok := f.(core.MultipleLinkedRecord); ok {
			out = append(out, JoinTableFor(t.Name, m))
		}
	}
	return out
}

// CreateJoinTable renders the join table. Foreign keys carry no ON DELETE
// action; link rows are removed by the table driver.
func (c *Compiler) CreateJoinTable(j JoinTable) string {
	text := c.d.ColumnType(core.ClassText)
	lines := []string{
		fmt.Sprintf("%s %s NOT NULL", c.q(j.OwnerColumn), text),
		fmt.Sprintf("%s %s NOT NULL", c.q(j.LinkedColumn), text),
		fmt.Sprintf("%s %s NOT NULL", c.q(PositionColumn), c.d.ColumnType(core.ClassNumeric)),
		fmt.Sprintf("PRIMARY KEY (%s, %s)", c.q(j.OwnerColumn), c.q(j.LinkedColumn)),
		fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s(%s)", c.q(j.OwnerColumn), c.q(j.Owner), c.q(core.FieldID)),
		fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s(%s)", c.q(j.LinkedColumn), c.q(j.Linked), c.q(core.FieldID)),
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", c.q(j.Name), strings.Join(lines, ",\n  "))
}

// Slug lowercases s, strips diacritics and replaces every character
// outside [a-z0-9] with an underscore.
func Slug(s string) string {
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}
	var sb strings.Builder
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	return sb.String()
}
