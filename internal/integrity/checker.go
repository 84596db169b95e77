package integrity

import (
	"fmt"

	"github.com/clinforge/relay/backend/internal/entities"
	"gorm.io/gorm"
)

// Block reports the first blocking edge that prevents a delete.
type Block struct {
	Parent entities.Kind
	Child  entities.Kind
	Count  int64
}

// Conflict reports an existing live row sharing a uniqueness key.
type Conflict struct {
	Kind          entities.Kind
	Columns       []string
	ConflictingID uint
}

// Checker evaluates the declarative rule tables against a transaction
// handle supplied by the caller. Results are typed values, never errors
// used for control flow; a non-nil error means the check itself failed.
type Checker struct {
	edges []DependencyEdge
	keys  []UniquenessKey
}

// NewChecker builds a Checker over the default rule tables.
func NewChecker() *Checker {
	return &Checker{edges: DefaultEdges(), keys: DefaultKeys()}
}

// CheckDelete enumerates the blocking edges for kind in declaration order
// and returns a Block for the first edge with live children. A nil Block
// means the delete is allowed.
func (c *Checker) CheckDelete(tx *gorm.DB, kind entities.Kind, id uint) (*Block, error) {
	for _, edge := range c.edges {
		if edge.Parent != kind || !edge.Blocking {
			continue
		}
		child, err := entities.NewByKind(edge.Child)
		if err != nil {
			return nil, err
		}
		var count int64
		if err := tx.Model(child).Where(edge.ForeignKey+" = ?", id).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("integrity: counting %s under %s: %w", edge.Child, kind, err)
		}
		if count > 0 {
			return &Block{Parent: kind, Child: edge.Child, Count: count}, nil
		}
	}
	return nil, nil
}

// CascadeEdges returns the cascade edges rooted at kind, in declaration
// order. Callers delete these dependents explicitly alongside the parent.
func (c *Checker) CascadeEdges(kind entities.Kind) []DependencyEdge {
	var out []DependencyEdge
	for _, edge := range c.edges {
		if edge.Parent == kind && !edge.Blocking {
			out = append(out, edge)
		}
	}
	return out
}

// CheckUnique evaluates every uniqueness key registered for the
// candidate's kind and returns the first Conflict. The row identified by
// excludeID is skipped so a self-update to an unchanged value never
// conflicts. Exact columns narrow the candidate query in SQL; normalized
// columns are compared after normalization on the fetched candidates,
// with the database unique index remaining the final authority.
func (c *Checker) CheckUnique(tx *gorm.DB, candidate entities.Entity, excludeID uint) (*Conflict, error) {
	kind := candidate.EntityKind()
	for _, key := range c.keys {
		if key.Kind != kind {
			continue
		}
		values := key.Values(candidate)
		if len(values) != len(key.Columns) {
			return nil, fmt.Errorf("integrity: key for %s extracts %d values for %d columns", kind, len(values), len(key.Columns))
		}

		model, err := entities.NewByKind(kind)
		if err != nil {
			return nil, err
		}
		query := tx.Model(model)
		for index, column := range key.Columns {
			if !column.Normalized {
				query = query.Where(column.Name+" = ?", values[index])
			}
		}

		var rows []map[string]any
		if err := query.Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("integrity: querying %s key candidates: %w", kind, err)
		}

		for _, row := range rows {
			rowID, err := rowIdentifier(row)
			if err != nil {
				return nil, err
			}
			if excludeID != 0 && rowID == excludeID {
				continue
			}
			if keyMatches(key, values, row) {
				return &Conflict{
					Kind:          kind,
					Columns:       columnNames(key),
					ConflictingID: rowID,
				}, nil
			}
		}
	}
	return nil, nil
}

func keyMatches(key UniquenessKey, values []any, row map[string]any) bool {
	for index, column := range key.Columns {
		if !column.Normalized {
			continue
		}
		existing, ok := row[column.Name]
		if !ok {
			return false
		}
		if compareForm(column, existing) != compareForm(column, values[index]) {
			return false
		}
	}
	return true
}

func columnNames(key UniquenessKey) []string {
	names := make([]string, 0, len(key.Columns))
	for _, column := range key.Columns {
		names = append(names, column.Name)
	}
	return names
}

func rowIdentifier(row map[string]any) (uint, error) {
	raw, ok := row["id"]
	if !ok {
		return 0, fmt.Errorf("integrity: candidate row missing id column")
	}
	switch v := raw.(type) {
	case int64:
		return uint(v), nil
	case uint:
		return v, nil
	case int:
		return uint(v), nil
	case float64:
		return uint(v), nil
	default:
		return 0, fmt.Errorf("integrity: candidate id has unexpected type %T", raw)
	}
}
