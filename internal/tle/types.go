package tle

import "time"

// Record is a single object's two-line element set plus its display name.
// Records are immutable once parsed.
type Record struct {
	CatalogID  string
	Name       string
	Line1      string
	Line2      string
	MeanMotion float64 // revolutions per day
}

// Catalog is an immutable snapshot of parsed records keyed by catalog id.
// Iteration order is the order of first appearance in the source text.
type Catalog struct {
	Source     string
	ModifiedAt time.Time
	records    []Record
	index      map[string]int
}

// NewCatalog builds a snapshot from records. A repeated catalog id replaces
// the earlier record but keeps its position.
func NewCatalog(records []Record, source string, modifiedAt time.Time) *Catalog {
	c := &Catalog{
		Source:     source,
		ModifiedAt: modifiedAt,
		records:    make([]Record, 0, len(records)),
		index:      make(map[string]int, len(records)),
	}
	for _, r := range records {
		if i, ok := c.index[r.CatalogID]; ok {
			c.records[i] = r
			continue
		}
		c.index[r.CatalogID] = len(c.records)
		c.records = append(c.records, r)
	}
	return c
}

// Len returns the number of unique records.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.records)
}

// Records returns a copy of the records in catalog order.
func (c *Catalog) Records() []Record {
	if c == nil {
		return nil
	}
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}

// Get looks up a record by catalog id.
func (c *Catalog) Get(id string) (Record, bool) {
	if c == nil {
		return Record{}, false
	}
	i, ok := c.index[id]
	if !ok {
		return Record{}, false
	}
	return c.records[i], true
}

// Age returns how long ago the snapshot's artifact was written.
func (c *Catalog) Age(now time.Time) time.Duration {
	return now.Sub(c.ModifiedAt)
}
