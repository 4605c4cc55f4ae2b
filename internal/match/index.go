package match

// Candidate is the slice of a canonical record the matcher needs.
type Candidate struct {
	ID             string
	Slug           string
	NormalizedName string
	ExternalID     string
}

// Index is the mutable candidate pool for one run. Records minted during the
// run are registered with Add so later rows in the same batch can match
// them. An Index is not safe for concurrent use.
type Index struct {
	ids        map[string]struct{}
	bySlug     map[string]Candidate
	byName     map[string][]Candidate
	byExternal map[string]Candidate
	all        []Candidate
}

// NewIndex builds an index over the given candidates.
func NewIndex(candidates ...Candidate) *Index {
	ix := &Index{
		ids:        make(map[string]struct{}, len(candidates)),
		bySlug:     make(map[string]Candidate, len(candidates)),
		byName:     make(map[string][]Candidate, len(candidates)),
		byExternal: make(map[string]Candidate),
		all:        make([]Candidate, 0, len(candidates)),
	}
	for _, c := range candidates {
		ix.Add(c)
	}
	return ix
}

// Add registers a candidate. Adding an ID twice is a no-op.
func (ix *Index) Add(c Candidate) {
	if _, ok := ix.ids[c.ID]; ok {
		return
	}
	ix.ids[c.ID] = struct{}{}
	ix.all = append(ix.all, c)
	if c.Slug != "" {
		ix.bySlug[c.Slug] = c
	}
	if c.NormalizedName != "" {
		ix.byName[c.NormalizedName] = append(ix.byName[c.NormalizedName], c)
	}
	if c.ExternalID != "" {
		ix.byExternal[c.ExternalID] = c
	}
}

// uniqueName reports whether id is the only candidate with normalized name
// norm.
func (ix *Index) uniqueName(norm, id string) bool {
	exact := ix.byName[norm]
	return len(exact) == 1 && exact[0].ID == id
}

// Len returns the number of candidates.
func (ix *Index) Len() int {
	return len(ix.all)
}

// HasSlug reports whether a candidate already uses slug.
func (ix *Index) HasSlug(slug string) bool {
	_, ok := ix.bySlug[slug]
	return ok
}

// HasExternalID reports whether a candidate already carries the external id.
func (ix *Index) HasExternalID(id string) bool {
	_, ok := ix.byExternal[id]
	return ok
}
