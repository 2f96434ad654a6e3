// Package catalog holds the flower metadata the classifier's class ids map to.
package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

type Flower struct {
	ID             int    `json:"id"`
	Name           string `json:"name"`
	ScientificName string `json:"scientific_name"`
	Genus          string `json:"genus"`
	FunFact        string `json:"fun_fact"`
	WhereFound     string `json:"where_found"`
}

// DisplayName is the flower name with each word capitalised.
func (f Flower) DisplayName() string {
	words := strings.Fields(f.Name)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " ")
}

// Catalog is an immutable id -> Flower mapping.
type Catalog struct {
	byID map[int]Flower
}

func New(flowers []Flower) (*Catalog, error) {
	byID := make(map[int]Flower, len(flowers))
	for _, f := range flowers {
		if f.ID < 0 {
			return nil, fmt.Errorf("flower %q: negative id %d", f.Name, f.ID)
		}
		if _, dup := byID[f.ID]; dup {
			return nil, fmt.Errorf("duplicate flower id %d", f.ID)
		}
		byID[f.ID] = f
	}
	return &Catalog{byID: byID}, nil
}

func Parse(r io.Reader) (*Catalog, error) {
	var flowers []Flower
	if err := json.NewDecoder(r).Decode(&flowers); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return New(flowers)
}

func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

func (c *Catalog) Lookup(id int) (Flower, bool) {
	f, ok := c.byID[id]
	return f, ok
}

func (c *Catalog) Len() int {
	return len(c.byID)
}

// Flowers returns every entry ordered by id.
func (c *Catalog) Flowers() []Flower {
	out := make([]Flower, 0, len(c.byID))
	for _, f := range c.byID {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Labels returns a slice of n class names indexed by class id. Ids missing
// from the catalog are left empty.
func (c *Catalog) Labels(n int) []string {
	labels := make([]string, n)
	for id, f := range c.byID {
		if id < n {
			labels[id] = f.Name
		}
	}
	return labels
}

// FindByName matches a user-entered flower name, ignoring case and
// surrounding whitespace.
func (c *Catalog) FindByName(name string) (Flower, bool) {
	want := strings.ToLower(strings.TrimSpace(name))
	for _, f := range c.Flowers() {
		if strings.ToLower(f.Name) == want {
			return f, true
		}
	}
	return Flower{}, false
}

func (c *Catalog) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Flowers())
}

func (c *Catalog) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(c.Flowers())
}
