package ingestion

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Corpus is a local corpus file: policy documents plus the knowledge graph
// that links them.
//
//	documents:
//	  - id: aicte-2024
//	    title: AICTE Approval Process Handbook 2024
//	    source: https://www.aicte-india.org/...
//	    metadata: {category: technical, year: "2024"}
//	    pages:
//	      - "Admission to B.Tech programmes requires ..."
//	graph:
//	  nodes:
//	    - {id: btech, name: B.Tech, kind: programme, aliases: [Bachelor of Technology]}
//	  edges:
//	    - {from: btech, to: admission, relation: has_requirement, provenance: [{doc: aicte-2024, page: 1}]}
type Corpus struct {
	Documents []DocumentSpec `yaml:"documents"`
	Graph     GraphSpec      `yaml:"graph"`
}

// DocumentSpec is one document. Pages are 1-based in the order listed.
type DocumentSpec struct {
	ID       string            `yaml:"id"`
	Title    string            `yaml:"title"`
	Source   string            `yaml:"source"`
	Metadata map[string]string `yaml:"metadata"`
	Pages    []string          `yaml:"pages"`
}

// GraphSpec holds nodes and edges.
type GraphSpec struct {
	Nodes []NodeSpec `yaml:"nodes"`
	Edges []EdgeSpec `yaml:"edges"`
}

// NodeSpec is one graph node.
type NodeSpec struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Kind    string   `yaml:"kind"`
	Aliases []string `yaml:"aliases"`
}

// EdgeSpec is one graph edge. Provenance points at the pages that state the
// relation; it is resolved to chunk ids at load time.
type EdgeSpec struct {
	ID         string    `yaml:"id"`
	From       string    `yaml:"from"`
	To         string    `yaml:"to"`
	Relation   string    `yaml:"relation"`
	Provenance []PageRef `yaml:"provenance"`
}

// PageRef addresses one page of one document.
type PageRef struct {
	Doc  string `yaml:"doc"`
	Page int    `yaml:"page"`
}

// LoadCorpus reads and validates a corpus file.
func LoadCorpus(path string) (*Corpus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingestion: open corpus: %w", err)
	}
	defer f.Close()
	return ParseCorpus(f)
}

// ParseCorpus decodes and validates a corpus. Unknown keys are rejected so
// typos surface instead of silently dropping data.
func ParseCorpus(r io.Reader) (*Corpus, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var c Corpus
	if err := dec.Decode(&c); err != nil {
		if err == io.EOF {
			return &c, nil
		}
		return nil, fmt.Errorf("ingestion: parse corpus: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks ids are present and unique and that every edge and page
// reference resolves.
func (c *Corpus) Validate() error {
	pages := make(map[string]int, len(c.Documents))
	for i, d := range c.Documents {
		if strings.TrimSpace(d.ID) == "" {
			return fmt.Errorf("ingestion: document %d: id is required", i)
		}
		if strings.ContainsAny(d.ID, " :") {
			return fmt.Errorf("ingestion: document %q: id must not contain spaces or colons", d.ID)
		}
		if _, dup := pages[d.ID]; dup {
			return fmt.Errorf("ingestion: duplicate document id %q", d.ID)
		}
		if len(d.Pages) == 0 {
			return fmt.Errorf("ingestion: document %q has no pages", d.ID)
		}
		pages[d.ID] = len(d.Pages)
	}

	nodes := make(map[string]bool, len(c.Graph.Nodes))
	for i, n := range c.Graph.Nodes {
		if n.ID == "" || strings.TrimSpace(n.Name) == "" {
			return fmt.Errorf("ingestion: node %d: id and name are required", i)
		}
		if nodes[n.ID] {
			return fmt.Errorf("ingestion: duplicate node id %q", n.ID)
		}
		nodes[n.ID] = true
	}
	for i, e := range c.Graph.Edges {
		if !nodes[e.From] || !nodes[e.To] {
			return fmt.Errorf("ingestion: edge %d (%s -> %s): unknown endpoint", i, e.From, e.To)
		}
		if e.Relation == "" {
			return fmt.Errorf("ingestion: edge %d (%s -> %s): relation is required", i, e.From, e.To)
		}
		for _, ref := range e.Provenance {
			n, ok := pages[ref.Doc]
			if !ok {
				return fmt.Errorf("ingestion: edge %d: provenance references unknown document %q", i, ref.Doc)
			}
			if ref.Page < 1 || ref.Page > n {
				return fmt.Errorf("ingestion: edge %d: document %q has no page %d", i, ref.Doc, ref.Page)
			}
		}
	}
	return nil
}

// edgeID returns the edge id, deriving one from its endpoints when absent.
func (e EdgeSpec) edgeID() string {
	if e.ID != "" {
		return e.ID
	}
	return e.From + "-" + e.Relation + "-" + e.To
}
