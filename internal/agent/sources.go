package agent

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"ragagent/internal/domain"
)

// Source is one document the answer drew on. Pages are 1-based and only set
// for PDFs.
type Source struct {
	URL   string `json:"url"`
	Pages []int  `json:"pages,omitempty"`
}

func (s Source) String() string {
	if len(s.Pages) == 0 {
		return s.URL
	}
	pages := make([]string, len(s.Pages))
	for i, p := range s.Pages {
		pages[i] = strconv.Itoa(p)
	}
	return fmt.Sprintf("%s (pages %s)", s.URL, strings.Join(pages, ", "))
}

// CollectSources scans the source nodes of every tool output. PDF nodes are
// grouped by URL with their pages sorted and deduplicated; web URLs appear
// once. Sources keep the order in which they were first seen.
func CollectSources(outputs []domain.ToolOutput) []Source {
	var out []Source
	index := map[string]int{}
	pages := map[string]map[int]bool{}
	for _, o := range outputs {
		for _, n := range o.Sources {
			md := n.Node.Metadata
			if u := domain.MetaString(md, domain.MetaPDFURL); u != "" {
				if _, ok := index[u]; !ok {
					index[u] = len(out)
					out = append(out, Source{URL: u})
				}
				if pages[u] == nil {
					pages[u] = map[int]bool{}
				}
				if p, ok := domain.MetaInt(md, domain.MetaPageIdx); ok && !pages[u][p] {
					pages[u][p] = true
					i := index[u]
					out[i].Pages = append(out[i].Pages, p)
				}
				continue
			}
			if u := domain.MetaString(md, domain.MetaWebURL); u != "" {
				if _, ok := index[u]; !ok {
					index[u] = len(out)
					out = append(out, Source{URL: u})
				}
			}
		}
	}
	for i := range out {
		sort.Ints(out[i].Pages)
	}
	return out
}
