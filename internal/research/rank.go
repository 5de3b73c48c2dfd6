package research

import (
	"strconv"

	"github.com/blevesearch/bleve"
)

// Rank orders results by full-text relevance to the query using an in-memory
// index over title and snippet, then truncates to k. Results the query does
// not match keep their original order behind the matches. Ranking is
// best-effort: on any index error the input order is kept.
func Rank(results []Result, query string, k int) []Result {
	if k <= 0 || k > len(results) {
		k = len(results)
	}
	if len(results) <= 1 {
		return results[:k]
	}

	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return results[:k]
	}
	defer idx.Close()

	for i, r := range results {
		doc := map[string]string{"title": r.Title, "snippet": r.Snippet}
		if err := idx.Index(strconv.Itoa(i), doc); err != nil {
			return results[:k]
		}
	}

	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(query), len(results), 0, false)
	res, err := idx.Search(req)
	if err != nil {
		return results[:k]
	}

	ordered := make([]Result, 0, len(results))
	taken := make(map[int]struct{}, len(results))
	for _, hit := range res.Hits {
		i, err := strconv.Atoi(hit.ID)
		if err != nil || i < 0 || i >= len(results) {
			continue
		}
		ordered = append(ordered, results[i])
		taken[i] = struct{}{}
	}
	for i, r := range results {
		if _, ok := taken[i]; !ok {
			ordered = append(ordered, r)
		}
	}
	return ordered[:k]
}
