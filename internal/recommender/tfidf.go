package recommender

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// Tokens are runs of two or more word characters, lower-cased.
var tokenPattern = regexp.MustCompile(`\w\w+`)

var englishStopWords = func() map[string]struct{} {
	words := strings.Fields(`
		a about above across after afterwards again against all almost alone along already also although
		always am among amongst an and another any anyhow anyone anything anyway anywhere are around as at
		be became because become becomes becoming been before beforehand behind being below beside besides
		between beyond both but by can cannot could did do does doing done down due during each either else
		elsewhere enough etc even ever every everyone everything everywhere except few for former formerly
		from further had has have having he hence her here hereafter hereby herein hers herself him himself
		his how however i if in indeed into is it its itself just last latter least less made many may me
		meanwhile might mine more moreover most mostly much must my myself neither never nevertheless next
		no nobody none noone nor not nothing now nowhere of off often on once one only onto or other others
		otherwise our ours ourselves out over own per perhaps please put rather re same see seem seemed
		seeming seems several she should since so some somehow someone something sometime sometimes
		somewhere still such than that the their theirs them themselves then thence there thereafter
		thereby therefore therein thereupon these they this those though through throughout thru thus to
		together too toward towards under until up upon us very via was we well were what whatever when
		whence whenever where whereafter whereas whereby wherein whereupon wherever whether which while
		whither who whoever whole whom whose why will with within without would yet you your yours
		yourself yourselves`)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}()

// tfidfMatrix holds one L2-normalised sparse row per document.
type tfidfMatrix struct {
	rows []map[string]float64
}

func tokenize(doc string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(doc), -1)
	out := raw[:0]
	for _, tok := range raw {
		if _, stop := englishStopWords[tok]; stop {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// fitTransform weights raw term counts by smoothed idf, ln((1+n)/(1+df))+1,
// and normalises each row to unit length.
func fitTransform(corpus []string) *tfidfMatrix {
	n := len(corpus)
	counts := make([]map[string]float64, n)
	df := make(map[string]int)
	for i, doc := range corpus {
		tf := make(map[string]float64)
		for _, tok := range tokenize(doc) {
			tf[tok]++
		}
		for term := range tf {
			df[term]++
		}
		counts[i] = tf
	}

	idf := make(map[string]float64, len(df))
	for term, d := range df {
		idf[term] = math.Log(float64(1+n)/float64(1+d)) + 1
	}

	for _, row := range counts {
		var norm float64
		for term, c := range row {
			w := c * idf[term]
			row[term] = w
			norm += w * w
		}
		if norm == 0 {
			continue
		}
		norm = math.Sqrt(norm)
		for term := range row {
			row[term] /= norm
		}
	}
	return &tfidfMatrix{rows: counts}
}

// meanRow averages the given rows.
func (m *tfidfMatrix) meanRow(indices []int) map[string]float64 {
	profile := make(map[string]float64)
	if len(indices) == 0 {
		return profile
	}
	for _, i := range indices {
		for term, w := range m.rows[i] {
			profile[term] += w
		}
	}
	for term := range profile {
		profile[term] /= float64(len(indices))
	}
	return profile
}

// cosineAll returns the cosine similarity of v against every row.
func (m *tfidfMatrix) cosineAll(v map[string]float64) []float64 {
	sims := make([]float64, len(m.rows))
	vnorm := sparseNorm(v)
	if vnorm == 0 {
		return sims
	}
	for i, row := range m.rows {
		rnorm := sparseNorm(row)
		if rnorm == 0 {
			continue
		}
		small, large := v, row
		if len(row) < len(v) {
			small, large = row, v
		}
		var dot float64
		for term, w := range small {
			dot += w * large[term]
		}
		sims[i] = dot / (vnorm * rnorm)
	}
	return sims
}

func sparseNorm(v map[string]float64) float64 {
	var sum float64
	for _, w := range v {
		sum += w * w
	}
	return math.Sqrt(sum)
}

// rankDescending orders row indices by score, highest first. Equal scores
// keep the higher index first, matching a reversed stable argsort.
func rankDescending(scores []float64) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		if scores[idx[a]] != scores[idx[b]] {
			return scores[idx[a]] > scores[idx[b]]
		}
		return idx[a] > idx[b]
	})
	return idx
}
