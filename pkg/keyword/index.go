// Package keyword implements a per-project in-memory BM25 inverted
// index (spec §4.6): term -> postings(chunk_id -> term frequency),
// plus document-length statistics. Reads go against a published
// snapshot and take only a read lock on the snapshot pointer; writers
// stage updates and swap the snapshot under a short exclusive lock, so
// long ingests never block queries.
package keyword

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Posting is one chunk's term frequency for a given term.
type Posting struct {
	ChunkID string
	Freq    int
}

// Result is a scored keyword match.
type Result struct {
	ChunkID string
	Score   float64
}

// Doc is a document to index: one BM25 unit of text keyed by chunk_id.
type Doc struct {
	ChunkID string
	Text    string
}

// Config parameterizes BM25 scoring.
type Config struct {
	K1 float64
	B  float64
}

func (c *Config) applyDefaults() {
	if c.K1 <= 0 {
		c.K1 = 1.2
	}
	if c.B <= 0 {
		c.B = 0.75
	}
}

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// Tokenize lowercases, Unicode-normalizes by case-folding, and strips
// punctuation. Stopword removal is intentionally not performed here:
// the exact stopword list is an implementation detail callers must not
// assume about (spec §4.6).
func Tokenize(text string) []string {
	lower := strings.ToLower(text)
	return tokenPattern.FindAllString(lower, -1)
}

// snapshot is the immutable, queryable state of the index. A new
// snapshot is built off the mutable staging state and swapped in
// atomically so concurrent readers never observe a partial update.
type snapshot struct {
	postings   map[string][]Posting // term -> postings, sorted by chunk_id
	docLength  map[string]int       // chunk_id -> token count
	totalDocs  int
	totalLen   int
}

func emptySnapshot() *snapshot {
	return &snapshot{postings: map[string][]Posting{}, docLength: map[string]int{}}
}

// Index is a per-project BM25 inverted index.
type Index struct {
	config Config

	mu       sync.Mutex // guards writers only, serializes structural updates
	snapPtr  atomicSnapshot
	staging  *snapshot // working copy mutated under mu, then published
}

// atomicSnapshot is a small lock-protected pointer box, read without
// blocking writers except during the swap itself.
type atomicSnapshot struct {
	mu   sync.RWMutex
	snap *snapshot
}

func (a *atomicSnapshot) load() *snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snap
}

func (a *atomicSnapshot) store(s *snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snap = s
}

// New creates an empty Index.
func New(config Config) *Index {
	config.applyDefaults()
	idx := &Index{config: config}
	empty := emptySnapshot()
	idx.snapPtr.store(empty)
	idx.staging = cloneSnapshot(empty)
	return idx
}

func cloneSnapshot(s *snapshot) *snapshot {
	out := &snapshot{
		postings:  make(map[string][]Posting, len(s.postings)),
		docLength: make(map[string]int, len(s.docLength)),
		totalDocs: s.totalDocs,
		totalLen:  s.totalLen,
	}
	for term, postings := range s.postings {
		cp := make([]Posting, len(postings))
		copy(cp, postings)
		out.postings[term] = cp
	}
	for id, l := range s.docLength {
		out.docLength[id] = l
	}
	return out
}

// Upsert adds or replaces documents in the staging buffer. Call
// Publish to make the update visible to readers.
func (idx *Index) Upsert(ctx context.Context, docs []Doc) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, doc := range docs {
		idx.removeFromStaging(doc.ChunkID)

		terms := Tokenize(doc.Text)
		freqs := map[string]int{}
		for _, term := range terms {
			freqs[term]++
		}
		for term, freq := range freqs {
			idx.insertPosting(term, Posting{ChunkID: doc.ChunkID, Freq: freq})
		}
		idx.staging.docLength[doc.ChunkID] = len(terms)
		idx.staging.totalDocs++
		idx.staging.totalLen += len(terms)
	}
}

// DeleteDoc removes a document from the staging buffer.
func (idx *Index) DeleteDoc(ctx context.Context, chunkID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeFromStaging(chunkID)
}

func (idx *Index) removeFromStaging(chunkID string) {
	length, ok := idx.staging.docLength[chunkID]
	if !ok {
		return
	}
	delete(idx.staging.docLength, chunkID)
	idx.staging.totalDocs--
	idx.staging.totalLen -= length

	for term, postings := range idx.staging.postings {
		filtered := postings[:0]
		for _, p := range postings {
			if p.ChunkID != chunkID {
				filtered = append(filtered, p)
			}
		}
		if len(filtered) == 0 {
			delete(idx.staging.postings, term)
		} else {
			idx.staging.postings[term] = filtered
		}
	}
}

func (idx *Index) insertPosting(term string, posting Posting) {
	postings := idx.staging.postings[term]
	i := sort.Search(len(postings), func(i int) bool { return postings[i].ChunkID >= posting.ChunkID })
	postings = append(postings, Posting{})
	copy(postings[i+1:], postings[i:])
	postings[i] = posting
	idx.staging.postings[term] = postings
}

// Publish swaps the staged structural update into view atomically,
// under a short exclusive lock, then starts a fresh staging copy from
// the newly published state for subsequent writes (spec §4.6
// copy-on-write / snapshot pattern).
func (idx *Index) Publish(ctx context.Context) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	published := idx.staging
	idx.snapPtr.store(published)
	idx.staging = cloneSnapshot(published)
}

// Search scores every candidate containing at least one query term
// using classical BM25, returning the top-k ordered by score
// descending, chunk_id ascending on ties. An empty query returns an
// empty result without error.
func (idx *Index) Search(ctx context.Context, query string, k int) []Result {
	if strings.TrimSpace(query) == "" || k <= 0 {
		return []Result{}
	}

	snap := idx.snapPtr.load()
	terms := Tokenize(query)
	if len(terms) == 0 {
		return []Result{}
	}

	var avgDocLen float64
	if snap.totalDocs > 0 {
		avgDocLen = float64(snap.totalLen) / float64(snap.totalDocs)
	}

	scores := map[string]float64{}
	seen := map[string]bool{}
	for _, term := range uniqueTerms(terms) {
		postings, ok := snap.postings[term]
		if !ok {
			continue
		}
		idf := bm25IDF(snap.totalDocs, len(postings))
		for _, p := range postings {
			seen[p.ChunkID] = true
			docLen := float64(snap.docLength[p.ChunkID])
			tf := float64(p.Freq)
			denom := tf + idx.config.K1*(1-idx.config.B+idx.config.B*docLen/maxFloat(avgDocLen, 1))
			scores[p.ChunkID] += idf * (tf * (idx.config.K1 + 1)) / denom
		}
	}

	results := make([]Result, 0, len(scores))
	for chunkID := range seen {
		results = append(results, Result{ChunkID: chunkID, Score: scores[chunkID]})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

func bm25IDF(totalDocs, docFreq int) float64 {
	if totalDocs == 0 || docFreq == 0 {
		return 0
	}
	return math.Log(1 + (float64(totalDocs)-float64(docFreq)+0.5)/(float64(docFreq)+0.5))
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func uniqueTerms(terms []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range terms {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// Size returns the number of indexed chunks currently published.
func (idx *Index) Size() int {
	return idx.snapPtr.load().totalDocs
}
