package chunking

import (
	"context"
	"strings"
)

// RecursiveConfig configures a RecursiveSplitter.
type RecursiveConfig struct {
	Separators     []string
	ChunkSize      int
	ChunkOverlap   int
	LengthFunction LengthFunc
}

// DefaultSeparators is the priority-ordered separator cascade: section,
// paragraph, line, sentence, clause, word, character.
func DefaultSeparators() []string {
	return []string{
		"\n\n\n",
		"\n\n",
		"\n",
		". ",
		"! ",
		"? ",
		"; ",
		": ",
		", ",
		" ",
		"",
	}
}

// RecursiveSplitter splits at the highest-priority separator that keeps
// each resulting piece within ChunkSize, recursing into finer
// separators for oversized pieces and falling back to a hard character
// split when no separator suffices (spec §4.5).
type RecursiveSplitter struct {
	separators     []string
	chunkSize      int
	chunkOverlap   int
	lengthFunction LengthFunc
}

// NewRecursiveSplitter builds a RecursiveSplitter. A non-positive chunk
// size becomes 1000 units and a negative overlap becomes 200; an overlap
// of zero is kept and means no overlap.
func NewRecursiveSplitter(config RecursiveConfig) *RecursiveSplitter {
	if len(config.Separators) == 0 {
		config.Separators = DefaultSeparators()
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = 1000
	}
	if config.ChunkOverlap < 0 {
		config.ChunkOverlap = 200
	}
	if config.LengthFunction == nil {
		config.LengthFunction = defaultLengthFunc
	}
	return &RecursiveSplitter{
		separators:     config.Separators,
		chunkSize:      config.ChunkSize,
		chunkOverlap:   config.ChunkOverlap,
		lengthFunction: config.LengthFunction,
	}
}

// Chunk implements Strategy.
func (r *RecursiveSplitter) Chunk(ctx context.Context, text string, metadata map[string]interface{}) ([]Chunk, error) {
	if text == "" {
		return []Chunk{}, nil
	}

	splits := r.splitText(text, r.separators)
	chunks := r.mergeSplits(splits, metadata)
	if len(chunks) == 0 {
		// Guarantee at least one chunk per non-empty input.
		chunks = []Chunk{{Ordinal: 0, Text: text, TokenCount: r.lengthFunction(text), EndChar: len(text), Metadata: copyMetadata(metadata)}}
	}
	return chunks, nil
}

func (r *RecursiveSplitter) splitText(text string, separators []string) []string {
	var finalChunks []string

	separator := ""
	var newSeparators []string
	for i, sep := range separators {
		if sep == "" || strings.Contains(text, sep) {
			separator = sep
			newSeparators = separators[i+1:]
			break
		}
	}

	var splits []string
	if separator == "" {
		splits = r.splitByCharacters(text)
	} else {
		splits = strings.SplitAfter(text, separator)
	}

	for _, split := range splits {
		if split == "" {
			continue
		}
		splitLen := r.lengthFunction(split)
		switch {
		case splitLen <= r.chunkSize:
			finalChunks = append(finalChunks, split)
		case len(newSeparators) > 0:
			finalChunks = append(finalChunks, r.splitText(split, newSeparators)...)
		default:
			finalChunks = append(finalChunks, r.forceSplit(split)...)
		}
	}
	return finalChunks
}

func (r *RecursiveSplitter) splitByCharacters(text string) []string {
	var chunks []string
	runes := []rune(text)
	for i := 0; i < len(runes); i += r.chunkSize {
		end := i + r.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

func (r *RecursiveSplitter) forceSplit(text string) []string {
	var chunks []string
	for r.lengthFunction(text) > r.chunkSize {
		splitPoint := r.findSplitPoint(text)
		chunks = append(chunks, text[:splitPoint])
		text = text[splitPoint:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func (r *RecursiveSplitter) findSplitPoint(text string) int {
	if r.lengthFunction(text) <= r.chunkSize {
		return len(text)
	}
	target := r.chunkSize
	if target >= len(text) {
		target = len(text) - 1
	}
	for i := target; i > target/2; i-- {
		if i < len(text) && text[i] == ' ' {
			return i + 1
		}
	}
	return target
}

func (r *RecursiveSplitter) mergeSplits(splits []string, metadata map[string]interface{}) []Chunk {
	if len(splits) == 0 {
		return nil
	}

	var chunks []Chunk
	var current []string
	currentLen := 0
	startChar := 0
	currentChar := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		text := strings.Join(current, "")
		chunks = append(chunks, Chunk{
			Ordinal:    len(chunks),
			Text:       text,
			TokenCount: r.lengthFunction(text),
			StartChar:  startChar,
			EndChar:    currentChar,
			Metadata:   copyMetadata(metadata),
		})
	}

	for _, split := range splits {
		splitLen := r.lengthFunction(split)
		if currentLen > 0 && currentLen+splitLen > r.chunkSize {
			flush()
			current = r.overlapTail(current)
			currentLen = 0
			for _, d := range current {
				currentLen += r.lengthFunction(d)
			}
			startChar = currentChar - currentLen
		}
		current = append(current, split)
		currentLen += splitLen
		currentChar += splitLen
	}
	flush()

	return chunks
}

func (r *RecursiveSplitter) overlapTail(docs []string) []string {
	if r.chunkOverlap == 0 || len(docs) == 0 {
		return nil
	}
	var overlap []string
	overlapLen := 0
	for i := len(docs) - 1; i >= 0 && overlapLen < r.chunkOverlap; i-- {
		doc := docs[i]
		docLen := r.lengthFunction(doc)
		if overlapLen+docLen <= r.chunkOverlap {
			overlap = append([]string{doc}, overlap...)
			overlapLen += docLen
			continue
		}
		remaining := r.chunkOverlap - overlapLen
		if remaining > 0 && remaining < len(doc) {
			overlap = append([]string{doc[len(doc)-remaining:]}, overlap...)
		}
		break
	}
	return overlap
}
