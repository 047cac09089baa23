// Package embedpipeline implements EmbeddingPipeline (§4.4): chunking,
// composition text assembly, embedding, and MRL coarse-vector
// generation for one note.
//
// Chunking is grounded on the teacher's core/pipeline/chunker.go
// ParagraphChunker/SentenceChunker shape, generalized from two
// hardcoded strategies to the full strategy set and made independent
// of a loaded embedding model so chunking stays deterministic and
// restartable from note content alone.
package embedpipeline

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/fortemi/core/internal/ferr"
	"github.com/fortemi/core/internal/model"
)

// ChunkConfig bounds one chunking run.
type ChunkConfig struct {
	Strategy model.ChunkStrategy
	MaxSize  int
	Overlap  int
}

// MinSize implements the spec's min_chunk_size = max/10 rule.
func (c ChunkConfig) MinSize() int {
	if c.MaxSize <= 0 {
		return 0
	}
	return c.MaxSize / 10
}

var headingRe = regexp.MustCompile(`(?m)^(#{1,6}\s+\S.*|[A-Z][A-Z0-9 \-]{3,}\:?)$`)
var sentenceBoundary = strings.NewReplacer("! ", "!|", "? ", "?|", ". ", ".|")

// Chunk splits note content into ordered, offset-carrying chunks per
// the strategy named by a document type or embedding config. It never
// consults an embedding model, so two calls with identical (content,
// config) always produce identical output (§4.4's restartability
// invariant).
func Chunk(noteID uuid.UUID, content string, cfg ChunkConfig) ([]model.Chunk, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 2000
	}

	var raw []model.Chunk
	switch cfg.Strategy {
	case model.ChunkWhole:
		raw = chunkWhole(content)
	case model.ChunkFixed:
		raw = chunkFixed(content, cfg.MaxSize, 0)
	case model.ChunkSlidingWindow:
		raw = chunkFixed(content, cfg.MaxSize, cfg.Overlap)
	case model.ChunkParagraph:
		raw = chunkParagraphs(content)
	case model.ChunkSentence:
		raw = chunkSentences(content)
	case model.ChunkPerSection:
		raw = chunkBySections(content)
	case model.ChunkSemantic:
		raw = chunkSemantic(content, cfg.MaxSize)
	case model.ChunkSyntactic:
		raw = chunkSyntactic(content, cfg.MaxSize)
	default:
		return nil, ferr.New("embedpipeline.Chunk", ferr.InvalidInput, "unknown chunk strategy: "+string(cfg.Strategy))
	}

	raw = mergeSmallTrailers(raw, cfg.MinSize())

	for i := range raw {
		raw[i].NoteID = noteID
		raw[i].Index = i
	}
	return raw, nil
}

func chunkWhole(content string) []model.Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	return []model.Chunk{{Content: content, StartPos: 0, EndPos: len(content)}}
}

// chunkFixed windows content by byte length. overlap > 0 makes it the
// sliding-window strategy; overlap == 0 makes it the fixed strategy.
func chunkFixed(content string, size, overlap int) []model.Chunk {
	if size <= 0 || len(content) == 0 {
		return chunkWhole(content)
	}
	step := size - overlap
	if step <= 0 {
		step = size
	}

	var out []model.Chunk
	for start := 0; start < len(content); start += step {
		end := start + size
		if end > len(content) {
			end = len(content)
		}
		out = append(out, model.Chunk{Content: content[start:end], StartPos: start, EndPos: end})
		if end == len(content) {
			break
		}
	}
	return out
}

func chunkParagraphs(content string) []model.Chunk {
	paras := strings.Split(content, "\n\n")
	var out []model.Chunk
	pos := 0
	for _, p := range paras {
		trimmed := strings.TrimSpace(p)
		start := pos
		pos += len(p) + 2
		if trimmed == "" {
			continue
		}
		out = append(out, model.Chunk{Content: trimmed, StartPos: start, EndPos: start + len(trimmed)})
	}
	return out
}

func chunkSentences(content string) []model.Chunk {
	marked := sentenceBoundary.Replace(content)
	parts := strings.Split(marked, "|")

	var out []model.Chunk
	pos := 0
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		start := pos
		pos += len(p) + 1 // the "|" that replaced the boundary space
		if trimmed == "" {
			continue
		}
		out = append(out, model.Chunk{Content: trimmed, StartPos: start, EndPos: start + len(trimmed)})
	}
	return out
}

// chunkBySections splits on markdown-style headings or ALL-CAPS title
// lines, each section becoming one chunk including its heading.
func chunkBySections(content string) []model.Chunk {
	locs := headingRe.FindAllStringIndex(content, -1)
	if len(locs) == 0 {
		return chunkWhole(content)
	}

	var out []model.Chunk
	for i, loc := range locs {
		start := loc[0]
		end := len(content)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		section := strings.TrimSpace(content[start:end])
		if section == "" {
			continue
		}
		out = append(out, model.Chunk{Content: section, StartPos: start, EndPos: end})
	}
	if locs[0][0] > 0 {
		preamble := strings.TrimSpace(content[:locs[0][0]])
		if preamble != "" {
			out = append([]model.Chunk{{Content: preamble, StartPos: 0, EndPos: locs[0][0]}}, out...)
		}
	}
	return out
}

// chunkSemantic packs paragraph-sized units up to maxSize, matching the
// spec's "split on section/paragraph" definition — a coarser structural
// pass rather than an embedding-similarity pass.
func chunkSemantic(content string, maxSize int) []model.Chunk {
	paras := chunkParagraphs(content)
	return packUnits(paras, maxSize)
}

// chunkSyntactic groups content by contiguous indentation/blank-line
// blocks, a best-effort language-agnostic stand-in for AST boundaries
// that stays deterministic without a parser per language.
func chunkSyntactic(content string, maxSize int) []model.Chunk {
	lines := strings.Split(content, "\n")
	var blocks []model.Chunk
	pos := 0
	var cur strings.Builder
	blockStart := 0

	flush := func(endPos int) {
		text := strings.TrimSpace(cur.String())
		if text != "" {
			blocks = append(blocks, model.Chunk{Content: text, StartPos: blockStart, EndPos: endPos})
		}
		cur.Reset()
	}

	for _, line := range lines {
		lineLen := len(line) + 1
		isBlank := strings.TrimSpace(line) == ""

		if isBlank && cur.Len() > 0 {
			flush(pos)
			blockStart = pos + lineLen
		}
		cur.WriteString(line)
		cur.WriteString("\n")
		pos += lineLen
	}
	flush(pos)

	return packUnits(blocks, maxSize)
}

// packUnits merges consecutive small units up to maxSize so the
// chunker doesn't emit a flood of tiny chunks for short paragraphs.
func packUnits(units []model.Chunk, maxSize int) []model.Chunk {
	if maxSize <= 0 {
		return units
	}
	var out []model.Chunk
	var cur model.Chunk
	has := false

	for _, u := range units {
		if !has {
			cur = u
			has = true
			continue
		}
		if len(cur.Content)+2+len(u.Content) <= maxSize {
			cur.Content = cur.Content + "\n\n" + u.Content
			cur.EndPos = u.EndPos
		} else {
			out = append(out, cur)
			cur = u
		}
	}
	if has {
		out = append(out, cur)
	}
	return out
}

// mergeSmallTrailers folds any chunk under minSize into its
// predecessor, so a strategy never emits a dangling sliver chunk.
func mergeSmallTrailers(chunks []model.Chunk, minSize int) []model.Chunk {
	if minSize <= 0 || len(chunks) < 2 {
		return chunks
	}
	out := make([]model.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if len(out) > 0 && len(c.Content) < minSize {
			prev := &out[len(out)-1]
			prev.Content = prev.Content + "\n\n" + c.Content
			prev.EndPos = c.EndPos
			continue
		}
		out = append(out, c)
	}
	return out
}
