package indexing

import (
	"strings"

	"github.com/askrepo/askrepo/pkg/models"
)

// maxChunkLines bounds chunk size; files at or under it stay whole.
const maxChunkLines = 200

// boundaryPrefixes mark lines that likely open a new construct. The list is
// a best-effort heuristic across common language conventions, not a grammar;
// extend it rather than special-casing languages in the chunk loop.
var boundaryPrefixes = []string{
	"function ",
	"export ",
	"class ",
	"def ",
	"async ",
	"pub ",
	"fn ",
	"func ",
	"const ",
	"type ",
	"interface ",
	"//",
	"#",
	"/*",
}

// Chunk splits file content into bounded segments for embedding. Line numbers
// are 1-based and refer to the original file. Deterministic and side-effect
// free.
func Chunk(path, content, language string) []models.CodeChunk {
	lines := strings.Split(content, "\n")

	if len(lines) <= maxChunkLines {
		return []models.CodeChunk{{
			FilePath:  path,
			Content:   content,
			StartLine: 1,
			EndLine:   len(lines),
			Language:  language,
		}}
	}

	var chunks []models.CodeChunk
	start := 0

	for start < len(lines) {
		end := start + maxChunkLines
		if end > len(lines) {
			end = len(lines)
		}

		// When cutting mid-file, back up to a blank line in the rear half of
		// the window so definitions are not split mid-body. A blank followed
		// by a construct opener is ideal; any blank beats a hard cut. Without
		// a blank line the window boundary stands.
		if end < len(lines) {
			for i := end; i > start+maxChunkLines/2; i-- {
				if strings.TrimSpace(lines[i]) != "" {
					continue
				}
				next := ""
				if i+1 < len(lines) {
					next = strings.TrimSpace(lines[i+1])
				}
				if next != "" && looksLikeBoundary(next) {
					end = i + 1
					break
				}
				end = i + 1
				break
			}
		}

		text := strings.TrimSpace(strings.Join(lines[start:end], "\n"))
		if text != "" {
			chunks = append(chunks, models.CodeChunk{
				FilePath:  path,
				Content:   text,
				StartLine: start + 1,
				EndLine:   end,
				Language:  language,
			})
		}

		start = end
	}

	return chunks
}

// looksLikeBoundary reports whether a trimmed line appears to start a new
// function, type, or comment block.
func looksLikeBoundary(line string) bool {
	for _, p := range boundaryPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}
