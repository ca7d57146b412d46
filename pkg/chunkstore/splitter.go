package chunkstore

import (
	"context"
	"strings"

	"github.com/semkit/chunkstore/pkg/core"
)

// ParagraphSplitter splits text on blank lines, merging paragraphs until
// MaxChars is reached. The zero value uses a 2000 character target.
type ParagraphSplitter struct {
	MaxChars int
}

const defaultMaxChars = 2000

func (s ParagraphSplitter) Split(_ context.Context, content string, _ core.MediaType) ([]*core.Chunk, error) {
	maxChars := s.MaxChars
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}

	var chunks []*core.Chunk
	var buf strings.Builder
	flush := func() {
		text := strings.TrimSpace(buf.String())
		buf.Reset()
		if text != "" {
			chunks = append(chunks, &core.Chunk{Content: text, ChunkType: core.ChunkText})
		}
	}

	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if buf.Len() > 0 && buf.Len()+len(para) > maxChars {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(para)
	}
	flush()

	if len(chunks) == 0 {
		chunks = append(chunks, &core.Chunk{Content: strings.TrimSpace(content), ChunkType: core.ChunkText})
	}
	return chunks, nil
}
