package publisher

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"feishu_article_studio/logger"
)

// BlockKind is the kind of a compiled document block.
type BlockKind int

const (
	BlockHeading BlockKind = iota + 1
	BlockParagraph
	BlockImage
)

func (k BlockKind) String() string {
	switch k {
	case BlockHeading:
		return "heading"
	case BlockParagraph:
		return "paragraph"
	case BlockImage:
		return "image"
	}
	return fmt.Sprintf("BlockKind(%d)", int(k))
}

func (k BlockKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// MaxHeadingLevel is the deepest heading the target document accepts; deeper
// markdown headings are clamped to it.
const MaxHeadingLevel = 3

// Block is one unit submitted to the target document.
type Block struct {
	Kind       BlockKind `json:"kind"`
	Level      int       `json:"level,omitempty"`
	Text       string    `json:"text,omitempty"`
	AssetToken string    `json:"asset_token,omitempty"`
}

func Heading(level int, text string) Block {
	return Block{Kind: BlockHeading, Level: clampLevel(level), Text: text}
}

func Paragraph(text string) Block { return Block{Kind: BlockParagraph, Text: text} }

func Image(token string) Block { return Block{Kind: BlockImage, AssetToken: token} }

func clampLevel(level int) int {
	if level < 1 {
		return 1
	}
	if level > MaxHeadingLevel {
		return MaxHeadingLevel
	}
	return level
}

// Payload renders the block in docx create-children form.
func (b Block) Payload() map[string]any {
	switch b.Kind {
	case BlockHeading:
		level := clampLevel(b.Level)
		return map[string]any{
			"block_type":                   2 + level,
			fmt.Sprintf("heading%d", level): textElements(b.Text),
		}
	case BlockImage:
		return map[string]any{
			"block_type": imageBlockType,
			"image":      map[string]any{"token": b.AssetToken},
		}
	default:
		return map[string]any{
			"block_type": 2,
			"text":       textElements(b.Text),
		}
	}
}

func textElements(s string) map[string]any {
	return map[string]any{
		"elements": []map[string]any{
			{"text_run": map[string]any{"content": s}},
		},
	}
}

var placeholderLine = regexp.MustCompile(`^!\[[^\]]*\]\(\s*(image_\d+)\s*\)$`)

// Compile turns an article into document blocks, one per non-blank line.
// A line consisting of a single image placeholder becomes an image block bound
// through assets (placeholder -> uploaded asset token); placeholders with no
// asset are dropped and returned as unresolved.
func Compile(article string, assets map[string]string, l *zap.Logger) (blocks []Block, unresolved []string) {
	l = logger.OrNop(l)
	for _, raw := range strings.Split(article, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if m := placeholderLine.FindStringSubmatch(line); m != nil {
			token, ok := assets[m[1]]
			if !ok || token == "" {
				l.Warn("placeholder has no uploaded asset; dropping", zap.String("placeholder", m[1]))
				unresolved = append(unresolved, m[1])
				continue
			}
			blocks = append(blocks, Image(token))
			continue
		}

		if level := headingRun(line); level > 0 {
			text := strings.TrimSpace(line[level:])
			if text == "" {
				continue
			}
			blocks = append(blocks, Heading(level, text))
			continue
		}

		blocks = append(blocks, Paragraph(line))
	}
	return blocks, unresolved
}

func headingRun(line string) int {
	n := 0
	for n < len(line) && line[n] == '#' {
		n++
	}
	return n
}
