package publisher

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestCompileHeadingImageParagraph(t *testing.T) {
	blocks, unresolved := Compile("## Title\n\n![x](image_1)\n\nBody text", map[string]string{"image_1": "tok123"}, zaptest.NewLogger(t))
	assert.Empty(t, unresolved)
	assert.Equal(t, []Block{
		Heading(2, "Title"),
		Image("tok123"),
		Paragraph("Body text"),
	}, blocks)
}

func TestCompileClampsHeadingLevel(t *testing.T) {
	article := "# one\n## two\n### three\n#### four\n###### six\n#tight"
	blocks, _ := Compile(article, nil, nil)
	require.Len(t, blocks, 6)

	levels := make([]int, 0, len(blocks))
	for _, b := range blocks {
		require.Equal(t, BlockHeading, b.Kind)
		assert.LessOrEqual(t, b.Level, MaxHeadingLevel)
		levels = append(levels, b.Level)
	}
	assert.Equal(t, []int{1, 2, 3, 3, 3, 1}, levels)
	assert.Equal(t, "four", blocks[3].Text)
	assert.Equal(t, "tight", blocks[5].Text)
}

func TestCompileDropsUnresolvedPlaceholders(t *testing.T) {
	article := "![a](image_1)\n![b](image_2)\n![c](image_3)"
	assets := map[string]string{"image_2": "tok-b"}

	blocks, unresolved := Compile(article, assets, zaptest.NewLogger(t))
	assert.Equal(t, []Block{Image("tok-b")}, blocks)
	assert.Equal(t, []string{"image_1", "image_3"}, unresolved)

	for _, b := range blocks {
		if b.Kind == BlockImage {
			assert.Contains(t, []string{"tok-b"}, b.AssetToken)
		}
	}
}

func TestCompileBindsByNameNotPosition(t *testing.T) {
	blocks, _ := Compile("![](image_3)\n![](image_1)", map[string]string{"image_1": "first", "image_3": "third"}, nil)
	assert.Equal(t, []Block{Image("third"), Image("first")}, blocks)
}

func TestCompileInlinePlaceholderStaysParagraph(t *testing.T) {
	blocks, unresolved := Compile("见下图 ![x](image_1) 说明", map[string]string{"image_1": "tok"}, nil)
	assert.Empty(t, unresolved)
	assert.Equal(t, []Block{Paragraph("见下图 ![x](image_1) 说明")}, blocks)
}

func TestCompileSkipsBlankAndEmptyHeadings(t *testing.T) {
	blocks, _ := Compile("\n   \n###\n  正文  \n", nil, nil)
	assert.Equal(t, []Block{Paragraph("正文")}, blocks)
}

func TestBlockPayload(t *testing.T) {
	for _, tc := range []struct {
		block Block
		want  string
	}{
		{Heading(1, "H"), `{"block_type":3,"heading1":{"elements":[{"text_run":{"content":"H"}}]}}`},
		{Heading(3, "H"), `{"block_type":5,"heading3":{"elements":[{"text_run":{"content":"H"}}]}}`},
		{Paragraph("p"), `{"block_type":2,"text":{"elements":[{"text_run":{"content":"p"}}]}}`},
		{Image("tok"), `{"block_type":27,"image":{"token":"tok"}}`},
	} {
		got, err := json.Marshal(tc.block.Payload())
		require.NoError(t, err)
		assert.JSONEq(t, tc.want, string(got))
	}
}

func TestBlockKindJSON(t *testing.T) {
	got, err := json.Marshal(Heading(2, "x"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"heading","level":2,"text":"x"}`, string(got))
}
