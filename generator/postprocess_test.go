package generator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePlaceholdersVariants(t *testing.T) {
	cases := map[string]string{
		"image3.jpg":         "image_3",
		"image3.PNG":         "image_3",
		"image_3.webp":       "image_3",
		"img_3":              "image_3",
		"img3":               "image_3",
		"picture3":           "image_3",
		"picture_12":         "image_12",
		"![图](image2.jpeg)":  "![图](image_2)",
		"![图](img_1) 和 picture2": "![图](image_1) 和 image_2",
	}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, NormalizePlaceholders(in))
		})
	}
}

func TestNormalizePlaceholdersIdempotent(t *testing.T) {
	inputs := []string{
		"image3.jpg",
		"img_3",
		"picture3",
		"# 标题\n\n![a](image_1)\n\n正文 img_2 与 picture4.png",
	}
	for _, in := range inputs {
		once := NormalizePlaceholders(in)
		assert.Equal(t, once, NormalizePlaceholders(once), "input %q", in)
	}
}

func TestNormalizePlaceholdersLeavesOtherMarkdownAlone(t *testing.T) {
	md := "# 标题\n\n## 小节\n\n- 列表 item\n\n[链接](https://example.com/assets/img_3.png)\n\nmy_img_3 and svgimg2\n"
	assert.Equal(t, md, NormalizePlaceholders(md))
}

func TestPostProcessRejectsEmpty(t *testing.T) {
	_, err := PostProcess("mock", "  \n\t")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedResponse))

	out, err := PostProcess("mock", "\n\n![x](img_1)\n")
	require.NoError(t, err)
	assert.Equal(t, "![x](image_1)", out)
}

func TestPreviewTextCountsRunes(t *testing.T) {
	assert.Equal(t, "短文本", previewText("  短文本 ", 10))
	assert.Equal(t, "一二三...", previewText("一二三四五", 3))
}
