package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"feishu_article_studio/generator"
	"feishu_article_studio/publisher"
)

const compileLongDesc string = `Compile a Markdown article into document blocks without contacting Feishu.

Each --asset binds a placeholder to an already uploaded asset token. Image
placeholders without a binding are dropped and reported on stderr.

Examples:
  studio compile article.md
  studio compile --asset image_1=boxcnAbc --payload article.md`

type compileCommander struct {
	assets  map[string]string
	payload bool
}

func newCompileCmd() *cobra.Command {
	cmder := &compileCommander{}
	cmd := &cobra.Command{
		Use:   "compile <article.md|->",
		Short: "Compile Markdown into document blocks",
		Long:  compileLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd, args[0])
		},
	}
	cmd.Flags().StringToStringVar(&cmder.assets, "asset", nil, "placeholder=token binding (repeatable)")
	cmd.Flags().BoolVar(&cmder.payload, "payload", false, "print docx create-children payload instead of blocks")
	return cmd
}

func (c *compileCommander) run(cmd *cobra.Command, path string) error {
	article, err := readArticle(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}

	blocks, unresolved := publisher.Compile(generator.NormalizePlaceholders(article), c.assets, nil)
	for _, p := range unresolved {
		fmt.Fprintf(cmd.ErrOrStderr(), "dropped unresolved placeholder %s\n", p)
	}

	var out any = blocks
	if c.payload {
		children := make([]map[string]any, 0, len(blocks))
		for _, b := range blocks {
			children = append(children, b.Payload())
		}
		out = map[string]any{"children": children}
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(out)
}

const publishLongDesc string = `Write a Markdown article into a Feishu document using the app's tenant token.

Images given with --image are uploaded in order and bound to image_1, image_2, ...

Examples:
  studio publish --doc doxcnXXXX article.md
  studio publish --doc doxcnXXXX --image cover.png --image chart.jpg article.md`

type publishCommander struct {
	root   *rootFlags
	docID  string
	images []string
}

func newPublishCmd(root *rootFlags) *cobra.Command {
	cmder := &publishCommander{root: root}
	cmd := &cobra.Command{
		Use:   "publish <article.md|->",
		Short: "Materialize an article into a Feishu document",
		Long:  publishLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, args[0])
		},
	}
	cmd.Flags().StringVar(&cmder.docID, "doc", "", "target document id")
	cmd.Flags().StringArrayVar(&cmder.images, "image", nil, "image file bound to the next image_N placeholder")
	_ = cmd.MarkFlagRequired("doc")
	return cmd
}

func (c *publishCommander) run(ctx context.Context, cmd *cobra.Command, path string) error {
	cfg, log, err := c.root.load()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	article, err := readArticle(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}
	attachments, err := loadImages(c.images)
	if err != nil {
		return err
	}
	client, err := buildFeishuClient(cfg, log)
	if err != nil {
		return err
	}

	log.Info("publishing", zap.String("doc_id", c.docID), zap.String("article", path), zap.Int("images", len(attachments)))
	m := publisher.NewMaterializer(client, cfg.BatchOptions(), log)
	res, err := m.Materialize(ctx, publisher.MaterializeRequest{
		DocID:       c.docID,
		Article:     generator.NormalizePlaceholders(article),
		Attachments: attachments,
	})
	fmt.Fprintln(cmd.OutOrStdout(), res.Report.Summary())
	return err
}

func readArticle(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read article: %w", err)
	}
	return string(data), nil
}

func loadImages(paths []string) ([]generator.ImageAttachment, error) {
	out := make([]generator.ImageAttachment, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read image %s: %w", p, err)
		}
		mt := mime.TypeByExtension(filepath.Ext(p))
		if mt == "" {
			mt = http.DetectContentType(data)
		}
		out = append(out, generator.ImageAttachment{MIMEType: mt, Data: data})
	}
	return out, nil
}
