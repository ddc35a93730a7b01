package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"feishu_article_studio/generator"
	"feishu_article_studio/logger"
)

const (
	DefaultBaseURL = "https://open.feishu.cn/open-apis"

	blocksPageSize = 500
	fetchLimit     = 4
)

// ErrNoCredential is returned when neither a caller token nor app credentials are available.
var ErrNoCredential = errors.New("no feishu credential available")

// SourceBlock is one block of a source document: text or an image reference.
type SourceBlock struct {
	ID         string `json:"block_id"`
	Type       string `json:"block_type"`
	Text       string `json:"text,omitempty"`
	ImageToken string `json:"image_token,omitempty"`
}

// Client talks to the Feishu docx/drive Open API.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  oauth2.TokenSource
	logger  *zap.Logger
}

// NewClient creates a Client. tokens may be nil when every call goes through WithToken.
func NewClient(baseURL string, httpClient *http.Client, tokens oauth2.TokenSource, l *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		tokens:  tokens,
		logger:  logger.OrNop(l),
	}
}

// WithToken returns a copy of c that authenticates with the caller's bearer token.
// An empty token keeps c's own token source.
func (c *Client) WithToken(bearer string) *Client {
	bearer = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(bearer), "Bearer "))
	if bearer == "" {
		return c
	}
	cp := *c
	cp.tokens = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: bearer, TokenType: "Bearer"})
	return &cp
}

// ListBlocks returns the text and image blocks of a document in document order.
func (c *Client) ListBlocks(ctx context.Context, docID string) ([]SourceBlock, error) {
	var (
		out       []SourceBlock
		pageToken string
	)
	for {
		q := url.Values{}
		q.Set("page_size", strconv.Itoa(blocksPageSize))
		if pageToken != "" {
			q.Set("page_token", pageToken)
		}
		data, err := c.callJSON(ctx, http.MethodGet, "/docx/v1/documents/"+url.PathEscape(docID)+"/blocks", q, nil, "")
		if err != nil {
			return nil, fmt.Errorf("list blocks of %s: %w", docID, err)
		}
		data.Get("items").ForEach(func(_, item gjson.Result) bool {
			if b, ok := parseSourceBlock(item); ok {
				out = append(out, b)
			}
			return true
		})
		if !data.Get("has_more").Bool() {
			break
		}
		pageToken = data.Get("page_token").String()
		if pageToken == "" {
			break
		}
	}
	c.logger.Debug("listed document blocks", zap.String("doc_id", docID), zap.Int("blocks", len(out)))
	return out, nil
}

// textBlockKeys maps docx block types that carry text elements to their payload key.
var textBlockKeys = map[int64]string{
	2: "text", 3: "heading1", 4: "heading2", 5: "heading3", 6: "heading4",
	7: "heading5", 8: "heading6", 9: "heading7", 10: "heading8", 11: "heading9",
	12: "bullet", 13: "ordered", 14: "code", 15: "quote", 17: "todo",
}

const imageBlockType = 27

func parseSourceBlock(item gjson.Result) (SourceBlock, bool) {
	id := item.Get("block_id").String()
	blockType := item.Get("block_type").Int()

	if blockType == imageBlockType {
		token := item.Get("image.token").String()
		if token == "" {
			return SourceBlock{}, false
		}
		return SourceBlock{ID: id, Type: "image", ImageToken: token}, true
	}

	key, ok := textBlockKeys[blockType]
	if !ok {
		return SourceBlock{}, false
	}
	var b strings.Builder
	item.Get(key + ".elements").ForEach(func(_, el gjson.Result) bool {
		b.WriteString(el.Get("text_run.content").String())
		return true
	})
	text := b.String()
	if strings.TrimSpace(text) == "" {
		return SourceBlock{}, false
	}
	return SourceBlock{ID: id, Type: "text", Text: text}, true
}

// DownloadImage fetches the raw bytes behind an image token.
func (c *Client) DownloadImage(ctx context.Context, token string) (generator.ImageAttachment, error) {
	resp, err := c.send(ctx, http.MethodGet, "/drive/v1/medias/"+url.PathEscape(token)+"/download", nil, nil, "")
	if err != nil {
		return generator.ImageAttachment{}, fmt.Errorf("download image %s: %w", token, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK || isJSON(resp.Header.Get("Content-Type")) {
		return generator.ImageAttachment{}, fmt.Errorf("download image %s: %w", token, statusError(resp))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return generator.ImageAttachment{}, fmt.Errorf("download image %s: %w", token, err)
	}
	mt := resp.Header.Get("Content-Type")
	if mt == "" || mt == "application/octet-stream" {
		mt = http.DetectContentType(data)
	}
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return generator.ImageAttachment{MIMEType: mt, Data: data}, nil
}

// FetchAttachments downloads images concurrently, keeping token order. Failed
// downloads are logged and skipped.
func (c *Client) FetchAttachments(ctx context.Context, tokens []string) []generator.ImageAttachment {
	results := make([]*generator.ImageAttachment, len(tokens))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchLimit)
	for i, token := range tokens {
		g.Go(func() error {
			img, err := c.DownloadImage(gctx, token)
			if err != nil {
				c.logger.Warn("image download failed; skipping", zap.String("token", token), zap.Error(err))
				return nil
			}
			results[i] = &img
			return nil
		})
	}
	_ = g.Wait()

	out := make([]generator.ImageAttachment, 0, len(tokens))
	for _, img := range results {
		if img != nil {
			out = append(out, *img)
		}
	}
	return out
}

// UploadImage uploads one image into the document and returns its file token.
func (c *Client) UploadImage(ctx context.Context, docID, fileName string, img generator.ImageAttachment) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	fields := map[string]string{
		"file_name":   fileName,
		"parent_type": "docx_image",
		"parent_node": docID,
		"size":        strconv.Itoa(len(img.Data)),
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return "", err
		}
	}
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(img.Data); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	data, err := c.callJSON(ctx, http.MethodPost, "/drive/v1/medias/upload_all", nil, &body, writer.FormDataContentType())
	if err != nil {
		return "", fmt.Errorf("upload image %s: %w", fileName, err)
	}
	token := data.Get("file_token").String()
	if token == "" {
		return "", fmt.Errorf("upload image %s: response has no file_token", fileName)
	}
	return token, nil
}

// CreateBlocks appends blocks to the end of the document body.
func (c *Client) CreateBlocks(ctx context.Context, docID string, blocks []Block) error {
	children := make([]map[string]any, 0, len(blocks))
	for _, b := range blocks {
		children = append(children, b.Payload())
	}
	payload, err := json.Marshal(map[string]any{"children": children, "index": -1})
	if err != nil {
		return err
	}

	q := url.Values{}
	q.Set("document_revision_id", "-1")
	path := "/docx/v1/documents/" + url.PathEscape(docID) + "/blocks/" + url.PathEscape(docID) + "/children"
	if _, err := c.callJSON(ctx, http.MethodPost, path, q, bytes.NewReader(payload), "application/json"); err != nil {
		return fmt.Errorf("create %d blocks in %s: %w", len(blocks), docID, err)
	}
	return nil
}

// callJSON performs a request and returns the "data" member of a successful
// {"code":0,"msg":"...","data":{...}} envelope.
func (c *Client) callJSON(ctx context.Context, method, path string, q url.Values, body io.Reader, contentType string) (gjson.Result, error) {
	resp, err := c.send(ctx, method, path, q, body, contentType)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("invalid JSON response (status %d)", resp.StatusCode)
	}
	parsed := gjson.ParseBytes(raw)
	if code := parsed.Get("code").Int(); code != 0 {
		return gjson.Result{}, fmt.Errorf("feishu error %d: %s", code, parsed.Get("msg").String())
	}
	return parsed.Get("data"), nil
}

// send issues an authenticated request; responses with status 400 or above are errors.
func (c *Client) send(ctx context.Context, method, path string, q url.Values, body io.Reader, contentType string) (*http.Response, error) {
	if c.tokens == nil {
		return nil, ErrNoCredential
	}
	tok, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("obtain token: %w", err)
	}

	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	tok.SetAuthHeader(req)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp, nil
}

// statusError describes a failed response, preferring the code and msg of a
// JSON error envelope over the raw body.
func statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if isJSON(resp.Header.Get("Content-Type")) && gjson.ValidBytes(snippet) {
		parsed := gjson.ParseBytes(snippet)
		if code := parsed.Get("code").Int(); code != 0 {
			return fmt.Errorf("status %d: feishu error %d: %s", resp.StatusCode, code, parsed.Get("msg").String())
		}
	}
	return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
}

func isJSON(contentType string) bool {
	return strings.Contains(contentType, "json")
}
