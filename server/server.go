package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"feishu_article_studio/generator"
	"feishu_article_studio/logger"
	"feishu_article_studio/publisher"
)

// DocumentService is the document platform as seen by the routes.
type DocumentService interface {
	ListBlocks(ctx context.Context, docID string) ([]publisher.SourceBlock, error)
	DownloadImage(ctx context.Context, token string) (generator.ImageAttachment, error)
	FetchAttachments(ctx context.Context, tokens []string) []generator.ImageAttachment
	publisher.DocumentSink
}

// Documents returns a DocumentService acting with the caller's bearer token;
// an empty token means the service's own credentials.
type Documents func(bearer string) DocumentService

type Options struct {
	FrontendURL string
	Batch       publisher.BatchOptions
}

type Server struct {
	editor *generator.Editor
	docs   Documents
	opts   Options
	logger *zap.Logger
	app    *fiber.App
}

type errorResponse struct {
	Error string `json:"error"`
}

var errBadRequest = errors.New("bad request")

func New(editor *generator.Editor, docs Documents, opts Options, l *zap.Logger) (*Server, error) {
	if editor == nil {
		return nil, errors.New("editor required")
	}
	if docs == nil {
		return nil, errors.New("document service required")
	}

	s := &Server{
		editor: editor,
		docs:   docs,
		opts:   opts,
		logger: logger.OrNop(l),
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		BodyLimit:             32 << 20,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     opts.FrontendURL,
		AllowCredentials: opts.FrontendURL != "" && opts.FrontendURL != "*",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
	}))
	app.Use(s.logRequests)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(map[string]string{"status": "ok", "backend": editor.Backend().Name()})
	})

	ai := app.Group("/api/ai")
	ai.Post("/create", s.handleCreate)
	ai.Post("/refine", s.handleRefine)
	ai.Get("/session/:id", s.handleGetSession)
	ai.Delete("/session/:id", s.handleResetSession)
	ai.Get("/session/:id/preview", s.handlePreview)
	ai.Post("/materialize", s.handleMaterialize)

	docsGroup := app.Group("/api/documents")
	docsGroup.Get("/content/:doc_id", s.handleDocumentContent)
	docsGroup.Get("/image/:doc_id/:image_token", s.handleDocumentImage)

	s.app = app
	return s, nil
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error {
	s.logger.Info("starting server",
		zap.String("listen", addr),
		zap.String("backend", s.editor.Backend().Name()),
		zap.String("frontend", s.opts.FrontendURL),
	)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) logRequests(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.logger.Info("request",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", c.Response().StatusCode()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return err
}

// --- AI handlers ---

type contentBlock struct {
	BlockType  string `json:"block_type"`
	Text       string `json:"text,omitempty"`
	ImageToken string `json:"image_token,omitempty"`
	Data       []byte `json:"data,omitempty"`
	MIMEType   string `json:"mime_type,omitempty"`
}

type createRequest struct {
	DocID       string         `json:"doc_id"`
	Blocks      []contentBlock `json:"blocks"`
	Instruction string         `json:"instruction"`
	SessionID   string         `json:"session_id,omitempty"`
}

type refineRequest struct {
	SessionID   string `json:"session_id"`
	Instruction string `json:"instruction"`
}

func (s *Server) handleCreate(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, fmt.Errorf("%w: invalid request body", errBadRequest))
	}
	s.logger.Debug("create request",
		zap.String("doc_id", req.DocID),
		zap.Int("blocks", len(req.Blocks)),
	)

	texts, attachments := s.collectSource(c, req.Blocks)
	reply, err := s.editor.Create(c.UserContext(), generator.CreateRequest{
		DocID:       req.DocID,
		Texts:       texts,
		Attachments: attachments,
		Instruction: req.Instruction,
		SessionID:   req.SessionID,
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(reply)
}

// collectSource splits request blocks into text and images. Inline images keep
// their order and come before images downloaded by token; downloads that fail
// are skipped.
func (s *Server) collectSource(c *fiber.Ctx, blocks []contentBlock) ([]string, []generator.ImageAttachment) {
	var (
		texts       []string
		attachments []generator.ImageAttachment
		tokens      []string
	)
	for _, b := range blocks {
		switch b.BlockType {
		case "text":
			if strings.TrimSpace(b.Text) != "" {
				texts = append(texts, b.Text)
			}
		case "image":
			switch {
			case len(b.Data) > 0:
				attachments = append(attachments, generator.ImageAttachment{MIMEType: b.MIMEType, Data: b.Data})
			case b.ImageToken != "":
				tokens = append(tokens, b.ImageToken)
			}
		}
	}
	if len(tokens) > 0 {
		fetched := s.docs(bearer(c)).FetchAttachments(c.UserContext(), tokens)
		if len(fetched) < len(tokens) {
			s.logger.Warn("some source images could not be downloaded",
				zap.Int("requested", len(tokens)),
				zap.Int("downloaded", len(fetched)))
		}
		attachments = append(attachments, fetched...)
	}
	return texts, attachments
}

func (s *Server) handleRefine(c *fiber.Ctx) error {
	var req refineRequest
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, fmt.Errorf("%w: invalid request body", errBadRequest))
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return s.fail(c, fmt.Errorf("%w: session_id is required", errBadRequest))
	}
	reply, err := s.editor.Refine(c.UserContext(), req.SessionID, req.Instruction)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(reply)
}

func (s *Server) handleGetSession(c *fiber.Ctx) error {
	view, err := s.editor.Get(c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(view)
}

func (s *Server) handleResetSession(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.editor.Reset(id); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(map[string]string{"message": "会话已重置", "session_id": id})
}

func (s *Server) handlePreview(c *fiber.Ctx) error {
	id := c.Params("id")
	view, err := s.editor.Get(id)
	if err != nil {
		return s.fail(c, err)
	}
	attachments, err := s.editor.Attachments(id)
	if err != nil {
		return s.fail(c, err)
	}
	html, err := publisher.RenderPreview(view.Article, attachments)
	if err != nil {
		return s.fail(c, err)
	}
	c.Type("html", "utf-8")
	return c.SendString(html)
}

type materializeRequest struct {
	DocID     string            `json:"doc_id"`
	SessionID string            `json:"session_id,omitempty"`
	Article   string            `json:"article,omitempty"`
	Assets    map[string]string `json:"assets,omitempty"`
}

type materializeResponse struct {
	publisher.MaterializeResult
	Summary string `json:"summary"`
}

func (s *Server) handleMaterialize(c *fiber.Ctx) error {
	var req materializeRequest
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, fmt.Errorf("%w: invalid request body", errBadRequest))
	}

	mreq := publisher.MaterializeRequest{DocID: req.DocID, Article: req.Article, Assets: req.Assets}
	if req.SessionID != "" {
		view, err := s.editor.Get(req.SessionID)
		if err != nil {
			return s.fail(c, err)
		}
		attachments, err := s.editor.Attachments(req.SessionID)
		if err != nil {
			return s.fail(c, err)
		}
		if mreq.Article == "" {
			mreq.Article = view.Article
		}
		if mreq.DocID == "" {
			mreq.DocID = view.DocID
		}
		mreq.Attachments = attachments
	}

	m := publisher.NewMaterializer(s.docs(bearer(c)), s.opts.Batch, s.logger)
	res, err := m.Materialize(c.UserContext(), mreq)
	resp := materializeResponse{MaterializeResult: res, Summary: res.Report.Summary()}
	switch {
	case errors.Is(err, publisher.ErrPartialBatch):
		return c.Status(fiber.StatusMultiStatus).JSON(resp)
	case err != nil:
		return s.fail(c, err)
	}
	return c.JSON(resp)
}

// --- document handlers ---

type documentContent struct {
	DocID  string                  `json:"doc_id"`
	Blocks []publisher.SourceBlock `json:"blocks"`
}

func (s *Server) handleDocumentContent(c *fiber.Ctx) error {
	docID := c.Params("doc_id")
	blocks, err := s.docs(bearer(c)).ListBlocks(c.UserContext(), docID)
	if err != nil {
		return s.fail(c, err)
	}
	if blocks == nil {
		blocks = []publisher.SourceBlock{}
	}
	return c.JSON(documentContent{DocID: docID, Blocks: blocks})
}

func (s *Server) handleDocumentImage(c *fiber.Ctx) error {
	img, err := s.docs(bearer(c)).DownloadImage(c.UserContext(), c.Params("image_token"))
	if err != nil {
		s.logger.Warn("image proxy failed", zap.String("token", c.Params("image_token")), zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(errorResponse{Error: "图片下载失败"})
	}
	c.Set(fiber.HeaderContentType, img.MIMEType)
	return c.Send(img.Data)
}

// --- helpers ---

func bearer(c *fiber.Ctx) string {
	return strings.TrimSpace(strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer "))
}

func (s *Server) fail(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(status).JSON(errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, generator.ErrSessionNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, generator.ErrEmptyInstruction),
		errors.Is(err, generator.ErrEmptyPrompt),
		errors.Is(err, publisher.ErrEmptyDocID),
		errors.Is(err, publisher.ErrEmptyArticle):
		return fiber.StatusBadRequest
	case errors.Is(err, publisher.ErrNoCredential):
		return fiber.StatusUnauthorized
	case generator.IsBackendFailure(err):
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}
