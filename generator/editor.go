package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"feishu_article_studio/logger"
)

const sourcePreviewLimit = 500

// CreateRequest 首次生成的输入。
type CreateRequest struct {
	DocID       string
	Texts       []string
	Attachments []ImageAttachment
	Instruction string
	// SessionID, when set, names the session to (re)create.
	SessionID string
}

// Reply is what create and refine hand back to the caller.
type Reply struct {
	SessionID     string           `json:"session_id"`
	Content       string           `json:"content"`
	Messages      []DisplayMessage `json:"messages"`
	Degraded      bool             `json:"degraded,omitempty"`
	TimedOut      bool             `json:"timed_out,omitempty"`
	ImagesIgnored bool             `json:"images_ignored,omitempty"`
}

// Editor 驱动会话的创建与多轮修订。
type Editor struct {
	agent   *Agent
	store   SessionStore
	timeout time.Duration
	logger  *zap.Logger
}

func NewEditor(agent *Agent, store SessionStore, timeout time.Duration, l *zap.Logger) (*Editor, error) {
	if agent == nil {
		return nil, errors.New("agent is required")
	}
	if store == nil {
		store = NewMemoryStore()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Editor{agent: agent, store: store, timeout: timeout, logger: logger.OrNop(l)}, nil
}

// Backend returns the backend behind the editor.
func (e *Editor) Backend() Backend { return e.agent.Backend() }

// Create 生成首稿。模型调用失败时不创建会话，而是返回带诊断信息的降级内容。
func (e *Editor) Create(ctx context.Context, req CreateRequest) (Reply, error) {
	instruction := strings.TrimSpace(req.Instruction)
	if instruction == "" {
		return Reply{}, ErrEmptyInstruction
	}
	source := strings.Join(nonEmpty(req.Texts), "\n\n")
	prompt := BuildCreatePrompt(source, instruction, len(req.Attachments))

	res, err := e.agent.Generate(ctx, GenerationRequest{
		System:  prompt.System,
		Prompt:  prompt.User,
		Images:  req.Attachments,
		Timeout: e.timeout,
	})
	if err != nil {
		if !IsBackendFailure(err) {
			return Reply{}, err
		}
		e.logger.Warn("create degraded", zap.String("doc_id", req.DocID), zap.Error(err))
		return Reply{
			Content: fallbackArticle(source, err),
			Messages: []DisplayMessage{
				{Role: RoleUser, Content: instruction},
				{Role: RoleAssistant, Content: ackFailed},
			},
			Degraded:      true,
			TimedOut:      errors.Is(err, ErrTimeout),
			ImagesIgnored: res.ImagesIgnored,
		}, nil
	}

	id := req.SessionID
	if id == "" {
		id = NewSessionID(req.DocID)
	}
	sess := newSession(id, req.DocID, req.Attachments)
	sess.appendExchange(prompt, res.Text, TurnGenerated)
	sess.Article = res.Text
	e.store.Put(sess)

	e.logger.Info("session created",
		zap.String("session_id", id),
		zap.Int("attachments", len(req.Attachments)),
		zap.Bool("images_ignored", res.ImagesIgnored),
	)
	return Reply{
		SessionID:     id,
		Content:       res.Text,
		Messages:      DisplayMessages(sess.Turns),
		ImagesIgnored: res.ImagesIgnored,
	}, nil
}

// Refine 基于当前文章和新的修改要求修订稿件。
//
// Every attempt that reaches the backend leaves a user turn in the history. When the
// backend fails, that turn is paired with a failed assistant turn and the article is
// left as it was. A timeout returns a synthetic notice instead of an error.
func (e *Editor) Refine(ctx context.Context, sessionID, instruction string) (Reply, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return Reply{}, ErrEmptyInstruction
	}
	sess, err := e.store.Get(sessionID)
	if err != nil {
		return Reply{}, err
	}

	sess.refineMu.Lock()
	defer sess.refineMu.Unlock()
	if err := e.stillCurrent(sess); err != nil {
		return Reply{}, err
	}

	article, attachments := sess.refineInput()
	var images []ImageAttachment
	withImages := len(attachments) > 0 && e.agent.Backend().Capabilities().Has(CapMultimodal)
	if withImages {
		images = attachments
	}
	prompt := BuildRefinePrompt(article, instruction, withImages)

	res, err := e.agent.Generate(ctx, GenerationRequest{
		System:  prompt.System,
		Prompt:  prompt.User,
		Images:  images,
		Timeout: e.timeout,
	})
	if err != nil && !IsBackendFailure(err) {
		return Reply{}, err
	}
	// A reset or a re-create under the same id while the backend was working
	// orphans this session.
	if cerr := e.stillCurrent(sess); cerr != nil {
		return Reply{}, cerr
	}

	if err != nil {
		messages := sess.commit(prompt, err.Error(), TurnFailed)
		if errors.Is(err, ErrTimeout) {
			e.logger.Warn("refine timed out", zap.String("session_id", sessionID), zap.Error(err))
			return Reply{
				SessionID: sessionID,
				Content:   timeoutArticle(err),
				Messages:  messages,
				TimedOut:  true,
			}, nil
		}
		return Reply{}, fmt.Errorf("refine %s: %w", sessionID, err)
	}

	messages := sess.commit(prompt, res.Text, TurnRefined)
	e.logger.Info("session refined", zap.String("session_id", sessionID), zap.Int("messages", len(messages)))

	return Reply{
		SessionID:     sessionID,
		Content:       res.Text,
		Messages:      messages,
		ImagesIgnored: res.ImagesIgnored,
	}, nil
}

// stillCurrent reports ErrSessionNotFound when sess is no longer the one stored under its id.
func (e *Editor) stillCurrent(sess *Session) error {
	cur, err := e.store.Get(sess.ID)
	if err != nil {
		return err
	}
	if cur != sess {
		return fmt.Errorf("%w: %s was replaced", ErrSessionNotFound, sess.ID)
	}
	return nil
}

// Get returns a snapshot of the session.
func (e *Editor) Get(sessionID string) (SessionView, error) {
	sess, err := e.store.Get(sessionID)
	if err != nil {
		return SessionView{}, err
	}
	return sess.Snapshot(), nil
}

// Attachments returns the images stored with the session.
func (e *Editor) Attachments(sessionID string) ([]ImageAttachment, error) {
	sess, err := e.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.attachments(), nil
}

// Reset 删除会话。
func (e *Editor) Reset(sessionID string) error {
	if err := e.store.Delete(sessionID); err != nil {
		return err
	}
	e.logger.Info("session reset", zap.String("session_id", sessionID))
	return nil
}

func fallbackArticle(source string, cause error) string {
	var sb strings.Builder
	sb.WriteString("# AI 生成未完成\n\n")
	if errors.Is(cause, ErrTimeout) {
		sb.WriteString("诊断：AI 请求超时，模型在规定时间内没有返回结果。可能是网络问题或地区限制，建议稍后重试，或切换到其他模型（例如 DeepSeek、千问）。\n\n")
	} else {
		sb.WriteString("诊断：AI 生成失败：")
		sb.WriteString(cause.Error())
		sb.WriteString("\n\n")
	}
	sb.WriteString("## 原始内容预览\n\n")
	sb.WriteString(previewText(source, sourcePreviewLimit))
	sb.WriteString("\n")
	return sb.String()
}

func timeoutArticle(cause error) string {
	return "# 修订超时\n\n本次修改请求超时（" + cause.Error() + "），当前文章保持不变。请稍后重试或切换到其他模型。\n"
}

func nonEmpty(texts []string) []string {
	out := make([]string, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			out = append(out, t)
		}
	}
	return out
}
