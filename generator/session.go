package generator

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session 持有一篇文章的多轮生成/修订上下文。
// 会话只存在于进程内存中，重启即丢失。
type Session struct {
	ID          string
	DocID       string
	Turns       []Turn
	Article     string
	Attachments []ImageAttachment
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// refineMu serializes refinements; mu guards the fields above and is
	// never held across a backend call.
	refineMu sync.Mutex
	mu       sync.Mutex
}

// SessionView is a point-in-time copy of a session.
type SessionView struct {
	ID              string           `json:"session_id"`
	DocID           string           `json:"doc_id"`
	MessageCount    int              `json:"message_count"`
	Article         string           `json:"current_article"`
	Messages        []DisplayMessage `json:"messages"`
	AttachmentCount int              `json:"attachment_count"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// NewSessionID 生成 "<文档ID>_<16位十六进制>" 形式的会话 ID。
func NewSessionID(docID string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	if docID == "" {
		return suffix
	}
	return docID + "_" + suffix
}

func newSession(id, docID string, attachments []ImageAttachment) *Session {
	now := time.Now()
	return &Session{
		ID:          id,
		DocID:       docID,
		Attachments: attachments,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// refineInput reads what a refinement needs to build its prompt.
func (s *Session) refineInput() (article string, attachments []ImageAttachment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Article, s.Attachments
}

// commit records an exchange and, for a successful one, the new article. It
// returns the display history after the commit.
func (s *Session) commit(p Prompt, reply string, kind TurnKind) []DisplayMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendExchange(p, reply, kind)
	if kind != TurnFailed {
		s.Article = reply
	}
	return DisplayMessages(s.Turns)
}

// attachments copies the stored images.
func (s *Session) attachments() []ImageAttachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ImageAttachment(nil), s.Attachments...)
}

// Snapshot copies the session under its lock.
func (s *Session) Snapshot() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view()
}

func (s *Session) view() SessionView {
	return SessionView{
		ID:              s.ID,
		DocID:           s.DocID,
		MessageCount:    len(s.Turns),
		Article:         s.Article,
		Messages:        DisplayMessages(s.Turns),
		AttachmentCount: len(s.Attachments),
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

// appendExchange records a user turn and its assistant reply; callers hold mu.
func (s *Session) appendExchange(p Prompt, reply string, kind TurnKind) {
	now := time.Now()
	s.Turns = append(s.Turns,
		Turn{Role: RoleUser, Instruction: p.Instruction, Content: p.User, CreatedAt: now},
		Turn{Role: RoleAssistant, Content: reply, Kind: kind, CreatedAt: now},
	)
	s.UpdatedAt = now
}
