package generator

import (
	"strings"
	"time"
)

// ImageAttachment 是随生成请求一起发送的一张图片。
type ImageAttachment struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

// GenerationRequest 描述一次模型调用。构造后不再修改，能力协商会返回副本。
type GenerationRequest struct {
	System  string
	Prompt  string
	Images  []ImageAttachment
	Timeout time.Duration
}

// withoutImages returns a copy of r that carries no images and tells the model so.
func (r GenerationRequest) withoutImages() GenerationRequest {
	out := r
	out.Images = nil
	out.Prompt = r.Prompt + "\n\n" + imagesIgnoredNotice
	return out
}

// Capability is the set of input kinds a backend accepts.
type Capability uint8

const (
	CapText Capability = 1 << iota
	CapMultimodal
)

func (c Capability) Has(other Capability) bool { return c&other == other }

func (c Capability) String() string {
	var parts []string
	if c.Has(CapText) {
		parts = append(parts, "text")
	}
	if c.Has(CapMultimodal) {
		parts = append(parts, "multimodal")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Role of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TurnKind 区分助手轮次的来源，用于对外展示。
type TurnKind string

const (
	TurnGenerated TurnKind = "generated"
	TurnRefined   TurnKind = "refined"
	TurnFailed    TurnKind = "failed"
)

// Turn 记录一轮对话。用户轮次单独保存指令，Content 保存实际发给模型的完整提示词；
// 助手轮次的 Content 是模型输出。
type Turn struct {
	Role        Role      `json:"role"`
	Instruction string    `json:"instruction,omitempty"`
	Content     string    `json:"-"`
	Kind        TurnKind  `json:"kind,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// DisplayMessage 是返回给前端的精简对话记录。
type DisplayMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

const (
	ackGenerated = "已生成文章"
	ackRefined   = "已更新文章"
	ackFailed    = "本轮生成失败，文章未改动"
)

// Display projects a turn for transcript views: the instruction for user turns and a
// fixed acknowledgement for assistant turns.
func (t Turn) Display() DisplayMessage {
	if t.Role == RoleUser {
		return DisplayMessage{Role: RoleUser, Content: t.Instruction}
	}
	switch t.Kind {
	case TurnGenerated:
		return DisplayMessage{Role: RoleAssistant, Content: ackGenerated}
	case TurnFailed:
		return DisplayMessage{Role: RoleAssistant, Content: ackFailed}
	default:
		return DisplayMessage{Role: RoleAssistant, Content: ackRefined}
	}
}

// DisplayMessages projects a whole history.
func DisplayMessages(turns []Turn) []DisplayMessage {
	out := make([]DisplayMessage, 0, len(turns))
	for _, t := range turns {
		out = append(out, t.Display())
	}
	return out
}
