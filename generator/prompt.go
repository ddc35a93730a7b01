package generator

import (
	"fmt"
	"strings"
)

// Prompt 表示发送给 LLM 的一轮输入。Instruction 是用户原话，单独保存用于展示。
type Prompt struct {
	System      string
	User        string
	Instruction string
}

const createSystemPrompt = `你是一位专业的内容创作助手。你的任务是将用户提供的草稿内容重新组织成一篇结构清晰、逻辑连贯的文章。

要求：
1. 保持原文的核心信息和观点
2. 优化文章结构，使其更有逻辑性
3. 改善语言表达，使其更流畅自然
4. 如果有图片，在合适的位置用 ![图片描述](image_N) 标记插入位置，N是图片序号（从1开始）
5. 使用Markdown格式输出，标题最多使用三级（#、##、###）
6. 保持专业且易读的写作风格`

const refineSystemPrompt = `你是一名专业编辑，基于用户的修改要求对文章做必要改动，输出完整的修改后文章（Markdown 格式），不要额外解释。`

// BuildCreatePrompt 生成首稿提示词。
func BuildCreatePrompt(sourceText, instruction string, imageCount int) Prompt {
	var sb strings.Builder
	sb.WriteString("原始内容：\n")
	sb.WriteString(sourceText)
	sb.WriteString("\n\n用户指示：\n")
	sb.WriteString(instruction)
	sb.WriteString("\n\n请根据以上内容和指示，创作一篇高质量的文章。")
	if imageCount > 0 {
		sb.WriteString(fmt.Sprintf("\n\n注意：文档中包含 %d 张图片，请在文章合适位置标记图片插入点。", imageCount))
	}
	return Prompt{
		System:      createSystemPrompt,
		User:        sb.String(),
		Instruction: instruction,
	}
}

// BuildRefinePrompt 生成修订提示词；withImages 时提醒模型保留占位符格式。
func BuildRefinePrompt(article, instruction string, withImages bool) Prompt {
	var sb strings.Builder
	sb.WriteString("当前文章版本：\n")
	sb.WriteString(article)
	sb.WriteString("\n\n用户的修改要求：\n")
	sb.WriteString(instruction)
	sb.WriteString("\n\n请根据用户的要求对文章进行修改，输出完整的修改后文章（使用Markdown格式）。")
	if withImages {
		sb.WriteString("\n\n图片位置请继续使用 ![图片描述](image_N) 格式标记，N 为图片序号（从1开始），不要使用其他写法。")
	}
	return Prompt{
		System:      refineSystemPrompt,
		User:        sb.String(),
		Instruction: instruction,
	}
}
