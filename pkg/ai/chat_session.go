package ai

import (
	"context"
	"sync"

	"footyai/pkg/domain"
)

// chatSystemInstruction pins the assistant persona to football and sports.
const chatSystemInstruction = "You are 'Footy AI', a knowledgeable football expert. Your knowledge is strictly limited to football and other major sports. You must discuss historical matches, player stats, team news, and tactical analysis. If a user asks a question about a topic outside of sports, you must politely decline and state that your expertise is limited to the world of sports. Do not answer non-sports questions. Keep your tone engaging and conversational."

// Generator starts streamed generations over a conversation. *Client
// satisfies it; tests substitute fakes.
type Generator interface {
	StreamGenerateContent(ctx context.Context, model, systemPrompt string, contents []Content) (*Stream, error)
}

// ChatSession is a multi-turn conversation with the Footy AI persona.
// History only advances through Commit, so a failed generation leaves
// the session exactly where it was.
type ChatSession struct {
	gen   Generator
	model string

	mu      sync.Mutex
	history []Content
}

// NewChatSession starts an empty conversation.
func NewChatSession(gen Generator, model string) *ChatSession {
	return &ChatSession{gen: gen, model: model}
}

// SendStream starts a streamed reply to text on top of the committed
// history. The pending user turn is not recorded; call Commit once the
// stream has been fully consumed.
func (c *ChatSession) SendStream(ctx context.Context, text string) (*Stream, error) {
	c.mu.Lock()
	contents := make([]Content, 0, len(c.history)+1)
	contents = append(contents, c.history...)
	c.mu.Unlock()
	contents = append(contents, Content{
		Role:  string(domain.RoleUser),
		Parts: []Part{{Text: text}},
	})
	return c.gen.StreamGenerateContent(ctx, c.model, chatSystemInstruction, contents)
}

// Commit records a completed exchange in the conversation history.
func (c *ChatSession) Commit(userText, reply string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history,
		Content{Role: string(domain.RoleUser), Parts: []Part{{Text: userText}}},
		Content{Role: string(domain.RoleModel), Parts: []Part{{Text: reply}}},
	)
}

// Turns reports the number of committed history entries.
func (c *ChatSession) Turns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history)
}
