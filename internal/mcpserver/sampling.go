package mcpserver

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// errNoSamplingSession is returned when the mcp-sampling embedding backend
// is invoked before any client session has connected.
var errNoSamplingSession = errors.New("mcpserver: no active session to sample from")

// SampleFunc returns an embed.SampleFunc-compatible closure that routes
// prompts through the most recently connected client session's sampling
// capability (sampling/createMessage). Wiring this into embed.Factory is
// what lets EMBEDDING_BACKEND=mcp-sampling ask the MCP host's own LLM to
// produce embeddings instead of calling out to a dedicated model.
func (s *Server) SampleFunc() func(ctx context.Context, prompt string) (string, error) {
	return func(ctx context.Context, prompt string) (string, error) {
		s.mu.RLock()
		session := s.session
		s.mu.RUnlock()
		if session == nil {
			return "", errNoSamplingSession
		}

		res, err := session.CreateMessage(ctx, &mcp.CreateMessageParams{
			Messages: []*mcp.SamplingMessage{
				{
					Role:    "user",
					Content: &mcp.TextContent{Text: prompt},
				},
			},
			MaxTokens: 2048,
		})
		if err != nil {
			return "", err
		}

		if text, ok := res.Content.(*mcp.TextContent); ok {
			return text.Text, nil
		}
		return "", errors.New("mcpserver: sampling response did not contain text content")
	}
}
