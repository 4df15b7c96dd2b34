package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"salesbot/internal/ai"
	"salesbot/internal/models"
	"salesbot/internal/util"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ExternalTool pairs a model-facing tool definition with the tenant-registered
// server that owns it.
type ExternalTool struct {
	Server models.ToolServer
	Def    ai.Tool
}

// ToolInvoker reaches tenant-registered external tool servers.
type ToolInvoker interface {
	FetchTools(ctx context.Context, servers []models.ToolServer) []ExternalTool
	Invoke(ctx context.Context, server models.ToolServer, tool, arguments string) (string, error)
}

// ExternalToolClient fetches tool manifests and invokes tools over HTTP.
// Tool servers are tenant-supplied and untrusted; every call is
// timeout-bounded and failures never abort the conversation turn.
type ExternalToolClient struct {
	http   *resty.Client
	logger *zap.Logger
}

func NewExternalToolClient() *ExternalToolClient {
	return &ExternalToolClient{
		http:   resty.New().SetTimeout(10 * time.Second),
		logger: util.GetLogger(),
	}
}

type manifestResponse struct {
	Tools []struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"tools"`
}

// FetchTools collects the tool manifests of every registered server. A server
// that fails to answer is skipped with a warning; its tools are simply absent
// this turn.
func (c *ExternalToolClient) FetchTools(ctx context.Context, servers []models.ToolServer) []ExternalTool {
	var tools []ExternalTool
	for _, server := range servers {
		var manifest manifestResponse
		req := c.http.R().SetContext(ctx).SetResult(&manifest)
		applyAuth(req, server)

		resp, err := req.Get(server.BaseURL + "/tools")
		if err != nil {
			c.logger.Warn("Tool server manifest fetch failed",
				zap.String("server", server.Name),
				zap.Error(err))
			continue
		}
		if resp.IsError() {
			c.logger.Warn("Tool server manifest fetch failed",
				zap.String("server", server.Name),
				zap.Int("status", resp.StatusCode()))
			continue
		}

		for _, t := range manifest.Tools {
			tools = append(tools, ExternalTool{
				Server: server,
				Def: ai.Tool{
					Type: "function",
					Function: ai.ToolFunction{
						Name:        t.Name,
						Description: t.Description,
						Parameters:  t.Parameters,
					},
				},
			})
		}
	}
	return tools
}

// Invoke executes one tool on its owning server.
func (c *ExternalToolClient) Invoke(ctx context.Context, server models.ToolServer, tool, arguments string) (string, error) {
	if arguments == "" {
		arguments = "{}"
	}

	req := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"tool":      tool,
			"arguments": json.RawMessage(arguments),
		})
	applyAuth(req, server)

	resp, err := req.Post(server.BaseURL + "/invoke")
	if err != nil {
		return "", fmt.Errorf("tool server %s unreachable: %w", server.Name, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("tool server %s returned status %d", server.Name, resp.StatusCode())
	}
	return string(resp.Body()), nil
}

func applyAuth(req *resty.Request, server models.ToolServer) {
	switch server.AuthMode {
	case models.ToolAuthBearer:
		req.SetAuthToken(server.Token)
	case models.ToolAuthAPIKey:
		req.SetHeader("X-API-Key", server.Token)
	case models.ToolAuthBasic:
		req.SetBasicAuth(server.Username, server.Password)
	}
}
