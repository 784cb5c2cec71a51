package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// CommandConfig configures the shell tool server.
type CommandConfig struct {
	WorkingDirectory string        `yaml:"working_directory,omitempty"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time,omitempty"`
	MaxOutputBytes   int           `yaml:"max_output_bytes,omitempty"`
}

func (c *CommandConfig) SetDefaults() {
	if c.WorkingDirectory == "" {
		c.WorkingDirectory = "./"
	}
	if c.MaxExecutionTime <= 0 {
		c.MaxExecutionTime = 30 * time.Second
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = 4096
	}
}

// blockedFragments are substrings that mark a command as destructive.
// Matching is case-insensitive on a whitespace-normalized command line.
var blockedFragments = []string{
	"rm -rf /",
	"rm -fr /",
	":(){",
	":() {",
	"mkfs",
	"dd if=",
	"shutdown",
	"reboot",
	"poweroff",
	"halt",
	"init 0",
	"init 6",
	"sudo ",
	"> /etc/",
	"> /sys/",
	"> /proc/",
	"> /dev/",
	">> /etc/",
}

// validateCommand rejects destructive command lines before they reach a
// shell.
func validateCommand(command string) error {
	normalized := strings.ToLower(strings.Join(strings.Fields(command), " "))
	// Re-check raw text too: redirection targets lose their spacing in
	// the normalized form.
	lowered := strings.ToLower(command)
	for _, fragment := range blockedFragments {
		if strings.Contains(normalized, fragment) || strings.Contains(lowered, fragment) {
			return fmt.Errorf("command blocked by security policy: contains %q", strings.TrimSpace(fragment))
		}
	}
	return nil
}

func capOutput(output []byte, limit int) string {
	if len(output) <= limit {
		return string(output)
	}
	return string(output[:limit]) + "\n... (output truncated)"
}

// NewCommandServer builds the MCP server exposing execute_command.
func NewCommandServer(cfg CommandConfig) *server.MCPServer {
	cfg.SetDefaults()

	s := server.NewMCPServer("conductor-command", "1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.AddTool(mcp.NewTool("execute_command",
		mcp.WithDescription("Execute a shell command and return its combined output. "+
			"Destructive commands are rejected."),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("Shell command to execute (pipes and redirects supported)"),
		),
		mcp.WithNumber("timeout",
			mcp.Description("Timeout in seconds (default 30)"),
		),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		command, err := req.RequireString("command")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := validateCommand(command); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		timeout := cfg.MaxExecutionTime
		if secs := req.GetFloat("timeout", 0); secs > 0 {
			requested := time.Duration(secs * float64(time.Second))
			if requested < timeout {
				timeout = requested
			}
		}

		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(runCtx, "sh", "-c", command)
		cmd.Dir = cfg.WorkingDirectory
		output, runErr := cmd.CombinedOutput()

		text := capOutput(output, cfg.MaxOutputBytes)
		if runCtx.Err() == context.DeadlineExceeded {
			return mcp.NewToolResultError(fmt.Sprintf("command timed out after %s", timeout)), nil
		}
		if runErr != nil {
			if text == "" {
				text = runErr.Error()
			}
			return mcp.NewToolResultError(text), nil
		}
		return mcp.NewToolResultText(text), nil
	})

	s.AddResource(mcp.NewResource(
		PatternURIPrefix+"execute_command",
		"Shell command patterns",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     commandPatternsJSON,
			},
		}, nil
	})

	return s
}

// commandPatternsJSON advertises the phrasings the precheck can dispatch
// directly to execute_command without a model call.
const commandPatternsJSON = `[
  {
    "id": "run_shell_command",
    "pattern": "^(?:run|execute)\\s+` + "`" + `(.+)` + "`" + `$",
    "flags": "i",
    "tool": "execute_command",
    "parameterMapping": {"command": 1},
    "description": "Run a backtick-quoted shell command verbatim",
    "examples": ["run ` + "`" + `df -h` + "`" + `", "execute ` + "`" + `uptime` + "`" + `"],
    "confidence": 0.9
  }
]`
