// Package mcpserver exposes a robot to LLM agents as Model Context Protocol tools.
//
// Tool calls are serialized: the robot underneath is a single-goroutine client.
package mcpserver

import (
	"context"
	"fmt"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"go.viam.com/controlpi/intent"
	"go.viam.com/controlpi/logging"
)

// Tool names.
const (
	ToolCommand  = "robot_command"
	ToolStatus   = "robot_status"
	ToolSetSpeed = "robot_set_speed"
)

// CommandInput is the input of the robot_command tool.
type CommandInput struct {
	Text  string `json:"text" jsonschema:"plain English instruction such as 'activate the robot', 'move forward' or 'set speed to 5'"`
	Trace bool   `json:"trace,omitempty" jsonschema:"log every step of this instruction at debug level under a key returned in the result"`
}

// CommandOutput is the structured result of the robot_command tool.
type CommandOutput struct {
	Outcome string `json:"outcome"`
	Command string `json:"command,omitempty"`
	Message string `json:"message"`
	// DebugKey tags the server log lines of a traced call.
	DebugKey string `json:"debug_key,omitempty"`
}

// StatusOutput is the structured result of the robot_status tool.
type StatusOutput struct {
	SessionID    string `json:"session_id"`
	State        string `json:"state"`
	SystemActive bool   `json:"system_active"`
	LastCommand  string `json:"last_command"`
}

// SetSpeedInput is the input of the robot_set_speed tool.
type SetSpeedInput struct {
	Level int `json:"level" jsonschema:"speed level from 0 (slowest) to 9 (fastest)"`
}

// Server is an MCP server driving one robot.
type Server struct {
	mu         sync.Mutex
	robot      intent.Robot
	dispatcher *intent.Dispatcher
	logger     logging.Logger
	server     *mcp.Server
}

// New returns a server whose tools drive robot.
func New(robot intent.Robot, logger logging.Logger, version string) *Server {
	s := &Server{
		robot:      robot,
		dispatcher: intent.NewDispatcher(robot, logger.Sublogger("intent")),
		logger:     logger,
		server:     mcp.NewServer(&mcp.Implementation{Name: "controlpi", Version: version}, nil),
	}
	mcp.AddTool(s.server, &mcp.Tool{
		Name: ToolCommand,
		Description: "Send a natural language instruction to the robot. The robot must be activated " +
			"('activate the robot') before it will move, and 'shut down' stops and deactivates it.",
	}, s.command)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolStatus,
		Description: "Report whether the robot is connected and active, and the last command it was sent.",
	}, s.status)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolSetSpeed,
		Description: "Set the robot's speed level directly.",
	}, s.setSpeed)
	return s
}

// MCP returns the underlying SDK server, e.g. to connect it to a custom transport.
func (s *Server) MCP() *mcp.Server {
	return s.server
}

// Run serves over stdin and stdout until the client disconnects or ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("serving MCP over stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func textResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: isError,
	}
}

func (s *Server) command(ctx context.Context, _ *mcp.CallToolRequest, in CommandInput) (*mcp.CallToolResult, CommandOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.Trace {
		ctx = logging.EnableDebugMode(ctx, "")
	}
	debugKey := logging.GetName(ctx)
	s.logger.Infow("tool call", "tool", ToolCommand, "text", in.Text, "debug_key", debugKey)
	res, err := s.dispatcher.Dispatch(ctx, in.Text)
	if err != nil {
		s.logger.Warnw("command failed", "text", in.Text, "error", err)
		return textResult(fmt.Sprintf("The robot could not carry out %q: %v", in.Text, err), true), CommandOutput{}, nil
	}
	out := CommandOutput{Outcome: res.Outcome.String(), Message: res.String(), DebugKey: debugKey}
	if res.Outcome == intent.Executed {
		out.Command = res.Command.String()
	}
	return textResult(out.Message, false), out, nil
}

func (s *Server) status(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, StatusOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.robot.Session()
	out := StatusOutput{
		SessionID:    session.ID.String(),
		State:        session.State.String(),
		SystemActive: session.SystemActive,
		LastCommand:  intent.NoCommand,
	}
	if session.LastCommand != nil {
		out.LastCommand = session.LastCommand.String()
	}
	active := "inactive"
	if out.SystemActive {
		active = "active"
	}
	msg := fmt.Sprintf("Robot is %s and %s. Last command: %s", out.State, active, out.LastCommand)
	return textResult(msg, false), out, nil
}

func (s *Server) setSpeed(ctx context.Context, _ *mcp.CallToolRequest, in SetSpeedInput) (*mcp.CallToolResult, any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Infow("tool call", "tool", ToolSetSpeed, "level", in.Level)
	if !s.robot.Session().SystemActive {
		return textResult(intent.Result{Outcome: intent.RejectedInactive}.String(), true), nil, nil
	}
	if _, err := s.robot.SetSpeed(ctx, in.Level); err != nil {
		return textResult(fmt.Sprintf("Cannot set speed: %v", err), true), nil, nil
	}
	return textResult(fmt.Sprintf("Speed set to %d", in.Level), false), nil, nil
}
