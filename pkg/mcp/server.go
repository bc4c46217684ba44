package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/pario-ai/gatecache/pkg/analytics"
	"github.com/pario-ai/gatecache/pkg/models"
	"github.com/rs/zerolog/log"
)

// History reads persisted request records. tracker.Tracker satisfies it.
type History interface {
	Summary(ctx context.Context, groupBy string, since time.Time) ([]models.UsageSummary, error)
	CostReport(ctx context.Context, since time.Time) ([]models.CostReport, error)
	Recent(ctx context.Context, limit int) ([]models.RequestRecord, error)
}

// Gateway reports live state from a running gateway.
type Gateway interface {
	Summary(ctx context.Context) (analytics.Summary, error)
	CacheStats(ctx context.Context) (models.CacheStats, error)
}

// BudgetReporter reports spend against budget policies.
type BudgetReporter interface {
	Status(ctx context.Context, project string) ([]models.BudgetStatus, error)
}

// AuditSearcher searches the audit log.
type AuditSearcher interface {
	Query(ctx context.Context, opts models.AuditQueryOpts) ([]models.AuditEntry, error)
}

// Deps are the data sources behind the tools. Any of them may be nil; the
// matching tools then report that the feature is not configured.
type Deps struct {
	History History
	Gateway Gateway
	Budget  BudgetReporter
	Audit   AuditSearcher
}

// Server is a minimal MCP server that communicates over stdio using JSON-RPC 2.0.
type Server struct {
	history History
	gateway Gateway
	budget  BudgetReporter
	audit   AuditSearcher
	version string
	now     func() time.Time
}

// New creates a new MCP Server.
func New(d Deps, version string) *Server {
	return &Server{
		history: d.History,
		gateway: d.Gateway,
		budget:  d.Budget,
		audit:   d.Audit,
		version: version,
		now:     time.Now,
	}
}

// Run reads JSON-RPC requests from r line-by-line and writes responses to w.
// It blocks until r is closed or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(w, *failure(nil, CodeParseError, "parse error"))
			continue
		}

		resp := s.dispatch(ctx, &req)
		if resp == nil {
			continue
		}
		s.writeResponse(w, *resp)
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "notifications/initialized":
		return nil // notification, no response
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return failure(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

func (s *Server) handleInitialize(req *Request) *Response {
	return success(req.ID, InitializeResult{
		ProtocolVersion: protocolVersion,
		ServerInfo:      ServerInfo{Name: serverName, Version: s.version},
	})
}

func (s *Server) handleToolsList(req *Request) *Response {
	return success(req.ID, ToolsListResult{Tools: allTools})
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return failure(req.ID, CodeInvalidParams, "invalid params")
	}

	handler, ok := toolHandlers[params.Name]
	if !ok {
		return success(req.ID, errorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
	}

	return success(req.ID, handler(ctx, s, params.Arguments))
}

func (s *Server) writeResponse(w io.Writer, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Msg("mcp: marshal response")
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		log.Error().Err(err).Msg("mcp: write response")
	}
}
