package bridge

import (
	"context"
	"sort"
	"time"

	"github.com/botwire/botwire/internal/adapter"
	"github.com/botwire/botwire/internal/records"
	"github.com/botwire/botwire/internal/scenario"
)

func (b *Bridge) builtinActions() map[string]Handler {
	return map[string]Handler{
		"bot.status":            b.actionBotStatus,
		"mock.status":           b.actionMockStatus,
		"mock.history":          b.actionMockHistory,
		"mock.incoming.message": b.actionInjectMessage,
		"render.screenshot":     b.actionRenderScreenshot,
		"config.get":            b.actionConfigGet,
		"meta.actions":          b.actionMetaActions,
		"test.records.list":     b.actionRecordsList,
		"test.records.tail":     b.actionRecordsTail,
		"test.trace.get":        b.actionTraceGet,
		"test.scenarios.list":   b.actionScenariosList,
		"test.scenario.run":     b.actionScenarioRun,
		"test.scenarios.runAll": b.actionScenariosRunAll,
	}
}

func (b *Bridge) actionBotStatus(ctx context.Context, data map[string]any) (any, *ActionError) {
	inbox, outbox := b.adapter.Stats()
	return map[string]any{
		"name":      b.adapter.Name,
		"selfId":    adapter.SelfID,
		"mcpPath":   b.cfg.MCPPath,
		"startedAt": b.startedAt.UnixMilli(),
		"uptimeMs":  time.Since(b.startedAt).Milliseconds(),
		"mcpServer": map[string]any{
			"state":   b.supervisor.State().String(),
			"running": b.supervisor.Running(),
			"pid":     b.supervisor.PID(),
		},
		"counts": map[string]any{
			"inbox":  inbox,
			"outbox": outbox,
			"traces": b.traces.Len(),
		},
	}, nil
}

func (b *Bridge) actionMockStatus(ctx context.Context, data map[string]any) (any, *ActionError) {
	inbox, outbox := b.adapter.Stats()
	return map[string]any{
		"selfId":     adapter.SelfID,
		"inbox":      inbox,
		"outbox":     outbox,
		"traces":     b.traces.Len(),
		"buckets":    b.limiter.Len(),
		"maxHistory": b.cfg.MaxHistory,
		"limits": map[string]any{
			"enabled": b.cfg.Limits.Enabled,
		},
	}, nil
}

func (b *Bridge) actionMockHistory(ctx context.Context, data map[string]any) (any, *ActionError) {
	kind := stringField(data, "type")
	if kind == "" {
		kind = "outbox"
	}
	limit := intField(data, "limit", 20)

	var items any
	switch kind {
	case "inbox":
		items = b.adapter.Inbox(limit)
	case "outbox":
		items = b.adapter.Outbox(limit)
	default:
		return nil, errBadRequest(`type must be "inbox" or "outbox"`)
	}
	return map[string]any{"type": kind, "items": items}, nil
}

// actionConfigGet returns a redacted view of the effective config, gated by
// mcpTools.configRead.
func (b *Bridge) actionConfigGet(ctx context.Context, data map[string]any) (any, *ActionError) {
	if !b.cfg.MCPTools.ConfigRead {
		return nil, errForbidden("config.get is disabled")
	}
	return map[string]any{
		"mcpPath":    b.cfg.MCPPath,
		"port":       b.cfg.Port,
		"maxHistory": b.cfg.MaxHistory,
		"traceTTLMs": b.cfg.TraceTTL().Milliseconds(),
		"limits":     b.cfg.Limits,
		"defaults":   b.cfg.Defaults,
		"mcpTools":   b.cfg.MCPTools,
		"allowlist":  len(b.cfg.IPAllowlist),
	}, nil
}

func (b *Bridge) actionMetaActions(ctx context.Context, data map[string]any) (any, *ActionError) {
	names := make([]string, 0, len(b.builtins))
	for name := range b.builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	names = append(names, b.registry.Names()...)
	return map[string]any{"actions": names}, nil
}

func (b *Bridge) actionRecordsList(ctx context.Context, data map[string]any) (any, *ActionError) {
	listing := b.store.List(stringField(data, "date"), intField(data, "limit", 0))
	return listing, nil
}

func (b *Bridge) actionRecordsTail(ctx context.Context, data map[string]any) (any, *ActionError) {
	kind := stringField(data, "type")
	if kind == "" {
		kind = "session"
	}
	date := stringField(data, "date")
	limit := intField(data, "limit", 0)

	var result records.TailResult
	switch kind {
	case "http":
		result = b.store.TailHTTP(date, limit)
	case "session":
		result = b.store.TailSession(date, limit, stringField(data, "traceId"))
	default:
		return nil, errBadRequest(`type must be "http" or "session"`)
	}
	return map[string]any{"type": kind, "date": result.Date, "lines": result.Items}, nil
}

// actionTraceGet looks up a trace, first in memory, then on disk.
func (b *Bridge) actionTraceGet(ctx context.Context, data map[string]any) (any, *ActionError) {
	traceID := stringField(data, "traceId")
	file := stringField(data, "file")
	date := stringField(data, "date")
	if traceID == "" && file == "" {
		return nil, errBadRequest("traceId or file is required")
	}

	if traceID != "" {
		if entry, ok := b.traces.Get(traceID); ok {
			return map[string]any{"source": "memory", "traceId": traceID, "trace": entry}, nil
		}
	}
	lookup := b.store.GetTrace(date, file, traceID)
	if lookup == nil {
		return nil, errNotFound("trace not found")
	}
	return map[string]any{
		"source":  "disk",
		"traceId": traceID,
		"date":    lookup.Date,
		"file":    lookup.File,
		"trace":   lookup.Data,
	}, nil
}

func (b *Bridge) actionScenariosList(ctx context.Context, data map[string]any) (any, *ActionError) {
	return map[string]any{"scenarios": scenario.List()}, nil
}

func (b *Bridge) actionScenarioRun(ctx context.Context, data map[string]any) (any, *ActionError) {
	id := stringField(data, "id")
	if id == "" {
		return nil, errBadRequest("id is required")
	}
	sc := scenario.Get(id)
	if sc == nil {
		return nil, errNotFound("Unknown scenario: " + id)
	}
	result := b.runner.Run(ctx, sc)
	return result, nil
}

func (b *Bridge) actionScenariosRunAll(ctx context.Context, data map[string]any) (any, *ActionError) {
	result := b.runner.RunAll(ctx)
	return result, nil
}

func stringField(data map[string]any, key string) string {
	v, _ := data[key].(string)
	return v
}

// intField reads a numeric field that may arrive as a JSON number or a query
// string value.
func intField(data map[string]any, key string, fallback int) int {
	switch v := data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		var n int
		for _, c := range v {
			if c < '0' || c > '9' {
				return fallback
			}
			n = n*10 + int(c-'0')
		}
		if v == "" {
			return fallback
		}
		return n
	default:
		return fallback
	}
}
