package tools

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/leonardcser/shmkv/internal/cache"
	"github.com/leonardcser/shmkv/internal/engine"
)

// Handler is the signature mcp-go expects for tool handlers.
type Handler = func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

// Values that are not valid UTF-8 are returned with this prefix.
const base64Prefix = "base64:"

// KVGetHandler returns the MCP tool handler for the "kv-get" tool.
func KVGetHandler(store cache.Store) Handler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if ctx.Err() != nil {
			return mcp.NewToolResultError(ctx.Err().Error()), nil
		}
		key, err := req.RequireString("key")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		v, err := store.Get(key)
		if errors.Is(err, engine.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("key %q not found", key)), nil
		}
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(formatValue(v)), nil
	}
}

// KVPutHandler returns the MCP tool handler for the "kv-put" tool.
func KVPutHandler(store cache.Store) Handler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if ctx.Err() != nil {
			return mcp.NewToolResultError(ctx.Err().Error()), nil
		}
		key, err := req.RequireString("key")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		secs := req.GetFloat("ttl_seconds", 0)
		if secs < 0 {
			return mcp.NewToolResultError("ttl_seconds must not be negative"), nil
		}
		ttl := time.Duration(secs * float64(time.Second))

		if err := store.InsertWithTTL(key, []byte(value), ttl); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if ttl > 0 {
			return mcp.NewToolResultText(fmt.Sprintf("stored %q (expires in %s)", key, ttl)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("stored %q", key)), nil
	}
}

// KVDeleteHandler returns the MCP tool handler for the "kv-delete" tool.
func KVDeleteHandler(store cache.Store) Handler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if ctx.Err() != nil {
			return mcp.NewToolResultError(ctx.Err().Error()), nil
		}
		key, err := req.RequireString("key")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := store.Remove(key); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("deleted %q", key)), nil
	}
}

// KVKeysHandler returns the MCP tool handler for the "kv-keys" tool.
func KVKeysHandler(store cache.Store) Handler {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if ctx.Err() != nil {
			return mcp.NewToolResultError(ctx.Err().Error()), nil
		}
		keys, err := store.Keys()
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if len(keys) == 0 {
			return mcp.NewToolResultText("no keys"), nil
		}
		return mcp.NewToolResultText(strings.Join(keys, "\n")), nil
	}
}

// KVPurgeHandler returns the MCP tool handler for the "kv-purge" tool.
func KVPurgeHandler(store cache.Store) Handler {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if ctx.Err() != nil {
			return mcp.NewToolResultError(ctx.Err().Error()), nil
		}
		n, err := store.PurgeExpired()
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("purged %d expired entries", n)), nil
	}
}

func formatValue(v []byte) string {
	if utf8.Valid(v) {
		return string(v)
	}
	return base64Prefix + base64.StdEncoding.EncodeToString(v)
}
