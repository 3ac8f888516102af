package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/leonardcser/shmkv/internal/cache"
	"github.com/leonardcser/shmkv/internal/config"
	"github.com/leonardcser/shmkv/internal/logger"
	"github.com/leonardcser/shmkv/internal/sysutil"
	"github.com/leonardcser/shmkv/internal/tools"
)

const daemonBinary = "shmkv-server"

func main() {
	if err := logger.InitFromEnv(); err != nil {
		panic(err)
	}
	defer logger.Close()

	logger.Infof("Starting shmkv MCP server")

	cfg, err := config.Load(os.Getenv("SHMKV_CONFIG"))
	if err != nil {
		logger.Errorf("Failed to load config: %v", err)
		panic(err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		logger.Errorf("Invalid environment: %v", err)
		panic(err)
	}

	if limit, err := sysutil.RaiseFileLimit(cfg.FDLimit); err != nil {
		logger.Warnf("Failed to raise open file limit: %v", err)
	} else {
		logger.Infof("Open file limit is %d", limit)
	}

	store, err := openStore(cfg)
	if err != nil {
		logger.Errorf("Failed to open store: %v", err)
		panic(err)
	}

	s := server.NewMCPServer(
		"shmkv",
		"0.1.0",
		server.WithRecovery(),
		server.WithToolCapabilities(false),
	)
	logger.Infof("Created MCP server instance")

	toolGet := mcp.NewTool("kv-get",
		mcp.WithDescription(multiline(
			"Reads the value stored under a key in the shared-memory store",
			"\nUsage notes:",
			"- Returns an error result when the key is missing or has expired",
			"- Values that are not valid UTF-8 are returned base64-encoded with a \"base64:\" prefix",
		)),
		mcp.WithString("key", mcp.Required(), mcp.Description("The key to read")),
	)
	s.AddTool(toolGet, tools.KVGetHandler(store))

	toolPut := mcp.NewTool("kv-put",
		mcp.WithDescription(multiline(
			"Stores a value under a key, replacing any previous value",
			"\nUsage notes:",
			"- Entries live in shared memory and are visible to every process on the host",
			"- Set ttl_seconds to make the entry expire; omit it to keep the entry until deleted",
		)),
		mcp.WithString("key", mcp.Required(), mcp.Description("The key to write")),
		mcp.WithString("value", mcp.Required(), mcp.Description("The value to store")),
		mcp.WithNumber("ttl_seconds", mcp.Description("Seconds until the entry expires")),
	)
	s.AddTool(toolPut, tools.KVPutHandler(store))

	toolDelete := mcp.NewTool("kv-delete",
		mcp.WithDescription("Deletes a key. Deleting a missing key succeeds."),
		mcp.WithString("key", mcp.Required(), mcp.Description("The key to delete")),
	)
	s.AddTool(toolDelete, tools.KVDeleteHandler(store))

	toolKeys := mcp.NewTool("kv-keys",
		mcp.WithDescription("Lists the live keys in the store, sorted"),
	)
	s.AddTool(toolKeys, tools.KVKeysHandler(store))

	toolPurge := mcp.NewTool("kv-purge",
		mcp.WithDescription("Removes every expired entry and reports how many were reclaimed"),
	)
	s.AddTool(toolPurge, tools.KVPurgeHandler(store))
	logger.Infof("Registered kv tools")

	logger.Infof("Starting MCP server on stdio")
	if err := server.ServeStdio(s); err != nil {
		logger.Errorf("server error: %v", err)
	}
}

// multiline joins lines with newlines for tool descriptions.
func multiline(lines ...string) string { return strings.Join(lines, "\n") }

// openStore opens the engine in-process, or goes through the daemon when
// SHMKV_MCP_DAEMON is set, starting the daemon if it is not running.
func openStore(cfg *config.Config) (cache.Store, error) {
	if os.Getenv("SHMKV_MCP_DAEMON") == "" {
		return cfg.Open(logger.L())
	}

	logger.Infof("Attempting to connect to store daemon at %s", cfg.Socket)
	client := cache.NewClient(cfg.Socket).WithTimeout(time.Duration(cfg.ClientTimeout))
	err := client.Ping()
	if err == nil {
		logger.Infof("Successfully connected to store daemon")
		return client, nil
	}

	logger.Warnf("Failed to connect to store daemon: %v, attempting to start daemon", err)
	if startErr := startDaemon(); startErr != nil {
		logger.Errorf("Failed to start store daemon: %v", startErr)
	} else {
		logger.Infof("Store daemon started successfully")
	}
	// wait for socket to appear
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err = client.Ping(); err == nil {
			logger.Infof("Successfully connected to store daemon")
			return client, nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return nil, err
}

func startDaemon() error {
	// 1) Try the daemon binary next to this executable
	if exePath, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(exePath), daemonBinary)
		if _, statErr := os.Stat(sibling); statErr == nil {
			return spawn(sibling)
		}
	}

	// 2) Try PATH binary
	if path, err := exec.LookPath(daemonBinary); err == nil {
		return spawn(path)
	}

	return exec.ErrNotFound
}

func spawn(path string) error {
	cmd := exec.Command(path)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Env = os.Environ()
	return cmd.Start()
}
