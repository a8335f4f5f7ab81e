package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// DefaultDeployHookEnv names the variable holding the deploy hook URL.
const DefaultDeployHookEnv = "VERCEL_DEPLOY_HOOK_URL"

// DeployHookTool triggers a deployment by POSTing to a pre-configured hook URL.
type DeployHookTool struct {
	EnvVar string
	Client *http.Client

	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// NewDeployHookTool creates a deploy hook tool reading its URL from envVar.
func NewDeployHookTool(envVar string, timeout time.Duration) *DeployHookTool {
	if envVar == "" {
		envVar = DefaultDeployHookEnv
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DeployHookTool{
		EnvVar: envVar,
		Client: &http.Client{Timeout: timeout},
	}
}

func (t *DeployHookTool) Name() string { return "deploy_hook" }

func (t *DeployHookTool) Call(ctx context.Context, args map[string]string) string {
	getenv := t.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	url := getenv(t.EnvVar)
	if url == "" {
		return fmt.Sprintf("Error: %s is not set.", t.EnvVar)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "Error triggering deployment: " + err.Error()
	}
	req.Header.Set("User-Agent", "hackmate/1.0")

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "Error triggering deployment: " + err.Error()
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return "Deployment triggered successfully."
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return "Error triggering deployment: " + strings.TrimSpace(string(body))
}
