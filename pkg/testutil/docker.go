package testutil

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// DockerContainer represents a Docker container used for testing
type DockerContainer struct {
	ID        string
	Name      string
	HostPort  string
	StartedAt time.Time
}

// Addr returns the host address of the container's published port
func (c *DockerContainer) Addr() string {
	return "localhost:" + c.HostPort
}

// StartRedisContainer starts a throwaway Redis container on hostPort
func StartRedisContainer(ctx context.Context, hostPort string) (*DockerContainer, error) {
	name := fmt.Sprintf("mbocache-redis-test-%d", time.Now().UnixNano())
	cmd := exec.CommandContext(ctx, "docker", "run", "--rm", "-d",
		"--name", name,
		"-p", hostPort+":6379",
		"redis:alpine")

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("failed to start Redis container: %w, output: %s", err, output)
	}

	container := &DockerContainer{
		ID:        strings.TrimSpace(string(output)),
		Name:      name,
		HostPort:  hostPort,
		StartedAt: time.Now(),
	}

	client := redis.NewClient(&redis.Options{Addr: container.Addr()})
	defer client.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	for {
		if err := client.Ping(pingCtx).Err(); err == nil {
			return container, nil
		}
		select {
		case <-pingCtx.Done():
			_ = container.Stop(context.Background())
			return nil, fmt.Errorf("timed out waiting for Redis to be ready")
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// Stop stops and removes the Docker container
func (c *DockerContainer) Stop(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "docker", "rm", "-f", c.ID)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to stop container %s: %w, output: %s", c.ID, err, output)
	}
	return nil
}

// WithRedis runs fn against a local Redis, starting a container when none is
// listening. The test is skipped when neither is available.
func WithRedis(t *testing.T, fn func(redisAddr string)) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	client := redis.NewClient(&redis.Options{Addr: DefaultRedisAddr})
	err := client.Ping(ctx).Err()
	_ = client.Close()
	cancel()
	if err == nil {
		fn(DefaultRedisAddr)
		return
	}

	container, err := StartRedisContainer(context.Background(), "6380")
	if err != nil {
		t.Skip("Skipping test: no Redis available:", err)
		return
	}
	t.Cleanup(func() {
		_ = container.Stop(context.Background())
	})
	fn(container.Addr())
}
