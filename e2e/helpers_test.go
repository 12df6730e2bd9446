//go:build e2e

package e2e

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type TestServer struct {
	Addr string
	URL  string
	Cmd  *exec.Cmd
}

func getFreePort(t *testing.T) int {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	require.NoError(t, err)

	l, err := net.ListenTCP("tcp", addr)
	require.NoError(t, err)
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port
}

func startServer(t *testing.T, greeting string) *TestServer {
	addr := fmt.Sprintf("localhost:%d", getFreePort(t))

	cmd := exec.Command(serverBinPath, "-addr", addr, "-greeting", greeting)
	// cmd.Stdout = os.Stdout
	// cmd.Stderr = os.Stderr

	err := cmd.Start()
	require.NoError(t, err)

	// Wait for server to be ready
	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return true
		}
		return false
	}, 5*time.Second, 200*time.Millisecond, "Server failed to start")

	return &TestServer{
		Addr: addr,
		URL:  "ws://" + addr,
		Cmd:  cmd,
	}
}

func (s *TestServer) Stop() {
	if s.Cmd != nil && s.Cmd.Process != nil {
		_ = s.Cmd.Process.Kill()
		_ = s.Cmd.Wait()
	}
}

type outputBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *outputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Client is a running roomchat process with its own state database.
type Client struct {
	Cmd    *exec.Cmd
	Stdin  io.WriteCloser
	Stdout *outputBuffer
	DBPath string
}

func startClient(t *testing.T, server *TestServer, env []string, args ...string) *Client {
	return startClientWithDB(t, server, filepath.Join(t.TempDir(), "roomchat.db"), env, args...)
}

func startClientWithDB(t *testing.T, server *TestServer, dbPath string, env []string, args ...string) *Client {
	cmd := exec.Command(clientBinPath, args...)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("ROOMCHAT_SERVER_URL=%s", server.URL),
		fmt.Sprintf("ROOMCHAT_STATE_DB=%s", dbPath),
	)
	cmd.Env = append(cmd.Env, env...)

	stdin, err := cmd.StdinPipe()
	require.NoError(t, err)

	out := &outputBuffer{}
	cmd.Stdout = out
	cmd.Stderr = os.Stderr

	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		if cmd.ProcessState == nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
		}
	})

	return &Client{Cmd: cmd, Stdin: stdin, Stdout: out, DBPath: dbPath}
}

func (c *Client) Say(t *testing.T, line string) {
	_, err := io.WriteString(c.Stdin, line+"\n")
	require.NoError(t, err)
}

func (c *Client) WaitFor(t *testing.T, text string) {
	require.Eventually(t, func() bool {
		return strings.Contains(c.Stdout.String(), text)
	}, 10*time.Second, 50*time.Millisecond, "Expected %q in output:\n%s", text, c.Stdout.String())
}

func (c *Client) Quit(t *testing.T) {
	c.Say(t, "/quit")
	done := make(chan error, 1)
	go func() { done <- c.Cmd.Wait() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("client did not exit after /quit")
	}
}
