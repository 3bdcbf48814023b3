// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/studio/internal/config"
	"github.com/jeranaias/studio/internal/ollama"
	"github.com/jeranaias/studio/internal/sandbox"
	"github.com/jeranaias/studio/internal/storage"
)

// =============================================================================
// FIXTURE
// =============================================================================

// fakeOllama answers /api/chat with a scripted reply and /api/tags with a
// fixed model list.
type fakeOllama struct {
	*httptest.Server

	mu       sync.Mutex
	reply    string
	requests []ollama.ChatRequest
	pulled   []string
	deleted  []string
}

func newFakeOllama(t *testing.T, reply string) *fakeOllama {
	t.Helper()
	f := &fakeOllama{reply: reply}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req ollama.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.requests = append(f.requests, req)
		reply := f.reply
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		for _, word := range strings.SplitAfter(reply, " ") {
			chunk := map[string]interface{}{
				"model":   req.Model,
				"message": map[string]string{"role": "assistant", "content": word},
				"done":    false,
			}
			enc.Encode(chunk)
		}
		enc.Encode(map[string]interface{}{
			"model":             req.Model,
			"message":           map[string]string{"role": "assistant", "content": ""},
			"done":              true,
			"prompt_eval_count": 12,
			"eval_count":        7,
			"eval_duration":     int64(500 * time.Millisecond),
		})
	})
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"models":[{"name":"deepseek-r1:14b","size":9000000000,"modified_at":"2025-01-02T03:04:05Z","details":{"parameter_size":"14.8B"}},{"name":"llama3.2:latest","size":2000000000,"modified_at":"2025-01-01T00:00:00Z","details":{"parameter_size":"3.2B"}}]}`)
	})
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "Ollama is running")
	})
	mux.HandleFunc("POST /api/pull", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.pulled = append(f.pulled, req.Name)
		f.mu.Unlock()

		enc := json.NewEncoder(w)
		enc.Encode(map[string]interface{}{"status": "pulling manifest"})
		if req.Name == "ghost" {
			enc.Encode(map[string]interface{}{"error": "pull model manifest: file does not exist"})
			return
		}
		enc.Encode(map[string]interface{}{"status": "pulling 6a0746a1ec1a", "total": 400, "completed": 100})
		enc.Encode(map[string]interface{}{"status": "pulling 6a0746a1ec1a", "total": 400, "completed": 400})
		enc.Encode(map[string]interface{}{"status": "verifying sha256 digest"})
		enc.Encode(map[string]interface{}{"status": "success"})
	})
	mux.HandleFunc("DELETE /api/delete", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Name == "missing" {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":"model 'missing' not found"}`)
			return
		}
		f.mu.Lock()
		f.deleted = append(f.deleted, req.Name)
		f.mu.Unlock()
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeOllama) lastRequest(t *testing.T) ollama.ChatRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests, "no chat request received")
	return f.requests[len(f.requests)-1]
}

type env struct {
	home    string
	sandbox string
	ollama  *fakeOllama
}

// newEnv isolates the config dir, sandbox and model server for one test.
func newEnv(t *testing.T, reply string) *env {
	t.Helper()
	e := &env{
		home:    t.TempDir(),
		sandbox: t.TempDir(),
		ollama:  newFakeOllama(t, reply),
	}
	t.Setenv("STUDIO_HOME", e.home)
	t.Setenv("STUDIO_SANDBOX", e.sandbox)
	t.Setenv("STUDIO_OLLAMA_URL", e.ollama.URL)
	for _, key := range []string{"STUDIO_MODEL", "STUDIO_API_KEY", "STUDIO_PORT", "STUDIO_EFFORT", "STUDIO_TAVILY_KEY"} {
		t.Setenv(key, "")
	}
	t.Setenv("NO_COLOR", "1")
	t.Cleanup(config.ResetGlobalForTesting)
	return e
}

type result struct {
	stdout string
	stderr string
	err    error
}

func run(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	err := root.ExecuteContext(context.Background())
	return result{stdout: out.String(), stderr: errOut.String(), err: err}
}

func (e *env) writeFile(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(e.sandbox, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func (e *env) readFile(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(e.sandbox, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func decodeJSON(t *testing.T, s string) JSONResponse {
	t.Helper()
	var resp JSONResponse
	require.NoError(t, json.Unmarshal([]byte(s), &resp), s)
	return resp
}

func (e *env) conversations(t *testing.T) []storage.ConversationMeta {
	t.Helper()
	hist, err := storage.Open(filepath.Join(e.home, "history.db"))
	require.NoError(t, err)
	defer hist.Close()
	metas, err := hist.List(context.Background())
	require.NoError(t, err)
	return metas
}

// =============================================================================
// ROOT
// =============================================================================

func TestRoot_HelpListsCommands(t *testing.T) {
	newEnv(t, "")
	res := run(t, "", "--help")
	require.NoError(t, res.err)
	for _, name := range []string{"chat", "ask", "models", "files", "history", "serve", "config", "signin"} {
		assert.Contains(t, res.stdout, name)
	}
}

func TestRoot_InvalidEffort(t *testing.T) {
	newEnv(t, "")
	res := run(t, "", "--effort", "extreme", "models")
	require.Error(t, res.err)
	assert.Equal(t, ExitUsageError, GetExitCode(res.err))
}

func TestRoot_UnknownCommand(t *testing.T) {
	newEnv(t, "")
	res := run(t, "", "frobnicate")
	require.Error(t, res.err)
}

// =============================================================================
// ASK
// =============================================================================

func TestAsk_StreamsReplyAndSaves(t *testing.T) {
	e := newEnv(t, "The answer is 42.")
	res := run(t, "", "ask", "What is the answer?")
	require.NoError(t, res.err, res.stderr)

	assert.Contains(t, res.stdout, "The answer is 42.")
	assert.Contains(t, res.stderr, "7 tokens")

	req := e.ollama.lastRequest(t)
	assert.Equal(t, ollama.DefaultModel, req.Model)
	require.NotEmpty(t, req.Messages)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "What is the answer?", req.Messages[len(req.Messages)-1].Content)

	metas := e.conversations(t)
	require.Len(t, metas, 1)
	assert.Equal(t, 2, metas[0].MessageCount)
}

func TestAsk_ReadsStdin(t *testing.T) {
	e := newEnv(t, "ok")
	res := run(t, "from stdin\n", "ask", "-")
	require.NoError(t, res.err, res.stderr)
	req := e.ollama.lastRequest(t)
	assert.Contains(t, req.Messages[len(req.Messages)-1].Content, "from stdin")
}

func TestAsk_EmptyQuestion(t *testing.T) {
	newEnv(t, "ok")
	res := run(t, "   \n", "ask")
	require.Error(t, res.err)
	assert.Equal(t, ExitUsageError, GetExitCode(res.err))
}

func TestAsk_NoSave(t *testing.T) {
	e := newEnv(t, "ok")
	res := run(t, "", "ask", "--no-save", "hi")
	require.NoError(t, res.err, res.stderr)
	_, err := os.Stat(filepath.Join(e.home, "history.db"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestAsk_ModelFlag(t *testing.T) {
	e := newEnv(t, "ok")
	res := run(t, "", "-m", "llama3.2", "ask", "hi")
	require.NoError(t, res.err, res.stderr)
	assert.Equal(t, "llama3.2", e.ollama.lastRequest(t).Model)
}

func TestAsk_CriticalFlag(t *testing.T) {
	e := newEnv(t, "ok")
	res := run(t, "", "ask", "--critical", "hi")
	require.NoError(t, res.err, res.stderr)

	req := e.ollama.lastRequest(t)
	require.NotEmpty(t, req.Messages)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "EXHAUSTIVE REVIEW MODE")

	res = run(t, "", "ask", "hi")
	require.NoError(t, res.err, res.stderr)
	assert.NotContains(t, e.ollama.lastRequest(t).Messages[0].Content, "EXHAUSTIVE REVIEW MODE")
}

func TestAsk_ExecutesFileDirectives(t *testing.T) {
	e := newEnv(t, "Saved. [FILE_WRITE: notes/todo.md]\n- buy milk\n[END_FILE_WRITE]")
	res := run(t, "", "ask", "write a todo file")
	require.NoError(t, res.err, res.stderr)

	assert.Equal(t, "- buy milk", strings.TrimSpace(e.readFile(t, "notes/todo.md")))
	assert.Contains(t, res.stderr, "notes/todo.md")
}

func TestAsk_ReadDirectiveInlinesFile(t *testing.T) {
	e := newEnv(t, "Looks fine.")
	e.writeFile(t, "draft.md", "# Draft\nhello")
	res := run(t, "", "ask", "Review @read draft.md")
	require.NoError(t, res.err, res.stderr)

	last := e.ollama.lastRequest(t).Messages
	assert.Contains(t, last[len(last)-1].Content, "# Draft")
	assert.Contains(t, res.stderr, "@read draft.md")
}

func TestAsk_JSON(t *testing.T) {
	newEnv(t, "Hello there")
	res := run(t, "", "--json", "ask", "hi")
	require.NoError(t, res.err, res.stderr)

	resp := decodeJSON(t, res.stdout)
	assert.True(t, resp.Success)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Hello there", data["text"])
	assert.Equal(t, "completed", data["status"])
	assert.EqualValues(t, 7, data["completion_tokens"])
	assert.NotEmpty(t, data["conversation_id"])
}

func TestAsk_Continue(t *testing.T) {
	e := newEnv(t, "first")
	require.NoError(t, run(t, "", "ask", "one").err)
	metas := e.conversations(t)
	require.Len(t, metas, 1)

	e.ollama.mu.Lock()
	e.ollama.reply = "second"
	e.ollama.mu.Unlock()

	res := run(t, "", "ask", "-c", metas[0].ID[:8], "two")
	require.NoError(t, res.err, res.stderr)

	msgs := e.ollama.lastRequest(t).Messages
	var contents []string
	for _, m := range msgs {
		contents = append(contents, m.Content)
	}
	assert.Contains(t, contents, "one")
	assert.Contains(t, contents, "first")

	metas = e.conversations(t)
	require.Len(t, metas, 1)
	assert.Equal(t, 4, metas[0].MessageCount)
}

func TestAsk_OllamaDown(t *testing.T) {
	e := newEnv(t, "")
	e.ollama.Close()
	res := run(t, "", "ask", "--no-save", "hi")
	require.Error(t, res.err)
	assert.Equal(t, ExitNetworkError, GetExitCode(res.err))
}

// =============================================================================
// CHAT
// =============================================================================

func TestChat_ConversationAndSlashCommands(t *testing.T) {
	e := newEnv(t, "Hi!")
	input := strings.Join([]string{
		"/help",
		"hello",
		"/effort deep",
		"/critical on",
		"/status",
		"/history",
		"/bogus",
		"/quit",
	}, "\n")
	res := run(t, input, "chat")
	require.NoError(t, res.err, res.stderr)

	assert.Contains(t, res.stdout, "studio chat")
	assert.Contains(t, res.stdout, "Commands")
	assert.Contains(t, res.stdout, "Hi!")
	assert.Contains(t, res.stdout, "Effort set to deep")
	assert.Contains(t, res.stdout, "Critical mode on")
	assert.Contains(t, res.stdout, "Generations")
	assert.Contains(t, res.stdout, e.ollama.URL+" (running)")
	assert.Contains(t, res.stdout, "hello")
	assert.Contains(t, res.stderr, "unknown command")

	metas := e.conversations(t)
	require.Len(t, metas, 1)
	assert.Equal(t, 2, metas[0].MessageCount)
}

func TestChat_EffortAppliesToNextRequest(t *testing.T) {
	e := newEnv(t, "ok")
	res := run(t, "/effort fast\nhello\n", "chat", "--no-save")
	require.NoError(t, res.err, res.stderr)

	req := e.ollama.lastRequest(t)
	require.NotNil(t, req.Options)
	assert.Equal(t, config.ReasoningEffort("fast").NumCtx(), req.Options.NumCtx)
}

func TestChat_ClearStartsNewConversation(t *testing.T) {
	e := newEnv(t, "ok")
	res := run(t, "one\n/clear\ntwo\n", "chat")
	require.NoError(t, res.err, res.stderr)
	assert.Len(t, e.conversations(t), 2)
}

func TestChat_ModelSwitch(t *testing.T) {
	e := newEnv(t, "ok")
	res := run(t, "/model llama3.2\nhi\n", "chat", "--no-save")
	require.NoError(t, res.err, res.stderr)
	assert.Equal(t, "llama3.2", e.ollama.lastRequest(t).Model)
}

func TestChat_StatusReportsUnreachableOllama(t *testing.T) {
	e := newEnv(t, "ok")
	e.ollama.Close()
	res := run(t, "/status\n", "chat", "--no-save")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "(unreachable)")
}

func TestChat_ModelSwitchShowsCurrentModel(t *testing.T) {
	newEnv(t, "ok")
	res := run(t, "/model qwen3:8b\n/model\n/status\n", "chat", "--no-save")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "Model set to qwen3:8b")
	assert.GreaterOrEqual(t, strings.Count(res.stdout, "qwen3:8b"), 3)
}

func TestChat_FilesCommand(t *testing.T) {
	e := newEnv(t, "ok")
	e.writeFile(t, "a.txt", "x")
	res := run(t, "/files\n", "chat", "--no-save")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "a.txt")
}

func TestChat_Resume(t *testing.T) {
	e := newEnv(t, "remembered")
	require.NoError(t, run(t, "", "ask", "remember this").err)
	id := e.conversations(t)[0].ID

	res := run(t, "and now?\n", "chat", "--resume", id)
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "Resumed")

	var contents []string
	for _, m := range e.ollama.lastRequest(t).Messages {
		contents = append(contents, m.Content)
	}
	assert.Contains(t, contents, "remember this")
}

func TestChat_ResumeUnknown(t *testing.T) {
	newEnv(t, "ok")
	res := run(t, "", "chat", "--resume", "deadbeef")
	require.Error(t, res.err)
	assert.Equal(t, ExitNotFoundError, GetExitCode(res.err))
}

func TestCompleteSlash(t *testing.T) {
	assert.Equal(t, []string{"/clear", "/critical"}, completeSlash("/c"))
	assert.Nil(t, completeSlash("hello"))
}

// =============================================================================
// MODELS
// =============================================================================

func TestModels(t *testing.T) {
	newEnv(t, "")
	res := run(t, "", "models")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "deepseek-r1:14b")
	assert.Contains(t, res.stdout, "14.8B")
	assert.Contains(t, res.stdout, "llama3.2:latest")
}

func TestModels_JSON(t *testing.T) {
	newEnv(t, "")
	res := run(t, "", "--json", "models")
	require.NoError(t, res.err, res.stderr)
	resp := decodeJSON(t, res.stdout)
	models, ok := resp.Data.([]interface{})
	require.True(t, ok)
	assert.Len(t, models, 2)
}

func TestModels_Pull(t *testing.T) {
	e := newEnv(t, "")
	res := run(t, "", "models", "pull", "llama3.2")
	require.NoError(t, res.err, res.stderr)

	assert.Equal(t, []string{"llama3.2"}, e.ollama.pulled)
	assert.Contains(t, res.stdout, "Pulling llama3.2")
	assert.Contains(t, res.stdout, "pulling manifest")
	assert.Equal(t, 1, strings.Count(res.stdout, "pulling 6a0746a1ec1a"), "repeated statuses print once")
	assert.Contains(t, res.stdout, "verifying sha256 digest")
	assert.Contains(t, res.stdout, "pulled llama3.2")
}

func TestModels_PullJSON(t *testing.T) {
	newEnv(t, "")
	res := run(t, "", "--json", "models", "pull", "llama3.2")
	require.NoError(t, res.err, res.stderr)
	resp := decodeJSON(t, res.stdout)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "llama3.2", data["model"])
	assert.Equal(t, "success", data["status"])
	assert.EqualValues(t, 5, data["updates"])
}

func TestModels_PullError(t *testing.T) {
	newEnv(t, "")
	res := run(t, "", "models", "pull", "ghost")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "file does not exist")
	assert.NotContains(t, res.stdout, "pulled ghost")
}

func TestModels_Rm(t *testing.T) {
	e := newEnv(t, "")
	res := run(t, "", "models", "rm", "llama3.2:latest")
	require.NoError(t, res.err, res.stderr)
	assert.Equal(t, []string{"llama3.2:latest"}, e.ollama.deleted)
	assert.Contains(t, res.stdout, "deleted llama3.2:latest")

	res = run(t, "", "models", "rm", "missing")
	require.Error(t, res.err)
	var usage *UsageError
	assert.ErrorAs(t, res.err, &usage)
}

func TestPullPrinter_RedrawsOnTerminal(t *testing.T) {
	var buf bytes.Buffer
	p := newPullPrinter(&buf, true)
	p.update(ollama.PullProgress{Status: "pulling abc", Total: 10, Completed: 5})
	p.update(ollama.PullProgress{Status: "pulling abc", Total: 10, Completed: 10})
	p.update(ollama.PullProgress{Status: "success"})
	p.endLine()

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "\r"))
	assert.Contains(t, out, " 50%")
	assert.Contains(t, out, "100%")
	assert.Contains(t, out, "\n  success\n")
}

func TestRenderProgressBar(t *testing.T) {
	tests := []struct {
		pct  int
		want string
	}{
		{0, "[░░░░]   0%"},
		{50, "[██░░]  50%"},
		{100, "[████] 100%"},
		{150, "[████] 100%"},
		{-1, "[░░░░]   0%"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, renderProgressBar(tt.pct, 4))
	}
}

// =============================================================================
// FILES
// =============================================================================

func TestFiles_WriteCatLs(t *testing.T) {
	e := newEnv(t, "")

	require.NoError(t, run(t, "", "files", "write", "docs/a.md", "hello").err)
	require.NoError(t, run(t, " world", "files", "write", "--append", "docs/a.md", "-").err)
	assert.Equal(t, "hello world", e.readFile(t, "docs/a.md"))

	res := run(t, "", "files", "cat", "docs/a.md")
	require.NoError(t, res.err)
	assert.Equal(t, "hello world\n", res.stdout)

	res = run(t, "", "files", "ls")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "docs/")

	res = run(t, "", "--json", "files", "ls", "docs")
	require.NoError(t, res.err)
	entries, ok := decodeJSON(t, res.stdout).Data.([]interface{})
	require.True(t, ok)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.md", entries[0].(map[string]interface{})["name"])
}

func TestFiles_RejectsEscape(t *testing.T) {
	newEnv(t, "")
	res := run(t, "", "files", "cat", "../../etc/passwd")
	require.Error(t, res.err)
	assert.Equal(t, ExitSandboxError, GetExitCode(res.err))

	res = run(t, "", "files", "write", "../outside.txt", "x")
	require.Error(t, res.err)
	assert.Equal(t, ExitSandboxError, GetExitCode(res.err))
}

func TestFiles_CatMissing(t *testing.T) {
	newEnv(t, "")
	res := run(t, "", "files", "cat", "nope.txt")
	require.Error(t, res.err)
	assert.Equal(t, ExitNotFoundError, GetExitCode(res.err))
}

func TestFiles_MkdirRm(t *testing.T) {
	e := newEnv(t, "")
	require.NoError(t, run(t, "", "files", "mkdir", "a/b").err)
	assert.DirExists(t, filepath.Join(e.sandbox, "a", "b"))

	require.NoError(t, run(t, "", "files", "rm", "a").err)
	assert.NoDirExists(t, filepath.Join(e.sandbox, "a"))
}

func TestFiles_ImportFileAndFolder(t *testing.T) {
	e := newEnv(t, "")
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "one.txt"), []byte("1"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "two.txt"), []byte("2"), 0644))

	res := run(t, "", "files", "import", filepath.Join(src, "one.txt"), "--as", "copied.txt")
	require.NoError(t, res.err, res.stderr)
	assert.Equal(t, "1", e.readFile(t, "copied.txt"))
	assert.FileExists(t, filepath.Join(src, "one.txt"), "source must be left in place")

	res = run(t, "", "files", "import", src, "--as", "project")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "2 file(s)")
	assert.Equal(t, "2", e.readFile(t, "project/sub/two.txt"))
}

func TestFiles_ImportMissingSource(t *testing.T) {
	newEnv(t, "")
	res := run(t, "", "files", "import", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, res.err)
	assert.Equal(t, ExitUsageError, GetExitCode(res.err))
}

func TestFiles_Find(t *testing.T) {
	e := newEnv(t, "")
	e.writeFile(t, "a.md", "")
	e.writeFile(t, "deep/b.md", "")
	e.writeFile(t, "deep/c.txt", "")

	res := run(t, "", "files", "find", "**/*.md")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "a.md")
	assert.Contains(t, res.stdout, "deep/b.md")
	assert.NotContains(t, res.stdout, "c.txt")
}

func TestPrintEntries(t *testing.T) {
	var buf bytes.Buffer
	printEntries(&buf, nil)
	assert.Contains(t, buf.String(), "(empty)")

	buf.Reset()
	printEntries(&buf, []sandbox.Entry{
		{Name: "dir", Kind: sandbox.KindDirectory, Modified: time.Now()},
		{Name: "file.txt", Kind: sandbox.KindFile, Size: 2048, Modified: time.Now()},
	})
	assert.Contains(t, buf.String(), "dir/")
	assert.Contains(t, buf.String(), "2.00 KB")
}

// =============================================================================
// HISTORY
// =============================================================================

func TestHistory_Lifecycle(t *testing.T) {
	e := newEnv(t, "Paris.")
	require.NoError(t, run(t, "", "ask", "capital of France").err)
	require.NoError(t, run(t, "", "ask", "something else").err)
	metas := e.conversations(t)
	require.Len(t, metas, 2)

	res := run(t, "", "history", "ls")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, metas[0].ID[:8])

	res = run(t, "", "history", "ls", "--search", "France")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "France")
	assert.NotContains(t, res.stdout, "something else")

	var target string
	for _, m := range metas {
		if strings.Contains(m.Title+m.Preview, "France") {
			target = m.ID
		}
	}
	require.NotEmpty(t, target)

	res = run(t, "", "history", "show", target)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Paris.")

	out := filepath.Join(t.TempDir(), "export.md")
	require.NoError(t, run(t, "", "history", "export", target, "-o", out).err)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "capital of France")

	require.NoError(t, run(t, "", "history", "rm", target).err)
	assert.Len(t, e.conversations(t), 1)

	require.NoError(t, run(t, "", "history", "rm", "--all").err)
	assert.Empty(t, e.conversations(t))
}

func TestHistory_ExportFormats(t *testing.T) {
	e := newEnv(t, "Written. [FILE_WRITE: a.txt]\nx\n[END_FILE_WRITE]")
	require.NoError(t, run(t, "", "ask", "make a file").err)
	id := e.conversations(t)[0].ID

	dir := t.TempDir()
	res := run(t, "", "history", "export", id, "--format", "html", "-o", dir)
	require.NoError(t, res.err, res.stderr)
	matches, err := filepath.Glob(filepath.Join(dir, "conversation_*.html"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "FILE_WRITE: a.txt")

	res = run(t, "", "history", "export", id, "-f", "json")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, `"command_results"`)

	res = run(t, "", "history", "export", id, "-f", "pdf")
	require.Error(t, res.err)
	assert.Equal(t, ExitUsageError, GetExitCode(res.err))
}

func TestHistory_RmArgs(t *testing.T) {
	newEnv(t, "")
	res := run(t, "", "history", "rm")
	require.Error(t, res.err)
	assert.Equal(t, ExitUsageError, GetExitCode(res.err))

	res = run(t, "", "history", "rm", "abc", "--all")
	require.Error(t, res.err)
}

func TestHistory_ShowMissing(t *testing.T) {
	newEnv(t, "")
	res := run(t, "", "history", "show", "nope")
	require.Error(t, res.err)
	assert.Equal(t, ExitNotFoundError, GetExitCode(res.err))
}

// =============================================================================
// CONFIG
// =============================================================================

func TestConfig_InitSetGet(t *testing.T) {
	e := newEnv(t, "")

	res := run(t, "", "config", "init")
	require.NoError(t, res.err, res.stderr)
	assert.FileExists(t, filepath.Join(e.home, "config.toml"))

	res = run(t, "", "config", "init")
	require.Error(t, res.err, "second init without --force must fail")
	require.NoError(t, run(t, "", "config", "init", "--force").err)

	require.NoError(t, run(t, "", "config", "set", "chat.context_size", "12").err)
	res = run(t, "", "config", "get", "chat.context_size")
	require.NoError(t, res.err)
	assert.Equal(t, "12", strings.TrimSpace(res.stdout))

	cfg, err := config.LoadFromPath(filepath.Join(e.home, "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Chat.ContextSize)
}

func TestConfig_SetInvalid(t *testing.T) {
	newEnv(t, "")
	res := run(t, "", "config", "set", "no.such.key", "1")
	require.Error(t, res.err)
	assert.Equal(t, ExitUsageError, GetExitCode(res.err))

	res = run(t, "", "config", "set", "chat.reasoning_effort", "extreme")
	require.Error(t, res.err)
	assert.Equal(t, ExitUsageError, GetExitCode(res.err))
}

func TestConfig_MasksSecrets(t *testing.T) {
	newEnv(t, "")
	t.Setenv("STUDIO_API_KEY", "sk-verysecretvalue")

	res := run(t, "", "config", "get", "ollama.api_key")
	require.NoError(t, res.err)
	assert.NotContains(t, res.stdout, "verysecret")

	res = run(t, "", "config", "show")
	require.NoError(t, res.err)
	assert.NotContains(t, res.stdout, "verysecret")
	assert.Contains(t, res.stdout, "[ollama]")
}

func TestConfig_Path(t *testing.T) {
	e := newEnv(t, "")
	res := run(t, "", "config", "path")
	require.NoError(t, res.err)
	assert.Equal(t, filepath.Join(e.home, "config.toml"), strings.TrimSpace(res.stdout))
}

// =============================================================================
// SIGNIN
// =============================================================================

func TestSignin(t *testing.T) {
	newEnv(t, "")
	orig := signinRunner
	t.Cleanup(func() { signinRunner = orig })

	signinRunner = func(ctx context.Context) (string, error) {
		return "Visit https://ollama.com/connect?key=abc to sign in", errors.New("exit status 1")
	}
	res := run(t, "", "signin")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "https://ollama.com/connect?key=abc")

	signinRunner = func(ctx context.Context) (string, error) {
		return "already signed in", nil
	}
	res = run(t, "", "signin")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "no authentication URL")
}

// =============================================================================
// ERRORS AND HELPERS
// =============================================================================

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"usage", usageError("x", "y", "z"), ExitUsageError},
		{"config", config.ValidateErrors{{Field: "f", Message: "m"}}, ExitConfigError},
		{"conversation", fmt.Errorf("load: %w", storage.ErrConversationNotFound), ExitNotFoundError},
		{"sandbox missing", sandbox.ErrNotFound, ExitNotFoundError},
		{"sandbox rejected", sandbox.ErrPathRejected, ExitSandboxError},
		{"ollama down", ollama.ErrNotRunning, ExitNetworkError},
		{"ollama timeout", ollama.ErrTimeout, ExitTimeoutError},
		{"other", errors.New("boom"), ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestDisplayError(t *testing.T) {
	var buf bytes.Buffer
	DisplayError(&buf, ollama.ErrNotRunning, false)
	assert.Contains(t, buf.String(), "[ERROR]")
	assert.Contains(t, buf.String(), "ollama serve")

	buf.Reset()
	DisplayError(&buf, errors.New("boom"), true)
	resp := decodeJSON(t, buf.String())
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "boom", *resp.Error)
}

func TestUsageError(t *testing.T) {
	err := &UsageError{Field: "effort", Value: "x", Reason: "bad", Example: "--effort deep"}
	assert.Equal(t, "invalid effort: bad (got: x)\nExample: --effort deep", err.Error())
}

func TestParseOnOff(t *testing.T) {
	v, err := parseOnOff("", true)
	require.NoError(t, err)
	assert.False(t, v)

	v, err = parseOnOff("ON", false)
	require.NoError(t, err)
	assert.True(t, v)

	_, err = parseOnOff("maybe", false)
	assert.Error(t, err)
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "just now", formatAge(now.Add(-10*time.Second), now))
	assert.Equal(t, "5m ago", formatAge(now.Add(-5*time.Minute), now))
	assert.Equal(t, "3h ago", formatAge(now.Add(-3*time.Hour), now))
	assert.Equal(t, "2d ago", formatAge(now.Add(-49*time.Hour), now))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.50 KB", formatBytes(1536))
	assert.Equal(t, "2.00 MB", formatBytes(2*1024*1024))
}

func TestHighlightFile(t *testing.T) {
	out := highlightFile("main.go", "package main\n")
	assert.Contains(t, out, "package")
	assert.Contains(t, out, "\x1b[", "Go source should be colourised")
}

func TestRenderMarkdown(t *testing.T) {
	out := renderMarkdown("# Title\n\nbody text")
	assert.Contains(t, out, "Title")
	assert.Contains(t, out, "body text")
}
