package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatbridge/internal/domain"
)

type recordedCall struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   map[string]any
}

// fakeFeishu answers each endpoint from a canned reply; a missing reply
// means the default success body.
type fakeFeishu struct {
	mu      sync.Mutex
	calls   []recordedCall
	replies map[string]string
	status  map[string]int
}

const (
	pathToken    = "/open-apis/auth/v3/tenant_access_token/internal"
	pathGetNode  = "/open-apis/wiki/v2/spaces/get_node"
	pathCreate   = "/open-apis/docx/v1/documents"
	pathAttach   = "/open-apis/wiki/v2/spaces/space-1/nodes"
	pathChildren = "/open-apis/docx/v1/documents/wiki-doc/blocks/wiki-doc/children"
)

var defaultReplies = map[string]string{
	pathToken:    `{"code":0,"msg":"ok","tenant_access_token":"t-abc","expire":7200}`,
	pathGetNode:  `{"code":0,"data":{"node":{"space_id":"space-1","node_token":"wik-1"}}}`,
	pathCreate:   `{"code":0,"data":{"document":{"document_id":"doc-1","title":"x"}}}`,
	pathAttach:   `{"code":0,"data":{"node":{"obj_token":"wiki-doc","node_token":"wik-2"}}}`,
	pathChildren: `{"code":0,"data":{}}`,
}

func (f *fakeFeishu) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var body map[string]any
		if len(raw) > 0 {
			require.NoError(t, json.Unmarshal(raw, &body))
		}

		f.mu.Lock()
		f.calls = append(f.calls, recordedCall{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Auth:   r.Header.Get("Authorization"),
			Body:   body,
		})
		reply, ok := f.replies[r.URL.Path]
		status := f.status[r.URL.Path]
		f.mu.Unlock()

		if !ok {
			reply, ok = defaultReplies[r.URL.Path]
		}
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if status != 0 {
			w.WriteHeader(status)
		}
		_, _ = w.Write([]byte(reply))
	}
}

func (f *fakeFeishu) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Path
	}
	return out
}

func (f *fakeFeishu) callsTo(path string) []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedCall
	for _, c := range f.calls {
		if c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

func newTestClient(t *testing.T, fake *fakeFeishu) *Client {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return NewClient(
		WithBaseURL(srv.URL+"/open-apis"),
		WithHTTPClient(srv.Client()),
		withClock(func() time.Time { return fixed }),
	)
}

func job(prompt string, msgs ...domain.Message) domain.ExportJob {
	return domain.NewExportJob(domain.ExportFeishu, domain.NotionCredentials{},
		domain.FeishuCredentials{AppID: "cli_1", AppSecret: "sec", WikiNodeToken: "wik-1"},
		msgs, prompt)
}

func TestExportRunsStagesInOrder(t *testing.T) {
	fake := &fakeFeishu{}
	c := newTestClient(t, fake)

	res, err := c.Export(context.Background(), job("Be kind.",
		domain.Message{Role: domain.RoleUser, Content: "hi"},
		domain.Message{Role: domain.RoleAssistant, Content: "hello"},
	))
	require.NoError(t, err)
	require.Equal(t, "wiki-doc", res.DocumentID)
	require.Equal(t, domain.ExportFeishu, res.Target)
	require.Equal(t, []string{pathToken, pathGetNode, pathCreate, pathAttach, pathChildren}, fake.paths())

	token := fake.callsTo(pathToken)[0]
	require.Equal(t, map[string]any{"app_id": "cli_1", "app_secret": "sec"}, token.Body)
	require.Empty(t, token.Auth)

	node := fake.callsTo(pathGetNode)[0]
	require.Equal(t, "token=wik-1", node.Query)
	require.Equal(t, "Bearer t-abc", node.Auth)

	attach := fake.callsTo(pathAttach)[0]
	require.Equal(t, "wik-1", attach.Body["parent_node_token"])
	require.Equal(t, "doc-1", attach.Body["obj_token"])
	require.Equal(t, "docx", attach.Body["obj_type"])
	require.Equal(t, "origin", attach.Body["node_type"])
	require.Equal(t, "Chat Export - 2026-01-02 03:04:05", attach.Body["title"])
}

func TestAuthFailureStopsBeforeAnyWrite(t *testing.T) {
	for name, fake := range map[string]*fakeFeishu{
		"non-zero code": {replies: map[string]string{pathToken: `{"code":10003,"msg":"invalid param"}`}},
		"http error": {
			replies: map[string]string{pathToken: `{"code":99991663,"msg":"app secret invalid"}`},
			status:  map[string]int{pathToken: http.StatusBadRequest},
		},
	} {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, fake)
			_, err := c.Export(context.Background(), job("", domain.Message{Role: domain.RoleUser, Content: "hi"}))
			require.Error(t, err)
			require.Equal(t, StageAuth, domain.StageOf(err))
			require.True(t, strings.HasPrefix(err.Error(), "auth: "))
			require.Equal(t, []string{pathToken}, fake.paths())
		})
	}
}

func TestUnreadableReplyIsProtocolError(t *testing.T) {
	for stage, fake := range map[string]*fakeFeishu{
		StageAuth:         {replies: map[string]string{pathToken: `not-json`}},
		StageResolveSpace: {replies: map[string]string{pathGetNode: `<html>gateway</html>`}},
	} {
		t.Run(stage, func(t *testing.T) {
			c := newTestClient(t, fake)
			_, err := c.Export(context.Background(), job("", domain.Message{Role: domain.RoleUser, Content: "hi"}))
			require.Error(t, err)
			kind, _ := domain.KindOf(err)
			require.Equal(t, domain.ErrorProtocol, kind)
			require.Equal(t, stage, domain.StageOf(err))
			require.Empty(t, fake.callsTo(pathCreate))
		})
	}
}

func TestSpaceIDFallsBackToSpaceObject(t *testing.T) {
	fake := &fakeFeishu{replies: map[string]string{
		pathGetNode: `{"code":0,"data":{"node":{},"space":{"space_id":"space-1"}}}`,
	}}
	c := newTestClient(t, fake)

	_, err := c.Export(context.Background(), job("", domain.Message{Role: domain.RoleUser, Content: "hi"}))
	require.NoError(t, err)
	require.Len(t, fake.callsTo(pathAttach), 1)
}

func TestMissingSpaceIDFailsResolveStage(t *testing.T) {
	fake := &fakeFeishu{replies: map[string]string{pathGetNode: `{"code":0,"data":{"node":{}}}`}}
	c := newTestClient(t, fake)

	_, err := c.Export(context.Background(), job("", domain.Message{Role: domain.RoleUser, Content: "hi"}))
	require.Equal(t, StageResolveSpace, domain.StageOf(err))
	kind, _ := domain.KindOf(err)
	require.Equal(t, domain.ErrorProtocol, kind)
	require.Equal(t, []string{pathToken, pathGetNode}, fake.paths())
}

func TestAttachFailureNamesStage(t *testing.T) {
	fake := &fakeFeishu{replies: map[string]string{pathAttach: `{"code":131006,"msg":"permission denied"}`}}
	c := newTestClient(t, fake)

	_, err := c.Export(context.Background(), job("", domain.Message{Role: domain.RoleUser, Content: "hi"}))
	require.Equal(t, StageAttach, domain.StageOf(err))
	require.ErrorContains(t, err, "permission denied")
	require.Empty(t, fake.callsTo(pathChildren))
}

func TestAttachWithoutObjTokenStopsBeforeWrites(t *testing.T) {
	fake := &fakeFeishu{replies: map[string]string{
		pathAttach: `{"code":0,"data":{"node":{"node_token":"wik-2"}}}`,
	}}
	c := newTestClient(t, fake)

	res, err := c.Export(context.Background(), job("", domain.Message{Role: domain.RoleUser, Content: "hi"}))
	require.Error(t, err)
	require.Empty(t, res.DocumentID)
	require.Equal(t, StageAttach, domain.StageOf(err))
	kind, _ := domain.KindOf(err)
	require.Equal(t, domain.ErrorProtocol, kind)
	require.Empty(t, fake.callsTo(pathChildren))
	require.Empty(t, fake.callsTo("/open-apis/docx/v1/documents/doc-1/blocks/doc-1/children"))
}

func TestContentIsWrittenInBatches(t *testing.T) {
	fake := &fakeFeishu{}
	c := newTestClient(t, fake)

	// heading1 + 30 messages * (heading, text, spacer) = 91 blocks.
	msgs := make([]domain.Message, 30)
	for i := range msgs {
		msgs[i] = domain.Message{Role: domain.RoleAssistant, Content: fmt.Sprintf("reply %d", i)}
	}
	res, err := c.Export(context.Background(), job("", msgs...))
	require.NoError(t, err)
	require.Equal(t, 91, res.Blocks)

	writes := fake.callsTo(pathChildren)
	require.Len(t, writes, 2)
	require.Len(t, writes[0].Body["children"], 50)
	require.Len(t, writes[1].Body["children"], 41)
}

func TestWriteFailureNamesStage(t *testing.T) {
	fake := &fakeFeishu{replies: map[string]string{pathChildren: `{"code":1770001,"msg":"invalid param"}`}}
	c := newTestClient(t, fake)

	_, err := c.Export(context.Background(), job("", domain.Message{Role: domain.RoleUser, Content: "hi"}))
	require.Equal(t, StageWriteContent, domain.StageOf(err))
	require.Len(t, fake.callsTo(pathChildren), 1)
}

func TestCredentialsAreValidatedAndUnquoted(t *testing.T) {
	fake := &fakeFeishu{}
	c := newTestClient(t, fake)

	j := job("")
	j.Feishu.WikiNodeToken = `""`
	_, err := c.Export(context.Background(), j)
	kind, _ := domain.KindOf(err)
	require.Equal(t, domain.ErrorConfiguration, kind)
	require.ErrorContains(t, err, "Wiki Node Token")
	require.Empty(t, fake.paths())

	j = job("")
	j.Feishu.AppID = ` "cli_1" `
	j.Feishu.WikiNodeToken = `'wik-1'`
	_, err = c.Export(context.Background(), j)
	require.NoError(t, err)
	require.Equal(t, "cli_1", fake.callsTo(pathToken)[0].Body["app_id"])
	require.Equal(t, "token=wik-1", fake.callsTo(pathGetNode)[0].Query)
}

func TestSystemPromptRoundTrips(t *testing.T) {
	prompt := "Use {tone}\ntone.\n  Keep whitespace."
	blocks := BuildBlocks("Title", prompt, nil)
	require.Len(t, blocks, 4)
	require.Equal(t, blockHeading1, blocks[0].BlockType)
	require.Equal(t, "⚙️ System Prompt", blocks[1].PlainText())
	require.Equal(t, prompt, blocks[2].PlainText())
	require.Equal(t, " ", blocks[3].PlainText())
}

func TestMessageLayout(t *testing.T) {
	blocks := BuildBlocks("Title", "", []domain.Message{
		{Role: domain.RoleUser, Content: "  ", Attachments: []domain.Attachment{{Name: "a.png"}}},
		{Role: domain.RoleAssistant, Content: "answer"},
	})
	var got []string
	for _, b := range blocks {
		got = append(got, b.PlainText())
	}
	require.Equal(t, []string{
		"Title",
		"👤 User", "[Attachments: a.png]", " ",
		"🤖 Assistant", "answer", " ",
	}, got)
	require.True(t, blocks[2].Text.Elements[0].TextRun.Style.Italic)
	require.True(t, blocks[1].Heading3.Elements[0].TextRun.Style.Bold)
	require.True(t, blocks[0].Heading1.Elements[0].TextRun.Style.Bold)
}
