// Package feishu exports transcripts as docx documents attached under a
// Feishu wiki node.
package feishu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"chatbridge/internal/domain"
	"chatbridge/internal/logsink"
	"chatbridge/internal/transport"
)

const (
	defaultBaseURL = "https://open.feishu.cn/open-apis"
	batchSize      = 50
)

// Choreography stages, in execution order.
const (
	StageAuth         = "auth"
	StageResolveSpace = "resolve_space"
	StageCreateDoc    = "create_document"
	StageAttach       = "attach"
	StageWriteContent = "write_content"
)

var quotePattern = regexp.MustCompile(`^["']|["']$`)

// Client drives the Feishu auth, wiki and docx APIs.
type Client struct {
	baseURL    string
	httpClient *http.Client
	sink       logsink.Sink
	now        func() time.Time
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithSink(sink logsink.Sink) Option {
	return func(c *Client) {
		c.sink = sink
	}
}

func withClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{baseURL: defaultBaseURL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	c.baseURL = strings.TrimRight(c.baseURL, "/")
	c.sink = logsink.OrNop(c.sink)
	return c
}

// envelope is the common Feishu reply shape; Data is decoded per call.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type tokenResponse struct {
	Code              int    `json:"code"`
	Msg               string `json:"msg"`
	TenantAccessToken string `json:"tenant_access_token"`
}

type nodeData struct {
	Node struct {
		SpaceID  string `json:"space_id"`
		ObjToken string `json:"obj_token"`
	} `json:"node"`
	Space struct {
		SpaceID string `json:"space_id"`
	} `json:"space"`
}

type documentData struct {
	Document struct {
		DocumentID string `json:"document_id"`
	} `json:"document"`
}

// session carries the tenant token between stages of one export.
type session struct {
	api   *transport.Client
	token string
}

// Export runs auth, space resolution, document creation, wiki attachment and
// content writes strictly in order. The first failing stage ends the export.
func (c *Client) Export(ctx context.Context, job domain.ExportJob) (domain.ExportResult, error) {
	appID := cleanValue(job.Feishu.AppID)
	appSecret := cleanValue(job.Feishu.AppSecret)
	wikiToken := cleanValue(job.Feishu.WikiNodeToken)
	switch {
	case appID == "":
		return domain.ExportResult{}, domain.ConfigError("Feishu App ID is missing")
	case appSecret == "":
		return domain.ExportResult{}, domain.ConfigError("Feishu App Secret is missing")
	case wikiToken == "":
		return domain.ExportResult{}, domain.ConfigError("Feishu Wiki Node Token is missing")
	}

	s := &session{api: transport.New(c.httpClient, c.sink)}
	if err := c.authenticate(ctx, s, appID, appSecret); err != nil {
		return domain.ExportResult{}, err
	}
	spaceID, err := c.resolveSpace(ctx, s, wikiToken)
	if err != nil {
		return domain.ExportResult{}, err
	}

	title := "Chat Export - " + c.now().Format("2006-01-02 15:04:05")
	docID, err := c.createDocument(ctx, s, title)
	if err != nil {
		return domain.ExportResult{}, err
	}
	finalID, err := c.attach(ctx, s, spaceID, wikiToken, docID, title)
	if err != nil {
		return domain.ExportResult{}, err
	}

	blocks := BuildBlocks(title, job.SystemPrompt, job.Transcript)
	if err := c.writeContent(ctx, s, finalID, blocks); err != nil {
		return domain.ExportResult{}, err
	}

	c.sink.Log(logsink.Info, "Feishu export complete", map[string]any{"documentId": finalID, "blocks": len(blocks)})
	return domain.ExportResult{Target: domain.ExportFeishu, DocumentID: finalID, Blocks: len(blocks)}, nil
}

func (c *Client) authenticate(ctx context.Context, s *session, appID, appSecret string) error {
	c.sink.Log(logsink.Info, "Feishu: Requesting tenant access token", map[string]any{"appId": appID})

	var out tokenResponse
	err := s.api.DoJSON(ctx, transport.Request{
		Method:     http.MethodPost,
		URL:        c.baseURL + "/auth/v3/tenant_access_token/internal",
		Body:       map[string]string{"app_id": appID, "app_secret": appSecret},
		LogDetails: map[string]any{"app_id": appID, "app_secret": domain.RedactedKey(appSecret)},
	}, &out)
	if err != nil {
		return stageError(StageAuth, "failed to obtain tenant access token", err)
	}
	if out.Code != 0 {
		return domain.ProtocolError(StageAuth, fmt.Sprintf("failed to obtain tenant access token: %s (code %d)", out.Msg, out.Code))
	}
	if out.TenantAccessToken == "" {
		return domain.ProtocolError(StageAuth, "token response carried no tenant_access_token")
	}
	s.token = out.TenantAccessToken
	return nil
}

func (c *Client) resolveSpace(ctx context.Context, s *session, wikiToken string) (string, error) {
	c.sink.Log(logsink.Info, "Feishu: Resolving wiki space", map[string]any{"nodeToken": wikiToken})

	var data nodeData
	err := c.call(ctx, s, StageResolveSpace, transport.Request{
		Method: http.MethodGet,
		URL:    c.baseURL + "/wiki/v2/spaces/get_node?token=" + url.QueryEscape(wikiToken),
	}, &data)
	if err != nil {
		return "", err
	}
	spaceID := data.Node.SpaceID
	if spaceID == "" {
		spaceID = data.Space.SpaceID
	}
	if spaceID == "" {
		return "", domain.ProtocolError(StageResolveSpace, "could not find space_id for the wiki node; check the node token and app permissions")
	}
	return spaceID, nil
}

func (c *Client) createDocument(ctx context.Context, s *session, title string) (string, error) {
	c.sink.Log(logsink.Info, "Feishu: Creating document", map[string]any{"title": title})

	var data documentData
	err := c.call(ctx, s, StageCreateDoc, transport.Request{
		Method: http.MethodPost,
		URL:    c.baseURL + "/docx/v1/documents",
		Body:   map[string]string{"title": title},
	}, &data)
	if err != nil {
		return "", err
	}
	if data.Document.DocumentID == "" {
		return "", domain.ProtocolError(StageCreateDoc, "create document response carried no document_id")
	}
	return data.Document.DocumentID, nil
}

// attach moves the document under the wiki node and returns the token that
// content writes must address.
func (c *Client) attach(ctx context.Context, s *session, spaceID, parent, docID, title string) (string, error) {
	c.sink.Log(logsink.Info, "Feishu: Moving document into wiki", map[string]any{"spaceId": spaceID, "documentId": docID})

	var data nodeData
	err := c.call(ctx, s, StageAttach, transport.Request{
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/wiki/v2/spaces/%s/nodes", c.baseURL, url.PathEscape(spaceID)),
		Body: map[string]string{
			"parent_node_token": parent,
			"obj_token":         docID,
			"obj_type":          "docx",
			"node_type":         "origin",
			"title":             title,
		},
	}, &data)
	if err != nil {
		return "", err
	}
	if data.Node.ObjToken == "" {
		return "", domain.ProtocolError(StageAttach, "attach response carried no obj_token")
	}
	return data.Node.ObjToken, nil
}

func (c *Client) writeContent(ctx context.Context, s *session, docID string, blocks []Block) error {
	endpoint := fmt.Sprintf("%s/docx/v1/documents/%s/blocks/%s/children", c.baseURL, docID, docID)
	batches := (len(blocks) + batchSize - 1) / batchSize
	for i := 0; i < len(blocks); i += batchSize {
		batch := blocks[i:min(i+batchSize, len(blocks))]
		c.sink.Log(logsink.Request, fmt.Sprintf("Feishu API: Writing Batch %d of %d", i/batchSize+1, batches), map[string]any{"batchSize": len(batch)})

		err := c.call(ctx, s, StageWriteContent, transport.Request{
			Method: http.MethodPost,
			URL:    endpoint,
			Body:   map[string]any{"children": batch},
		}, nil)
		if err != nil {
			return err
		}
	}
	return nil
}

// call issues an authenticated request and unwraps the code/msg/data envelope.
func (c *Client) call(ctx context.Context, s *session, stage string, req transport.Request, data any) error {
	req.Headers = map[string]string{"Authorization": transport.Bearer(s.token)}

	var env envelope
	if err := s.api.DoJSON(ctx, req, &env); err != nil {
		return stageError(stage, "request failed", err)
	}
	if env.Code != 0 {
		return domain.ProtocolError(stage, fmt.Sprintf("%s (code %d)", env.Msg, env.Code))
	}
	if data == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, data); err != nil {
		return &domain.Error{Kind: domain.ErrorProtocol, Stage: stage, Message: "decode response data", Err: err}
	}
	return nil
}

func stageError(stage, msg string, err error) error {
	var se *transport.HTTPStatusError
	if errors.As(err, &se) {
		return &domain.Error{
			Kind:    domain.ErrorTransport,
			Stage:   stage,
			Message: fmt.Sprintf("%s (%d): %s", msg, se.StatusCode, se.Body),
			Err:     se,
		}
	}
	var de *transport.DecodeError
	if errors.As(err, &de) {
		return &domain.Error{Kind: domain.ErrorProtocol, Stage: stage, Message: msg + ": unreadable response", Err: de}
	}
	return &domain.Error{Kind: domain.ErrorTransport, Stage: stage, Message: msg, Err: err}
}

// cleanValue trims whitespace and one pair of wrapping quotes left over from
// copy-pasting credentials.
func cleanValue(s string) string {
	return strings.TrimSpace(quotePattern.ReplaceAllString(strings.TrimSpace(s), ""))
}
