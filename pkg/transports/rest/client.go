package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/openfroyo/cfgport/pkg/engine"
	"github.com/openfroyo/cfgport/pkg/telemetry"
)

// Error codes carried by NetworkError.Code.
const (
	CodeBadRequest  = "ERR_BAD_REQUEST"
	CodeBadResponse = "ERR_BAD_RESPONSE"
	CodeNetwork     = "ERR_NETWORK"
)

// maxErrorBody bounds how much of an unstructured error body is kept.
const maxErrorBody = 512

// Client implements engine.Target over the REST API of one deployment.
type Client struct {
	conn       engine.Connection
	base       string
	httpClient *http.Client
	pageSize   int
	userAgent  string
}

var _ engine.Target = (*Client)(nil)

// NewClient creates a client for conn. A nil cfg means DefaultConfig.
func NewClient(conn engine.Connection, cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	u, err := url.Parse(conn.Host)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid host URL: %q", conn.Host)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		conn:       conn,
		base:       strings.TrimRight(conn.Host, "/"),
		httpClient: hc,
		pageSize:   cfg.PageSize,
		userAgent:  cfg.UserAgent,
	}, nil
}

// Connection returns the connection the client talks to.
func (c *Client) Connection() engine.Connection {
	return c.conn
}

type request struct {
	method     string
	path       string
	query      url.Values
	header     http.Header
	body       any
	entityType engine.EntityType
}

type response struct {
	status int
	header http.Header
	body   engine.Object
}

type errorBody struct {
	Error            string `json:"error"`
	Reason           string `json:"reason"`
	Message          string `json:"message"`
	Detail           string `json:"detail"`
	ErrorDescription string `json:"error_description"`
}

func (c *Client) do(ctx context.Context, req request) (*response, error) {
	target := c.base + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if v, ok := apiVersions[req.entityType]; ok {
		httpReq.Header.Set("Accept-API-Version", v)
	}
	if c.conn.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.conn.Token)
	}
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	for k, vs := range req.header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	metrics := telemetry.MetricsFromContext(ctx)
	logger := telemetry.FromContext(ctx)
	timer := telemetry.NewTimer()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.RecordHTTPRequest(req.method, 0, timer.Duration())
		return nil, &engine.NetworkError{
			URL:     target,
			Method:  req.method,
			Code:    CodeNetwork,
			Message: err.Error(),
			Err:     err,
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	metrics.RecordHTTPRequest(req.method, resp.StatusCode, timer.Duration())
	logger.WithFields(map[string]interface{}{
		"method": req.method,
		"url":    target,
		"status": resp.StatusCode,
	}).Trace("http request")
	if err != nil {
		return nil, &engine.NetworkError{
			URL:     target,
			Method:  req.method,
			Status:  resp.StatusCode,
			Code:    CodeNetwork,
			Message: err.Error(),
			Err:     err,
		}
	}

	if resp.StatusCode >= 300 {
		return nil, newNetworkError(target, req.method, resp.StatusCode, data)
	}

	out := &response{status: resp.StatusCode, header: resp.Header}
	if len(bytes.TrimSpace(data)) > 0 {
		obj, err := engine.DecodeObject(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode response from %s: %w", target, err)
		}
		out.body = obj
	}
	return out, nil
}

func newNetworkError(target, method string, status int, data []byte) *engine.NetworkError {
	ne := &engine.NetworkError{
		URL:    target,
		Method: method,
		Status: status,
		Code:   CodeBadRequest,
	}
	if status >= 500 {
		ne.Code = CodeBadResponse
	}

	var eb errorBody
	// partial bodies still fill what they can
	_ = json.Unmarshal(data, &eb)
	ne.ErrorText = eb.Error
	ne.Reason = eb.Reason
	ne.Message = eb.Message
	ne.Detail = eb.Detail
	ne.Description = eb.ErrorDescription

	if eb == (errorBody{}) {
		text := strings.TrimSpace(string(data))
		if len(text) > maxErrorBody {
			cut := maxErrorBody
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			text = text[:cut]
		}
		ne.Message = text
	}
	return ne
}

func toObject(v any) (engine.Object, bool) {
	switch o := v.(type) {
	case engine.Object:
		return o, true
	case map[string]any:
		return engine.Object(o), true
	default:
		return nil, false
	}
}

// skeleton builds a skeleton from a response object. Scoped entities get a
// _type from the subtype when the server omitted it; an ETag fills a missing _rev.
func skeleton(t engine.EntityType, subtype string, raw any, etag string) (engine.Skeleton, error) {
	obj, ok := toObject(raw)
	if !ok {
		return engine.Skeleton{}, fmt.Errorf("unexpected %s representation: %T", t, raw)
	}
	if t.Scoped() && subtype != "" && obj.Map("_type") == nil {
		obj["_type"] = map[string]any{"_id": subtype}
	}
	if etag != "" && obj.String("_rev") == "" {
		obj["_rev"] = strings.Trim(etag, `"`)
	}
	return engine.NewSkeleton(t, obj)
}

// List enumerates the entities of a type, following paged result cookies.
// Secret stores without a store type are listed across all store types.
func (c *Client) List(ctx context.Context, t engine.EntityType, scope engine.Scope) iter.Seq2[engine.Skeleton, error] {
	return func(yield func(engine.Skeleton, error) bool) {
		if t == engine.TypeSecretStore && scope.Subtype == "" {
			c.listSecretStores(ctx, scope, yield)
			return
		}

		path, err := c.collectionPath(t, scope)
		if err != nil {
			yield(engine.Skeleton{}, err)
			return
		}

		cookie := ""
		for {
			q := url.Values{"_queryFilter": {"true"}}
			if c.pageSize > 0 {
				q.Set("_pageSize", strconv.Itoa(c.pageSize))
			}
			if cookie != "" {
				q.Set("_pagedResultsCookie", cookie)
			}
			resp, err := c.do(ctx, request{method: http.MethodGet, path: path, query: q, entityType: t})
			if err != nil {
				yield(engine.Skeleton{}, err)
				return
			}
			for _, item := range resp.body.Slice("result") {
				s, err := skeleton(t, scope.Subtype, item, "")
				if err != nil {
					yield(engine.Skeleton{}, err)
					return
				}
				if !yield(s, nil) {
					return
				}
			}
			cookie = resp.body.String("pagedResultsCookie")
			if cookie == "" {
				return
			}
		}
	}
}

func (c *Client) listSecretStores(ctx context.Context, scope engine.Scope, yield func(engine.Skeleton, error) bool) {
	resp, err := c.do(ctx, request{
		method:     http.MethodPost,
		path:       realmPath(c.realm(scope)) + secretStoresPath,
		query:      url.Values{"_action": {"nextdescendents"}},
		entityType: engine.TypeSecretStore,
	})
	if err != nil {
		yield(engine.Skeleton{}, err)
		return
	}
	for _, item := range resp.body.Slice("result") {
		s, err := skeleton(engine.TypeSecretStore, "", item, "")
		if err != nil {
			yield(engine.Skeleton{}, err)
			return
		}
		if !yield(s, nil) {
			return
		}
	}
}

// Get fetches one entity.
func (c *Client) Get(ctx context.Context, t engine.EntityType, scope engine.Scope, id string) (engine.Skeleton, error) {
	path, err := c.entityPath(t, scope, id)
	if err != nil {
		return engine.Skeleton{}, err
	}
	resp, err := c.do(ctx, request{method: http.MethodGet, path: path, entityType: t})
	if err != nil {
		if engine.IsNotFound(err) {
			return engine.Skeleton{}, engine.NewNotFoundError(t, id, err)
		}
		return engine.Skeleton{}, err
	}
	return skeleton(t, scope.Subtype, resp.body, resp.header.Get("ETag"))
}

// Find fetches one entity, returning nil when it does not exist.
func (c *Client) Find(ctx context.Context, t engine.EntityType, scope engine.Scope, id string) (*engine.Skeleton, error) {
	s, err := c.Get(ctx, t, scope, id)
	if engine.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// NodeTypes returns the ids of every node type the deployment knows.
func (c *Client) NodeTypes(ctx context.Context, scope engine.Scope) ([]string, error) {
	resp, err := c.do(ctx, request{
		method:     http.MethodPost,
		path:       realmPath(c.realm(scope)) + nodesPath,
		query:      url.Values{"_action": {"getAllTypes"}},
		entityType: engine.TypeNode,
	})
	if err != nil {
		return nil, err
	}
	var types []string
	for _, item := range resp.body.Slice("result") {
		obj, ok := toObject(item)
		if !ok {
			continue
		}
		if id := obj.String("_id"); id != "" {
			types = append(types, id)
		}
	}
	return types, nil
}

// ListSubresources returns the mappings of a secret store. Other entity
// types have no sub-resources.
func (c *Client) ListSubresources(ctx context.Context, parent engine.Skeleton, scope engine.Scope) ([]engine.Subresource, error) {
	if parent.Type != engine.TypeSecretStore {
		return nil, nil
	}
	if scope.Subtype == "" {
		scope.Subtype = parent.Subtype()
	}
	path, err := c.entityPath(engine.TypeSecretStore, scope, parent.ID)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, request{
		method:     http.MethodGet,
		path:       path + "/mappings",
		query:      url.Values{"_queryFilter": {"true"}},
		entityType: engine.TypeSecretStore,
	})
	if err != nil {
		return nil, err
	}

	var subs []engine.Subresource
	for _, item := range resp.body.Slice("result") {
		obj, ok := toObject(item)
		if !ok {
			continue
		}
		delete(obj, "_rev")
		id := obj.String("_id")
		if id == "" {
			id = obj.String("secretId")
		}
		subs = append(subs, engine.Subresource{Kind: "mappings", ID: id, Object: obj})
	}
	return subs, nil
}

// Create creates an entity, refusing to overwrite an existing id.
func (c *Client) Create(ctx context.Context, s engine.Skeleton, scope engine.Scope) (engine.Skeleton, error) {
	created, err := c.put(ctx, s, scope, http.Header{"If-None-Match": {"*"}})
	if err == nil {
		return created, nil
	}
	var ne *engine.NetworkError
	if !errors.As(err, &ne) {
		return engine.Skeleton{}, err
	}
	switch ne.Status {
	case http.StatusPreconditionFailed:
		return engine.Skeleton{}, engine.NewIDConflictError(s.Type, s.ID, err)
	case http.StatusConflict:
		return engine.Skeleton{}, engine.NewNameConflictError(s.Type, s.DisplayName(), err)
	default:
		return engine.Skeleton{}, err
	}
}

// Update overwrites an entity, guarded by its revision when known.
func (c *Client) Update(ctx context.Context, s engine.Skeleton, scope engine.Scope) (engine.Skeleton, error) {
	rev := s.Revision
	if rev == "" {
		rev = "*"
	}
	return c.put(ctx, s, scope, http.Header{"If-Match": {rev}})
}

func (c *Client) put(ctx context.Context, s engine.Skeleton, scope engine.Scope, header http.Header) (engine.Skeleton, error) {
	if scope.Subtype == "" {
		scope.Subtype = s.Subtype()
	}
	path, err := c.entityPath(s.Type, scope, s.ID)
	if err != nil {
		return engine.Skeleton{}, err
	}
	body := s.Object()
	delete(body, "_rev")

	resp, err := c.do(ctx, request{
		method:     http.MethodPut,
		path:       path,
		header:     header,
		body:       body,
		entityType: s.Type,
	})
	if err != nil {
		return engine.Skeleton{}, err
	}
	if resp.body == nil {
		out := s.Clone()
		out.Revision = strings.Trim(resp.header.Get("ETag"), `"`)
		return out, nil
	}
	return skeleton(s.Type, scope.Subtype, resp.body, resp.header.Get("ETag"))
}

// Delete removes an entity.
func (c *Client) Delete(ctx context.Context, t engine.EntityType, scope engine.Scope, id string) error {
	path, err := c.entityPath(t, scope, id)
	if err != nil {
		return err
	}
	if _, err := c.do(ctx, request{method: http.MethodDelete, path: path, entityType: t}); err != nil {
		if engine.IsNotFound(err) {
			return engine.NewNotFoundError(t, id, err)
		}
		return err
	}
	return nil
}

// PutSubresource creates or overwrites a child of an entity.
func (c *Client) PutSubresource(ctx context.Context, parent engine.Skeleton, scope engine.Scope, sub engine.Subresource) error {
	if scope.Subtype == "" {
		scope.Subtype = parent.Subtype()
	}
	path, err := c.entityPath(parent.Type, scope, parent.ID)
	if err != nil {
		return err
	}
	body := sub.Object.Clone()
	delete(body, "_rev")
	_, err = c.do(ctx, request{
		method:     http.MethodPut,
		path:       path + "/" + url.PathEscape(sub.Kind) + "/" + url.PathEscape(sub.ID),
		body:       body,
		entityType: parent.Type,
	})
	return err
}
