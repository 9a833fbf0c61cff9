package api

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	luabridge "github.com/dshills/chorus/internal/plugin/lua"
	"github.com/dshills/chorus/internal/plugin/security"
)

// FetchOptions configures a proxied request.
type FetchOptions struct {
	Method  string
	Headers map[string]string
	Body    string
	Timeout time.Duration
}

// FetchResult is the response handed back to the plugin.
type FetchResult struct {
	Status  int
	Body    string
	Headers map[string]string
}

const (
	defaultFetchTimeout = 30 * time.Second
	maxFetchBody        = 10 << 20 // 10 MB response cap
)

// HTTPFetcher is the default NetProvider. Requests go out with browser-like
// headers because several lyric and metadata services reject obvious bot
// traffic.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a fetcher with the default timeout.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{Timeout: defaultFetchTimeout},
	}
}

// Fetch performs the request. Only http and https URLs are accepted; every
// other scheme is rejected before any connection is made.
func (f *HTTPFetcher) Fetch(rawURL string, opts FetchOptions) (*FetchResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q: only http and https are allowed", u.Scheme)
	}

	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if opts.Body != "" {
		body = strings.NewReader(opts.Body)
	}

	req, err := http.NewRequest(method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("User-Agent",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	client := f.client
	if opts.Timeout > 0 {
		client = &http.Client{Timeout: opts.Timeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return &FetchResult{
		Status:  resp.StatusCode,
		Body:    string(data),
		Headers: headers,
	}, nil
}

// NetModule exposes proxied HTTP fetch. Requires net:fetch.
type NetModule struct {
	ctx     *Context
	checker *security.Checker
}

// NewNetModule creates the net module for one plugin.
func NewNetModule(ctx *Context, checker *security.Checker) *NetModule {
	return &NetModule{ctx: ctx, checker: checker}
}

func (m *NetModule) Name() string { return "net" }

func (m *NetModule) Register(L *lua.LState) error {
	mod := L.NewTable()
	L.SetField(mod, "fetch", L.NewFunction(m.fetch))
	L.SetGlobal("_chorus_net", mod)
	return nil
}

// fetch(url, opts?) -> { status, ok, body, headers } | nil, err
func (m *NetModule) fetch(L *lua.LState) int {
	if denied(m.checker, security.PermNetFetch) {
		L.Push(lua.LNil)
		L.Push(lua.LString("permission denied: " + string(security.PermNetFetch)))
		return 2
	}
	rawURL := L.CheckString(1)

	var opts FetchOptions
	if tbl := L.OptTable(2, nil); tbl != nil {
		bridge := luabridge.NewBridge(L)
		if method, ok := bridge.GetTableString(tbl, "method"); ok {
			opts.Method = method
		}
		if body, ok := bridge.GetTableString(tbl, "body"); ok {
			opts.Body = body
		}
		if headers, ok := tbl.RawGetString("headers").(*lua.LTable); ok {
			opts.Headers = make(map[string]string)
			headers.ForEach(func(k, v lua.LValue) {
				if ks, ok := k.(lua.LString); ok {
					opts.Headers[string(ks)] = v.String()
				}
			})
		}
	}

	result, err := m.ctx.Fetcher.Fetch(rawURL, opts)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}

	bridge := luabridge.NewBridge(L)
	tbl := L.NewTable()
	L.SetField(tbl, "status", lua.LNumber(result.Status))
	L.SetField(tbl, "ok", lua.LBool(result.Status >= 200 && result.Status < 300))
	L.SetField(tbl, "body", lua.LString(result.Body))
	L.SetField(tbl, "headers", bridge.ToLuaValue(result.Headers))
	L.Push(tbl)
	return 1
}
