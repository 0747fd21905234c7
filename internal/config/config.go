// Package config loads run options from flags, environment, .env and an
// optional appsettings.json file.
package config

import (
	"fmt"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"kafka-proxy-client/internal/auth"
	"kafka-proxy-client/internal/logging"
	"kafka-proxy-client/internal/netpolicy"
	"kafka-proxy-client/internal/proxyerr"
	"kafka-proxy-client/internal/sse"
	"kafka-proxy-client/internal/wschannel"
)

const (
	ModeWS  = "ws"
	ModeSSE = "sse"
)

type Options struct {
	Mode          string `long:"mode" env:"MODE" choice:"ws" choice:"sse" description:"Transport to use (default ws)"`
	Once          bool   `long:"once" description:"Send one sample produce, read for a few seconds, then exit"`
	Reconnect     bool   `long:"reconnect" env:"STREAM_RECONNECT" description:"Resubscribe the event stream with backoff when it drops (sse mode)"`
	SettingsFile  string `long:"settings" env:"APPSETTINGS_PATH" description:"Path to appsettings.json (default ./appsettings.json)"`
	SaveSettings  bool   `long:"save-settings" description:"Write the effective settings back to the settings file and exit"`
	Debug         bool   `long:"debug" env:"CLIENT_DEBUG" description:"Enable verbose debug output"`
	PersistLogs   bool   `long:"persist-logs" env:"CLIENT_PERSIST_LOGS" description:"Also write JSONL logs under the user cache directory"`
	AccessToken   string `long:"access-token" env:"ACCESS_TOKEN" description:"Use this bearer token instead of requesting one"`
	Authority     string `long:"auth-authority" env:"AUTH_AUTHORITY" description:"Token authority base URL"`
	TokenPath     string `long:"auth-token-path" env:"AUTH_TOKEN_PATH" description:"Token endpoint path under the authority (default /connect/token)"`
	GrantType     string `long:"auth-grant-type" env:"AUTH_GRANT_TYPE" description:"password or client_credentials (default password)"`
	AllowHTTP     bool   `long:"allow-http" env:"AUTH_ALLOW_HTTP" description:"Permit http:// and ws:// endpoints"`
	SkipTLSVerify bool   `long:"skip-tls-verify" env:"AUTH_SKIP_TLS" description:"Do not verify server certificates"`
	Username      string `long:"username" env:"AUTH_USERNAME" description:"Resource owner username"`
	Password      string `long:"password" env:"AUTH_PASSWORD" description:"Resource owner password"`
	ClientID      string `long:"client-id" env:"AUTH_CLIENT_ID" description:"OAuth client id (default api_gateway)"`
	ClientSecret  string `long:"client-secret" env:"AUTH_CLIENT_SECRET" description:"OAuth client secret"`
	Scope         string `long:"scope" env:"AUTH_SCOPE" description:"Requested scopes, space separated (default frog_api)"`

	WSURL             string   `long:"ws-url" env:"PROXY_WS_URL" description:"Proxy websocket URL"`
	SSEURL            string   `long:"sse-url" env:"PROXY_SSE_URL" description:"Proxy event stream URL"`
	Topics            []string `long:"topic" env:"TOPICS" env-delim:"," description:"Topic to subscribe to (repeatable)"`
	ProduceTopic      string   `long:"produce-topic" env:"PRODUCE_TOPIC" description:"Topic for produced messages"`
	ProduceKey        string   `long:"produce-key" env:"PRODUCE_KEY" description:"Record key for produced messages"`
	ProduceHeaders    string   `long:"produce-headers" env:"PRODUCE_HEADERS" description:"Record headers as k=v,k2=v2"`
	ChatID            string   `long:"chat-id" env:"CHAT_ID" description:"Chat identifier; switches outbound frames to chat messages"`
	StreamFrom        string   `long:"from" env:"STREAM_FROM" description:"Replay position: latest, beginning or a cursor (default latest)"`
	ConnectTimeout    int      `long:"connect-timeout" env:"CONNECT_TIMEOUT" description:"Connect timeout in seconds (default 20)"`
	SendTimeout       int      `long:"send-timeout" env:"SEND_TIMEOUT" description:"Send timeout in seconds (default 15)"`
	ReceiveBuffer     int      `long:"recv-buffer" env:"RECV_BUFFER" description:"Largest accepted inbound frame in bytes (default 1048576)"`
	KeepaliveInterval int      `long:"keepalive" env:"KEEPALIVE_INTERVAL" description:"Seconds between keepalive pings (default 20)"`
}

const (
	defaultSettingsFile  = "appsettings.json"
	defaultClientID      = "api_gateway"
	defaultScope         = "frog_api"
	defaultProduceTopic  = "ai-requests"
	defaultConnectSecs   = 20
	defaultSendSecs      = 15
	defaultReceiveBuffer = 1 << 20
	defaultKeepaliveSecs = 20
)

var defaultTopics = []string{"ai-requests", "ai-responses"}

// ParseOptions reads .env (if present), then flags and environment.
func ParseOptions(args []string) (Options, error) {
	_ = godotenv.Load()
	opts := Options{}
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// Load parses flags and environment, merges the settings file underneath
// them and fills defaults.
func Load(args []string) (Options, error) {
	opts, err := ParseOptions(args)
	if err != nil {
		return Options{}, err
	}
	saved, err := LoadSettings(opts.SettingsPath())
	if err != nil {
		return Options{}, err
	}
	return ApplyDefaults(MergeOptionsWithSettings(opts, saved)), nil
}

func (o Options) SettingsPath() string {
	if path := strings.TrimSpace(o.SettingsFile); path != "" {
		return path
	}
	return defaultSettingsFile
}

func ApplyDefaults(opts Options) Options {
	if strings.TrimSpace(opts.Mode) == "" {
		opts.Mode = ModeWS
	}
	if strings.TrimSpace(opts.TokenPath) == "" {
		opts.TokenPath = auth.DefaultTokenPath
	}
	if strings.TrimSpace(opts.GrantType) == "" {
		opts.GrantType = auth.GrantPassword
	}
	if strings.TrimSpace(opts.ClientID) == "" {
		opts.ClientID = defaultClientID
	}
	if strings.TrimSpace(opts.Scope) == "" {
		opts.Scope = defaultScope
	}
	if len(opts.TopicList()) == 0 {
		opts.Topics = append([]string(nil), defaultTopics...)
	}
	if strings.TrimSpace(opts.ProduceTopic) == "" {
		opts.ProduceTopic = defaultProduceTopic
	}
	if strings.TrimSpace(opts.StreamFrom) == "" {
		opts.StreamFrom = "latest"
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectSecs
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendSecs
	}
	if opts.ReceiveBuffer <= 0 {
		opts.ReceiveBuffer = defaultReceiveBuffer
	}
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = defaultKeepaliveSecs
	}
	return opts
}

// ValidateRequired checks what the selected mode needs before any network
// I/O. Errors are *proxyerr.ConfigError.
func ValidateRequired(opts Options) error {
	switch opts.Mode {
	case ModeWS:
		if _, err := opts.Policy().CheckWebSocket("ws_url", opts.WSURL); err != nil {
			return err
		}
	case ModeSSE:
		if _, err := opts.Policy().CheckHTTP("sse_url", opts.SSEURL); err != nil {
			return err
		}
		if strings.TrimSpace(opts.ChatID) == "" && len(opts.TopicList()) == 0 {
			return proxyerr.Config("chat_id", "or topics is required in sse mode")
		}
	default:
		return proxyerr.Config("mode", fmt.Sprintf("%q must be ws or sse", opts.Mode))
	}
	if strings.TrimSpace(opts.AccessToken) != "" {
		return nil
	}
	return opts.Auth().Validate()
}

func (o Options) Policy() netpolicy.Policy {
	return netpolicy.Policy{AllowInsecure: o.AllowHTTP, SkipTLSVerify: o.SkipTLSVerify}
}

func (o Options) Auth() auth.Config {
	return auth.Config{
		Authority:    strings.TrimSpace(o.Authority),
		TokenPath:    strings.TrimSpace(o.TokenPath),
		GrantType:    strings.TrimSpace(o.GrantType),
		Username:     o.Username,
		Password:     o.Password,
		ClientID:     strings.TrimSpace(o.ClientID),
		ClientSecret: o.ClientSecret,
		Scope:        strings.TrimSpace(o.Scope),
		Policy:       o.Policy(),
	}
}

func (o Options) Channel(logger *logging.Logger) wschannel.Options {
	return wschannel.Options{
		URL:            strings.TrimSpace(o.WSURL),
		ConnectTimeout: time.Duration(o.ConnectTimeout) * time.Second,
		SendTimeout:    time.Duration(o.SendTimeout) * time.Second,
		ReadLimit:      int64(o.ReceiveBuffer),
		Policy:         o.Policy(),
		Logger:         logger,
	}
}

func (o Options) Stream(logger *logging.Logger) sse.Reader {
	return sse.Reader{
		URL:        strings.TrimSpace(o.SSEURL),
		Policy:     o.Policy(),
		ForceHTTP1: true,
		Logger:     logger,
	}
}

func (o Options) StreamParams() sse.Params {
	return sse.Params{
		ChatID: strings.TrimSpace(o.ChatID),
		Topics: o.TopicList(),
		From:   strings.TrimSpace(o.StreamFrom),
	}
}

func (o Options) Keepalive() time.Duration {
	return time.Duration(o.KeepaliveInterval) * time.Second
}

// TopicList returns the configured topics trimmed, without blanks.
func (o Options) TopicList() []string {
	out := make([]string, 0, len(o.Topics))
	for _, topic := range o.Topics {
		for _, name := range strings.Split(topic, ",") {
			if name = strings.TrimSpace(name); name != "" {
				out = append(out, name)
			}
		}
	}
	return out
}

func (o Options) Headers() map[string]string {
	return ParseHeaders(o.ProduceHeaders)
}

// ParseHeaders parses "k=v,k2=v2". Entries without a key are skipped.
func ParseHeaders(raw string) map[string]string {
	headers := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		i := strings.IndexByte(pair, '=')
		if i <= 0 {
			continue
		}
		headers[pair[:i]] = pair[i+1:]
	}
	return headers
}
