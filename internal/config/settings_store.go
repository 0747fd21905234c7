package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Settings mirrors appsettings.json. Key matching is case-insensitive, so
// both "Auth"/"WsUrl" and "auth"/"wsUrl" spellings load.
type Settings struct {
	Auth  AuthSettings  `json:"auth"`
	Proxy ProxySettings `json:"proxy"`
}

type AuthSettings struct {
	GrantType         string `json:"grant_type,omitempty"`
	Authority         string `json:"authority,omitempty"`
	TokenEndpointPath string `json:"tokenEndpointPath,omitempty"`
	AllowHTTP         bool   `json:"allowHttp,omitempty"`
	SkipTLSVerify     bool   `json:"skipTlsVerify,omitempty"`
	Username          string `json:"username,omitempty"`
	Password          string `json:"password,omitempty"`
	ClientID          string `json:"clientId,omitempty"`
	ClientSecret      string `json:"clientSecret,omitempty"`
	Scope             string `json:"scope,omitempty"`
}

type ProxySettings struct {
	WSURL                 string            `json:"wsUrl,omitempty"`
	SSEURL                string            `json:"sseUrl,omitempty"`
	Topics                []string          `json:"topics,omitempty"`
	ProduceTopic          string            `json:"produceTopic,omitempty"`
	ProduceKey            string            `json:"produceKey,omitempty"`
	ProduceHeaders        map[string]string `json:"produceHeaders,omitempty"`
	ChatID                string            `json:"chatId,omitempty"`
	ConnectTimeoutSeconds int               `json:"connectTimeoutSeconds,omitempty"`
	SendTimeoutSeconds    int               `json:"sendTimeoutSeconds,omitempty"`
	ReceiveBufferBytes    int               `json:"receiveBufferBytes,omitempty"`
}

// LoadSettings reads path. A missing file yields empty settings.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Settings{}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return settings, nil
}

func SaveSettings(path string, settings Settings) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	payload, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}

// MergeOptionsWithSettings fills options left empty by flags and environment
// from the settings file.
func MergeOptionsWithSettings(cli Options, saved Settings) Options {
	fill := func(dst *string, value string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = value
		}
	}
	fillInt := func(dst *int, value int) {
		if *dst <= 0 {
			*dst = value
		}
	}

	fill(&cli.GrantType, saved.Auth.GrantType)
	fill(&cli.Authority, saved.Auth.Authority)
	fill(&cli.TokenPath, saved.Auth.TokenEndpointPath)
	fill(&cli.Username, saved.Auth.Username)
	fill(&cli.Password, saved.Auth.Password)
	fill(&cli.ClientID, saved.Auth.ClientID)
	fill(&cli.ClientSecret, saved.Auth.ClientSecret)
	fill(&cli.Scope, saved.Auth.Scope)
	if !cli.AllowHTTP {
		cli.AllowHTTP = saved.Auth.AllowHTTP
	}
	if !cli.SkipTLSVerify {
		cli.SkipTLSVerify = saved.Auth.SkipTLSVerify
	}

	fill(&cli.WSURL, saved.Proxy.WSURL)
	fill(&cli.SSEURL, saved.Proxy.SSEURL)
	if len(cli.TopicList()) == 0 {
		cli.Topics = append([]string(nil), saved.Proxy.Topics...)
	}
	fill(&cli.ProduceTopic, saved.Proxy.ProduceTopic)
	fill(&cli.ProduceKey, saved.Proxy.ProduceKey)
	fill(&cli.ProduceHeaders, formatHeaders(saved.Proxy.ProduceHeaders))
	fill(&cli.ChatID, saved.Proxy.ChatID)
	fillInt(&cli.ConnectTimeout, saved.Proxy.ConnectTimeoutSeconds)
	fillInt(&cli.SendTimeout, saved.Proxy.SendTimeoutSeconds)
	fillInt(&cli.ReceiveBuffer, saved.Proxy.ReceiveBufferBytes)
	return cli
}

func SettingsFromOptions(opts Options) Settings {
	headers := opts.Headers()
	if len(headers) == 0 {
		headers = nil
	}
	return Settings{
		Auth: AuthSettings{
			GrantType:         strings.TrimSpace(opts.GrantType),
			Authority:         strings.TrimSpace(opts.Authority),
			TokenEndpointPath: strings.TrimSpace(opts.TokenPath),
			AllowHTTP:         opts.AllowHTTP,
			SkipTLSVerify:     opts.SkipTLSVerify,
			Username:          strings.TrimSpace(opts.Username),
			Password:          opts.Password,
			ClientID:          strings.TrimSpace(opts.ClientID),
			ClientSecret:      opts.ClientSecret,
			Scope:             strings.TrimSpace(opts.Scope),
		},
		Proxy: ProxySettings{
			WSURL:                 strings.TrimSpace(opts.WSURL),
			SSEURL:                strings.TrimSpace(opts.SSEURL),
			Topics:                opts.TopicList(),
			ProduceTopic:          strings.TrimSpace(opts.ProduceTopic),
			ProduceKey:            opts.ProduceKey,
			ProduceHeaders:        headers,
			ChatID:                strings.TrimSpace(opts.ChatID),
			ConnectTimeoutSeconds: opts.ConnectTimeout,
			SendTimeoutSeconds:    opts.SendTimeout,
			ReceiveBufferBytes:    opts.ReceiveBuffer,
		},
	}
}

func formatHeaders(headers map[string]string) string {
	if len(headers) == 0 {
		return ""
	}
	keys := make([]string, 0, len(headers))
	for key := range headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+headers[key])
	}
	return strings.Join(pairs, ",")
}
