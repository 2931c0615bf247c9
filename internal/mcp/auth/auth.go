// Package auth gates access to the MCP protocol surface. The validator is
// disabled until configuration, a registered client, or an environment
// token enables it; while disabled every check passes with scope "*".
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lokiorch/loki/internal/errors"
	"github.com/lokiorch/loki/internal/mcp"
)

const (
	// EnvToken names the environment variable carrying a single static
	// always-valid token. Its presence enables the validator.
	EnvToken = "LOKI_MCP_TOKEN"

	// WildcardScope is returned for every check while auth is disabled.
	WildcardScope = "*"

	bearerPrefix = "Bearer "
	tokenBytes   = 32
)

// Token is one stored bearer credential. A token is valid iff it exists,
// is unexpired, and is unrevoked. Scope is advisory metadata for the
// caller; it is not enforced here.
type Token struct {
	Value     string    `json:"value"`
	Scope     string    `json:"scope"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
	Revoked   bool      `json:"revoked,omitempty"`
}

// ClientReg is a declared API client.
type ClientReg struct {
	ID     string   `json:"id"`
	Secret string   `json:"secret,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
}

// Result is the outcome of a validation check.
type Result struct {
	Valid bool   `json:"valid"`
	Scope string `json:"scope,omitempty"`
	Error string `json:"error,omitempty"`
}

// configFile is the on-disk shape of .loki/mcp-auth.json.
type configFile struct {
	Enabled bool        `json:"enabled"`
	Clients []ClientReg `json:"clients"`
	Tokens  []Token     `json:"tokens"`
}

// Validator holds the token store and enablement state.
type Validator struct {
	mu       sync.RWMutex
	enabled  bool
	tokens   map[string]*Token
	clients  map[string]ClientReg
	envToken string
}

// NewValidator creates a validator, enabled only when the environment
// token is present.
func NewValidator() *Validator {
	v := &Validator{
		tokens:  make(map[string]*Token),
		clients: make(map[string]ClientReg),
	}

	if envToken := os.Getenv(EnvToken); envToken != "" {
		v.enabled = true
		v.envToken = envToken
		log.Info().Msg("auth enabled via environment token")
	}

	return v
}

// LoadConfigFile loads .loki/mcp-auth.json. A missing file leaves the
// validator untouched; a present file replaces clients and static tokens.
func (v *Validator) LoadConfigFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Config("failed to read auth config", err)
	}

	var conf configFile
	if err := json.Unmarshal(data, &conf); err != nil {
		return errors.Config("failed to parse auth config", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if conf.Enabled {
		v.enabled = true
	}
	for _, c := range conf.Clients {
		if c.ID != "" {
			v.clients[c.ID] = c
		}
	}
	for i := range conf.Tokens {
		t := conf.Tokens[i]
		if t.Value != "" {
			v.tokens[t.Value] = &t
		}
	}

	log.Info().Bool("enabled", v.enabled).Int("clients", len(v.clients)).Int("tokens", len(v.tokens)).Msg("auth config loaded")
	return nil
}

// Reload replaces the whole store from the config file, used by the
// config watcher. Env enablement survives a reload.
func (v *Validator) Reload(path string) error {
	v.mu.Lock()
	v.tokens = make(map[string]*Token)
	v.clients = make(map[string]ClientReg)
	v.enabled = v.envToken != ""
	v.mu.Unlock()
	return v.LoadConfigFile(path)
}

// Enabled reports whether any check is enforced.
func (v *Validator) Enabled() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.enabled
}

// RegisterClient declares a client programmatically and enables the
// validator immediately.
func (v *Validator) RegisterClient(c ClientReg) error {
	if c.ID == "" {
		return errors.InvalidArg("client id is required")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.clients[c.ID] = c
	v.enabled = true
	return nil
}

// IssueToken mints an opaque token with the given scope and ttl.
func (v *Validator) IssueToken(scope string, ttl time.Duration) (*Token, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, errors.Internal("failed to generate token", err)
	}

	token := &Token{
		Value:     hex.EncodeToString(raw),
		Scope:     scope,
		ExpiresAt: time.Now().Add(ttl),
	}

	v.mu.Lock()
	v.tokens[token.Value] = token
	v.mu.Unlock()
	return token, nil
}

// ValidateToken checks a bare token value against the store.
func (v *Validator) ValidateToken(value string) Result {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if !v.enabled {
		return Result{Valid: true, Scope: WildcardScope}
	}

	if v.envToken != "" && value == v.envToken {
		return Result{Valid: true, Scope: WildcardScope}
	}

	token, ok := v.tokens[value]
	if !ok {
		return Result{Error: "unknown token"}
	}
	if token.Revoked {
		return Result{Error: "token revoked"}
	}
	if !token.ExpiresAt.IsZero() && time.Now().After(token.ExpiresAt) {
		return Result{Error: "token expired"}
	}

	scope := token.Scope
	if scope == "" {
		scope = WildcardScope
	}
	return Result{Valid: true, Scope: scope}
}

// RevokeToken invalidates a token immediately.
func (v *Validator) RevokeToken(value string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if token, ok := v.tokens[value]; ok {
		token.Revoked = true
	}
}

// Validate checks a JSON-RPC request. The bearer value travels inside the
// payload at params._meta.authorization because the stdio transport has
// no header channel. Absence fails closed when auth is enabled.
func (v *Validator) Validate(req *mcp.Request) Result {
	if !v.Enabled() {
		return Result{Valid: true, Scope: WildcardScope}
	}
	if req == nil {
		return Result{Error: "missing request"}
	}

	value, ok := bearerFromParams(req.Params)
	if !ok {
		return Result{Error: "missing bearer token"}
	}
	return v.ValidateToken(value)
}

// ValidateHeader checks an HTTP Authorization header value. Only the
// Bearer scheme is accepted.
func (v *Validator) ValidateHeader(header string) Result {
	if !v.Enabled() {
		return Result{Valid: true, Scope: WildcardScope}
	}

	value, ok := parseBearer(header)
	if !ok {
		return Result{Error: "missing or malformed bearer token"}
	}
	return v.ValidateToken(value)
}

// AuthFunc adapts the validator to the server's request gate.
func (v *Validator) AuthFunc() func(req *mcp.Request) error {
	return func(req *mcp.Request) error {
		result := v.Validate(req)
		if !result.Valid {
			return errors.Unauthorized(result.Error, nil)
		}
		return nil
	}
}

func bearerFromParams(params interface{}) (string, bool) {
	m, ok := asMap(params)
	if !ok {
		return "", false
	}
	meta, ok := asMap(m["_meta"])
	if !ok {
		return "", false
	}
	header, ok := meta["authorization"].(string)
	if !ok {
		return "", false
	}
	return parseBearer(header)
}

// asMap accepts both the decoded-JSON map and the typed mcp.M alias used
// by in-process callers.
func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case mcp.M:
		return m, true
	default:
		return nil, false
	}
}

func parseBearer(header string) (string, bool) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	value := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	if value == "" {
		return "", false
	}
	return value, true
}
