// Package template implements the `${[ ]}` tag language spec.md Â§4.B
// describes: literal text interleaved with variable references and
// function calls, rendered in a single pass with a pluggable callback
// bridge for anything beyond the two native functions.
//
// The dispatch shape is grounded on the teacher's jschallenge.Solver: a
// narrow interface plus one concrete native implementation, generalized
// per spec.md Â§9's "tagged variant" design note into Native(Secure|
// Keychain) vs Plugin(name).
package template

import (
	"context"
	"fmt"
	"strings"

	"github.com/yaak-app/yaakengine/pluginrt"
)

// MissingPolicy controls what happens when a variable reference has no
// matching entry in the environment chain.
type MissingPolicy int

const (
	// Throw returns a RenderError.
	Throw MissingPolicy = iota
	// EmptyOnMissing substitutes an empty string.
	EmptyOnMissing
)

// RenderError is returned for template failures: missing variable,
// function failure, or callback timeout, per spec.md Â§7.
type RenderError struct {
	Message string
}

func (e *RenderError) Error() string { return "template: render: " + e.Message }

// Variable is one entry considered during resolution; callers pass the
// environment chain already flattened and ordered base-first (the order
// store.ModelStore.ResolveEnvironments returns).
type Variable struct {
	Name    string
	Value   string
	Enabled bool
}

// FunctionCaller is the narrow plugin-runtime dependency the engine needs:
// dispatch any function name the two natives don't claim.
type FunctionCaller interface {
	CallTemplateFunction(ctx context.Context, req pluginrt.CallTemplateFunctionRequest, timeout pluginrtTimeout) (*pluginrt.CallTemplateFunctionResponse, error)
}

// pluginrtTimeout avoids importing "time" twice under two names; it is
// exactly time.Duration.
type pluginrtTimeout = timeDuration

// NativeFunction is the tagged-variant shape spec.md Â§9 calls for:
// Native(Secure|Keychain) vs Plugin(name). Implementations receive
// already-rendered argument values and the id of the workspace the
// template being rendered belongs to, so per-workspace state (the
// `secure()` encryption key) scopes correctly.
type NativeFunction interface {
	Name() string
	Call(ctx context.Context, args map[string]string, purpose pluginrt.RenderPurpose, workspaceID string) (string, error)
}

// Engine renders `${[ ]}` templates against an environment chain, two
// built-in native functions, and a plugin callback bridge for everything
// else.
type Engine struct {
	natives map[string]NativeFunction
	plugin  FunctionCaller

	// DefaultCallTimeout bounds a single plugin function dispatch.
	DefaultCallTimeout timeDuration
}

// NewEngine builds an Engine with the given native functions registered
// and plugin as the fallback dispatch target for every other name. plugin
// may be nil if no plugin runtime is connected; in that case non-native
// function calls always fail.
func NewEngine(natives []NativeFunction, plugin FunctionCaller, defaultTimeout timeDuration) *Engine {
	m := make(map[string]NativeFunction, len(natives))
	for _, n := range natives {
		m[n.Name()] = n
	}
	return &Engine{natives: m, plugin: plugin, DefaultCallTimeout: defaultTimeout}
}

// Render performs a single-pass render of tpl against the given variable
// chain (base-first; resolution walks it most-specific-first) for
// workspaceID, the workspace the rendered template belongs to. Disjoint
// template strings are safe to render concurrently from multiple
// goroutines sharing one Engine (see parallel.go).
func (e *Engine) Render(ctx context.Context, tpl string, vars []Variable, purpose pluginrt.RenderPurpose, policy MissingPolicy, workspaceID string) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(tpl) {
		start := strings.Index(tpl[i:], "${[")
		if start < 0 {
			out.WriteString(tpl[i:])
			break
		}
		start += i
		out.WriteString(tpl[i:start])

		end, ok := findTagEnd(tpl, start+3)
		if !ok {
			// Unterminated tag: treat the rest as literal, matching the
			// "never panic on malformed input" posture used throughout
			// the teacher's parsers.
			out.WriteString(tpl[start:])
			break
		}
		expr := tpl[start+3 : end]
		rendered, err := e.renderExpr(ctx, expr, vars, purpose, policy, workspaceID)
		if err != nil {
			return "", err
		}
		out.WriteString(rendered)
		i = end + 2 // skip "]}"
	}
	return out.String(), nil
}

// findTagEnd returns the index of the "]}" that closes the tag opened at
// the position just before start, tracking nested "${[" occurrences and
// quoted strings so a nested tag inside a function argument's quoted
// value does not prematurely close the outer tag.
func findTagEnd(s string, start int) (int, bool) {
	depth := 1
	inQuote := false
	i := start
	for i < len(s) {
		switch {
		case inQuote:
			if s[i] == '"' && (i == 0 || s[i-1] != '\\') {
				inQuote = false
			}
			i++
		case s[i] == '"':
			inQuote = true
			i++
		case strings.HasPrefix(s[i:], "${["):
			depth++
			i += 3
		case strings.HasPrefix(s[i:], "]}"):
			depth--
			if depth == 0 {
				return i, true
			}
			i += 2
		default:
			i++
		}
	}
	return 0, false
}

func (e *Engine) renderExpr(ctx context.Context, expr string, vars []Variable, purpose pluginrt.RenderPurpose, policy MissingPolicy, workspaceID string) (string, error) {
	expr = strings.TrimSpace(expr)
	name, argsRaw, isCall := splitCall(expr)
	if !isCall {
		return e.resolveVariable(name, vars, purpose, policy)
	}

	args, err := e.parseArgs(ctx, argsRaw, vars, purpose, policy, workspaceID)
	if err != nil {
		return "", err
	}
	return e.dispatch(ctx, name, args, purpose, workspaceID)
}

// splitCall reports whether expr is a function call (has a top-level
// "(...)" form) and, if so, returns its name and raw argument string.
func splitCall(expr string) (name string, argsRaw string, isCall bool) {
	idx := strings.IndexByte(expr, '(')
	if idx < 0 || !strings.HasSuffix(expr, ")") {
		return expr, "", false
	}
	return strings.TrimSpace(expr[:idx]), expr[idx+1 : len(expr)-1], true
}

// parseArgs parses `key="value", key2="value2"` into a rendered map,
// rendering any nested tags within each value before returning.
func (e *Engine) parseArgs(ctx context.Context, raw string, vars []Variable, purpose pluginrt.RenderPurpose, policy MissingPolicy, workspaceID string) (map[string]string, error) {
	out := make(map[string]string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out, nil
	}

	i := 0
	for i < len(raw) {
		for i < len(raw) && (raw[i] == ',' || raw[i] == ' ') {
			i++
		}
		if i >= len(raw) {
			break
		}
		eq := strings.IndexByte(raw[i:], '=')
		if eq < 0 {
			return nil, &RenderError{Message: fmt.Sprintf("malformed argument list %q", raw)}
		}
		key := strings.TrimSpace(raw[i : i+eq])
		i += eq + 1
		if i >= len(raw) || raw[i] != '"' {
			return nil, &RenderError{Message: fmt.Sprintf("expected quoted value for argument %q", key)}
		}
		i++
		valStart := i
		for i < len(raw) {
			if raw[i] == '"' && raw[i-1] != '\\' {
				break
			}
			i++
		}
		if i >= len(raw) {
			return nil, &RenderError{Message: fmt.Sprintf("unterminated quoted value for argument %q", key)}
		}
		rawVal := strings.ReplaceAll(raw[valStart:i], `\"`, `"`)
		i++ // skip closing quote

		rendered, err := e.Render(ctx, rawVal, vars, purpose, policy, workspaceID)
		if err != nil {
			return nil, err
		}
		out[key] = rendered
	}
	return out, nil
}

func (e *Engine) resolveVariable(name string, vars []Variable, purpose pluginrt.RenderPurpose, policy MissingPolicy) (string, error) {
	for i := len(vars) - 1; i >= 0; i-- {
		v := vars[i]
		if v.Enabled && v.Name == name {
			return v.Value, nil
		}
	}
	if policy == Throw {
		return "", &RenderError{Message: fmt.Sprintf("undefined variable %q", name)}
	}
	return "", nil
}

func (e *Engine) dispatch(ctx context.Context, name string, args map[string]string, purpose pluginrt.RenderPurpose, workspaceID string) (string, error) {
	if native, ok := e.natives[name]; ok {
		v, err := native.Call(ctx, args, purpose, workspaceID)
		if err != nil {
			return "", &RenderError{Message: fmt.Sprintf("function %q: %v", name, err)}
		}
		return v, nil
	}

	if e.plugin == nil {
		return "", &RenderError{Message: fmt.Sprintf("function %q: no plugin runtime connected", name)}
	}

	req := pluginrt.CallTemplateFunctionRequest{
		ID:      name + ":" + fmt.Sprint(len(args)),
		Name:    name,
		Purpose: purpose,
		Values:  toRawMessages(args),
	}
	timeout := e.DefaultCallTimeout
	if timeout == 0 {
		timeout = defaultPluginCallTimeout
	}
	resp, err := e.plugin.CallTemplateFunction(ctx, req, timeout)
	if err != nil {
		return "", &RenderError{Message: fmt.Sprintf("function %q: %v", name, err)}
	}
	return resp.Value, nil
}
