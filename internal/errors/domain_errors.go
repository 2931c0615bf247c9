package errors

import (
	"fmt"
	"net/http"
)

// Protocol client / transport errors. Each carries a stable message fragment
// so callers can match on the failure kind without parsing stack traces.

// BlockedCommand rejects a peer-server launch command that resolves to a
// shell interpreter.
func BlockedCommand(command string) *AppError {
	return New(ErrTypeSecurity, fmt.Sprintf("blocked command: %s is not allowed as a server command", command), nil, http.StatusForbidden).WithStack()
}

// EmptyCommand rejects an empty or whitespace-only launch command.
func EmptyCommand() *AppError {
	return New(ErrTypeSecurity, "server command must be a non-empty string", nil, http.StatusBadRequest).WithStack()
}

// NotConnected reports an operation attempted before connect.
func NotConnected(server string) *AppError {
	return New(ErrTypeTransport, fmt.Sprintf("not connected to server %s", server), nil, http.StatusBadGateway).WithStack()
}

// CallTimeout reports a tool call that received no response in time.
func CallTimeout(method string, server string) *AppError {
	return New(ErrTypeTransport, fmt.Sprintf("Timeout waiting for %s response from %s", method, server), nil, http.StatusGatewayTimeout).WithStack()
}

// BufferOverflow reports a receive buffer that exceeded the framing ceiling.
func BufferOverflow(server string, size int) *AppError {
	return New(ErrTypeTransport, fmt.Sprintf("receive buffer overflow from %s (%d bytes without newline)", server, size), nil, http.StatusBadGateway).WithStack()
}

// SpawnFailed reports a subprocess that could not be started.
func SpawnFailed(command string, cause error) *AppError {
	return New(ErrTypeTransport, fmt.Sprintf("failed to spawn %s", command), cause, http.StatusBadGateway).WithStack()
}

// ClientClosed reports an operation interrupted by shutdown.
func ClientClosed(server string) *AppError {
	return New(ErrTypeTransport, fmt.Sprintf("client for %s closed", server), nil, http.StatusBadGateway).WithStack()
}

// Manager errors.

// ConfigOutsideRoot rejects a config location escaping the project root.
func ConfigOutsideRoot(path string) *AppError {
	return New(ErrTypeSecurity, fmt.Sprintf("config path %s resolves outside the project root", path), nil, http.StatusForbidden).WithStack()
}

// NoServerForTool reports a tool name no registered server exposes.
func NoServerForTool(tool string) *AppError {
	return New(ErrTypeNotFound, fmt.Sprintf("no server found for tool: %s", tool), nil, http.StatusNotFound).WithStack()
}

// CircuitOpen reports a call short-circuited by an open breaker.
func CircuitOpen(server string) *AppError {
	return New(ErrTypeTransport, fmt.Sprintf("circuit open for server %s", server), nil, http.StatusServiceUnavailable).WithStack()
}

// Auth errors.

// TokenExpired reports an expired bearer token.
func TokenExpired() *AppError {
	return New(ErrTypeAuth, "token expired", nil, http.StatusUnauthorized).WithStack()
}

// TokenUnknown reports a token absent from the store.
func TokenUnknown() *AppError {
	return New(ErrTypeAuth, "unknown token", nil, http.StatusUnauthorized).WithStack()
}

// TokenRevoked reports a revoked token.
func TokenRevoked() *AppError {
	return New(ErrTypeAuth, "token revoked", nil, http.StatusUnauthorized).WithStack()
}

// MissingBearer reports a request without a usable Bearer credential.
func MissingBearer() *AppError {
	return New(ErrTypeAuth, "missing or malformed bearer token", nil, http.StatusUnauthorized).WithStack()
}
