package ipc

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiforge/warden/internal/model"
)

func startServer(t *testing.T) (*Server, *Client) {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), DefaultSocketName)

	srv := NewServer(socketPath, nil, model.LogLevelError)
	srv.SetConnTimeout(2 * time.Second)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop() })

	client := NewClient(socketPath)
	client.SetTimeout(2 * time.Second)
	return srv, client
}

func TestServer_RoundTrip(t *testing.T) {
	srv, client := startServer(t)

	srv.Handle(CommandPing, func(req *Request) *Response {
		return SuccessResponse(map[string]string{"status": "ok"})
	})

	resp, err := client.SendCommand(CommandPing, nil)
	require.NoError(t, err)
	require.True(t, resp.Success)

	var data map[string]string
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, "ok", data["status"])
}

func TestServer_ParamsReachHandler(t *testing.T) {
	srv, client := startServer(t)

	srv.Handle(CommandReport, func(req *Request) *Response {
		var params struct {
			Period string `json:"period"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return ErrorResponse(ErrCodeValidation, err.Error())
		}
		return SuccessResponse(map[string]string{"period": params.Period})
	})

	resp, err := client.SendCommand(CommandReport, map[string]string{"period": "week"})
	require.NoError(t, err)
	require.True(t, resp.Success)

	var data map[string]string
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, "week", data["period"])
}

func TestServer_UnknownCommand(t *testing.T) {
	_, client := startServer(t)

	resp, err := client.SendCommand("levitate", nil)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeUnknownCommand, resp.Error.Code)
}

func TestServer_ProtocolMismatch(t *testing.T) {
	srv, client := startServer(t)
	srv.Handle(CommandPing, func(req *Request) *Response {
		return SuccessResponse(nil)
	})

	resp, err := client.Send(&Request{ProtocolVersion: 99, Command: CommandPing})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeProtocolMismatch, resp.Error.Code)
}

func TestServer_PanickingHandlerDoesNotKillServer(t *testing.T) {
	srv, client := startServer(t)

	srv.Handle(CommandStats, func(req *Request) *Response {
		panic("handler exploded")
	})
	srv.Handle(CommandPing, func(req *Request) *Response {
		return SuccessResponse(nil)
	})

	// The panicking connection errors out client-side; the server survives.
	_, err := client.SendCommand(CommandStats, nil)
	assert.Error(t, err)

	resp, err := client.SendCommand(CommandPing, nil)
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestClient_NoDaemonHasActionableError(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "absent.sock"))
	client.SetTimeout(time.Second)

	_, err := client.SendCommand(CommandPing, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Is the daemon running?")
}

func TestServer_StopRemovesSocket(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), DefaultSocketName)
	srv := NewServer(socketPath, nil, model.LogLevelError)
	require.NoError(t, srv.Start())
	require.NoError(t, srv.Stop())

	client := NewClient(socketPath)
	client.SetTimeout(500 * time.Millisecond)
	_, err := client.SendCommand(CommandPing, nil)
	assert.Error(t, err)
}
