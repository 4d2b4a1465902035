package rpcserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func echoHandler(params json.RawMessage) (interface{}, error) {
	var req struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errors.Wrap(err, "decoding echo params")
	}
	return map[string]string{"echoed": req.Value}, nil
}

func failingHandler(params json.RawMessage) (interface{}, error) {
	return nil, errors.New("boom")
}

func TestRegisterDuplicatePanics(t *testing.T) {
	s := New()
	s.Register("essentials", "get_thing", echoHandler)
	require.Panics(t, func() {
		s.Register("essentials", "get_thing", echoHandler)
	})
}

func TestMethodsSorted(t *testing.T) {
	s := New()
	s.Register("ammdata", "get_pool", echoHandler)
	s.Register("essentials", "get_creation_record", echoHandler)
	s.Register("ammdata", "list_pools", echoHandler)

	require.Equal(t, []string{
		"ammdata.get_pool",
		"ammdata.list_pools",
		"essentials.get_creation_record",
	}, s.Methods())
}

func TestDispatchUnknownMethod(t *testing.T) {
	s := New()
	env := s.dispatch("essentials.nope", nil)
	require.False(t, env.OK)
	require.Contains(t, env.Error, "unknown method")
}

func TestDispatchHandlerError(t *testing.T) {
	s := New()
	s.Register("essentials", "boom", failingHandler)
	env := s.dispatch("essentials.boom", nil)
	require.False(t, env.OK)
	require.Equal(t, "boom", env.Error)
}

func TestRouterPerMethodPath(t *testing.T) {
	s := New()
	s.Register("essentials", "echo", echoHandler)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	body, _ := json.Marshal(map[string]string{"value": "hi"})
	resp, err := http.Post(srv.URL+"/essentials/echo", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	require.True(t, env.OK)

	var result map[string]string
	require.NoError(t, json.Unmarshal(env.Result, &result))
	require.Equal(t, "hi", result["echoed"])
}

func TestRouterGenericRPCEndpoint(t *testing.T) {
	s := New()
	s.Register("essentials", "echo", echoHandler)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	reqBody, _ := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "essentials.echo",
		Params:  json.RawMessage(`{"value":"ping"}`),
	})
	resp, err := http.Post(srv.URL+"/rpc", "application/json", bytes.NewReader(reqBody))
	require.NoError(t, err)
	defer resp.Body.Close()

	var rr rpcResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rr))
	require.True(t, rr.OK)
	require.Equal(t, "2.0", rr.JSONRPC)

	var result map[string]string
	require.NoError(t, json.Unmarshal(rr.Result, &result))
	require.Equal(t, "ping", result["echoed"])
}

func TestRouterMethodsEndpoint(t *testing.T) {
	s := New()
	s.Register("essentials", "echo", echoHandler)
	s.Register("ammdata", "get_pool", echoHandler)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/methods")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body envelopeMethods
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.True(t, body.OK)
	require.ElementsMatch(t, []string{"essentials.echo", "ammdata.get_pool"}, body.Methods)
}
