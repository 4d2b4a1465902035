// Package rpcserver is the RPC Router: a
// thin dispatch layer over handler functions registered under
// "<module>.<method>" names. It owns no domain logic — every handler is a
// small adapter from a JSON request into a module's existing query
// method, in the style of daglabs-btcd/app/rpc/rpchandlers' one-handler-
// per-command functions, reworked for an HTTP/JSON transport instead of
// that repo's netadapter/router message dispatch.
package rpcserver

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"

	"github.com/subfrost/alkanes-index/internal/logs"
)

var log = logs.Logger(logs.Tags.RPCS)

// HandlerFunc answers one RPC method call. params is the request's
// "params" object, re-marshaled so handlers can unmarshal it into their
// own request shape; the returned value is marshaled into the response
// envelope's result fields.
type HandlerFunc func(params json.RawMessage) (interface{}, error)

// Server is the method registry plus its HTTP transport. Safe to register
// methods on only before Router/ListenAndServe is called; handlers
// themselves do not mutate the registry.
type Server struct {
	methods map[string]HandlerFunc
}

// New returns an empty Server.
func New() *Server {
	return &Server{methods: make(map[string]HandlerFunc)}
}

// Register adds a handler under "<namespace>.<method>". Panics on duplicate
// registration — a programming error, not a runtime condition.
func (s *Server) Register(namespace, method string, fn HandlerFunc) {
	full := namespace + "." + method
	if _, exists := s.methods[full]; exists {
		panic(errors.Errorf("rpcserver: method %q already registered", full))
	}
	s.methods[full] = fn
}

// Methods returns every registered "<module>.<method>" name, sorted.
func (s *Server) Methods() []string {
	out := make([]string, 0, len(s.methods))
	for m := range s.methods {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// envelope is this server's response shape: a JSON object with ok: bool
// and either result fields or error: string.
type envelope struct {
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

func (s *Server) dispatch(method string, params json.RawMessage) envelope {
	fn, exists := s.methods[method]
	if !exists {
		return envelope{OK: false, Error: "rpcserver: unknown method " + method}
	}
	result, err := fn(params)
	if err != nil {
		return envelope{OK: false, Error: err.Error()}
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return envelope{OK: false, Error: errors.Wrap(err, "rpcserver: marshaling result").Error()}
	}
	return envelope{OK: true, Result: resultJSON}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("rpcserver: encoding response: %v", err)
	}
}

// rpcRequest is the generic JSON-RPC 2.0-shaped single-endpoint body
//.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	OK      bool            `json:"ok"`
	Error   string          `json:"error,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// Router builds the chi router: one path per registered method under
// "/<module>/<method>" plus the generic "/rpc" endpoint.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	for _, method := range s.Methods() {
		method := method
		r.Post("/"+strings.Replace(method, ".", "/", 1), func(w http.ResponseWriter, req *http.Request) {
			var params json.RawMessage
			if req.ContentLength != 0 {
				if err := json.NewDecoder(req.Body).Decode(&params); err != nil {
					writeJSON(w, http.StatusBadRequest, envelope{OK: false, Error: "rpcserver: decoding request body: " + err.Error()})
					return
				}
			}
			writeJSON(w, http.StatusOK, s.dispatch(method, params))
		})
	}

	r.Post("/rpc", func(w http.ResponseWriter, req *http.Request) {
		var rr rpcRequest
		if err := json.NewDecoder(req.Body).Decode(&rr); err != nil {
			writeJSON(w, http.StatusBadRequest, rpcResponse{OK: false, Error: "rpcserver: decoding request body: " + err.Error()})
			return
		}
		env := s.dispatch(rr.Method, rr.Params)
		writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: rr.JSONRPC, ID: rr.ID, OK: env.OK, Error: env.Error, Result: env.Result})
	})

	r.Get("/methods", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, envelopeMethods{OK: true, Methods: s.Methods()})
	})

	return r
}

type envelopeMethods struct {
	OK      bool     `json:"ok"`
	Methods []string `json:"methods"`
}

// ListenAndServe starts the HTTP server on addr (config.Config.Port).
func (s *Server) ListenAndServe(addr string) error {
	log.Infof("rpcserver: listening on %s (%d methods)", addr, len(s.methods))
	return http.ListenAndServe(addr, s.Router())
}
