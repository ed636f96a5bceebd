package mcpserver

import (
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// DualTransportHandler serves streamable HTTP and SSE clients on one path.
type DualTransportHandler struct {
	streamable *mcp.StreamableHTTPHandler
	sse        *mcp.SSEHandler
}

// NewHandler serves server to both transports.
func NewHandler(server *mcp.Server) *DualTransportHandler {
	getServer := func(*http.Request) *mcp.Server { return server }
	return &DualTransportHandler{
		streamable: mcp.NewStreamableHTTPHandler(getServer, nil),
		sse:        mcp.NewSSEHandler(getServer, nil),
	}
}

func (h *DualTransportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// SSE clients post messages back with their session id in the query.
	if r.Method == http.MethodPost && r.URL.Query().Has("sessionid") {
		h.sse.ServeHTTP(w, r)
		return
	}
	if r.Method == http.MethodGet && acceptsEventStream(r) {
		h.sse.ServeHTTP(w, r)
		return
	}
	h.streamable.ServeHTTP(w, r)
}

func acceptsEventStream(r *http.Request) bool {
	for _, v := range strings.Split(strings.Join(r.Header.Values("Accept"), ","), ",") {
		v = strings.TrimSpace(v)
		if v == "text/event-stream" || v == "*/*" || strings.HasPrefix(v, "text/") {
			return true
		}
	}
	return false
}
