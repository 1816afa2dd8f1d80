package resources

import (
	"context"
	"net/url"
	"strings"

	"github.com/conneroisu/canopy/internal/compilation"
	"github.com/conneroisu/canopy/internal/plugins"
)

const liveReloadClient = `<script data-canopy-livereload>
(function () {
  var proto = location.protocol === "https:" ? "wss://" : "ws://";
  function connect() {
    var ws = new WebSocket(proto + location.host + "%s");
    ws.onmessage = function (event) {
      try {
        var msg = JSON.parse(event.data);
        if (msg.type === "reload") { location.reload(); }
      } catch (e) {}
    };
    ws.onclose = function () { setTimeout(connect, 1000); };
  }
  connect();
})();
</script>`

// LiveReloadInterceptor injects the live reload client into HTML responses.
type LiveReloadInterceptor struct {
	script string
}

// NewLiveReloadInterceptor creates the develop-only live reload interceptor.
func NewLiveReloadInterceptor(comp *compilation.Compilation) *LiveReloadInterceptor {
	endpoint := LiveReloadPath
	if comp != nil && comp.Config != nil {
		endpoint = comp.Config.BasePath + LiveReloadPath
	}
	return &LiveReloadInterceptor{script: strings.Replace(liveReloadClient, "%s", endpoint, 1)}
}

func (l *LiveReloadInterceptor) ShouldIntercept(_ context.Context, _ *url.URL, resp plugins.Response, _ *plugins.Exchange) bool {
	return strings.HasPrefix(resp.ContentType, "text/html") && !resp.Binary &&
		!strings.Contains(string(resp.Body), "data-canopy-livereload")
}

func (l *LiveReloadInterceptor) Intercept(_ context.Context, _ *url.URL, resp plugins.Response, _ *plugins.Exchange) (plugins.Response, error) {
	return plugins.Response{Body: []byte(insertBefore(string(resp.Body), "</body>", l.script))}, nil
}
