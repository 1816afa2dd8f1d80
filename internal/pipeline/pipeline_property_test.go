//go:build property

package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"testing"

	"github.com/conneroisu/canopy/internal/plugins"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type typeServer struct{ contentType string }

func (s typeServer) ShouldServe(context.Context, *url.URL, *plugins.Exchange) bool { return true }
func (s typeServer) Serve(context.Context, *url.URL, *plugins.Exchange) (plugins.Response, error) {
	return plugins.Response{Body: []byte(s.contentType), ContentType: s.contentType}, nil
}

// TestFoldProperties validates ordering and merge properties of the serve fold
func TestFoldProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1234) // For reproducible results
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)
	target, _ := url.Parse("/a.css")

	properties.Property("last registered content type wins", prop.ForAll(
		func(types []string) bool {
			if len(types) == 0 {
				return true
			}
			var providers []plugins.Instance
			for i, ct := range types {
				providers = append(providers, plugins.Instance{
					Name:     fmt.Sprintf("p%d", i),
					Provider: typeServer{contentType: "text/" + ct},
				})
			}

			resp, err := New(providers, nil).Serve(context.Background(), target, plugins.NewExchange(nil), plugins.Response{})
			if err != nil {
				return false
			}
			last := "text/" + types[len(types)-1]
			return resp.ContentType == last && string(resp.Body) == last
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("fold is deterministic", prop.ForAll(
		func(types []string) bool {
			var providers []plugins.Instance
			for i, ct := range types {
				providers = append(providers, plugins.Instance{
					Name:     fmt.Sprintf("p%d", i),
					Provider: typeServer{contentType: ct},
				})
			}
			p := New(providers, nil)

			first, err1 := p.Serve(context.Background(), target, plugins.NewExchange(nil), plugins.Response{})
			second, err2 := p.Serve(context.Background(), target, plugins.NewExchange(nil), plugins.Response{})
			return err1 == nil && err2 == nil &&
				first.ContentType == second.ContentType &&
				string(first.Body) == string(second.Body)
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("merge with empty response is identity", prop.ForAll(
		func(body, contentType string, binary bool) bool {
			r := plugins.Response{Body: []byte(body), ContentType: contentType, Binary: binary}
			merged := r.Merge(plugins.Response{})
			return string(merged.Body) == body && merged.ContentType == contentType && merged.Binary == binary
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
