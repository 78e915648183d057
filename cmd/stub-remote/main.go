package main

import (
	"flag"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
)

// stub-remote is a stand-in upstream for local development: it accepts
// pushed operations, serves data documents and exposes a health endpoint.
// --fail-rate injects push failures to exercise the daemon's retry path.
func main() {
	addr := flag.String("addr", ":9090", "listen address for the stub upstream")
	failRate := flag.Float64("fail-rate", 0, "probability (0..1) that an ops push returns 500")
	flag.Parse()

	var mu sync.RWMutex
	docs := map[string][]byte{}
	var pushes uint64

	h := func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		switch {
		case path == "/health" || path == "/healthz":
			ctx.Response.Header.Set("Content-Type", "application/json")
			ctx.SetStatusCode(fasthttp.StatusOK)
			_, _ = ctx.WriteString("{\"status\":\"ok\"}")

		case strings.HasPrefix(path, "/ops/") && ctx.IsPost():
			if *failRate > 0 && rand.Float64() < *failRate {
				ctx.SetStatusCode(fasthttp.StatusInternalServerError)
				_, _ = ctx.WriteString("{\"error\":\"injected failure\"}")
				return
			}
			mu.Lock()
			pushes++
			n := pushes
			mu.Unlock()
			fmt.Printf("push #%d %s (%d bytes)\n", n, strings.TrimPrefix(path, "/ops/"), len(ctx.PostBody()))
			ctx.SetStatusCode(fasthttp.StatusAccepted)

		case strings.HasPrefix(path, "/data/") && ctx.IsPut():
			key := strings.TrimPrefix(path, "/data/")
			mu.Lock()
			docs[key] = append([]byte(nil), ctx.PostBody()...)
			mu.Unlock()
			ctx.SetStatusCode(fasthttp.StatusNoContent)

		case strings.HasPrefix(path, "/data/") && ctx.IsGet():
			key := strings.TrimPrefix(path, "/data/")
			mu.RLock()
			doc, ok := docs[key]
			mu.RUnlock()
			ctx.Response.Header.Set("Content-Type", "application/json")
			if !ok {
				// serve a generated document so prefetches always land
				doc = []byte(fmt.Sprintf("{\"key\":%q,\"generated_at\":%q}", key, time.Now().UTC().Format(time.RFC3339)))
			}
			ctx.SetStatusCode(fasthttp.StatusOK)
			_, _ = ctx.Write(doc)

		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}

	fmt.Printf("stub upstream listening on %s (fail-rate=%v)\n", *addr, *failRate)
	srv := &fasthttp.Server{
		Handler:            h,
		Name:               "upsync-stub-remote",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		MaxRequestBodySize: 1 << 20,
	}
	if err := srv.ListenAndServe(*addr); err != nil {
		fmt.Printf("stub upstream exit: %v\n", err)
	}
}
