// Command health is a tiny liveness probe for container HEALTHCHECK and
// deploy scripts. It hits the service's health endpoint and exits non-zero
// on any failure, avoiding a curl dependency in minimal images.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/valyala/fasthttp"
)

func main() {
	target := flag.String("url", "http://127.0.0.1:8080/healthz", "health endpoint to probe")
	ready := flag.Bool("ready", false, "probe /readyz instead of /healthz")
	timeout := flag.Duration("timeout", 3*time.Second, "request timeout")
	flag.Parse()

	url := *target
	if *ready && url == flag.Lookup("url").DefValue {
		url = "http://127.0.0.1:8080/readyz"
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)

	client := &fasthttp.Client{
		ReadTimeout:  *timeout,
		WriteTimeout: *timeout,
	}
	if err := client.DoTimeout(req, resp, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "probe failed: %v\n", err)
		os.Exit(1)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		fmt.Fprintf(os.Stderr, "probe failed: status %d\n", resp.StatusCode())
		os.Exit(1)
	}
	fmt.Printf("%s\n", resp.Body())
}
