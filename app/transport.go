package app

import (
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewTransport(lc fx.Lifecycle, log *zap.Logger) http.RoundTripper {
	return &transport{http.DefaultTransport, log}
}

// transport wraps the default transport with outbound request logging. Both
// the registry client and every sender go through it.
type transport struct {
	base http.RoundTripper
	log  *zap.Logger
}

func (tpt *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := tpt.base.RoundTrip(req)
	elapsed := time.Since(start)

	if err != nil {
		tpt.log.Sugar().Debugw("Outbound "+req.Method+" "+req.URL.Host,
			"path", req.URL.Path, "err", err, "elapsed_msecs", elapsed.Milliseconds())
		return resp, err
	}
	tpt.log.Sugar().Debugw("Outbound "+req.Method+" "+req.URL.Host,
		"path", req.URL.Path, "status", resp.StatusCode, "elapsed_msecs", elapsed.Milliseconds())
	return resp, err
}
