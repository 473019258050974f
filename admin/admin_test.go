package admin_test

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/raniellyferreira/redis-inmemory-server/admin"
	"github.com/raniellyferreira/redis-inmemory-server/metrics"
)

func startAdmin(t *testing.T, config admin.Config) string {
	t.Helper()
	s := admin.New(config)
	if err := s.Start("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return "http://" + s.Addr()
}

func get(t *testing.T, url, token string) (int, string) {
	t.Helper()
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	if token != "" {
		req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+token)
	}
	if err := fasthttp.DoTimeout(req, resp, 5*time.Second); err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode(), string(resp.Body())
}

func TestEndpointsWithoutSecret(t *testing.T) {
	collector := metrics.New("master")
	collector.RecordCommandProcessed("SET", time.Millisecond)

	base := startAdmin(t, admin.Config{
		Metrics: collector.WritePrometheus,
		Status: func() interface{} {
			return map[string]interface{}{"role": "master", "connected_slaves": 2}
		},
	})

	code, body := get(t, base+"/healthz", "")
	if code != fasthttp.StatusOK || body != "ok\n" {
		t.Errorf("/healthz = %d %q", code, body)
	}

	code, body = get(t, base+"/metrics", "")
	if code != fasthttp.StatusOK || !strings.Contains(body, `redis_commands_total{cmd="set",role="master"} 1`) {
		t.Errorf("/metrics = %d\n%s", code, body)
	}

	code, body = get(t, base+"/replication", "")
	if code != fasthttp.StatusOK {
		t.Fatalf("/replication = %d %s", code, body)
	}
	var status map[string]interface{}
	if err := json.Unmarshal([]byte(body), &status); err != nil {
		t.Fatal(err)
	}
	if status["role"] != "master" || status["connected_slaves"] != float64(2) {
		t.Errorf("/replication = %v", status)
	}

	if code, _ := get(t, base+"/nope", ""); code != fasthttp.StatusNotFound {
		t.Errorf("/nope = %d", code)
	}
}

func TestTokenAuthentication(t *testing.T) {
	const secret = "correct horse battery staple"
	base := startAdmin(t, admin.Config{
		Secret:  secret,
		Metrics: func(w io.Writer) { io.WriteString(w, "up 1\n") },
	})

	valid, err := admin.NewToken(secret, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	expired, _ := admin.NewToken(secret, -time.Minute)
	foreign, _ := admin.NewToken("some other secret", time.Minute)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", fasthttp.StatusUnauthorized},
		{"garbage", "v2.local.nonsense", fasthttp.StatusUnauthorized},
		{"expired", expired, fasthttp.StatusUnauthorized},
		{"wrong secret", foreign, fasthttp.StatusUnauthorized},
		{"valid", valid, fasthttp.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _ := get(t, base+"/metrics", tt.token); code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}

	// health checks stay open
	if code, _ := get(t, base+"/healthz", ""); code != fasthttp.StatusOK {
		t.Errorf("/healthz without token = %d", code)
	}
}

func TestHealthFailure(t *testing.T) {
	base := startAdmin(t, admin.Config{
		Health: func() error { return errors.New("master link down") },
	})

	code, body := get(t, base+"/healthz", "")
	if code != fasthttp.StatusServiceUnavailable || !strings.Contains(body, "master link down") {
		t.Errorf("/healthz = %d %q", code, body)
	}
}

func TestNewTokenRequiresSecret(t *testing.T) {
	if _, err := admin.NewToken("", time.Minute); err == nil {
		t.Error("NewToken accepted an empty secret")
	}
}
