package breach

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	_ "github.com/castellan-dir/castellan/testing"
)

// SHA-1("password") = 5BAA61E4C9B93F3F0682250B6CF8331B7EE68FD8.
const (
	knownPrefix = "5BAA6"
	knownSuffix = "1E4C9B93F3F0682250B6CF8331B7EE68FD8"
)

func rangeServer(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		prefix := strings.TrimPrefix(r.URL.Path, "/range/")
		if prefix == knownPrefix {
			fmt.Fprintf(w, "%s:42\r\nAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA:1\r\n", knownSuffix)
			return
		}
		fmt.Fprint(w, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA:1\r\n")
	}))
}

func TestCompromisedHitAndMiss(t *testing.T) {
	srv := rangeServer(t, nil)
	defer srv.Close()
	c := NewClient(srv.URL+"/range", false, slog.New(slog.DiscardHandler))

	found, err := c.Compromised(context.Background(), "password")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !found {
		t.Fatal("expected known candidate to be reported")
	}

	found, err = c.Compromised(context.Background(), "9eKzq-unlisted-candidate")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if found {
		t.Fatal("expected unlisted candidate to pass")
	}
}

func TestLookupFailurePolicy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	logger := slog.New(slog.DiscardHandler)

	open := NewClient(srv.URL+"/range", false, logger)
	found, err := open.Compromised(context.Background(), "anything")
	if err != nil || found {
		t.Fatalf("fail-open: found=%v err=%v", found, err)
	}

	closed := NewClient(srv.URL+"/range", true, logger)
	found, err = closed.Compromised(context.Background(), "anything")
	if err != nil {
		t.Fatalf("fail-closed: %v", err)
	}
	if !found {
		t.Fatal("fail-closed must report the candidate as compromised")
	}
}

func TestDisabledChecker(t *testing.T) {
	found, err := Disabled{}.Compromised(context.Background(), "password")
	if err != nil || found {
		t.Fatalf("disabled checker: found=%v err=%v", found, err)
	}
}
