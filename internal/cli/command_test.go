package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/picatz/dohclient/internal/cli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeCommand(args ...string) (*bytes.Buffer, error) {
	output := bytes.NewBuffer(nil)

	cli.CommandRoot.SetArgs(args)
	cli.CommandRoot.SetOut(output)
	cli.CommandRoot.SetErr(io.Discard)

	return output, cli.CommandRoot.Execute()
}

func testCommand(t *testing.T, args ...string) io.Reader {
	t.Helper()

	output, err := executeCommand(args...)
	if err != nil {
		t.Fatal(err)
	}

	return output
}

func testServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"method": r.Method})
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestCommand(t *testing.T) {
	srv := testServer(t)

	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, output io.Reader)
	}{
		{
			name: "help",
			args: []string{"--help"},
			check: func(t *testing.T, output io.Reader) {
				b, err := io.ReadAll(output)
				require.NoError(t, err)

				if len(b) == 0 {
					t.Error("got no help output")
				}
			},
		},
		{
			name: "providers",
			args: []string{"providers"},
			check: func(t *testing.T, output io.Reader) {
				b, err := io.ReadAll(output)
				require.NoError(t, err)

				assert.Contains(t, string(b), "CloudFlare")
				assert.Contains(t, string(b), "SheCan")
			},
		},
		{
			name: "get",
			args: []string{"get", srv.URL},
			check: func(t *testing.T, output io.Reader) {
				var result struct {
					URL    string         `json:"url"`
					Result map[string]any `json:"result"`
				}
				require.NoError(t, json.NewDecoder(output).Decode(&result))

				assert.Equal(t, srv.URL, result.URL)
				assert.Equal(t, map[string]any{"method": "GET"}, result.Result)
			},
		},
		{
			name: "delete",
			args: []string{"delete", srv.URL, srv.URL},
			check: func(t *testing.T, output io.Reader) {
				dec := json.NewDecoder(output)

				for range 2 {
					var result struct {
						Result map[string]any `json:"result"`
					}
					require.NoError(t, dec.Decode(&result))
					assert.Equal(t, "DELETE", result.Result["method"])
				}
			},
		},
		{
			name: "call",
			args: []string{"call", "makePostRequest", `{"url":"` + srv.URL + `","body":"{}","dohProvider":"Quad9"}`},
			check: func(t *testing.T, output io.Reader) {
				var result map[string]any
				require.NoError(t, json.NewDecoder(output).Decode(&result))

				assert.Equal(t, map[string]any{"method": "POST"}, result)
			},
		},
		{
			name: "call without url",
			args: []string{"call", "makeGetRequest", `{}`},
			check: func(t *testing.T, output io.Reader) {
				var result map[string]any
				require.NoError(t, json.NewDecoder(output).Decode(&result))

				assert.Equal(t, false, result["success"])
				assert.Equal(t, "URL is required", result["message"])
				assert.Equal(t, float64(-1), result["code"])
			},
		},
		{
			name: "lookup",
			args: []string{"lookup", "127.0.0.1", "::1"},
			check: func(t *testing.T, output io.Reader) {
				dec := json.NewDecoder(output)
				seen := map[string][]string{}

				for range 2 {
					var result struct {
						Host  string   `json:"host"`
						Addrs []string `json:"addrs"`
					}
					require.NoError(t, dec.Decode(&result))
					seen[result.Host] = result.Addrs
				}

				assert.Equal(t, map[string][]string{
					"127.0.0.1": {"127.0.0.1"},
					"::1":       {"::1"},
				}, seen)
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			output := testCommand(t, test.args...)

			test.check(t, output)
		})
	}
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "unknown call",
			args: []string{"call", "makeHeadRequest", `{"url":"http://127.0.0.1"}`},
			want: "not implemented",
		},
		{
			name: "invalid call arguments",
			args: []string{"call", "makeGetRequest", `{"url":`},
			want: "invalid arguments",
		},
		{
			name: "invalid header",
			args: []string{"post", "http://127.0.0.1", "-H", "no-colon"},
			want: "invalid header",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := executeCommand(test.args...)
			require.Error(t, err)
			assert.ErrorContains(t, err, test.want)
		})
	}
}

func TestCommandServe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		cli.CommandRoot.SetContext(context.Background())
	})

	cli.CommandRoot.SetArgs([]string{"serve", "--listen", addr})
	cli.CommandRoot.SetOut(io.Discard)
	cli.CommandRoot.SetErr(io.Discard)

	done := make(chan error, 1)
	go func() {
		done <- cli.CommandRoot.ExecuteContext(ctx)
	}()

	var resp *http.Response

	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + addr + "/v1/providers")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	var providers []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&providers))
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, providers, 12)

	resp, err = http.Post("http://"+addr+"/v1/makeHeadRequest", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not shut down")
	}
}
