package jenkins

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobPath(t *testing.T) {
	tests := []struct {
		name string
		job  string
		want string
	}{
		{"plain job", "deploy", "/job/deploy"},
		{"folder job", "team/deploy", "/job/team/job/deploy"},
		{"surrounding slashes", "/team/deploy/", "/job/team/job/deploy"},
		{"escaped characters", "my job", "/job/my%20job"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, JobPath(tt.job))
		})
	}
}

func TestParseQueueLocation(t *testing.T) {
	tests := []struct {
		name     string
		location string
		want     int64
		wantErr  bool
	}{
		{"absolute with trailing slash", "http://jenkins:8080/queue/item/123/", 123, false},
		{"relative without trailing slash", "/queue/item/9", 9, false},
		{"missing id", "http://jenkins:8080/queue/item/", 0, true},
		{"empty", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseQueueLocation(tt.location)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewClient_DefaultURL(t *testing.T) {
	assert.Equal(t, DefaultURL, NewClient("", "", "").BaseURL())
	assert.Equal(t, "http://ci", NewClient("http://ci/", "", "").BaseURL())
}

func TestTriggerBuild(t *testing.T) {
	var gotPath, gotQuery, gotCrumb, gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/crumbIssuer/api/json":
			_, _ = w.Write([]byte(`{"crumb":"abc","crumbRequestField":"Jenkins-Crumb"}`))
		default:
			assert.Equal(t, http.MethodPost, r.Method)
			gotPath = r.URL.Path
			gotQuery = r.URL.RawQuery
			gotCrumb = r.Header.Get("Jenkins-Crumb")
			gotUser, gotPass, _ = r.BasicAuth()
			w.Header().Set("Location", "http://jenkins/queue/item/77/")
			w.WriteHeader(http.StatusCreated)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "relay", "secret")
	id, err := c.TriggerBuild(context.Background(), "deploy", map[string]string{"ENV": "prod", "A": "1"})

	require.NoError(t, err)
	assert.Equal(t, int64(77), id)
	assert.Equal(t, "/job/deploy/buildWithParameters", gotPath)
	assert.Equal(t, "A=1&ENV=prod", gotQuery)
	assert.Equal(t, "abc", gotCrumb)
	assert.Equal(t, "relay", gotUser)
	assert.Equal(t, "secret", gotPass)
}

func TestTriggerBuild_WithoutParamsOrCrumb(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/crumbIssuer/api/json" {
			http.NotFound(w, r)
			return
		}
		gotPath = r.URL.Path
		w.Header().Set("Location", "/queue/item/5/")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	id, err := NewClient(srv.URL, "", "").TriggerBuild(context.Background(), "deploy", nil)

	require.NoError(t, err)
	assert.Equal(t, int64(5), id)
	assert.Equal(t, "/job/deploy/build", gotPath)
}

func TestTriggerBuild_AcceptsAny2xx(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   int64
	}{
		{"created", http.StatusCreated, 42},
		{"ok", http.StatusOK, 42},
		{"accepted", http.StatusAccepted, 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/crumbIssuer/api/json" {
					http.NotFound(w, r)
					return
				}
				w.Header().Set("Location", "/queue/item/42/")
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			id, err := NewClient(srv.URL, "", "").TriggerBuild(context.Background(), "deploy", nil)

			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestTriggerBuild_RedirectIsNotSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/crumbIssuer/api/json" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", "").TriggerBuild(context.Background(), "deploy", nil)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotModified, httpErr.StatusCode)
}

func TestTriggerBuild_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/crumbIssuer/api/json" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("No valid crumb"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", "").TriggerBuild(context.Background(), "deploy", nil)

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusForbidden, httpErr.StatusCode)
	assert.Equal(t, "No valid crumb", httpErr.Body)
	assert.Equal(t, http.MethodPost, httpErr.Method)
}

func TestQueueItem(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantExec *Executable
		wantCanc bool
	}{
		{"still waiting", `{"id":3,"why":"Waiting for next available executor"}`, nil, false},
		{"started", `{"id":3,"executable":{"number":7,"url":"http://jenkins/job/deploy/7/"}}`, &Executable{Number: 7, URL: "http://jenkins/job/deploy/7/"}, false},
		{"cancelled", `{"id":3,"cancelled":true}`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/queue/item/3/api/json", r.URL.Path)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			item, err := NewClient(srv.URL, "", "").QueueItem(context.Background(), 3)
			require.NoError(t, err)
			assert.Equal(t, int64(3), item.ID)
			assert.Equal(t, tt.wantExec, item.Executable)
			assert.Equal(t, tt.wantCanc, item.Cancelled)
		})
	}
}

func TestDescribe(t *testing.T) {
	const body = `{"status":"SUCCESS","stages":[]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/job/team/job/deploy/12/wfapi/describe", r.URL.Path)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	raw, err := NewClient(srv.URL, "", "").Describe(context.Background(), "team/deploy", 12)
	require.NoError(t, err)
	assert.JSONEq(t, body, string(raw))
}

func TestDescribe_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", "").Describe(context.Background(), "deploy", 1)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.Contains(t, err.Error(), "status 404")
}

func TestHTTPError_BodyIsBounded(t *testing.T) {
	page := "<html>" + strings.Repeat("x", 2*maxErrorBody) + "</html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", "").Describe(context.Background(), "deploy", 1)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, maxErrorBody+1, utf8.RuneCountInString(httpErr.Body))
	assert.True(t, strings.HasSuffix(httpErr.Body, "…"))
}

func TestBuildInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/job/deploy/12/api/json", r.URL.Path)
		_, _ = w.Write([]byte(`{"number":12,"building":false,"result":"SUCCESS","duration":4200}`))
	}))
	defer srv.Close()

	info, err := NewClient(srv.URL, "", "").BuildInfo(context.Background(), "deploy", 12)
	require.NoError(t, err)
	assert.Equal(t, &BuildInfo{Number: 12, Result: "SUCCESS", Duration: 4200}, info)
}

func TestBuildInfo_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient(srv.URL, "", "").BuildInfo(ctx, "deploy", 1)
	assert.ErrorIs(t, err, context.Canceled)
}
