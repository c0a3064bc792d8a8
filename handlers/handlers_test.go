package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rezenkai/crmflow/model"
	"github.com/rezenkai/crmflow/step"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"
)

func instruction(stepType model.StepType, config map[string]any) step.Instruction {
	return step.Instruction{
		ExecutionID: "exec-1",
		WorkflowID:  "wf-1",
		TenantID:    "tenant-1",
		Step:        model.Step{Id: "s1", Type: stepType, Config: config},
		Config:      config,
	}
}

func TestAPICallHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			var body map[string]any
			if r.Method != http.MethodPost || r.Header.Get("X-Key") != "abc" || json.NewDecoder(r.Body).Decode(&body) != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"echo": body["name"]})
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("nope"))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	h := APICallHandler(NewHTTPCaller(0))
	ctx := context.Background()

	tests := map[string]struct {
		config  map[string]any
		status  int
		body    any
		wantErr bool
	}{
		"post json": {
			config: map[string]any{"url": srv.URL + "/ok", "method": "post", "headers": map[string]any{"X-Key": "abc"}, "body": map[string]any{"name": "Ann"}},
			status: http.StatusOK,
			body:   map[string]any{"echo": "Ann"},
		},
		"client error is a result": {
			config: map[string]any{"url": srv.URL + "/missing"},
			status: http.StatusNotFound,
			body:   "nope",
		},
		"server error fails": {
			config:  map[string]any{"url": srv.URL + "/down"},
			wantErr: true,
		},
		"missing url": {
			config:  map[string]any{},
			wantErr: true,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			res, err := h.Execute(ctx, &model.ExecutionContext{}, instruction(model.STEP_TYPE_API_CALL, tc.config))
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			out := res.(map[string]any)
			require.Equal(t, tc.status, out["status"])
			require.Equal(t, tc.body, out["body"])
		})
	}
}

func TestCircuitBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	caller := NewHTTPCaller(0)
	for i := 0; i < breakerMaxFailures; i++ {
		resp, err := caller.Do(context.Background(), Request{URL: srv.URL})
		var se StatusError
		require.ErrorAs(t, err, &se)
		require.Equal(t, http.StatusInternalServerError, resp.Status)
	}
	_, err := caller.Do(context.Background(), Request{URL: srv.URL})
	require.True(t, errors.Is(err, gobreaker.ErrOpenState))
	require.Equal(t, int32(breakerMaxFailures), hits.Load())
}

func TestCRMHandlers(t *testing.T) {
	type call struct {
		method, path, tenant, auth string
		body                       map[string]any
	}
	calls := make(chan call, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		calls <- call{r.Method, r.URL.Path, r.Header.Get(TENANT_HEADER), r.Header.Get("Authorization"), body}
		if strings.HasSuffix(r.URL.Path, "/bad") {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"rec-1"}`))
	}))
	defer srv.Close()

	crm := NewCRMClient(NewHTTPCaller(0), srv.URL+"/", "secret")
	tests := map[string]struct {
		handler step.Handler
		config  map[string]any
		method  string
		path    string
		body    map[string]any
		wantErr bool
	}{
		"create contact": {
			handler: CreateContactHandler(crm),
			config:  map[string]any{"data": map[string]any{"email": "a@b.c"}},
			method:  http.MethodPost,
			path:    "/api/v1/contacts",
			body:    map[string]any{"email": "a@b.c"},
		},
		"update contact": {
			handler: UpdateContactHandler(crm),
			config:  map[string]any{"contactId": "c-9", "status": "customer"},
			method:  http.MethodPut,
			path:    "/api/v1/contacts/c-9",
			body:    map[string]any{"status": "customer"},
		},
		"create deal": {
			handler: CreateDealHandler(crm),
			config:  map[string]any{"name": "Big"},
			method:  http.MethodPost,
			path:    "/api/v1/opportunities",
			body:    map[string]any{"name": "Big"},
		},
		"create task": {
			handler: CreateTaskHandler(crm),
			config:  map[string]any{"title": "Call"},
			method:  http.MethodPost,
			path:    "/api/v1/tasks",
			body:    map[string]any{"title": "Call"},
		},
		"rejected record": {
			handler: UpdateContactHandler(crm),
			config:  map[string]any{"id": "bad"},
			method:  http.MethodPut,
			path:    "/api/v1/contacts/bad",
			body:    map[string]any{},
			wantErr: true,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			res, err := tc.handler.Execute(context.Background(), &model.ExecutionContext{}, instruction(model.STEP_TYPE_CREATE_CONTACT, tc.config))
			got := <-calls
			require.Equal(t, tc.method, got.method)
			require.Equal(t, tc.path, got.path)
			require.Equal(t, "tenant-1", got.tenant)
			require.Equal(t, "Bearer secret", got.auth)
			require.Equal(t, tc.body, got.body)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, map[string]any{"id": "rec-1"}, res)
		})
	}

	_, err := UpdateContactHandler(crm).Execute(context.Background(), &model.ExecutionContext{}, instruction(model.STEP_TYPE_UPDATE_CONTACT, map[string]any{}))
	require.Error(t, err)
}

type fakeSender struct {
	sent []Email
}

func (f *fakeSender) Send(_ context.Context, email Email) error {
	f.sent = append(f.sent, email)
	return nil
}

func TestEmailHandler(t *testing.T) {
	sender := &fakeSender{}
	h := EmailHandler(sender)
	res, err := h.Execute(context.Background(), &model.ExecutionContext{}, instruction(model.STEP_TYPE_SEND_EMAIL, map[string]any{
		"to": "a@x.io, b@x.io", "subject": "Hi", "body": "Welcome",
	}))
	require.NoError(t, err)
	require.Equal(t, map[string]any{"sent": true, "to": []string{"a@x.io", "b@x.io"}}, res)
	require.Len(t, sender.sent, 1)
	require.Equal(t, "Welcome", sender.sent[0].Body)

	_, err = h.Execute(context.Background(), &model.ExecutionContext{}, instruction(model.STEP_TYPE_SEND_EMAIL, map[string]any{"to": []any{}}))
	require.Error(t, err)

	res, err = EmailHandler(nil).Execute(context.Background(), &model.ExecutionContext{}, instruction(model.STEP_TYPE_SEND_EMAIL, map[string]any{"to": []any{"c@x.io"}}))
	require.NoError(t, err)
	require.Equal(t, false, res.(map[string]any)["sent"])
}

func TestSMTPSender(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "mail.local", Username: "bot@x.io", Password: "pw"})
	var addr, from string
	var msg []byte
	s.send = func(a string, _ smtp.Auth, f string, _ []string, m []byte) error {
		addr, from, msg = a, f, m
		return nil
	}
	require.NoError(t, s.Send(context.Background(), Email{To: []string{"a@x.io"}, Subject: "Hi", Body: "text", HTML: "<b>text</b>"}))
	require.Equal(t, "mail.local:587", addr)
	require.Equal(t, "bot@x.io", from)
	require.Contains(t, string(msg), "multipart/alternative")
	require.Contains(t, string(msg), "<b>text</b>")

	plain := string(buildMessage(Email{From: "f@x.io", To: []string{"a@x.io"}, Subject: "Hi", Body: "text"}))
	require.Contains(t, plain, "text/plain")
	require.NotContains(t, plain, "multipart")
}

func TestRegisterDefaults(t *testing.T) {
	reg := step.NewRegistry()
	require.NoError(t, RegisterDefaults(reg, Config{}))
	require.Equal(t, []model.StepType{model.STEP_TYPE_API_CALL, model.STEP_TYPE_SEND_EMAIL}, reg.Types())

	reg = step.NewRegistry()
	require.NoError(t, RegisterDefaults(reg, Config{CRMBaseURL: "http://crm"}))
	require.Len(t, reg.Types(), 6)
}
