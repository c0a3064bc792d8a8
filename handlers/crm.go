package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rezenkai/crmflow/model"
	"github.com/rezenkai/crmflow/step"
)

const TENANT_HEADER = "X-Tenant-ID"

// CRMClient talks to the CRM REST API. Records are created in the tenant of
// the execution.
type CRMClient struct {
	caller  *HTTPCaller
	baseURL string
	token   string
}

func NewCRMClient(caller *HTTPCaller, baseURL string, token string) *CRMClient {
	return &CRMClient{
		caller:  caller,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

func (c *CRMClient) CreateContact(ctx context.Context, tenantID string, data map[string]any) (any, error) {
	return c.do(ctx, http.MethodPost, "/api/v1/contacts", tenantID, data)
}

func (c *CRMClient) UpdateContact(ctx context.Context, tenantID string, contactID string, data map[string]any) (any, error) {
	if contactID == "" {
		return nil, fmt.Errorf("contact id is required")
	}
	return c.do(ctx, http.MethodPut, "/api/v1/contacts/"+url.PathEscape(contactID), tenantID, data)
}

func (c *CRMClient) CreateDeal(ctx context.Context, tenantID string, data map[string]any) (any, error) {
	return c.do(ctx, http.MethodPost, "/api/v1/opportunities", tenantID, data)
}

func (c *CRMClient) CreateTask(ctx context.Context, tenantID string, data map[string]any) (any, error) {
	return c.do(ctx, http.MethodPost, "/api/v1/tasks", tenantID, data)
}

// do fails on any status >= 400, the CRM rejected the record.
func (c *CRMClient) do(ctx context.Context, method string, path string, tenantID string, data map[string]any) (any, error) {
	headers := map[string]string{"Accept": "application/json"}
	if c.token != "" {
		headers["Authorization"] = "Bearer " + c.token
	}
	if tenantID != "" {
		headers[TENANT_HEADER] = tenantID
	}
	resp, err := c.caller.Do(ctx, Request{Method: method, URL: c.baseURL + path, Headers: headers, Body: data})
	if err != nil {
		return nil, err
	}
	if resp.Status >= http.StatusBadRequest {
		return nil, fmt.Errorf("%s %s: %w", method, path, StatusError{Status: resp.Status, Body: resp.Body})
	}
	return resp.Body, nil
}

// recordData is config.data when present, otherwise the whole config.
func recordData(config map[string]any) map[string]any {
	if data, ok := config["data"].(map[string]any); ok {
		return data
	}
	out := make(map[string]any, len(config))
	for k, v := range config {
		out[k] = v
	}
	return out
}

func CreateContactHandler(c *CRMClient) step.Handler {
	return step.HandlerFunc(func(ctx context.Context, _ *model.ExecutionContext, ins step.Instruction) (any, error) {
		return c.CreateContact(ctx, ins.TenantID, recordData(ins.Config))
	})
}

// UpdateContactHandler reads the contact id from config.contactId or
// config.id.
func UpdateContactHandler(c *CRMClient) step.Handler {
	return step.HandlerFunc(func(ctx context.Context, _ *model.ExecutionContext, ins step.Instruction) (any, error) {
		id := ""
		for _, key := range []string{"contactId", "id"} {
			if v, ok := ins.Config[key]; ok && v != nil {
				id = fmt.Sprintf("%v", v)
				break
			}
		}
		data := recordData(ins.Config)
		delete(data, "contactId")
		delete(data, "id")
		return c.UpdateContact(ctx, ins.TenantID, id, data)
	})
}

func CreateDealHandler(c *CRMClient) step.Handler {
	return step.HandlerFunc(func(ctx context.Context, _ *model.ExecutionContext, ins step.Instruction) (any, error) {
		return c.CreateDeal(ctx, ins.TenantID, recordData(ins.Config))
	})
}

func CreateTaskHandler(c *CRMClient) step.Handler {
	return step.HandlerFunc(func(ctx context.Context, _ *model.ExecutionContext, ins step.Instruction) (any, error) {
		return c.CreateTask(ctx, ins.TenantID, recordData(ins.Config))
	})
}
