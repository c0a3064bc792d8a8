package trigger

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/rezenkai/crmflow/model"
)

const WEBHOOK_SECRET_HEADER = "X-Webhook-Secret"

var ErrNoRoute = errors.New("no webhook registered for path")
var ErrUnauthorized = errors.New("webhook secret mismatch")

// WebhookSource routes inbound webhook calls by config.path. Several
// workflows may listen on the same path; each binding with a config.secret
// only fires when the request carries the same secret.
type WebhookSource struct {
	mu     sync.RWMutex
	routes map[string]map[string]Binding
}

var _ Source = new(WebhookSource)

func NewWebhookSource() *WebhookSource {
	return &WebhookSource{
		routes: make(map[string]map[string]Binding),
	}
}

func normalizePath(p string) string {
	return strings.Trim(strings.TrimSpace(p), "/")
}

func (s *WebhookSource) Bind(b Binding) error {
	path, _ := b.Trigger.Config["path"].(string)
	path = normalizePath(path)
	if len(path) == 0 {
		return fmt.Errorf("webhook trigger %s needs config.path", b.Trigger.Id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.routes[path] == nil {
		s.routes[path] = make(map[string]Binding)
	}
	s.routes[path][b.Key()] = b
	return nil
}

func (s *WebhookSource) Unbind(b Binding) error {
	path, _ := b.Trigger.Config["path"].(string)
	path = normalizePath(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.routes[path], b.Key())
	if len(s.routes[path]) == 0 {
		delete(s.routes, path)
	}
	return nil
}

// Deliver fires every binding on path and returns the started execution
// ids. ErrUnauthorized is returned when no binding accepted the secret.
func (s *WebhookSource) Deliver(path string, headers http.Header, payload map[string]any) ([]string, error) {
	path = normalizePath(path)
	s.mu.RLock()
	bindings := make([]Binding, 0, len(s.routes[path]))
	for _, b := range s.routes[path] {
		bindings = append(bindings, b)
	}
	s.mu.RUnlock()
	if len(bindings) == 0 {
		return nil, ErrNoRoute
	}
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].Key() < bindings[j].Key() })

	ids := []string{}
	accepted := 0
	var lastErr error
	for _, b := range bindings {
		if secret, _ := b.Trigger.Config["secret"].(string); len(secret) != 0 {
			if subtle.ConstantTimeCompare([]byte(secret), []byte(headers.Get(WEBHOOK_SECRET_HEADER))) != 1 {
				continue
			}
		}
		accepted++
		partial := &model.ExecutionContext{
			Source:    "webhook:" + path,
			RequestId: headers.Get("X-Request-Id"),
		}
		id, err := b.Fire(payload, partial)
		if err != nil {
			lastErr = err
			continue
		}
		if len(id) != 0 {
			ids = append(ids, id)
		}
	}
	if accepted == 0 {
		return nil, ErrUnauthorized
	}
	if len(ids) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return ids, nil
}

func (s *WebhookSource) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.routes))
	for p := range s.routes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
