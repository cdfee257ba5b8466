package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	es "github.com/elastic/go-elasticsearch/v8"

	"github.com/loykin/taskvisor/internal/history"
)

// DefaultIndex is used when the DSN names no index.
const DefaultIndex = "taskvisor-history"

// Sink indexes each event as one document.
type Sink struct {
	client *es.Client
	index  string
}

// New builds a sink for the cluster at addr (http or https URL). No request
// is made until the first Send.
func New(addr, index, username, password string) (*Sink, error) {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	if index == "" {
		index = DefaultIndex
	}
	client, err := es.NewClient(es.Config{
		Addresses: []string{addr},
		Username:  username,
		Password:  password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}
	return &Sink{client: client, index: index}, nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	res, err := s.client.Index(
		s.index,
		bytes.NewReader(b),
		s.client.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to index event: %w", err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.IsError() {
		return fmt.Errorf("error indexing event: %s", res.String())
	}
	return nil
}

func (s *Sink) Close() error { return nil }
