package processor

import (
	"fmt"
	"sort"
	"time"

	"carbonledger/internal/config"
	"carbonledger/internal/payment"
)

const SandboxWebhookSecret = "sandbox"

// Registry resolves adapters by payment method for new charges and by name
// for webhooks and reconciliation. The first adapter registered for a method
// serves new charges.
type Registry struct {
	byName   map[string]Adapter
	byMethod map[payment.Method]Adapter
	secrets  map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		byName:   make(map[string]Adapter),
		byMethod: make(map[payment.Method]Adapter),
		secrets:  make(map[string]string),
	}
}

func (r *Registry) Register(a Adapter, webhookSecret string) error {
	if _, ok := r.byName[a.Name()]; ok {
		return fmt.Errorf("processor %s already registered", a.Name())
	}
	r.byName[a.Name()] = a
	r.secrets[a.Name()] = webhookSecret
	if _, ok := r.byMethod[a.Method()]; !ok {
		r.byMethod[a.Method()] = a
	}
	return nil
}

func (r *Registry) ForMethod(m payment.Method) (Adapter, error) {
	a, ok := r.byMethod[m]
	if !ok {
		return nil, fmt.Errorf("%w: no processor for method %s", ErrUnknownProcessor, m)
	}
	return a, nil
}

func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProcessor, name)
	}
	return a, nil
}

func (r *Registry) WebhookSecret(name string) (string, bool) {
	s, ok := r.secrets[name]
	return s, ok && s != ""
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// FromConfig builds the registry from the processors file. With no entries,
// a sandbox is registered for every method.
func FromConfig(cfgs []config.ProcessorConfig, policy RetryPolicy) (*Registry, error) {
	r := NewRegistry()

	if len(cfgs) == 0 {
		for _, m := range []payment.Method{payment.MethodCard, payment.MethodBankTransfer, payment.MethodCrypto} {
			sb := NewSandbox(string(m)+"-sandbox", m)
			if err := r.Register(WithRetry(sb, policy), SandboxWebhookSecret); err != nil {
				return nil, err
			}
		}
		return r, nil
	}

	for _, c := range cfgs {
		a, err := build(c, policy.CallTimeout)
		if err != nil {
			return nil, err
		}
		if err := r.Register(WithRetry(a, policy), c.WebhookSecret); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func build(c config.ProcessorConfig, defaultTimeout time.Duration) (Adapter, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	method := payment.Method(c.Method)

	switch c.Kind {
	case "sandbox":
		return NewSandbox(c.Name, method), nil
	case "card":
		return NewCard(c.Name, c.BaseURL, c.APIKey, timeout), nil
	case "bank_transfer":
		return NewBankTransfer(c.Name, c.BaseURL, c.APIKey, timeout), nil
	case "crypto":
		return NewCrypto(c.Name, c.BaseURL, c.APIKey, timeout), nil
	}
	return nil, fmt.Errorf("processor %s: unknown kind %q", c.Name, c.Kind)
}
