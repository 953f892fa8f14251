package browser

import (
	"context"
	"strings"
	"sync"
)

// MockPage is one page of a scripted site used by MockDriver.
type MockPage struct {
	URL  string
	HTML string
	// Clicks maps a clickable label to the URL it lands on. An empty
	// destination keeps the current page.
	Clicks map[string]string
	// Fields lists the typeable field labels present on the page.
	Fields []string
	// Pickers lists select/combobox labels. Typing into one fails with
	// a type mismatch.
	Pickers []string
	// PressNav maps a key (lowercased) to a destination URL.
	PressNav map[string]string
}

// MockDriver is an in-memory Driver over a scripted page graph. It records
// every action so tests can assert on the performed sequence.
type MockDriver struct {
	mu      sync.Mutex
	pages   map[string]*MockPage
	current string

	typed       map[string]string
	actions     []string
	navigations []string

	// FailNext holds a one-shot error per operation name ("navigate",
	// "click", "type", "press", "screenshot", "dom").
	FailNext map[string]error

	// ScreenshotData overrides the bytes Screenshot returns.
	ScreenshotData []byte

	closed bool
}

// NewMockDriver builds a driver over pages. The first page becomes reachable
// once Navigate is called with its URL.
func NewMockDriver(pages ...*MockPage) *MockDriver {
	index := make(map[string]*MockPage, len(pages))
	for _, p := range pages {
		index[p.URL] = p
	}
	return &MockDriver{
		pages:    index,
		typed:    map[string]string{},
		FailNext: map[string]error{},
	}
}

// AddPage registers an additional page.
func (d *MockDriver) AddPage(p *MockPage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pages[p.URL] = p
}

func (d *MockDriver) takeFailure(op string) error {
	if err, ok := d.FailNext[op]; ok {
		delete(d.FailNext, op)
		return err
	}
	return nil
}

func (d *MockDriver) page() *MockPage {
	return d.pages[d.current]
}

// Navigate implements Driver.
func (d *MockDriver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFailure("navigate"); err != nil {
		return err
	}
	if _, ok := d.pages[url]; !ok {
		return &DriverError{Kind: ErrNavigationFailed, Message: "no such page: " + url}
	}
	d.current = url
	d.actions = append(d.actions, "navigate "+url)
	d.navigations = append(d.navigations, url)
	return nil
}

// Click implements Driver.
func (d *MockDriver) Click(ctx context.Context, label string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFailure("click"); err != nil {
		return err
	}
	p := d.page()
	if p == nil {
		return &DriverError{Kind: ErrOther, Message: "no page loaded"}
	}
	dest, ok := p.Clicks[label]
	if !ok {
		for k, v := range p.Clicks {
			if strings.EqualFold(k, label) {
				dest, ok = v, true
				break
			}
		}
	}
	if !ok {
		return &DriverError{Kind: ErrNotFound, Message: "no element matches " + label}
	}
	d.actions = append(d.actions, "click "+label)
	if dest != "" {
		if _, exists := d.pages[dest]; !exists {
			return &DriverError{Kind: ErrNavigationFailed, Message: "no such page: " + dest}
		}
		d.current = dest
		d.navigations = append(d.navigations, dest)
	}
	return nil
}

// Type implements Driver.
func (d *MockDriver) Type(ctx context.Context, label, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFailure("type"); err != nil {
		return err
	}
	p := d.page()
	if p == nil {
		return &DriverError{Kind: ErrOther, Message: "no page loaded"}
	}
	for _, picker := range p.Pickers {
		if strings.EqualFold(picker, label) {
			return &DriverError{Kind: ErrTypeMismatch, Message: label + " is a picker"}
		}
	}
	for _, f := range p.Fields {
		if strings.EqualFold(f, label) {
			d.typed[strings.ToLower(label)] = text
			d.actions = append(d.actions, "type "+label)
			return nil
		}
	}
	return &DriverError{Kind: ErrNotFound, Message: "no field matches " + label}
}

// Press implements Driver.
func (d *MockDriver) Press(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFailure("press"); err != nil {
		return err
	}
	d.actions = append(d.actions, "press "+key)
	if p := d.page(); p != nil {
		if dest, ok := p.PressNav[strings.ToLower(key)]; ok && dest != "" {
			if _, exists := d.pages[dest]; !exists {
				return &DriverError{Kind: ErrNavigationFailed, Message: "no such page: " + dest}
			}
			d.current = dest
			d.navigations = append(d.navigations, dest)
		}
	}
	return nil
}

// Screenshot implements Driver.
func (d *MockDriver) Screenshot(ctx context.Context) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFailure("screenshot"); err != nil {
		return nil, err
	}
	d.actions = append(d.actions, "screenshot")
	if d.ScreenshotData != nil {
		return d.ScreenshotData, nil
	}
	return []byte("png-placeholder"), nil
}

// DOMHTML implements Driver.
func (d *MockDriver) DOMHTML(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFailure("dom"); err != nil {
		return "", err
	}
	if p := d.page(); p != nil {
		return p.HTML, nil
	}
	return "", nil
}

// CurrentURL implements Driver.
func (d *MockDriver) CurrentURL(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current, nil
}

// WaitQuiescent implements Driver. The mock settles instantly.
func (d *MockDriver) WaitQuiescent(ctx context.Context, opts QuiescenceOptions) error {
	return ctx.Err()
}

// Close implements Driver.
func (d *MockDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Actions returns the recorded action log.
func (d *MockDriver) Actions() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.actions...)
}

// Typed returns the last value typed into the field with the given label.
func (d *MockDriver) Typed(label string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.typed[strings.ToLower(label)]
}

// Closed reports whether Close was called.
func (d *MockDriver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
