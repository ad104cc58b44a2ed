package mocks

import (
	"browser-agent/internal/ports"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var _ ports.Driver = (*FakeDriver)(nil)

// FakeDriver is an in-memory ports.Driver. Selectors resolve through the
// Counts table; every call is appended to Calls in a compact text form.
type FakeDriver struct {
	mu sync.Mutex

	Counts     map[string]int
	CountErrs  map[string]error
	Hidden     map[string]bool
	Disabled   map[string]bool
	ClickErrs  map[string]error
	FillErrs   map[string]error
	SelectErrs map[string]error
	Texts      map[string]string

	ReadyErr    error
	NavigateErr error
	WaitErr     error
	PressErr    error

	TitleText string
	PageURL   string

	// Walk answers Evaluate calls that pass an argument, Body the rest.
	Walk func(arg any) (any, error)
	Body func() (any, error)

	Calls []string
	ready bool
}

func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		Counts:     map[string]int{},
		CountErrs:  map[string]error{},
		Hidden:     map[string]bool{},
		Disabled:   map[string]bool{},
		ClickErrs:  map[string]error{},
		FillErrs:   map[string]error{},
		SelectErrs: map[string]error{},
		Texts:      map[string]string{},
		PageURL:    "about:blank",
		ready:      true,
	}
}

func (d *FakeDriver) record(format string, args ...any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Calls = append(d.Calls, fmt.Sprintf(format, args...))
}

// CallLog returns a copy of the recorded calls.
func (d *FakeDriver) CallLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]string(nil), d.Calls...)
}

// CountCalls returns how many recorded calls start with prefix.
func (d *FakeDriver) CountCalls(prefix string) int {
	n := 0
	for _, c := range d.CallLog() {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}

	return n
}

func (d *FakeDriver) Launch(context.Context) error {
	d.record("launch")
	d.ready = true

	return nil
}

func (d *FakeDriver) Close(context.Context) error {
	d.record("close")
	d.ready = false

	return nil
}

func (d *FakeDriver) IsReady() bool {
	return d.ready
}

func (d *FakeDriver) Navigate(_ context.Context, url string, _ time.Duration) error {
	d.record("navigate %s", url)
	if d.NavigateErr != nil {
		return d.NavigateErr
	}

	d.PageURL = url

	return nil
}

func (d *FakeDriver) WaitForReady(ctx context.Context, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return d.ReadyErr
}

func (d *FakeDriver) URL() string {
	return d.PageURL
}

func (d *FakeDriver) Title(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	return d.TitleText, nil
}

func (d *FakeDriver) Count(_ context.Context, selector string) (int, error) {
	d.record("count %s", selector)

	if err, ok := d.CountErrs[selector]; ok {
		return 0, err
	}

	return d.Counts[selector], nil
}

func (d *FakeDriver) IsVisible(_ context.Context, selector string) (bool, error) {
	return d.Counts[selector] > 0 && !d.Hidden[selector], nil
}

func (d *FakeDriver) IsEnabled(_ context.Context, selector string) (bool, error) {
	return d.Counts[selector] > 0 && !d.Disabled[selector], nil
}

func (d *FakeDriver) Click(_ context.Context, selector string, opts ports.ClickOptions) error {
	d.record("click %s force=%t", selector, opts.Force)

	if err, ok := d.ClickErrs[selector]; ok {
		return err
	}

	if d.Counts[selector] == 0 {
		return errors.New("no element")
	}

	return nil
}

func (d *FakeDriver) Fill(_ context.Context, selector, value string, _ time.Duration) error {
	d.record("fill %s %s", selector, value)

	if err, ok := d.FillErrs[selector]; ok {
		return err
	}

	return nil
}

func (d *FakeDriver) SelectOption(_ context.Context, selector, value string, _ time.Duration) error {
	d.record("select %s %s", selector, value)

	if err, ok := d.SelectErrs[selector]; ok {
		return err
	}

	return nil
}

func (d *FakeDriver) TextContent(_ context.Context, selector string, _ time.Duration) (string, error) {
	d.record("text %s", selector)

	text, ok := d.Texts[selector]
	if !ok {
		return "", errors.New("no element")
	}

	return text, nil
}

func (d *FakeDriver) Focus(_ context.Context, selector string, _ time.Duration) error {
	d.record("focus %s", selector)

	return nil
}

func (d *FakeDriver) WaitForSelector(_ context.Context, selector string, _ time.Duration) error {
	d.record("wait %s", selector)

	return d.WaitErr
}

func (d *FakeDriver) ScrollBy(_ context.Context, dx, dy int) error {
	d.record("scroll %d %d", dx, dy)

	return nil
}

func (d *FakeDriver) Press(_ context.Context, key string) error {
	d.record("press %s", key)

	return d.PressErr
}

func (d *FakeDriver) Evaluate(ctx context.Context, _ string, arg any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if arg != nil {
		d.record("evaluate walk")
		if d.Walk == nil {
			return nil, errors.New("walk not configured")
		}

		return d.Walk(arg)
	}

	d.record("evaluate body")
	if d.Body == nil {
		return "", nil
	}

	return d.Body()
}
